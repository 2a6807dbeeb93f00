// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderag-go/internal/config"
	"coderag-go/internal/handler"
	"coderag-go/internal/middleware"
	"coderag-go/internal/model"
	"coderag-go/internal/pipeline"
	"coderag-go/internal/repository"
	"coderag-go/internal/service"
	"coderag-go/pkg/database"
	"coderag-go/pkg/embedding"
	"coderag-go/pkg/es"
	"coderag-go/pkg/kafka"
	"coderag-go/pkg/log"
	"coderag-go/pkg/storage"
	"coderag-go/pkg/token"
	"coderag-go/pkg/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 ES
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	if err := database.DB.AutoMigrate(&model.User{}, &model.UploadSession{}, &model.IndexedFile{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB, database.RDB)
	fileRepo := repository.NewFileRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpireHours, cfg.Auth.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	hub := ws.NewHub()
	userService := service.NewUserService(userRepo, jwtManager)
	uploadService := service.NewUploadService(sessionRepo, cfg.MinIO)

	// 6. 初始化档案处理管道 (Processor)，其同时充当单文件上传的索引器
	processor := pipeline.NewProcessor(
		embeddingClient,
		cfg.Elasticsearch,
		cfg.MinIO,
		cfg.Embedding,
		cfg.Upload,
		sessionRepo,
		fileRepo,
		hub,
	)
	documentService := service.NewDocumentService(fileRepo, processor, cfg.MinIO, cfg.Elasticsearch)

	// 认证关闭时准备一个本地用户，所有请求以它的身份执行
	var localUser *model.User
	if !cfg.Auth.Enabled {
		u, err := userService.EnsureLocalUser()
		if err != nil {
			log.Fatalf("本地用户初始化失败: %v", err)
		}
		localUser = u
	}

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	auth := r.Group("/auth")
	{
		auth.POST("/register", handler.NewUserHandler(userService).Register)
		auth.POST("/login", handler.NewUserHandler(userService).Login)
	}

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(jwtManager, cfg.Auth.Enabled, localUser))
	{
		uploadHandler := handler.NewUploadHandler(uploadService)
		authed.POST("/upload-zip-init", uploadHandler.InitZip)
		authed.POST("/upload-zip-chunk", uploadHandler.UploadZipChunk)
		authed.POST("/upload-zip-complete", uploadHandler.CompleteZip)
		authed.GET("/upload-zip-status", uploadHandler.ZipStatus)

		documentHandler := handler.NewDocumentHandler(documentService)
		authed.POST("/upload", documentHandler.Upload)
		authed.GET("/list_uploaded", documentHandler.ListUploaded)
		authed.POST("/delete_uploaded", documentHandler.DeleteUploaded)

		authed.GET("/progress/ws", handler.NewProgressHandler(hub).Subscribe)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
