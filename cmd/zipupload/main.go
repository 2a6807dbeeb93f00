// Package main 是分片上传命令行工具：
// 上传 zip 档案、轮询异步索引进度，并支持查看与删除已索引文件。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"coderag-go/pkg/uploadclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "服务端地址")
	token := flag.String("token", "", "Bearer token，服务端未启用认证时留空")
	list := flag.Bool("list", false, "列出已索引文件后退出")
	remove := flag.String("delete", "", "删除指定文件后退出")
	single := flag.String("upload", "", "同步上传并索引单个文件后退出")
	flag.Parse()

	client := uploadclient.NewClient(uploadclient.Config{
		BaseURL: *server,
		Token:   *token,
	})

	// Ctrl-C 取消在途的分片发送和轮询
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *list:
		runList(ctx, client)
	case *remove != "":
		runDelete(ctx, client, *remove)
	case *single != "":
		runSingleUpload(ctx, client, *single)
	default:
		if flag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "用法: zipupload [flags] <archive.zip>")
			flag.PrintDefaults()
			os.Exit(2)
		}
		runZipUpload(ctx, client, flag.Arg(0))
	}
}

func runZipUpload(ctx context.Context, client *uploadclient.Client, path string) {
	f, err := os.Open(path)
	if err != nil {
		fatal("打开文件失败: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fatal("读取文件信息失败: %v", err)
	}

	fileName := filepath.Base(path)
	totalChunks := (info.Size() + client.ChunkSize() - 1) / client.ChunkSize()
	fmt.Printf("上传 %s（%d 字节，%d 个分片）\n", fileName, info.Size(), totalChunks)

	result, err := client.UploadZip(ctx, fileName, f, info.Size())
	if err != nil {
		fatal("上传失败: %v", err)
	}
	fmt.Printf("%s 任务 %s 已入队\n", result.Message, result.JobID)

	poller := uploadclient.NewPoller(client.Status, uploadclient.PollerConfig{
		OnStatus: printStatus,
		OnFinish: func(state uploadclient.PollState) {
			fmt.Printf("轮询结束: %s\n", state)
			// 终态后刷新一次文件列表作为对账
			runList(context.Background(), client)
		},
	})
	if _, err := poller.Run(ctx, result.JobID); err != nil {
		fatal("轮询中止: %v", err)
	}
}

func printStatus(s *uploadclient.JobStatus) {
	switch s.Status {
	case "processing":
		fmt.Printf("处理中: %d/%d 文件 (%.1f%%)\n", s.FilesDone, s.FilesTotal, s.PctCompletion)
	case "completed":
		fmt.Printf("完成: 共索引 %d 个文件\n", len(s.IndexedIDs))
	case "failed":
		fmt.Printf("失败: %s\n", s.Message)
	default:
		fmt.Printf("状态: %s\n", s.Status)
	}
}

func runSingleUpload(ctx context.Context, client *uploadclient.Client, path string) {
	f, err := os.Open(path)
	if err != nil {
		fatal("打开文件失败: %v", err)
	}
	defer f.Close()

	msg, err := client.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		fatal("上传失败: %v", err)
	}
	fmt.Println(msg)
}

func runList(ctx context.Context, client *uploadclient.Client) {
	names, err := client.ListUploaded(ctx)
	if err != nil {
		fatal("获取文件列表失败: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("（无已索引文件）")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runDelete(ctx context.Context, client *uploadclient.Client, name string) {
	if err := client.Delete(ctx, name); err != nil {
		fatal("删除失败: %v", err)
	}
	fmt.Printf("已删除 %s\n", name)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
