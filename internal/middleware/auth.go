// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"coderag-go/internal/model"
	"coderag-go/pkg/token"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT Bearer 认证。
// enabled 为 false 时跳过校验，所有请求以 localUser 身份运行（开发模式）。
// 认证开启时，缺失 token 属于调用方的前置条件错误，直接 401。
func AuthMiddleware(jwtManager *token.JWTManager, enabled bool, localUser *model.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Set("claims", &token.CustomClaims{
				UserID:   localUser.ID,
				Username: localUser.Username,
			})
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
