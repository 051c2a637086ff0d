// Package auth CI 上传接口的 API Key 认证
//
// CI 流水线通过 X-API-Key 请求头携带密钥。服务端只保存 bcrypt 哈希
// （配置来源见 config 包），验证时逐一比对。未配置任何哈希时视为
// 无认证模式（本地开发），全部放行。
package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HeaderAPIKey API Key 请求头
const HeaderAPIKey = "X-API-Key"

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/health",
	"/metrics",
}

// Config 认证配置
type Config struct {
	APIKeyHashes []string // bcrypt 哈希后的有效密钥
}

// Enabled 是否启用认证
func (c Config) Enabled() bool {
	return len(c.APIKeyHashes) > 0
}

// HashKey 生成密钥的 bcrypt 哈希（运维侧生成配置用）
func HashKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), 12)
	return string(bytes), err
}

// VerifyKey 验证密钥是否匹配任一已配置的哈希
func (c Config) VerifyKey(key string) bool {
	if key == "" {
		return false
	}
	for _, hash := range c.APIKeyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return true
		}
	}
	return false
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware 创建 API Key 认证中间件
// 如果 cfg.Enabled() == false，直接放行所有请求（无认证模式）
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 无认证模式：直接放行
			if !cfg.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			// 公开路由：直接放行
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderAPIKey)
			if !cfg.VerifyKey(key) {
				log.Printf("[auth] rejected request to %s %s", r.Method, r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid or missing API key"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
