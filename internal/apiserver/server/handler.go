// Package server 组装 HTTP 服务
//
// 路由、认证中间件、Prometheus 指标和健康检查在这里集中装配；
// 领域处理逻辑在 apiserver/upload 包。
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storybook-hub/internal/apiserver/auth"
	"storybook-hub/internal/apiserver/upload"
	"storybook-hub/internal/shared/storage"
)

// Handler API 入口
type Handler struct {
	upload  *upload.Handler
	authCfg auth.Config
	metrics *Metrics
}

// NewHandler 创建 Handler 实例
func NewHandler(store storage.BuildStore, blobs upload.BlobStore, authCfg auth.Config) *Handler {
	return &Handler{
		upload:  upload.NewHandler(store, blobs),
		authCfg: authCfg,
		metrics: NewMetrics("storybook_hub"),
	}
}

// Router 构建完整路由
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	h.upload.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = auth.Middleware(h.authCfg)(handler)
	handler = h.metrics.Instrument(handler)
	return handler
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
