// Package upload 构建上传编排 - HTTP 处理
//
// 编排层是元数据核心之外的薄胶水：解析请求体（multipart / 原始二进制 /
// JSON）→ 写对象存储 → 调用 BuildStore。关键策略：
//
//   - 产物优先于元数据：zip 已成功入对象存储后，元数据写入失败不让
//     整个上传失败——响应保留 zip_url 但不含 build_id/build_number，
//     失败记日志供运维排查
//   - 覆盖率校验在任何存储 I/O 之前同步完成，校验失败返回 400，
//     不产生部分写入
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"storybook-hub/internal/shared/coverage"
	"storybook-hub/internal/shared/model"
	"storybook-hub/internal/shared/objstore"
	"storybook-hub/internal/shared/storage"
)

// maxUploadSize 单次上传体积上限（256 MiB）
const maxUploadSize = 256 << 20

// BlobStore 编排层依赖的对象存储窄契约
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*objstore.UploadResult, error)
	GetPresignedUploadURL(ctx context.Context, key string) (*objstore.PresignResult, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// Handler 构建上传 HTTP 处理器
type Handler struct {
	store   storage.BuildStore // 使用接口类型
	blobs   BlobStore
	metrics *Metrics
}

// NewHandler 创建上传处理器
func NewHandler(store storage.BuildStore, blobs BlobStore) *Handler {
	return &Handler{store: store, blobs: blobs, metrics: newMetrics()}
}

// RegisterRoutes 注册构建相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/projects/{projectId}/builds", h.Upload)
	mux.HandleFunc("GET /api/v1/projects/{projectId}/builds", h.List)
	mux.HandleFunc("GET /api/v1/projects/{projectId}/builds/latest", h.Latest)
	mux.HandleFunc("GET /api/v1/projects/{projectId}/builds/{buildId}", h.Get)
	mux.HandleFunc("POST /api/v1/projects/{projectId}/builds/{buildId}/archive", h.Archive)
	mux.HandleFunc("DELETE /api/v1/projects/{projectId}/builds/{buildId}", h.Delete)
	mux.HandleFunc("GET /api/v1/projects/{projectId}/versions/{versionId}", h.GetByVersion)
	mux.HandleFunc("POST /api/v1/projects/{projectId}/versions/{versionId}/coverage", h.AttachCoverage)
	mux.HandleFunc("POST /api/v1/projects/{projectId}/presign", h.Presign)
}

// zipKey / coverageKey 对象存储 Key 布局
func zipKey(projectID, versionID string) string {
	return fmt.Sprintf("projects/%s/%s/storybook.zip", projectID, versionID)
}

func coverageKey(projectID, versionID string) string {
	return fmt.Sprintf("projects/%s/%s/coverage-report.json", projectID, versionID)
}

// ============================================================================
// 上传
// ============================================================================

// uploadResponse 上传响应
// BuildID/BuildNumber 缺失表示元数据追踪未完成，但产物上传本身成功
type uploadResponse struct {
	ZipURL      string          `json:"zip_url"`
	BuildID     string          `json:"build_id,omitempty"`
	BuildNumber int64           `json:"build_number,omitempty"`
	Coverage    *model.Coverage `json:"coverage,omitempty"`
	Warning     string          `json:"warning,omitempty"`
}

// Upload 上传 Storybook 构建压缩包（可附带覆盖率报告）
// POST /api/v1/projects/{projectId}/builds
//
// 请求体两种形式：
//   - multipart/form-data：storybook 字段为 zip 文件，coverage 字段（可选）
//     为覆盖率 JSON，version 字段为版本标签
//   - application/zip：原始压缩包字节，版本标签取 ?version= 查询参数
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var zipReader io.Reader
	var zipSize int64
	var coverageRaw []byte
	versionID := r.URL.Query().Get("version")

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		if v := r.FormValue("version"); v != "" {
			versionID = v
		}
		file, header, err := r.FormFile("storybook")
		if err != nil {
			writeError(w, http.StatusBadRequest, "storybook file field is required")
			return
		}
		defer file.Close()
		zipReader, zipSize = file, header.Size

		if covFile, _, err := r.FormFile("coverage"); err == nil {
			defer covFile.Close()
			coverageRaw, err = io.ReadAll(covFile)
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read coverage file")
				return
			}
		}
	case mediaType == "application/zip", mediaType == "application/octet-stream":
		zipReader, zipSize = r.Body, r.ContentLength
	default:
		writeError(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/zip")
		return
	}

	if versionID == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	// 覆盖率校验先于任何存储写入；reportUrl 随后用实际存储地址覆盖
	var cov *model.Coverage
	if len(coverageRaw) > 0 {
		var err error
		cov, err = coverage.Normalize(coverageRaw, "")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx := r.Context()
	zipResult, err := h.blobs.Upload(ctx, zipKey(projectID, versionID), zipReader, zipSize, "application/zip")
	if err != nil {
		h.metrics.UploadsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, "failed to store archive: "+err.Error())
		return
	}

	if cov != nil {
		covResult, err := h.blobs.Upload(ctx, coverageKey(projectID, versionID),
			strings.NewReader(string(coverageRaw)), int64(len(coverageRaw)), "application/json")
		if err != nil {
			h.metrics.UploadsTotal.WithLabelValues("error").Inc()
			writeError(w, http.StatusBadGateway, "failed to store coverage report: "+err.Error())
			return
		}
		cov.ReportURL = covResult.URL
	}

	resp := uploadResponse{ZipURL: zipResult.URL, Coverage: cov}

	// 产物已入库：此后的元数据失败不再让上传失败
	build, err := h.store.CreateBuild(ctx, projectID, storage.CreateBuildInput{
		VersionID: versionID,
		ZipURL:    zipResult.URL,
		CreatedBy: r.Header.Get("X-Uploaded-By"),
		Coverage:  cov,
	})
	if err != nil {
		log.Printf("[upload] metadata tracking failed for %s/%s: %v", projectID, versionID, err)
		h.metrics.MetadataFailures.Inc()
		h.metrics.UploadsTotal.WithLabelValues("untracked").Inc()
		resp.Warning = "build uploaded but metadata tracking failed"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	h.metrics.UploadsTotal.WithLabelValues("ok").Inc()
	resp.BuildID = build.ID
	resp.BuildNumber = build.BuildNumber
	writeJSON(w, http.StatusCreated, resp)
}

// ============================================================================
// 覆盖率附加
// ============================================================================

// AttachCoverage 为已存在的构建附加覆盖率报告
// POST /api/v1/projects/{projectId}/versions/{versionId}/coverage
//
// 目标构建通过版本标签定位（同版本多构建时取序号最大者）；
// 覆盖率整体替换，不与已有值合并。
func (h *Handler) AttachCoverage(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	versionID := r.PathValue("versionId")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// 校验在任何存储写入之前
	cov, err := coverage.Normalize(raw, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	build, err := h.store.GetBuildByVersion(ctx, projectID, versionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to look up build: "+err.Error())
		return
	}
	if build == nil {
		writeError(w, http.StatusNotFound, "no build found for version "+versionID)
		return
	}

	covResult, err := h.blobs.Upload(ctx, coverageKey(projectID, versionID),
		strings.NewReader(string(raw)), int64(len(raw)), "application/json")
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to store coverage report: "+err.Error())
		return
	}
	cov.ReportURL = covResult.URL

	if err := h.store.UpdateBuildCoverage(ctx, projectID, build.ID, cov); err != nil {
		log.Printf("[upload] coverage tracking failed for %s/%s: %v", projectID, versionID, err)
		h.metrics.MetadataFailures.Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"report_url": covResult.URL,
			"warning":    "coverage uploaded but metadata tracking failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_url":   covResult.URL,
		"build_id":     build.ID,
		"build_number": build.BuildNumber,
	})
}

// ============================================================================
// 预签名直传
// ============================================================================

// Presign 签发直传 URL 并提前创建构建记录
// POST /api/v1/projects/{projectId}/presign
//
// 构建记录的 zipUrl 取预签名 URL 去掉查询串的部分（对象最终地址）。
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")

	var req struct {
		VersionID string `json:"version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VersionID == "" {
		writeError(w, http.StatusBadRequest, "version_id is required")
		return
	}

	ctx := r.Context()
	presign, err := h.blobs.GetPresignedUploadURL(ctx, zipKey(projectID, req.VersionID))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to presign upload: "+err.Error())
		return
	}

	resp := map[string]any{
		"upload_url": presign.URL,
		"key":        presign.Key,
	}

	build, err := h.store.CreateBuild(ctx, projectID, storage.CreateBuildInput{
		VersionID: req.VersionID,
		ZipURL:    objstore.StripQuery(presign.URL),
		CreatedBy: r.Header.Get("X-Uploaded-By"),
	})
	if err != nil {
		log.Printf("[upload] metadata tracking failed for presign %s/%s: %v", projectID, req.VersionID, err)
		h.metrics.MetadataFailures.Inc()
		resp["warning"] = "upload URL issued but metadata tracking failed"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp["build_id"] = build.ID
	resp["build_number"] = build.BuildNumber
	writeJSON(w, http.StatusCreated, resp)
}

// ============================================================================
// 查询
// ============================================================================

// List 列出项目构建
// GET /api/v1/projects/{projectId}/builds?status=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	status := r.URL.Query().Get("status")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	builds, err := h.store.GetProjectBuilds(r.Context(), projectID, status, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to list builds: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"builds": builds})
}

// Get 查询单个构建
// GET /api/v1/projects/{projectId}/builds/{buildId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	build, err := h.store.GetBuild(r.Context(), r.PathValue("projectId"), r.PathValue("buildId"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get build: "+err.Error())
		return
	}
	if build == nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// Latest 查询最新 active 构建
// GET /api/v1/projects/{projectId}/builds/latest
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	build, err := h.store.GetLatestBuild(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get latest build: "+err.Error())
		return
	}
	if build == nil {
		writeError(w, http.StatusNotFound, "no active build")
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// GetByVersion 按版本查询构建
// GET /api/v1/projects/{projectId}/versions/{versionId}
func (h *Handler) GetByVersion(w http.ResponseWriter, r *http.Request) {
	build, err := h.store.GetBuildByVersion(r.Context(), r.PathValue("projectId"), r.PathValue("versionId"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get build: "+err.Error())
		return
	}
	if build == nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// ============================================================================
// 归档 / 删除
// ============================================================================

// Archive 归档构建（单向）
// POST /api/v1/projects/{projectId}/builds/{buildId}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	// 请求体可选，缺省归档人记为 api
	json.NewDecoder(r.Body).Decode(&req)
	if req.UserID == "" {
		req.UserID = "api"
	}

	err := h.store.ArchiveBuild(r.Context(), r.PathValue("projectId"), r.PathValue("buildId"), req.UserID)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, http.StatusNotFound, "build not found")
			return
		}
		writeError(w, http.StatusBadGateway, "failed to archive build: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": model.BuildStatusArchived})
}

// Delete 删除构建记录并清理其对象存储前缀
// DELETE /api/v1/projects/{projectId}/builds/{buildId}
//
// 计数器不回退，序号永不复用；对象清理是尽力而为，失败只记日志。
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	buildID := r.PathValue("buildId")
	ctx := r.Context()

	build, err := h.store.GetBuild(ctx, projectID, buildID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get build: "+err.Error())
		return
	}
	if build == nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}

	if err := h.store.DeleteBuild(ctx, projectID, buildID); err != nil && err != storage.ErrNotFound {
		writeError(w, http.StatusBadGateway, "failed to delete build: "+err.Error())
		return
	}

	prefix := fmt.Sprintf("projects/%s/%s/", projectID, build.VersionID)
	if err := h.blobs.DeletePrefix(ctx, prefix); err != nil {
		log.Printf("[upload] blob cleanup failed for %s: %v", prefix, err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// 响应辅助
// ============================================================================

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
