package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyKey(t *testing.T) {
	hash, err := HashKey("sbh_ci_secret")
	require.NoError(t, err)

	cfg := Config{APIKeyHashes: []string{hash}}
	assert.True(t, cfg.VerifyKey("sbh_ci_secret"))
	assert.False(t, cfg.VerifyKey("wrong"))
	// 空密钥直接拒绝，不进入 bcrypt 比对
	assert.False(t, cfg.VerifyKey(""))
}

func TestVerifyKeyMatchesAnyConfiguredHash(t *testing.T) {
	h1, err := HashKey("key-one")
	require.NoError(t, err)
	h2, err := HashKey("key-two")
	require.NoError(t, err)

	cfg := Config{APIKeyHashes: []string{h1, h2}}
	assert.True(t, cfg.VerifyKey("key-one"))
	assert.True(t, cfg.VerifyKey("key-two"))
	assert.False(t, cfg.VerifyKey("key-three"))
}

func serveWith(cfg Config, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDisabledPassesAll(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/demo/builds", nil)
	rec := serveWith(Config{}, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareEnforcesKey(t *testing.T) {
	hash, err := HashKey("sbh_ci_secret")
	require.NoError(t, err)
	cfg := Config{APIKeyHashes: []string{hash}}

	// 无密钥 401
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/demo/builds", nil)
	rec := serveWith(cfg, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or missing API key")

	// 错误密钥 401
	req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/demo/builds", nil)
	req.Header.Set(HeaderAPIKey, "wrong")
	assert.Equal(t, http.StatusUnauthorized, serveWith(cfg, req).Code)

	// 正确密钥放行
	req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/demo/builds", nil)
	req.Header.Set(HeaderAPIKey, "sbh_ci_secret")
	assert.Equal(t, http.StatusOK, serveWith(cfg, req).Code)
}

func TestMiddlewarePublicRoutes(t *testing.T) {
	hash, err := HashKey("sbh_ci_secret")
	require.NoError(t, err)
	cfg := Config{APIKeyHashes: []string{hash}}

	// 健康检查和指标端点不要求密钥
	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, serveWith(cfg, req).Code, path)
	}
}
