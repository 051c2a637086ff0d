// token.go 实现 REST 后端的短期访问令牌获取与缓存
//
// 每次 REST 调用都要携带 Bearer 令牌。令牌通过 OAuth 2.0 JWT-bearer
// 流程获取：用服务凭证构造 RS256 签名断言，到令牌端点换取 access token。
// 签名和交换开销不小，因此令牌在内存中缓存，到期前约一分钟主动刷新，
// 而不是每次调用都重新换取。
//
// TokenSource 是显式注入的对象（而非包级隐式状态），时钟可覆盖，
// 便于测试确定性地控制过期和刷新。
package firestore

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshWindow 提前刷新窗口：令牌剩余有效期小于该值时视为需要刷新
const refreshWindow = time.Minute

// Credentials 服务账号凭证（通常从 JSON 密钥文件解析）
type Credentials struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseCredentials 解析服务账号 JSON 密钥
func ParseCredentials(data []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("firestore: parse credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return Credentials{}, fmt.Errorf("firestore: credentials missing client_email or private_key")
	}
	if creds.TokenURI == "" {
		creds.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return creds, nil
}

// tokenProvider 供 Client 使用的令牌来源抽象（测试注入静态令牌）
type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenSource 带缓存的令牌来源
//
// 并发安全：互斥锁保护缓存字段；刷新对调用方幂等，后写覆盖先写即可。
type TokenSource struct {
	creds  Credentials
	key    *rsa.PrivateKey
	scope  string
	client *http.Client
	now    func() time.Time // 测试覆盖

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource 创建令牌来源，解析并校验私钥
func NewTokenSource(creds Credentials, scope string) (*TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("firestore: parse private key: %w", err)
	}
	return &TokenSource{
		creds:  creds,
		key:    key,
		scope:  scope,
		client: &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}, nil
}

// Token 返回有效的访问令牌，必要时换取新令牌
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiry.Add(-refreshWindow)) {
		return ts.token, nil
	}

	token, expiresIn, err := ts.exchange(ctx)
	if err != nil {
		return "", fmt.Errorf("firestore: token exchange failed: %w", err)
	}

	ts.token = token
	ts.expiry = ts.now().Add(time.Duration(expiresIn) * time.Second)
	return ts.token, nil
}

// exchange 构造签名断言并到令牌端点换取 access token
func (ts *TokenSource) exchange(ctx context.Context) (string, int64, error) {
	now := ts.now()
	claims := jwt.MapClaims{
		"iss":   ts.creds.ClientEmail,
		"scope": ts.scope,
		"aud":   ts.creds.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.key)
	if err != nil {
		return "", 0, fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.creds.TokenURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}
	return parsed.AccessToken, parsed.ExpiresIn, nil
}
