// client.go 封装 Firestore REST 文档操作
//
// 只实现 BuildStore 需要的窄操作面：单文档 GET/PATCH/DELETE 和
// 集合内的 runQuery。所有请求携带 Bearer 令牌，非预期状态码
// 保留后端原始响应体上抛，便于诊断。
package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// document Firestore 文档线格式
type document struct {
	Name       string         `json:"name,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	CreateTime string         `json:"createTime,omitempty"`
	UpdateTime string         `json:"updateTime,omitempty"`
}

// restError 保留后端状态码和响应体的错误
type restError struct {
	Status int
	Body   string
}

func (e *restError) Error() string {
	return fmt.Sprintf("firestore: backend returned %d: %s", e.Status, e.Body)
}

// Client Firestore REST 客户端
type Client struct {
	baseURL string // 文档根路径，如 https://firestore.googleapis.com/v1/projects/{p}/databases/(default)/documents
	tokens  tokenProvider
	client  *http.Client
}

// NewClient 创建 REST 客户端
func NewClient(baseURL string, tokens tokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// do 执行请求，统一附加 Bearer 令牌
func (c *Client) do(ctx context.Context, method, rawURL string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("firestore: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("firestore: %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// GetDocument 读取单个文档，404 返回 (nil, nil)
func (c *Client) GetDocument(ctx context.Context, path string) (*document, error) {
	status, data, err := c.do(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &restError{Status: status, Body: string(data)}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("firestore: decode document: %w", err)
	}
	return &doc, nil
}

// SetDocument 写入文档（PATCH 即 upsert 语义）
//
// mask 非空时是显式字段掩码：只有掩码内的字段被写入，其余字段保持不变；
// mask 为空时整文档覆盖。
func (c *Client) SetDocument(ctx context.Context, path string, fields map[string]any, mask []string) error {
	u := c.baseURL + "/" + path
	if len(mask) > 0 {
		q := url.Values{}
		for _, f := range mask {
			q.Add("updateMask.fieldPaths", f)
		}
		u += "?" + q.Encode()
	}

	status, data, err := c.do(ctx, http.MethodPatch, u, document{Fields: fields})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &restError{Status: status, Body: string(data)}
	}
	return nil
}

// DeleteDocument 删除文档
// 404 视为已删除静默成功；其余非 2xx 必须显式报错，不允许静默吞掉
func (c *Client) DeleteDocument(ctx context.Context, path string) error {
	status, data, err := c.do(ctx, http.MethodDelete, c.baseURL+"/"+path, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status >= 300 {
		return &restError{Status: status, Body: string(data)}
	}
	return nil
}

// RunQuery 在 parent 路径下执行 structuredQuery，返回匹配的文档
//
// parent 为空表示根路径。后端限制：等值过滤与其他字段排序组合
// 需要二级索引，调用方自行规避（只用等值过滤，客户端侧选择）。
func (c *Client) RunQuery(ctx context.Context, parent string, query map[string]any) ([]*document, error) {
	u := c.baseURL
	if parent != "" {
		u += "/" + parent
	}
	u += ":runQuery"

	status, data, err := c.do(ctx, http.MethodPost, u, map[string]any{"structuredQuery": query})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &restError{Status: status, Body: string(data)}
	}

	// runQuery 返回流式数组，无匹配时元素只有 readTime 没有 document
	var rows []struct {
		Document *document `json:"document"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("firestore: decode query response: %w", err)
	}

	var docs []*document
	for _, row := range rows {
		if row.Document != nil {
			docs = append(docs, row.Document)
		}
	}
	return docs, nil
}

// docID 从文档完整名称中取出末段 ID
func docID(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
