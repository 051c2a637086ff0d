// Package objstore 封装 MinIO 对象存储客户端
//
// 存储原始字节（Storybook zip 压缩包、覆盖率 JSON）并返回可寻址 URL。
// 元数据核心只依赖本包的窄契约：Upload 必须在 CreateBuild 之前完成
// 并提供最终 URL；预签名直传场景下，URL 去掉查询串的部分作为 zipUrl
// 提前写入构建记录。
package objstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"storybook-hub/internal/config"
)

// presignExpiry 预签名上传 URL 的有效期
const presignExpiry = 15 * time.Minute

// UploadResult 上传结果
type UploadResult struct {
	URL  string `json:"url"`  // 对象的可寻址 URL
	Path string `json:"path"` // 对象 Key
}

// PresignResult 预签名上传 URL
type PresignResult struct {
	URL string `json:"url"` // 含签名查询串的时效 URL
	Key string `json:"key"` // 对象 Key
}

// Client MinIO 客户端封装
type Client struct {
	mc      *minio.Client
	bucket  string
	baseURL string // 对外可寻址的根地址，如 https://cdn.example.com/storybook-hub
}

// NewClient 创建 MinIO 客户端
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "storybook-hub"
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, bucket)
	}

	return &Client{mc: mc, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// EnsureBucket 确保 bucket 存在
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[minio] Created bucket: %s", c.bucket)
	}
	return nil
}

// ObjectURL 对象的可寻址 URL
func (c *Client) ObjectURL(key string) string {
	return c.baseURL + "/" + key
}

// Upload 上传对象并返回可寻址 URL
func (c *Client) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*UploadResult, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.mc.PutObject(ctx, c.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	return &UploadResult{URL: c.ObjectURL(key), Path: key}, nil
}

// GetPresignedUploadURL 签发时效直传 URL
//
// 返回 URL 去掉查询串的部分即对象最终可寻址地址，
// 构建记录提前创建时以此作为 zipUrl。
func (c *Client) GetPresignedUploadURL(ctx context.Context, key string) (*PresignResult, error) {
	u, err := c.mc.PresignedPutObject(ctx, c.bucket, key, presignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	return &PresignResult{URL: u.String(), Key: key}, nil
}

// StripQuery 去掉 URL 的查询串（预签名 URL → 最终可寻址地址）
func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Download 下载对象，调用方负责关闭返回的 ReadCloser
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	// 验证对象存在（GetObject 不会立即返回错误）
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return obj, nil
}

// DeletePrefix 删除指定前缀下的所有对象（构建删除时清理其产物）
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	objects := c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	toRemove := make(chan minio.ObjectInfo)
	go func() {
		defer close(toRemove)
		for obj := range objects {
			if obj.Err != nil {
				continue
			}
			toRemove <- obj
		}
	}()

	for err := range c.mc.RemoveObjects(ctx, c.bucket, toRemove, minio.RemoveObjectsOptions{}) {
		if err.Err != nil {
			return fmt.Errorf("delete prefix %s: %w", prefix, err.Err)
		}
	}
	return nil
}
