// Package cached 提供基于 Redis 的 BuildStore 读缓存装饰器
//
// CI 面板会高频轮询 latest 和按版本查询，这两条读路径打到元数据后端
// 代价不低（REST 后端还要整段查询往返）。装饰器把热读结果以 JSON
// 缓存在 Redis，写路径直通底层存储并使相关键失效。
//
// 缓存 TTL 很短（默认 30 秒），按版本的缓存键无法从 buildID 反查，
// 写路径只精确失效能定位到的键，其余靠 TTL 到期收敛。
package cached

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"storybook-hub/internal/shared/model"
	"storybook-hub/internal/shared/storage"
)

// defaultTTL 缓存键默认有效期
const defaultTTL = 30 * time.Second

// Store 带 Redis 读缓存的 BuildStore 装饰器
type Store struct {
	next   storage.BuildStore
	client *redis.Client
	ttl    time.Duration
}

// NewStore 创建缓存装饰器
func NewStore(next storage.BuildStore, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cached: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cached: connect to redis: %w", err)
	}

	log.Printf("[Redis/Cache] Connected to %s", opts.Addr)
	return &Store{next: next, client: client, ttl: defaultTTL}, nil
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// 确保 Store 实现了 BuildStore 接口
var _ storage.BuildStore = (*Store)(nil)

// 缓存键
func buildKey(projectID, buildID string) string { return "sbh:build:" + projectID + ":" + buildID }
func latestKey(projectID string) string         { return "sbh:latest:" + projectID }
func versionKey(projectID, versionID string) string {
	return "sbh:version:" + projectID + ":" + versionID
}

// ============================================================================
// 读路径 - 缓存优先，缓存故障降级为直读（缓存绝不挡主路径）
// ============================================================================

func (s *Store) GetBuild(ctx context.Context, projectID, buildID string) (*model.Build, error) {
	if b := s.cacheGet(ctx, buildKey(projectID, buildID)); b != nil {
		return b, nil
	}
	b, err := s.next.GetBuild(ctx, projectID, buildID)
	if err == nil && b != nil {
		s.cacheSet(ctx, buildKey(projectID, buildID), b)
	}
	return b, err
}

func (s *Store) GetLatestBuild(ctx context.Context, projectID string) (*model.Build, error) {
	if b := s.cacheGet(ctx, latestKey(projectID)); b != nil {
		return b, nil
	}
	b, err := s.next.GetLatestBuild(ctx, projectID)
	if err == nil && b != nil {
		s.cacheSet(ctx, latestKey(projectID), b)
	}
	return b, err
}

func (s *Store) GetBuildByVersion(ctx context.Context, projectID, versionID string) (*model.Build, error) {
	if b := s.cacheGet(ctx, versionKey(projectID, versionID)); b != nil {
		return b, nil
	}
	b, err := s.next.GetBuildByVersion(ctx, projectID, versionID)
	if err == nil && b != nil {
		s.cacheSet(ctx, versionKey(projectID, versionID), b)
	}
	return b, err
}

// GetProjectBuilds 列表查询不缓存（组合键爆炸，收益低），直通底层
func (s *Store) GetProjectBuilds(ctx context.Context, projectID, status string, limit int) ([]*model.Build, error) {
	return s.next.GetProjectBuilds(ctx, projectID, status, limit)
}

// ============================================================================
// 写路径 - 直通底层并失效相关键
// ============================================================================

func (s *Store) CreateBuild(ctx context.Context, projectID string, in storage.CreateBuildInput) (*model.Build, error) {
	b, err := s.next.CreateBuild(ctx, projectID, in)
	if err == nil {
		s.invalidate(ctx, latestKey(projectID), versionKey(projectID, in.VersionID))
	}
	return b, err
}

func (s *Store) UpdateBuild(ctx context.Context, projectID, buildID string, fields map[string]any) error {
	err := s.next.UpdateBuild(ctx, projectID, buildID, fields)
	if err == nil {
		s.invalidate(ctx, buildKey(projectID, buildID), latestKey(projectID))
	}
	return err
}

func (s *Store) UpdateBuildCoverage(ctx context.Context, projectID, buildID string, cov *model.Coverage) error {
	err := s.next.UpdateBuildCoverage(ctx, projectID, buildID, cov)
	if err == nil {
		s.invalidate(ctx, buildKey(projectID, buildID), latestKey(projectID))
	}
	return err
}

func (s *Store) ArchiveBuild(ctx context.Context, projectID, buildID, userID string) error {
	err := s.next.ArchiveBuild(ctx, projectID, buildID, userID)
	if err == nil {
		s.invalidate(ctx, buildKey(projectID, buildID), latestKey(projectID))
	}
	return err
}

func (s *Store) DeleteBuild(ctx context.Context, projectID, buildID string) error {
	err := s.next.DeleteBuild(ctx, projectID, buildID)
	if err == nil {
		s.invalidate(ctx, buildKey(projectID, buildID), latestKey(projectID))
	}
	return err
}

// ============================================================================
// Redis 辅助
// ============================================================================

func (s *Store) cacheGet(ctx context.Context, key string) *model.Build {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil // miss 或 Redis 故障都按未命中处理
	}
	var b model.Build
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	return &b
}

func (s *Store) cacheSet(ctx context.Context, key string, b *model.Build) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		log.Printf("[Redis/Cache] set %s failed: %v", key, err)
	}
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[Redis/Cache] invalidate failed: %v", err)
	}
}
