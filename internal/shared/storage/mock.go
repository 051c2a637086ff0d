// Package storage 提供存储层抽象
//
// mock.go 提供用于测试的内存 BuildStore 实现
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"storybook-hub/internal/shared/model"
)

// ============================================================================
// MemoryStore - 内存版 BuildStore（用于测试和本地开发）
// ============================================================================

// MemoryStore 在进程内存中实现 BuildStore 的全部契约，
// 包括计数器的严格递增语义（互斥锁保证），供 handler 测试
// 和无外部依赖的场景使用。
type MemoryStore struct {
	mu       sync.Mutex
	builds   map[string]map[string]*model.Build // projectID -> buildID -> Build
	counters map[string]int64                   // projectID -> currentBuildNumber
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		builds:   make(map[string]map[string]*model.Build),
		counters: make(map[string]int64),
	}
}

// 确保 MemoryStore 实现了 BuildStore 接口
var _ BuildStore = (*MemoryStore)(nil)

func (s *MemoryStore) CreateBuild(ctx context.Context, projectID string, in CreateBuildInput) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.counters[projectID] + 1
	s.counters[projectID] = next

	b := &model.Build{
		ID:          generateID("build"),
		ProjectID:   projectID,
		VersionID:   in.VersionID,
		BuildNumber: next,
		ZipURL:      in.ZipURL,
		Status:      model.BuildStatusActive,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   in.CreatedBy,
		Coverage:    in.Coverage,
	}
	if s.builds[projectID] == nil {
		s.builds[projectID] = make(map[string]*model.Build)
	}
	s.builds[projectID][b.ID] = b

	out := *b
	return &out, nil
}

func (s *MemoryStore) GetBuild(ctx context.Context, projectID, buildID string) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builds[projectID][buildID]
	if !ok {
		return nil, nil
	}
	out := *b
	return &out, nil
}

func (s *MemoryStore) GetProjectBuilds(ctx context.Context, projectID, status string, limit int) ([]*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	var result []*model.Build
	for _, b := range s.builds[projectID] {
		if status != "" && b.Status != status {
			continue
		}
		out := *b
		result = append(result, &out)
	}

	// 无过滤：按构建号降序；有状态过滤：按创建时间降序
	if status == "" {
		sort.Slice(result, func(i, j int) bool { return result[i].BuildNumber > result[j].BuildNumber })
	} else {
		sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	}

	if len(result) > limit {
		result = result[:limit]
	}
	if result == nil {
		result = []*model.Build{}
	}
	return result, nil
}

func (s *MemoryStore) GetBuildByVersion(ctx context.Context, projectID, versionID string) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Build
	for _, b := range s.builds[projectID] {
		if b.VersionID != versionID {
			continue
		}
		if best == nil || b.BuildNumber > best.BuildNumber {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (s *MemoryStore) GetLatestBuild(ctx context.Context, projectID string) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Build
	for _, b := range s.builds[projectID] {
		if b.Status != model.BuildStatusActive {
			continue
		}
		if best == nil || b.BuildNumber > best.BuildNumber {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (s *MemoryStore) UpdateBuild(ctx context.Context, projectID, buildID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builds[projectID][buildID]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "version_id":
			b.VersionID, _ = v.(string)
		case "zip_url":
			b.ZipURL, _ = v.(string)
		case "status":
			b.Status, _ = v.(string)
		default:
			return fmt.Errorf("memorystore: unknown field %q", k)
		}
	}
	return nil
}

func (s *MemoryStore) UpdateBuildCoverage(ctx context.Context, projectID, buildID string, cov *model.Coverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builds[projectID][buildID]
	if !ok {
		return ErrNotFound
	}
	b.Coverage = cov
	return nil
}

func (s *MemoryStore) ArchiveBuild(ctx context.Context, projectID, buildID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builds[projectID][buildID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	b.Status = model.BuildStatusArchived
	b.ArchivedAt = &now
	b.ArchivedBy = &userID
	return nil
}

func (s *MemoryStore) DeleteBuild(ctx context.Context, projectID, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[projectID][buildID]; !ok {
		return ErrNotFound
	}
	delete(s.builds[projectID], buildID)
	return nil
}

// generateID 生成带前缀的随机标识符，格式为 prefix-xxxxxxxxxxxx
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
