// store.go 实现 storage.BuildStore 的 REST 后端
//
// 文档路径布局（与 mongostore 的集合布局语义等价）：
//
//	projects/{projectId}/builds/{buildId}   -> 构建文档
//	projects/{projectId}/counters/builds    -> { current_build_number }
//
// 一致性保证弱于 mongostore，详见包文档。
package firestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"storybook-hub/internal/shared/model"
	"storybook-hub/internal/shared/storage"
)

// Store 实现 storage.BuildStore 接口的 Firestore REST 驱动
type Store struct {
	client *Client
}

// NewStore 从服务账号凭证创建 REST 存储实例
//
// baseURL: 文档根路径；credsJSON: 服务账号 JSON 密钥
func NewStore(baseURL string, credsJSON []byte) (*Store, error) {
	creds, err := ParseCredentials(credsJSON)
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokenSource(creds, "https://www.googleapis.com/auth/datastore")
	if err != nil {
		return nil, err
	}
	return &Store{client: NewClient(baseURL, tokens)}, nil
}

// NewStoreWithClient 用已构造的客户端创建存储实例（测试注入）
func NewStoreWithClient(client *Client) *Store {
	return &Store{client: client}
}

// 确保 Store 实现了 BuildStore 接口
var _ storage.BuildStore = (*Store)(nil)

func buildPath(projectID, buildID string) string {
	return fmt.Sprintf("projects/%s/builds/%s", projectID, buildID)
}

func counterPath(projectID string) string {
	return fmt.Sprintf("projects/%s/counters/builds", projectID)
}

// ============================================================================
// CreateBuild - 先读后写的序号分配
// ============================================================================

// CreateBuild 创建构建记录并分配序号
//
// 序列：读计数器（任何失败都按 0 处理，这是刻意的兜底而非致命错误）→
// 计算 next → 覆盖写计数器 → 写构建文档。
//
// 已知竞争窗口：两个并发请求可能读到同一计数器值从而产生重复序号，
// 本实现不关闭该窗口（见包文档）。计数器写成功而构建写失败时，
// 序号被消费但无对应构建，留下永久空洞——与单调性不变量一致，
// 错误原样上抛，不做回滚也不重试。
func (s *Store) CreateBuild(ctx context.Context, projectID string, in storage.CreateBuildInput) (*model.Build, error) {
	var current int64
	doc, err := s.client.GetDocument(ctx, counterPath(projectID))
	if err != nil {
		// 计数器读取失败降级为 0，保证首次上传和计数器缺失场景可用
		log.Printf("[firestore] counter read failed for project %s, assuming 0: %v", projectID, err)
	} else if doc != nil {
		current = getInt(FromFields(doc.Fields), "current_build_number")
	}
	next := current + 1

	counterFields := ToFields(map[string]any{"current_build_number": next})
	if err := s.client.SetDocument(ctx, counterPath(projectID), counterFields, nil); err != nil {
		return nil, fmt.Errorf("firestore: write counter: %w", err)
	}

	build := &model.Build{
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
	if err := s.client.SetDocument(ctx, buildPath(projectID, build.ID), buildToFields(build), nil); err != nil {
		return nil, fmt.Errorf("firestore: write build: %w", err)
	}
	return build, nil
}

// ============================================================================
// 读路径
// ============================================================================

func (s *Store) GetBuild(ctx context.Context, projectID, buildID string) (*model.Build, error) {
	doc, err := s.client.GetDocument(ctx, buildPath(projectID, buildID))
	if err != nil || doc == nil {
		return nil, err
	}
	return buildFromDoc(doc), nil
}

// GetProjectBuilds 列出项目构建
//
// 无状态过滤：单字段排序（build_number 降序）加 limit 可整体下推给后端。
// 有状态过滤：等值过滤加异字段排序需要二级索引，这里刻意规避——
// 只下推等值过滤，且不下推 limit（无序结果上服务端截断会丢掉本应
// 排前面的记录），全量取回后在客户端按 created_at 降序排序再截断。
func (s *Store) GetProjectBuilds(ctx context.Context, projectID, status string, limit int) ([]*model.Build, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := map[string]any{
		"from": []any{map[string]any{"collectionId": "builds"}},
	}
	if status == "" {
		query["orderBy"] = []any{map[string]any{
			"field":     map[string]any{"fieldPath": "build_number"},
			"direction": "DESCENDING",
		}}
		query["limit"] = limit
	} else {
		query["where"] = fieldEquals("status", status)
	}

	docs, err := s.client.RunQuery(ctx, "projects/"+projectID, query)
	if err != nil {
		return nil, err
	}

	builds := make([]*model.Build, 0, len(docs))
	for _, doc := range docs {
		builds = append(builds, buildFromDoc(doc))
	}
	if status != "" {
		sort.Slice(builds, func(i, j int) bool { return builds[i].CreatedAt.After(builds[j].CreatedAt) })
		if len(builds) > limit {
			builds = builds[:limit]
		}
	}
	return builds, nil
}

// GetBuildByVersion 按版本查询构建
//
// 只下推 version_id 等值过滤（不带服务端排序，规避二级索引），
// 最多取 50 条，在客户端选 BuildNumber 最大者——与 mongostore
// 的决胜规则保持一致。
func (s *Store) GetBuildByVersion(ctx context.Context, projectID, versionID string) (*model.Build, error) {
	docs, err := s.client.RunQuery(ctx, "projects/"+projectID, map[string]any{
		"from":  []any{map[string]any{"collectionId": "builds"}},
		"where": fieldEquals("version_id", versionID),
		"limit": storage.DefaultListLimit,
	})
	if err != nil {
		return nil, err
	}
	return pickHighest(docs), nil
}

// GetLatestBuild 返回构建号最大的 active 构建
//
// 等值过滤不带 limit：active 构建随上传只增不减，无序结果上任何
// 截断窗口都可能把真正的最新构建排除在外。全量取回后客户端选最大序号。
func (s *Store) GetLatestBuild(ctx context.Context, projectID string) (*model.Build, error) {
	docs, err := s.client.RunQuery(ctx, "projects/"+projectID, map[string]any{
		"from":  []any{map[string]any{"collectionId": "builds"}},
		"where": fieldEquals("status", model.BuildStatusActive),
	})
	if err != nil {
		return nil, err
	}
	return pickHighest(docs), nil
}

// ============================================================================
// 写路径 - 全部走显式字段掩码的部分更新
// ============================================================================

// UpdateBuild 部分字段合并更新：掩码精确列出被改的键，其余字段不动
func (s *Store) UpdateBuild(ctx context.Context, projectID, buildID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	mask := make([]string, 0, len(fields))
	for k := range fields {
		mask = append(mask, k)
	}
	return s.client.SetDocument(ctx, buildPath(projectID, buildID), ToFields(fields), mask)
}

// UpdateBuildCoverage 整体替换 coverage 字段（掩码只含 coverage，
// 嵌套对象全量递归转换后一次写入，不做部分合并）
func (s *Store) UpdateBuildCoverage(ctx context.Context, projectID, buildID string, cov *model.Coverage) error {
	fields := ToFields(map[string]any{"coverage": coverageToMap(cov)})
	return s.client.SetDocument(ctx, buildPath(projectID, buildID), fields, []string{"coverage"})
}

// ArchiveBuild 归档构建（单向），记录审计信息
func (s *Store) ArchiveBuild(ctx context.Context, projectID, buildID, userID string) error {
	fields := ToFields(map[string]any{
		"status":      model.BuildStatusArchived,
		"archived_at": time.Now().UTC(),
		"archived_by": userID,
	})
	return s.client.SetDocument(ctx, buildPath(projectID, buildID), fields,
		[]string{"status", "archived_at", "archived_by"})
}

// DeleteBuild 删除构建文档，不回退计数器
// 404 静默成功，其余非 2xx 显式报错
func (s *Store) DeleteBuild(ctx context.Context, projectID, buildID string) error {
	return s.client.DeleteDocument(ctx, buildPath(projectID, buildID))
}

// ============================================================================
// 文档 ↔ model 手工转换
// ============================================================================

// fieldEquals 构造单字段等值过滤
func fieldEquals(field, value string) map[string]any {
	return map[string]any{
		"fieldFilter": map[string]any{
			"field": map[string]any{"fieldPath": field},
			"op":    "EQUAL",
			"value": ToValue(value),
		},
	}
}

// pickHighest 在客户端选出 BuildNumber 最大的构建
func pickHighest(docs []*document) *model.Build {
	var best *model.Build
	for _, doc := range docs {
		b := buildFromDoc(doc)
		if best == nil || b.BuildNumber > best.BuildNumber {
			best = b
		}
	}
	return best
}

// buildToFields 将构建记录转换为 tagged value 字段表
func buildToFields(b *model.Build) map[string]any {
	m := map[string]any{
		"project_id":   b.ProjectID,
		"version_id":   b.VersionID,
		"build_number": b.BuildNumber,
		"zip_url":      b.ZipURL,
		"status":       b.Status,
		"created_at":   b.CreatedAt,
	}
	if b.CreatedBy != "" {
		m["created_by"] = b.CreatedBy
	}
	if b.ArchivedAt != nil {
		m["archived_at"] = *b.ArchivedAt
	}
	if b.ArchivedBy != nil {
		m["archived_by"] = *b.ArchivedBy
	}
	if b.Coverage != nil {
		m["coverage"] = coverageToMap(b.Coverage)
	}
	return ToFields(m)
}

// buildFromDoc 将文档还原为构建记录
func buildFromDoc(doc *document) *model.Build {
	m := FromFields(doc.Fields)
	b := &model.Build{
		ID:          docID(doc.Name),
		ProjectID:   getString(m, "project_id"),
		VersionID:   getString(m, "version_id"),
		BuildNumber: getInt(m, "build_number"),
		ZipURL:      getString(m, "zip_url"),
		Status:      getString(m, "status"),
		CreatedAt:   getTime(m, "created_at"),
		CreatedBy:   getString(m, "created_by"),
	}
	if t, ok := m["archived_at"].(time.Time); ok {
		b.ArchivedAt = &t
	}
	if who := getString(m, "archived_by"); who != "" {
		b.ArchivedBy = &who
	}
	if cov, ok := m["coverage"].(map[string]any); ok {
		b.Coverage = coverageFromMap(cov)
	}
	return b
}

// coverageToMap 将覆盖率快照转换为键值表（递归嵌套）
func coverageToMap(cov *model.Coverage) map[string]any {
	checks := make([]any, 0, len(cov.QualityGate.Checks))
	for _, c := range cov.QualityGate.Checks {
		checks = append(checks, map[string]any{
			"name":      c.Name,
			"threshold": c.Threshold,
			"actual":    c.Actual,
			"passed":    c.Passed,
		})
	}
	return map[string]any{
		"report_url": cov.ReportURL,
		"summary": map[string]any{
			"component_coverage":      cov.Summary.ComponentCoverage,
			"prop_coverage":           cov.Summary.PropCoverage,
			"variant_coverage":        cov.Summary.VariantCoverage,
			"pass_rate":               cov.Summary.PassRate,
			"total_components":        cov.Summary.TotalComponents,
			"components_with_stories": cov.Summary.ComponentsWithStories,
			"failing_stories":         cov.Summary.FailingStories,
		},
		"quality_gate": map[string]any{
			"passed": cov.QualityGate.Passed,
			"checks": checks,
		},
		"generated_at": cov.GeneratedAt,
	}
}

// coverageFromMap 将键值表还原为覆盖率快照
func coverageFromMap(m map[string]any) *model.Coverage {
	cov := &model.Coverage{
		ReportURL:   getString(m, "report_url"),
		GeneratedAt: getString(m, "generated_at"),
	}
	if s, ok := m["summary"].(map[string]any); ok {
		cov.Summary = model.CoverageSummary{
			ComponentCoverage:     getFloat(s, "component_coverage"),
			PropCoverage:          getFloat(s, "prop_coverage"),
			VariantCoverage:       getFloat(s, "variant_coverage"),
			PassRate:              getFloat(s, "pass_rate"),
			TotalComponents:       getInt(s, "total_components"),
			ComponentsWithStories: getInt(s, "components_with_stories"),
			FailingStories:        getInt(s, "failing_stories"),
		}
	}
	if g, ok := m["quality_gate"].(map[string]any); ok {
		gate := model.QualityGate{Passed: g["passed"] == true, Checks: []model.QualityCheck{}}
		if checks, ok := g["checks"].([]any); ok {
			for _, raw := range checks {
				c, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				gate.Checks = append(gate.Checks, model.QualityCheck{
					Name:      getString(c, "name"),
					Threshold: getFloat(c, "threshold"),
					Actual:    getFloat(c, "actual"),
					Passed:    c["passed"] == true,
				})
			}
		}
		cov.QualityGate = gate
	}
	return cov
}

// 类型宽容的取值辅助：解码侧整数可能还原为 int64 或 float64

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func getTime(m map[string]any, key string) time.Time {
	t, _ := m[key].(time.Time)
	return t
}

// generateID 生成带前缀的随机标识符，格式为 prefix-xxxxxxxxxxxx
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
