// Package model 定义核心数据模型
//
// build.go 包含构建追踪相关的数据模型定义：
//   - Build：一次 Storybook 构建产物上传（数据库存储）
//   - BuildCounter：项目级构建序号计数器（内部使用，不对外暴露）
//
// 构建产物（zip 压缩包、覆盖率报告）存储在对象存储（如 MinIO）中，
// Build 记录元数据；BuildCounter 是构建序号单调递增的唯一事实来源。
package model

import "time"

// 构建状态
const (
	BuildStatusActive   = "active"   // 活跃（默认）
	BuildStatusArchived = "archived" // 已归档（单向，不可恢复）
)

// ============================================================================
// Build - 构建记录（数据库存储）
// ============================================================================

// Build 表示一个项目/版本对的一次产物上传
//
// 字段说明：
//   - ID：创建时生成，不可变
//   - ProjectID：所属项目，构建按项目分区
//   - VersionID：调用方提供的版本标签，同一项目内可重复（版本可被重新上传）
//   - BuildNumber：项目内唯一且严格递增的正整数，允许出现空洞，永不复用
//   - ZipURL：压缩包的存储地址，创建时设置
//   - Status：active → archived 单向迁移，归档时记录审计信息
//   - Coverage：可选的覆盖率快照，附加后整体替换，不做部分合并
type Build struct {
	ID          string     `json:"id" bson:"_id"`
	ProjectID   string     `json:"project_id" bson:"project_id"`
	VersionID   string     `json:"version_id" bson:"version_id"`
	BuildNumber int64      `json:"build_number" bson:"build_number"`
	ZipURL      string     `json:"zip_url" bson:"zip_url"`
	Status      string     `json:"status" bson:"status"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	CreatedBy   string     `json:"created_by,omitempty" bson:"created_by,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty" bson:"archived_at,omitempty"`
	ArchivedBy  *string    `json:"archived_by,omitempty" bson:"archived_by,omitempty"`
	Coverage    *Coverage  `json:"coverage,omitempty" bson:"coverage,omitempty"`
}

// IsActive 构建是否处于活跃状态
func (b *Build) IsActive() bool {
	return b.Status == BuildStatusActive
}

// ============================================================================
// BuildCounter - 项目级构建计数器
// ============================================================================

// BuildCounter 记录项目最近一次分配的构建序号
//
// 每个项目一份，首次创建构建时隐式初始化（从 1 开始），
// 每次 CreateBuild 成功递增一次。删除构建不回退计数器，
// 保证序号永不复用。
type BuildCounter struct {
	CurrentBuildNumber int64 `json:"current_build_number" bson:"current_build_number"`
}
