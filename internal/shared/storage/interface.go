// Package storage 定义构建元数据存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方（上传编排层）只依赖 BuildStore 接口，不感知具体实现
//   - 具体实现在子包中：mongostore/（事务后端）、firestore/（REST 后端）、
//     cached/（Redis 读缓存装饰器）、以及测试用的内存 Mock
//   - 初始化时通过依赖注入传入实现
//
// 两个持久化后端的一致性保证并不等价：
//   - mongostore 通过多文档事务严格保证计数器递增与构建写入的原子性
//   - firestore 只有单文档读写，计数器采用先读后写，存在并发竞争窗口
//     （详见 firestore 包文档），仅适用于单项目上传并发很低的场景
package storage

import (
	"context"

	"storybook-hub/internal/shared/model"
)

// DefaultListLimit GetProjectBuilds 的默认返回条数上限
const DefaultListLimit = 50

// CreateBuildInput CreateBuild 的输入
type CreateBuildInput struct {
	VersionID string          // 版本标签（必填）
	ZipURL    string          // 压缩包存储地址（必填）
	CreatedBy string          // 创建者标识（可选）
	Coverage  *model.Coverage // 随构建一并写入的覆盖率（可选）
}

// BuildStore 构建元数据存储接口
//
// 约定：
//   - 所有 Get* 方法在记录不存在时返回 (nil, nil)，调用方判空而非捕获错误
//   - CreateBuild 为同一项目分配严格递增的 BuildNumber（从 1 开始），
//     序号允许空洞但永不复用、永不回退
//   - GetBuildByVersion 在同版本存在多个构建时统一返回 BuildNumber 最大者
//   - UpdateBuildCoverage 整体替换 coverage 字段，不做合并
//   - ArchiveBuild 为单向操作，归档后 GetLatestBuild 不再返回该构建
//   - DeleteBuild 不回退计数器
type BuildStore interface {
	CreateBuild(ctx context.Context, projectID string, in CreateBuildInput) (*model.Build, error)
	GetBuild(ctx context.Context, projectID, buildID string) (*model.Build, error)
	GetProjectBuilds(ctx context.Context, projectID, status string, limit int) ([]*model.Build, error)
	GetBuildByVersion(ctx context.Context, projectID, versionID string) (*model.Build, error)
	GetLatestBuild(ctx context.Context, projectID string) (*model.Build, error)
	UpdateBuild(ctx context.Context, projectID, buildID string, fields map[string]any) error
	UpdateBuildCoverage(ctx context.Context, projectID, buildID string, cov *model.Coverage) error
	ArchiveBuild(ctx context.Context, projectID, buildID, userID string) error
	DeleteBuild(ctx context.Context, projectID, buildID string) error
}
