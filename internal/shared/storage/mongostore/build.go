package mongostore

import (
	"context"
	"fmt"
	"time"

	"storybook-hub/internal/shared/model"
	"storybook-hub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 确保 Store 实现了 BuildStore 接口
var _ storage.BuildStore = (*Store)(nil)

// counterDoc 计数器文档（_id 即 projectID）
type counterDoc struct {
	ID                 string `bson:"_id"`
	CurrentBuildNumber int64  `bson:"current_build_number"`
}

// ============================================================================
// CreateBuild - 事务内分配构建序号
// ============================================================================

// CreateBuild 创建构建记录并分配项目内严格递增的序号
//
// 整个 读计数器 → 回写计数器 → 插入构建 序列在一个多文档事务内执行，
// 计数器递增与构建写入要么同时生效要么都不生效；
// 并发冲突由驱动透明重试，不可重试的故障原样上抛。
func (s *Store) CreateBuild(ctx context.Context, projectID string, in storage.CreateBuildInput) (*model.Build, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("mongostore: start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		counter, err := findOne[counterDoc](ctx, s.col(ColBuildCounters), bson.D{{Key: "_id", Value: projectID}})
		if err != nil {
			return nil, err
		}

		var next int64 = 1
		if counter != nil {
			next = counter.CurrentBuildNumber + 1
		}

		_, err = s.col(ColBuildCounters).UpdateOne(ctx,
			bson.D{{Key: "_id", Value: projectID}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "current_build_number", Value: next}}}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return nil, wrapError(err)
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
		if _, err := s.col(ColBuilds).InsertOne(ctx, build); err != nil {
			return nil, wrapError(err)
		}
		return build, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mongostore: create build: %w", err)
	}

	return result.(*model.Build), nil
}

// ============================================================================
// 读路径
// ============================================================================

func (s *Store) GetBuild(ctx context.Context, projectID, buildID string) (*model.Build, error) {
	return findOne[model.Build](ctx, s.col(ColBuilds),
		bson.D{{Key: "_id", Value: buildID}, {Key: "project_id", Value: projectID}})
}

// GetProjectBuilds 列出项目构建
//
// 无状态过滤时按构建号降序，有状态过滤时按创建时间降序
// （两条独立查询路径，复用各自的复合索引）。
func (s *Store) GetProjectBuilds(ctx context.Context, projectID, status string, limit int) ([]*model.Build, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	filter := bson.D{{Key: "project_id", Value: projectID}}
	sort := bson.D{{Key: "build_number", Value: -1}}
	if status != "" {
		filter = append(filter, bson.E{Key: "status", Value: status})
		sort = bson.D{{Key: "created_at", Value: -1}}
	}

	return findMany[model.Build](ctx, s.col(ColBuilds), filter,
		options.Find().SetSort(sort).SetLimit(int64(limit)))
}

// GetBuildByVersion 按版本查询构建
// 同版本存在多个构建时返回 BuildNumber 最大者（全后端统一的决胜规则）
func (s *Store) GetBuildByVersion(ctx context.Context, projectID, versionID string) (*model.Build, error) {
	return findOne[model.Build](ctx, s.col(ColBuilds),
		bson.D{{Key: "project_id", Value: projectID}, {Key: "version_id", Value: versionID}},
		options.FindOne().SetSort(bson.D{{Key: "build_number", Value: -1}}))
}

// GetLatestBuild 返回构建号最大的 active 构建
func (s *Store) GetLatestBuild(ctx context.Context, projectID string) (*model.Build, error) {
	return findOne[model.Build](ctx, s.col(ColBuilds),
		bson.D{{Key: "project_id", Value: projectID}, {Key: "status", Value: model.BuildStatusActive}},
		options.FindOne().SetSort(bson.D{{Key: "build_number", Value: -1}}))
}

// ============================================================================
// 写路径
// ============================================================================

// UpdateBuild 部分字段合并更新，只写入提供的键
func (s *Store) UpdateBuild(ctx context.Context, projectID, buildID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	update := bson.D{}
	for k, v := range fields {
		update = append(update, bson.E{Key: k, Value: v})
	}
	return updateFields(ctx, s.col(ColBuilds), projectID, buildID, update)
}

// UpdateBuildCoverage 整体替换 coverage 字段
func (s *Store) UpdateBuildCoverage(ctx context.Context, projectID, buildID string, cov *model.Coverage) error {
	return updateFields(ctx, s.col(ColBuilds), projectID, buildID,
		bson.D{{Key: "coverage", Value: cov}})
}

// ArchiveBuild 归档构建（单向），记录审计信息
// 单字段组写入，无跨文档不变量，不需要事务
func (s *Store) ArchiveBuild(ctx context.Context, projectID, buildID, userID string) error {
	return updateFields(ctx, s.col(ColBuilds), projectID, buildID, bson.D{
		{Key: "status", Value: model.BuildStatusArchived},
		{Key: "archived_at", Value: time.Now().UTC()},
		{Key: "archived_by", Value: userID},
	})
}

// DeleteBuild 硬删除构建文档，不回退计数器（序号永不复用）
func (s *Store) DeleteBuild(ctx context.Context, projectID, buildID string) error {
	res, err := s.col(ColBuilds).DeleteOne(ctx,
		bson.D{{Key: "_id", Value: buildID}, {Key: "project_id", Value: projectID}})
	if err != nil {
		return wrapError(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
