package mongostore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"storybook-hub/internal/shared/model"
	"storybook-hub/internal/shared/storage"
)

// 集成测试：需要副本集模式的 MongoDB（事务要求），
// 通过 MONGO_TEST_URI 指定，默认本地实例。不可用时跳过。

func testMongoStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017/?replicaSet=rs0"
	}

	s, err := NewStore(uri, fmt.Sprintf("storybook_hub_test_%d", time.Now().UnixNano()))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.db.Drop(ctx)
		s.Close()
	})
	return s
}

func createBuild(t *testing.T, s *Store, projectID, versionID string) *model.Build {
	t.Helper()
	b, err := s.CreateBuild(context.Background(), projectID, storage.CreateBuildInput{
		VersionID: versionID,
		ZipURL:    fmt.Sprintf("https://cdn/%s/%s/storybook.zip", projectID, versionID),
		CreatedBy: "ci-bot",
	})
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	return b
}

func TestCreateBuild_Integration(t *testing.T) {
	s := testMongoStore(t)

	b1 := createBuild(t, s, "demo", "1.0.0")
	b2 := createBuild(t, s, "demo", "1.1.0")
	other := createBuild(t, s, "other", "1.0.0")

	if b1.BuildNumber != 1 || b2.BuildNumber != 2 {
		t.Errorf("numbers = %d, %d; want 1, 2", b1.BuildNumber, b2.BuildNumber)
	}
	// 计数器按项目隔离
	if other.BuildNumber != 1 {
		t.Errorf("other project number = %d; want 1", other.BuildNumber)
	}
	if b1.Status != model.BuildStatusActive {
		t.Errorf("Status = %q, want active", b1.Status)
	}
}

// 并发创建必须产生互不重复的序号（事务加唯一索引兜底）
func TestCreateBuildConcurrent_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := s.CreateBuild(ctx, "demo", storage.CreateBuildInput{
				VersionID: fmt.Sprintf("v%d", i),
				ZipURL:    "https://cdn/demo/storybook.zip",
			})
			if err != nil {
				t.Errorf("CreateBuild: %v", err)
				return
			}
			numbers <- b.BuildNumber
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate build number %d", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct numbers, want %d", len(seen), n)
	}
}

func TestGetBuild_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	created := createBuild(t, s, "demo", "1.0.0")

	got, err := s.GetBuild(ctx, "demo", created.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got == nil || got.VersionID != "1.0.0" || got.CreatedBy != "ci-bot" {
		t.Fatalf("unexpected build: %+v", got)
	}

	// 未命中和跨项目访问都返回 (nil, nil)
	missing, err := s.GetBuild(ctx, "demo", "build-none")
	if missing != nil || err != nil {
		t.Errorf("GetBuild(missing) = (%+v, %v), want (nil, nil)", missing, err)
	}
	cross, err := s.GetBuild(ctx, "other", created.ID)
	if cross != nil || err != nil {
		t.Errorf("GetBuild(cross-project) = (%+v, %v), want (nil, nil)", cross, err)
	}
}

func TestGetBuildByVersion_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	createBuild(t, s, "demo", "1.0.0")
	second := createBuild(t, s, "demo", "1.0.0")

	// 同版本多次上传：返回序号最大者
	got, err := s.GetBuildByVersion(ctx, "demo", "1.0.0")
	if err != nil {
		t.Fatalf("GetBuildByVersion: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("got %+v, want latest re-upload %s", got, second.ID)
	}

	missing, err := s.GetBuildByVersion(ctx, "demo", "9.9.9")
	if missing != nil || err != nil {
		t.Errorf("GetBuildByVersion(missing) = (%+v, %v), want (nil, nil)", missing, err)
	}
}

func TestGetLatestBuild_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	createBuild(t, s, "demo", "1.0.0")
	b2 := createBuild(t, s, "demo", "1.1.0")

	latest, err := s.GetLatestBuild(ctx, "demo")
	if err != nil {
		t.Fatalf("GetLatestBuild: %v", err)
	}
	if latest == nil || latest.ID != b2.ID {
		t.Fatalf("latest = %+v, want %s", latest, b2.ID)
	}

	// 归档后让位给前一个 active 构建
	if err := s.ArchiveBuild(ctx, "demo", b2.ID, "ops"); err != nil {
		t.Fatalf("ArchiveBuild: %v", err)
	}
	latest, err = s.GetLatestBuild(ctx, "demo")
	if err != nil {
		t.Fatalf("GetLatestBuild: %v", err)
	}
	if latest == nil || latest.ID == b2.ID {
		t.Fatalf("latest after archive = %+v", latest)
	}
}

func TestGetProjectBuilds_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	b1 := createBuild(t, s, "demo", "1.0.0")
	createBuild(t, s, "demo", "1.1.0")
	createBuild(t, s, "demo", "1.2.0")
	s.ArchiveBuild(ctx, "demo", b1.ID, "ops")

	// 无过滤：构建号降序
	all, err := s.GetProjectBuilds(ctx, "demo", "", 0)
	if err != nil {
		t.Fatalf("GetProjectBuilds: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].BuildNumber > all[i-1].BuildNumber {
			t.Errorf("list must be build_number descending")
		}
	}

	// 状态过滤 + limit
	active, err := s.GetProjectBuilds(ctx, "demo", model.BuildStatusActive, 1)
	if err != nil {
		t.Fatalf("GetProjectBuilds(active): %v", err)
	}
	if len(active) != 1 || active[0].Status != model.BuildStatusActive {
		t.Fatalf("active = %+v", active)
	}

	// 空项目返回空切片而非 nil
	empty, err := s.GetProjectBuilds(ctx, "nobody", "", 0)
	if err != nil || empty == nil {
		t.Errorf("empty project = (%v, %v)", empty, err)
	}
}

func TestArchiveBuild_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	b := createBuild(t, s, "demo", "1.0.0")
	if err := s.ArchiveBuild(ctx, "demo", b.ID, "user-7"); err != nil {
		t.Fatalf("ArchiveBuild: %v", err)
	}

	got, _ := s.GetBuild(ctx, "demo", b.ID)
	if got.Status != model.BuildStatusArchived {
		t.Errorf("Status = %q, want archived", got.Status)
	}
	if got.ArchivedAt == nil || got.ArchivedBy == nil || *got.ArchivedBy != "user-7" {
		t.Errorf("audit fields = %+v / %+v", got.ArchivedAt, got.ArchivedBy)
	}
	// 归档后仍可按版本查询
	byVersion, _ := s.GetBuildByVersion(ctx, "demo", "1.0.0")
	if byVersion == nil {
		t.Error("archived build must stay queryable by version")
	}

	if err := s.ArchiveBuild(ctx, "demo", "build-none", "user-7"); err != storage.ErrNotFound {
		t.Errorf("ArchiveBuild(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpdateBuildCoverage_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	b := createBuild(t, s, "demo", "1.0.0")

	cov := &model.Coverage{
		ReportURL: "https://cdn/demo/1.0.0/coverage-report.json",
		Summary: model.CoverageSummary{
			ComponentCoverage: 0.85, PropCoverage: 0.72, VariantCoverage: 0.64, PassRate: 0.97,
			TotalComponents: 120, ComponentsWithStories: 102, FailingStories: 3,
		},
		QualityGate: model.QualityGate{
			Passed: true,
			Checks: []model.QualityCheck{{Name: "passRate", Threshold: 0.95, Actual: 0.97, Passed: true}},
		},
		GeneratedAt: "2026-08-01T10:30:00.000Z",
	}
	if err := s.UpdateBuildCoverage(ctx, "demo", b.ID, cov); err != nil {
		t.Fatalf("UpdateBuildCoverage: %v", err)
	}

	got, _ := s.GetBuild(ctx, "demo", b.ID)
	if got.Coverage == nil || got.Coverage.Summary.TotalComponents != 120 {
		t.Fatalf("Coverage = %+v", got.Coverage)
	}

	// 整体替换语义：第二次写入后第一次的 checks 不残留
	replacement := &model.Coverage{
		ReportURL:   "https://cdn/demo/1.0.0/coverage-report.json",
		QualityGate: model.QualityGate{Passed: false, Checks: []model.QualityCheck{}},
		GeneratedAt: "2026-08-02T00:00:00.000Z",
	}
	if err := s.UpdateBuildCoverage(ctx, "demo", b.ID, replacement); err != nil {
		t.Fatalf("UpdateBuildCoverage(2): %v", err)
	}
	got, _ = s.GetBuild(ctx, "demo", b.ID)
	if len(got.Coverage.QualityGate.Checks) != 0 || got.Coverage.QualityGate.Passed {
		t.Errorf("coverage not replaced: %+v", got.Coverage)
	}

	if err := s.UpdateBuildCoverage(ctx, "demo", "build-none", cov); err != storage.ErrNotFound {
		t.Errorf("UpdateBuildCoverage(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteBuild_Integration(t *testing.T) {
	s := testMongoStore(t)
	ctx := context.Background()

	b := createBuild(t, s, "demo", "1.0.0")
	if err := s.DeleteBuild(ctx, "demo", b.ID); err != nil {
		t.Fatalf("DeleteBuild: %v", err)
	}
	if err := s.DeleteBuild(ctx, "demo", b.ID); err != storage.ErrNotFound {
		t.Errorf("DeleteBuild(again) = %v, want ErrNotFound", err)
	}

	// 删除不回退计数器
	next := createBuild(t, s, "demo", "1.1.0")
	if next.BuildNumber != 2 {
		t.Errorf("BuildNumber after delete = %d, want 2", next.BuildNumber)
	}
}
