// Package model 定义核心数据模型
//
// coverage.go 包含覆盖率报告相关的数据模型定义：
//   - Coverage：构建附带的覆盖率快照（嵌套在 Build 中）
//   - CoverageSummary：七项固定指标
//   - QualityGate / QualityCheck：质量门禁结论与阈值检查
package model

// Coverage 构建的覆盖率快照
//
// 字段说明：
//   - ReportURL：原始报告 JSON 的规范存储地址（由服务端写入，不信任调用方声明）
//   - Summary：七项固定指标
//   - QualityGate：质量门禁结论
//   - GeneratedAt：调用方提供的 ISO 时间戳字符串，原样透传不做解析
type Coverage struct {
	ReportURL   string          `json:"report_url" bson:"report_url"`
	Summary     CoverageSummary `json:"summary" bson:"summary"`
	QualityGate QualityGate     `json:"quality_gate" bson:"quality_gate"`
	GeneratedAt string          `json:"generated_at" bson:"generated_at"`
}

// CoverageSummary 覆盖率摘要（七项固定指标）
type CoverageSummary struct {
	ComponentCoverage    float64 `json:"component_coverage" bson:"component_coverage"`         // 组件覆盖率
	PropCoverage         float64 `json:"prop_coverage" bson:"prop_coverage"`                   // 属性覆盖率
	VariantCoverage      float64 `json:"variant_coverage" bson:"variant_coverage"`             // 变体覆盖率
	PassRate             float64 `json:"pass_rate" bson:"pass_rate"`                           // 通过率
	TotalComponents      int64   `json:"total_components" bson:"total_components"`             // 组件总数
	ComponentsWithStories int64  `json:"components_with_stories" bson:"components_with_stories"` // 有 story 的组件数
	FailingStories       int64   `json:"failing_stories" bson:"failing_stories"`               // 失败的 story 数
}

// QualityGate 质量门禁结论
type QualityGate struct {
	Passed bool           `json:"passed" bson:"passed"`
	Checks []QualityCheck `json:"checks" bson:"checks"`
}

// QualityCheck 单项阈值检查
type QualityCheck struct {
	Name      string  `json:"name" bson:"name"`
	Threshold float64 `json:"threshold" bson:"threshold"`
	Actual    float64 `json:"actual" bson:"actual"`
	Passed    bool    `json:"passed" bson:"passed"`
}
