// Package coverage 实现覆盖率报告的规范化
//
// CI 侧上传的覆盖率 JSON 存在两种被接受的外部形状：
//
//	Shape A（扁平）：summary 直接包含七项指标
//	Shape B（嵌套）：summary.metrics 包含三项比率，summary.health 包含
//	  passRate 和 failingStories，totalComponents / componentsWithStories
//	  直接位于 summary 下
//
// 判别规则唯一：summary.metrics 存在即按 Shape B 处理，否则按 Shape A，
// 不使用其他启发式。两种形状都要求 qualityGate 和 generatedAt。
//
// 规范化在任何存储 I/O 之前同步完成，校验失败返回描述性错误，
// 绝不产生部分写入。
package coverage

import (
	"encoding/json"
	"fmt"

	"storybook-hub/internal/shared/model"
)

// ValidationError 覆盖率载荷校验错误
// 上传编排层将其翻译为 400 响应，不会导致进程崩溃
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("coverage: invalid payload: field %q %s", e.Field, e.Reason)
}

// Normalize 将外部覆盖率 JSON 规范化为内部存储形状
//
// reportURL 是编排层实际持久化原始 JSON 的规范地址；载荷内嵌的
// reportUrl 一律忽略并被覆盖，防止客户端声明任意外部报告地址。
func Normalize(raw []byte, reportURL string) (*model.Coverage, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ValidationError{Field: "(root)", Reason: "is not valid JSON: " + err.Error()}
	}

	summary, ok := payload["summary"].(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "summary", Reason: "is required and must be an object"}
	}

	var norm model.CoverageSummary
	var err error
	if _, nested := summary["metrics"]; nested {
		norm, err = summaryFromNested(summary)
	} else {
		norm, err = summaryFromFlat(summary)
	}
	if err != nil {
		return nil, err
	}

	gate, err := qualityGateFrom(payload)
	if err != nil {
		return nil, err
	}

	generatedAt, ok := payload["generatedAt"].(string)
	if !ok {
		return nil, &ValidationError{Field: "generatedAt", Reason: "is required and must be a string"}
	}

	return &model.Coverage{
		ReportURL:   reportURL,
		Summary:     norm,
		QualityGate: gate,
		GeneratedAt: generatedAt, // 原样透传，不校验可解析性
	}, nil
}

// summaryFromFlat 解析 Shape A：七项指标直接位于 summary 下
func summaryFromFlat(summary map[string]any) (model.CoverageSummary, error) {
	var s model.CoverageSummary
	var err error
	if s.ComponentCoverage, err = requireNumber(summary, "summary.componentCoverage", "componentCoverage"); err != nil {
		return s, err
	}
	if s.PropCoverage, err = requireNumber(summary, "summary.propCoverage", "propCoverage"); err != nil {
		return s, err
	}
	if s.VariantCoverage, err = requireNumber(summary, "summary.variantCoverage", "variantCoverage"); err != nil {
		return s, err
	}
	if s.PassRate, err = requireNumber(summary, "summary.passRate", "passRate"); err != nil {
		return s, err
	}
	return fillCounts(s, summary, summary, "summary")
}

// summaryFromNested 解析 Shape B：metrics/health 分组，计数字段仍在 summary 下
func summaryFromNested(summary map[string]any) (model.CoverageSummary, error) {
	var s model.CoverageSummary

	metrics, ok := summary["metrics"].(map[string]any)
	if !ok {
		return s, &ValidationError{Field: "summary.metrics", Reason: "must be an object"}
	}
	health, ok := summary["health"].(map[string]any)
	if !ok {
		return s, &ValidationError{Field: "summary.health", Reason: "is required and must be an object"}
	}

	var err error
	if s.ComponentCoverage, err = requireNumber(metrics, "summary.metrics.componentCoverage", "componentCoverage"); err != nil {
		return s, err
	}
	if s.PropCoverage, err = requireNumber(metrics, "summary.metrics.propCoverage", "propCoverage"); err != nil {
		return s, err
	}
	if s.VariantCoverage, err = requireNumber(metrics, "summary.metrics.variantCoverage", "variantCoverage"); err != nil {
		return s, err
	}
	if s.PassRate, err = requireNumber(health, "summary.health.passRate", "passRate"); err != nil {
		return s, err
	}
	return fillCounts(s, summary, health, "summary")
}

// fillCounts 填充三项计数字段；failingStories 在 Shape B 中位于 health 下
func fillCounts(s model.CoverageSummary, summary, failingHolder map[string]any, prefix string) (model.CoverageSummary, error) {
	total, err := requireNumber(summary, prefix+".totalComponents", "totalComponents")
	if err != nil {
		return s, err
	}
	withStories, err := requireNumber(summary, prefix+".componentsWithStories", "componentsWithStories")
	if err != nil {
		return s, err
	}
	failing, err := requireNumber(failingHolder, prefix+".failingStories", "failingStories")
	if err != nil {
		return s, err
	}
	s.TotalComponents = int64(total)
	s.ComponentsWithStories = int64(withStories)
	s.FailingStories = int64(failing)
	return s, nil
}

// qualityGateFrom 解析并校验 qualityGate
func qualityGateFrom(payload map[string]any) (model.QualityGate, error) {
	var gate model.QualityGate

	raw, ok := payload["qualityGate"].(map[string]any)
	if !ok {
		return gate, &ValidationError{Field: "qualityGate", Reason: "is required and must be an object"}
	}
	passed, ok := raw["passed"].(bool)
	if !ok {
		return gate, &ValidationError{Field: "qualityGate.passed", Reason: "is required and must be a boolean"}
	}
	checksRaw, ok := raw["checks"].([]any)
	if !ok {
		return gate, &ValidationError{Field: "qualityGate.checks", Reason: "is required and must be an array"}
	}

	gate.Passed = passed
	gate.Checks = make([]model.QualityCheck, 0, len(checksRaw))
	for i, item := range checksRaw {
		check, ok := item.(map[string]any)
		if !ok {
			return gate, &ValidationError{Field: fmt.Sprintf("qualityGate.checks[%d]", i), Reason: "must be an object"}
		}
		name, ok := check["name"].(string)
		if !ok {
			return gate, &ValidationError{Field: fmt.Sprintf("qualityGate.checks[%d].name", i), Reason: "is required and must be a string"}
		}
		threshold, err := requireNumber(check, fmt.Sprintf("qualityGate.checks[%d].threshold", i), "threshold")
		if err != nil {
			return gate, err
		}
		actual, err := requireNumber(check, fmt.Sprintf("qualityGate.checks[%d].actual", i), "actual")
		if err != nil {
			return gate, err
		}
		checkPassed, ok := check["passed"].(bool)
		if !ok {
			return gate, &ValidationError{Field: fmt.Sprintf("qualityGate.checks[%d].passed", i), Reason: "is required and must be a boolean"}
		}
		gate.Checks = append(gate.Checks, model.QualityCheck{
			Name:      name,
			Threshold: threshold,
			Actual:    actual,
			Passed:    checkPassed,
		})
	}
	return gate, nil
}

// requireNumber 取必填数值字段，缺失或类型不符时报描述性错误
func requireNumber(m map[string]any, path, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, &ValidationError{Field: path, Reason: "is required"}
	}
	f, ok := v.(float64)
	if !ok {
		return 0, &ValidationError{Field: path, Reason: "must be a number"}
	}
	return f, nil
}
