package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-hub/internal/shared/model"
)

// 同一份指标的两种外部形状，规范化后必须逐字段相等

const flatPayload = `{
	"summary": {
		"componentCoverage": 0.85,
		"propCoverage": 0.72,
		"variantCoverage": 0.64,
		"passRate": 0.97,
		"totalComponents": 120,
		"componentsWithStories": 102,
		"failingStories": 3
	},
	"qualityGate": {
		"passed": true,
		"checks": [
			{"name": "componentCoverage", "threshold": 0.8, "actual": 0.85, "passed": true},
			{"name": "passRate", "threshold": 0.95, "actual": 0.97, "passed": true}
		]
	},
	"generatedAt": "2026-08-01T10:30:00.000Z"
}`

const nestedPayload = `{
	"summary": {
		"metrics": {
			"componentCoverage": 0.85,
			"propCoverage": 0.72,
			"variantCoverage": 0.64
		},
		"health": {
			"passRate": 0.97,
			"failingStories": 3
		},
		"totalComponents": 120,
		"componentsWithStories": 102
	},
	"qualityGate": {
		"passed": true,
		"checks": [
			{"name": "componentCoverage", "threshold": 0.8, "actual": 0.85, "passed": true},
			{"name": "passRate", "threshold": 0.95, "actual": 0.97, "passed": true}
		]
	},
	"generatedAt": "2026-08-01T10:30:00.000Z"
}`

func TestNormalizeShapesAreEquivalent(t *testing.T) {
	flat, err := Normalize([]byte(flatPayload), "https://cdn/reports/a.json")
	require.NoError(t, err)
	nested, err := Normalize([]byte(nestedPayload), "https://cdn/reports/a.json")
	require.NoError(t, err)

	assert.Equal(t, flat, nested)
}

func TestNormalizeFlat(t *testing.T) {
	cov, err := Normalize([]byte(flatPayload), "https://cdn/reports/a.json")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn/reports/a.json", cov.ReportURL)
	assert.Equal(t, model.CoverageSummary{
		ComponentCoverage:     0.85,
		PropCoverage:          0.72,
		VariantCoverage:       0.64,
		PassRate:              0.97,
		TotalComponents:       120,
		ComponentsWithStories: 102,
		FailingStories:        3,
	}, cov.Summary)
	assert.True(t, cov.QualityGate.Passed)
	require.Len(t, cov.QualityGate.Checks, 2)
	assert.Equal(t, model.QualityCheck{Name: "passRate", Threshold: 0.95, Actual: 0.97, Passed: true}, cov.QualityGate.Checks[1])
	// generatedAt 原样透传，不做时间解析
	assert.Equal(t, "2026-08-01T10:30:00.000Z", cov.GeneratedAt)
}

func TestNormalizeOverridesEmbeddedReportURL(t *testing.T) {
	// 载荷内嵌 reportUrl 一律忽略，以编排层给定的规范地址为准
	payload := `{
		"reportUrl": "https://evil.example/steal.json",
		"summary": {
			"componentCoverage": 1, "propCoverage": 1, "variantCoverage": 1,
			"passRate": 1, "totalComponents": 5, "componentsWithStories": 5, "failingStories": 0
		},
		"qualityGate": {"passed": true, "checks": []},
		"generatedAt": "2026-08-01T00:00:00.000Z"
	}`
	cov, err := Normalize([]byte(payload), "https://cdn/reports/canonical.json")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/reports/canonical.json", cov.ReportURL)
}

func TestNormalizeEmptyChecksAllowed(t *testing.T) {
	payload := `{
		"summary": {
			"componentCoverage": 0, "propCoverage": 0, "variantCoverage": 0,
			"passRate": 0, "totalComponents": 0, "componentsWithStories": 0, "failingStories": 0
		},
		"qualityGate": {"passed": false, "checks": []},
		"generatedAt": "x"
	}`
	cov, err := Normalize([]byte(payload), "")
	require.NoError(t, err)
	assert.False(t, cov.QualityGate.Passed)
	assert.Empty(t, cov.QualityGate.Checks)
}

func TestNormalizeRejections(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `{{{`, "(root)"},
		{"missing summary", `{"qualityGate":{"passed":true,"checks":[]},"generatedAt":"x"}`, "summary"},
		{"summary not object", `{"summary":3,"qualityGate":{"passed":true,"checks":[]},"generatedAt":"x"}`, "summary"},
		{
			"flat missing metric",
			`{"summary":{"propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "qualityGate":{"passed":true,"checks":[]},"generatedAt":"x"}`,
			"summary.componentCoverage",
		},
		{
			"flat metric wrong type",
			`{"summary":{"componentCoverage":"high","propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "qualityGate":{"passed":true,"checks":[]},"generatedAt":"x"}`,
			"summary.componentCoverage",
		},
		{
			"nested missing health",
			`{"summary":{"metrics":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1},"totalComponents":1,"componentsWithStories":1},
			  "qualityGate":{"passed":true,"checks":[]},"generatedAt":"x"}`,
			"summary.health",
		},
		{
			"nested missing passRate",
			`{"summary":{"metrics":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1},"health":{"failingStories":0},"totalComponents":1,"componentsWithStories":1},
			  "qualityGate":{"passed":true,"checks":[]},"generatedAt":"x"}`,
			"summary.health.passRate",
		},
		{
			"missing qualityGate",
			`{"summary":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "generatedAt":"x"}`,
			"qualityGate",
		},
		{
			"qualityGate.passed not bool",
			`{"summary":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "qualityGate":{"passed":"yes","checks":[]},"generatedAt":"x"}`,
			"qualityGate.passed",
		},
		{
			"check missing name",
			`{"summary":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "qualityGate":{"passed":true,"checks":[{"threshold":1,"actual":1,"passed":true}]},"generatedAt":"x"}`,
			"qualityGate.checks[0].name",
		},
		{
			"missing generatedAt",
			`{"summary":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "qualityGate":{"passed":true,"checks":[]}}`,
			"generatedAt",
		},
		{
			"generatedAt not string",
			`{"summary":{"componentCoverage":1,"propCoverage":1,"variantCoverage":1,"passRate":1,"totalComponents":1,"componentsWithStories":1,"failingStories":0},
			  "qualityGate":{"passed":true,"checks":[]},"generatedAt":1234567890}`,
			"generatedAt",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.payload), "")
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestNormalizeDiscriminatesOnMetricsKeyOnly(t *testing.T) {
	// metrics 键存在即按嵌套形状处理：此时扁平字段即使齐全也不被采信
	payload := `{
		"summary": {
			"metrics": "not an object",
			"componentCoverage": 1, "propCoverage": 1, "variantCoverage": 1,
			"passRate": 1, "totalComponents": 1, "componentsWithStories": 1, "failingStories": 0
		},
		"qualityGate": {"passed": true, "checks": []},
		"generatedAt": "x"
	}`
	_, err := Normalize([]byte(payload), "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "summary.metrics", verr.Field)
}
