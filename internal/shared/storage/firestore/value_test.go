package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToValueTags(t *testing.T) {
	assert.Equal(t, map[string]any{"nullValue": nil}, ToValue(nil))
	assert.Equal(t, map[string]any{"booleanValue": true}, ToValue(true))
	assert.Equal(t, map[string]any{"stringValue": "hello"}, ToValue("hello"))

	// 整数编码为字符串避免精度丢失
	assert.Equal(t, map[string]any{"integerValue": "42"}, ToValue(int64(42)))
	assert.Equal(t, map[string]any{"integerValue": "-7"}, ToValue(-7))

	// JSON 解码出的整数值 float64 也按 integerValue 处理
	assert.Equal(t, map[string]any{"integerValue": "10"}, ToValue(float64(10)))
	assert.Equal(t, map[string]any{"doubleValue": 0.5}, ToValue(0.5))

	// 时间编码为 RFC 3339 字符串
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, map[string]any{"timestampValue": "2026-01-01T00:00:00Z"}, ToValue(ts))
}

func TestToValueFallbackStringify(t *testing.T) {
	// 不可表示的类型兜底字符串化，绝不 panic
	type odd struct{ X int }
	v := ToValue(odd{X: 3})
	_, ok := v["stringValue"]
	assert.True(t, ok)
}

func TestRoundTrip(t *testing.T) {
	// 往返性质：无 time.Time、无超范围整数的值必须深度相等地还原
	cases := []any{
		nil,
		true,
		false,
		int64(0),
		int64(123456789),
		int64(-42),
		0.25,
		-3.75,
		"",
		"storybook",
		[]any{int64(1), "two", 3.5, nil, true},
		map[string]any{
			"name":   "demo",
			"count":  int64(10),
			"ratio":  0.9,
			"active": true,
			"nested": map[string]any{
				"list": []any{map[string]any{"deep": int64(1)}},
			},
		},
	}

	for _, c := range cases {
		got := FromValue(ToValue(c))
		assert.Equal(t, c, got)
	}
}

func TestRoundTripTime(t *testing.T) {
	// 时间是已记录的有损场景：原始字符串格式不保留，但时刻一致
	ts := time.Date(2026, 3, 15, 12, 30, 45, 123000000, time.UTC)
	got := FromValue(ToValue(ts))
	require.IsType(t, time.Time{}, got)
	assert.True(t, ts.Equal(got.(time.Time)))
}

func TestFromValueUnknownShapePassesThrough(t *testing.T) {
	// 无法识别的形状原样透传，绝不对未知输入抛错
	unknown := map[string]any{"geoPointValue": map[string]any{"latitude": 1.0}}
	assert.Equal(t, unknown, FromValue(unknown))

	// 非 map 输入也透传
	assert.Equal(t, "plain", FromValue("plain"))
}

func TestFromValueHugeInteger(t *testing.T) {
	// 超出 int64 的 integerValue 退化为 float64（已记录的精度丢失）
	v := map[string]any{"integerValue": "99999999999999999999"}
	got := FromValue(v)
	_, isFloat := got.(float64)
	assert.True(t, isFloat)
}

func TestFieldsRoundTrip(t *testing.T) {
	m := map[string]any{
		"zip_url":      "https://x/demo/v1/storybook.zip",
		"build_number": int64(7),
		"pass_rate":    0.95,
	}
	assert.Equal(t, m, FromFields(ToFields(m)))
}
