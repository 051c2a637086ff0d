// Package firestore 实现基于 Firestore REST API 的 BuildStore（非事务后端）
//
// 该后端只提供单文档读写，没有跨文档事务原语。CreateBuild 采用
// 先读计数器、后覆盖写的序列，存在并发竞争窗口（两个并发请求可能读到
// 同一计数器值从而分配重复序号）。这是相对 mongostore 的已知弱保证，
// 仅在单项目上传并发很低的前提下可接受；需要严格正确性时应改用
// 条件写（compare-and-swap）加冲突重试，REST 表面是否支持另行评估。
//
// value.go 实现原生值与 Firestore tagged value 线格式之间的双向转换。
// REST 后端不使用原生 JSON 类型，所有值都包装成带类型判别键的对象
// （nullValue / booleanValue / integerValue / doubleValue / stringValue /
// timestampValue / arrayValue / mapValue）。转换是纯函数、无状态、递归的。
package firestore

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// maxSafeInteger 可无损表示为 double 的最大整数（2^53 - 1）
const maxSafeInteger = 1<<53 - 1

// ============================================================================
// 编码：原生值 → tagged value
// ============================================================================

// ToValue 将原生值递归转换为 tagged value
//
// 映射规则：
//   - nil → nullValue
//   - bool → booleanValue
//   - 整数（含数值为整数的 float64）→ integerValue，编码为字符串避免精度丢失
//   - 非整数浮点 → doubleValue
//   - string → stringValue
//   - time.Time → timestampValue（RFC 3339）
//   - []any → arrayValue（逐元素递归）
//   - map[string]any → mapValue（逐键递归）
//   - 其他类型 → 兜底 stringValue（尽力字符串化）
func ToValue(v any) map[string]any {
	switch x := v.(type) {
	case nil:
		return map[string]any{"nullValue": nil}
	case bool:
		return map[string]any{"booleanValue": x}
	case int:
		return map[string]any{"integerValue": strconv.FormatInt(int64(x), 10)}
	case int32:
		return map[string]any{"integerValue": strconv.FormatInt(int64(x), 10)}
	case int64:
		return map[string]any{"integerValue": strconv.FormatInt(x, 10)}
	case float32:
		return ToValue(float64(x))
	case float64:
		// JSON 解码出的数值统一是 float64，数值为整数时仍按 integerValue 编码
		if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) <= maxSafeInteger {
			return map[string]any{"integerValue": strconv.FormatInt(int64(x), 10)}
		}
		return map[string]any{"doubleValue": x}
	case string:
		return map[string]any{"stringValue": x}
	case time.Time:
		return map[string]any{"timestampValue": x.UTC().Format(time.RFC3339Nano)}
	case []any:
		values := make([]any, 0, len(x))
		for _, item := range x {
			values = append(values, ToValue(item))
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	case map[string]any:
		return map[string]any{"mapValue": map[string]any{"fields": ToFields(x)}}
	default:
		// 不可表示的类型兜底字符串化
		return map[string]any{"stringValue": fmt.Sprintf("%v", x)}
	}
}

// ToFields 将键值表逐键转换为 tagged value 表
func ToFields(m map[string]any) map[string]any {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		fields[k] = ToValue(v)
	}
	return fields
}

// ============================================================================
// 解码：tagged value → 原生值
// ============================================================================

// FromValue 将 tagged value 还原为原生值，按存在的判别键分发
//
// 已记录的有损场景：
//   - integerValue 超出 int64 范围时退化为 float64（可能丢失精度）
//   - timestampValue 还原为 time.Time，原始字符串格式不保留
//
// 无法识别的形状原样透传，绝不对未知输入抛错。
func FromValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	if _, ok := m["nullValue"]; ok {
		return nil
	}
	if b, ok := m["booleanValue"]; ok {
		return b
	}
	if raw, ok := m["integerValue"]; ok {
		s := fmt.Sprintf("%v", raw)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return raw
	}
	if f, ok := m["doubleValue"]; ok {
		return f
	}
	if s, ok := m["stringValue"]; ok {
		return s
	}
	if raw, ok := m["timestampValue"]; ok {
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
		return raw
	}
	if raw, ok := m["arrayValue"]; ok {
		arr, _ := raw.(map[string]any)
		values, _ := arr["values"].([]any)
		result := make([]any, 0, len(values))
		for _, item := range values {
			result = append(result, FromValue(item))
		}
		return result
	}
	if raw, ok := m["mapValue"]; ok {
		mv, _ := raw.(map[string]any)
		fields, _ := mv["fields"].(map[string]any)
		return FromFields(fields)
	}

	// 未知形状保守透传
	return v
}

// FromFields 将 tagged value 表逐键还原为键值表
func FromFields(fields map[string]any) map[string]any {
	m := make(map[string]any, len(fields))
	for k, v := range fields {
		m[k] = FromValue(v)
	}
	return m
}
