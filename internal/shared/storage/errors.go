package storage

import "errors"

// 领域错误
//
// 各后端实现通过 wrapError 把驱动错误翻译为以下哨兵错误，
// 调用方用 errors.Is 判断，不依赖具体驱动。
var (
	// ErrNotFound 目标记录不存在（仅写路径使用；读路径返回 (nil, nil)）
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("storage: duplicate")
)
