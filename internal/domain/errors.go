package domain

import "errors"

// 同步引擎的错误分类。所有向客户端暴露的错误都应能被 errors.Is 归入其中之一。
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotJoined          = errors.New("not joined to a room")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrOverloaded         = errors.New("room overloaded")
	ErrEvicted            = errors.New("room evicted")
)

// 错误帧中使用的 kind 字符串
const (
	KindNotFound           = "not_found"
	KindInvalidArgument    = "invalid_argument"
	KindNotJoined          = "not_joined"
	KindStorageUnavailable = "storage_unavailable"
	KindOverloaded         = "overloaded"
	KindEvicted            = "evicted"
	KindInternal           = "internal"
)

// KindOf 将错误映射为协议中的错误类型字符串。
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotJoined):
		return KindNotJoined
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrEvicted):
		return KindEvicted
	default:
		return KindInternal
	}
}
