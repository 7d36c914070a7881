package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责唯一缓存槽的读写。实现需保证 Put 对并发读者是原子的：
// 读者要么看到旧条目，要么看到完整的新条目。
type Store interface {
	// Stat 返回最近一次写入时间。若不存在则返回 ErrNotFound。
	Stat(ctx context.Context) (time.Time, error)

	// Get 返回完整条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context) (*Entry, error)

	// Put 用 payload 整体替换缓存槽，并记录扩展名与写入时间。
	Put(ctx context.Context, payload []byte, extension string, opts PutOptions) (*Entry, error)

	// Close 释放底层连接或句柄。
	Close() error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Entry 表示一次缓存读取结果。
type Entry struct {
	Payload   []byte    `json:"-"`
	Extension string    `json:"extension"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ErrNotFound 表示缓存槽不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrStoreUnavailable 表示未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

func resolveModTime(opts PutOptions) time.Time {
	if opts.ModTime.IsZero() {
		return time.Now().UTC()
	}
	return opts.ModTime
}
