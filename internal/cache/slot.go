package cache

import (
	"context"
	"time"
)

// Slot 在 Store 之上叠加 TTL 与开关策略，是请求编排层唯一接触的缓存入口。
// 关闭缓存时 IsFresh 恒为 false，Write 为空操作。
type Slot struct {
	store   Store
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

// NewSlot 构造策略感知的缓存槽，默认使用 time.Now 作为时钟。
func NewSlot(store Store, ttl time.Duration, enabled bool) *Slot {
	return &Slot{
		store:   store,
		ttl:     ttl,
		enabled: enabled,
		now:     time.Now,
	}
}

// Enabled 返回当前是否具备缓存能力。
func (s *Slot) Enabled() bool {
	return s.enabled && s.store != nil
}

// TTL 返回新鲜度窗口。
func (s *Slot) TTL() time.Duration {
	return s.ttl
}

// IsFresh 当且仅当缓存存在且 now - 写入时间 < TTL 时返回 true。
func (s *Slot) IsFresh(ctx context.Context) bool {
	if !s.Enabled() {
		return false
	}
	modTime, err := s.store.Stat(ctx)
	if err != nil {
		return false
	}
	return s.now().Sub(modTime) < s.ttl
}

// Read 原样返回缓存条目；不存在时返回 ErrNotFound。
func (s *Slot) Read(ctx context.Context) (*Entry, error) {
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}
	return s.store.Get(ctx)
}

// Write 以当前时钟为写入时间整体替换缓存槽。缓存关闭时返回 (nil, nil)。
func (s *Slot) Write(ctx context.Context, payload []byte, extension string) (*Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	return s.store.Put(ctx, payload, extension, PutOptions{ModTime: s.now().UTC()})
}

// LastWrite 返回最近一次写入时间，供诊断接口展示。
func (s *Slot) LastWrite(ctx context.Context) (time.Time, error) {
	if s.store == nil {
		return time.Time{}, ErrStoreUnavailable
	}
	return s.store.Stat(ctx)
}
