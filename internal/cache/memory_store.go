package cache

import (
	"context"
	"sync"
	"time"
)

// NewMemoryStore 返回进程内缓存槽，重启后即失效。
func NewMemoryStore() Store {
	return &memoryStore{}
}

type memoryStore struct {
	mu    sync.RWMutex
	entry *Entry
}

func (s *memoryStore) Stat(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return time.Time{}, ErrNotFound
	}
	return s.entry.ModTime, nil
}

func (s *memoryStore) Get(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return nil, ErrNotFound
	}
	clone := *s.entry
	clone.Payload = append([]byte(nil), s.entry.Payload...)
	return &clone, nil
}

func (s *memoryStore) Put(_ context.Context, payload []byte, extension string, opts PutOptions) (*Entry, error) {
	entry := &Entry{
		Payload:   append([]byte(nil), payload...),
		Extension: extension,
		SizeBytes: int64(len(payload)),
		ModTime:   resolveModTime(opts),
	}

	s.mu.Lock()
	s.entry = entry
	s.mu.Unlock()

	clone := *entry
	return &clone, nil
}

func (s *memoryStore) Close() error {
	return nil
}
