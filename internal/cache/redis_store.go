package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldPayload   = "payload"
	fieldExtension = "ext"
	fieldWrittenAt = "written_at"
)

// NewRedisStore 把缓存槽保存在一个 hash 中，三项字段由同一条 HSET 写入。
func NewRedisStore(client redis.UniversalClient, key string) (Store, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if key == "" {
		return nil, errors.New("redis key required")
	}
	return &redisStore{client: client, key: key}, nil
}

type redisStore struct {
	client redis.UniversalClient
	key    string
}

func (s *redisStore) Stat(ctx context.Context) (time.Time, error) {
	nanos, err := s.client.HGet(ctx, s.key, fieldWrittenAt).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis stat: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

func (s *redisStore) Get(ctx context.Context) (*Entry, error) {
	values, err := s.client.HMGet(ctx, s.key, fieldPayload, fieldExtension, fieldWrittenAt).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(values) != 3 || values[0] == nil {
		return nil, ErrNotFound
	}

	payload, _ := values[0].(string)
	extension, _ := values[1].(string)
	var modTime time.Time
	if raw, ok := values[2].(string); ok {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
			modTime = time.Unix(0, nanos).UTC()
		}
	}

	return &Entry{
		Payload:   []byte(payload),
		Extension: extension,
		SizeBytes: int64(len(payload)),
		ModTime:   modTime,
	}, nil
}

func (s *redisStore) Put(ctx context.Context, payload []byte, extension string, opts PutOptions) (*Entry, error) {
	modTime := resolveModTime(opts)
	err := s.client.HSet(ctx, s.key, map[string]interface{}{
		fieldPayload:   payload,
		fieldExtension: extension,
		fieldWrittenAt: modTime.UnixNano(),
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("redis put: %w", err)
	}

	return &Entry{
		Payload:   payload,
		Extension: extension,
		SizeBytes: int64(len(payload)),
		ModTime:   modTime,
	}, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
