package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avatar-hub/avatar-hub/internal/config"
)

// Open 根据配置选择缓存后端。redis 后端会先 PING，连接失败视为启动错误。
func Open(ctx context.Context, cfg config.CacheConfig, defaultExtension string) (Store, error) {
	switch cfg.CacheBackend {
	case config.BackendFile, "":
		return NewFileStore(cfg.CacheFile, defaultExtension)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.CacheBackend)
	}
}
