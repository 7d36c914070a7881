package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/avatar-hub/avatar-hub/internal/avatar"
	"github.com/avatar-hub/avatar-hub/internal/cache"
	"github.com/avatar-hub/avatar-hub/internal/metrics"
	"github.com/avatar-hub/avatar-hub/internal/upstream"
)

// refreshKey 是唯一缓存槽在 singleflight 中的键。
const refreshKey = "avatar"

// Upstream 抽象上游调用，测试中可替换为计数桩。
type Upstream interface {
	FetchUser(ctx context.Context) (upstream.User, error)
	FetchAvatarBytes(ctx context.Context, url string) ([]byte, error)
	AvatarURL(hash string, params avatar.Params) string
}

// Result 是一次请求最终返回给 HTTP 层的内容。
type Result struct {
	Payload   []byte
	Extension string
	CacheHit  bool
	// Shared 表示本次结果来自与其他并发请求合并的同一次刷新。
	Shared bool
}

// Service 负责 “检查缓存 → 命中直接返回 / 未命中回源并写缓存” 的完整流程。
// 并发的未命中请求通过 singleflight 合并为一次上游刷新。
type Service struct {
	slot     *cache.Slot
	upstream Upstream
	format   avatar.FormatOptions
	logger   *logrus.Logger
	group    singleflight.Group
}

// NewService constructs the orchestrator with its cache slot and upstream client.
func NewService(slot *cache.Slot, up Upstream, format avatar.FormatOptions, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		slot:     slot,
		upstream: up,
		format:   format,
		logger:   logger,
	}
}

// CacheTTL 返回缓存新鲜度窗口，HTTP 层用于 Cache-Control。
func (s *Service) CacheTTL() time.Duration {
	return s.slot.TTL()
}

// Avatar 返回当前头像：缓存新鲜时直接读取，否则触发（或加入）一次刷新。
// 读取失败按未命中处理。
func (s *Service) Avatar(ctx context.Context) (*Result, error) {
	if s.slot.IsFresh(ctx) {
		entry, err := s.slot.Read(ctx)
		if err == nil {
			return &Result{
				Payload:   entry.Payload,
				Extension: entry.Extension,
				CacheHit:  true,
			}, nil
		}
		s.logger.WithError(err).WithField("action", "cache_read").Warn("cache_read_failed")
	}
	return s.refreshShared(ctx)
}

// Prewarm 在缓存过期时提前刷新，供后台任务调用。
// 缓存关闭或仍新鲜时不访问上游：关闭时刷新结果无处保存。
func (s *Service) Prewarm(ctx context.Context) error {
	if !s.slot.Enabled() || s.slot.IsFresh(ctx) {
		return nil
	}
	_, err := s.refreshShared(ctx)
	return err
}

// refreshShared 合并并发刷新。刷新本身不受调用方取消影响，调用方取消时只放弃等待。
func (s *Service) refreshShared(ctx context.Context) (*Result, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(refreshKey, func() (interface{}, error) {
		return s.Refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RecordSharedRefresh()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		fetched := res.Val.(*Result)
		return &Result{
			Payload:   fetched.Payload,
			Extension: fetched.Extension,
			Shared:    res.Shared,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh 执行一次完整回源：获取用户 → 协商格式 → 下载头像 → 写缓存。
// 任一上游步骤失败都不会写缓存，旧的缓存槽保持不变。
func (s *Service) Refresh(ctx context.Context) (*Result, error) {
	started := time.Now()

	user, err := s.upstream.FetchUser(ctx)
	if err != nil {
		s.recordFailure(err, started)
		return nil, err
	}

	params := avatar.Negotiate(user.Avatar, s.format)
	url := s.upstream.AvatarURL(user.Avatar, params)

	payload, err := s.upstream.FetchAvatarBytes(ctx, url)
	if err != nil {
		s.recordFailure(err, started)
		return nil, err
	}

	// 写缓存失败不影响本次响应，下一次请求会重新回源。
	if _, err := s.slot.Write(ctx, payload, params.Extension); err != nil {
		metrics.RecordCacheWriteFailure()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_write",
			"format": params.Extension,
		}).Warn("cache_write_failed")
	}

	metrics.RecordRefresh("ok", time.Since(started).Seconds())
	s.logger.WithFields(logrus.Fields{
		"action":     "refresh",
		"format":     params.Extension,
		"animated":   avatar.IsAnimated(user.Avatar),
		"size_bytes": len(payload),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("refresh_complete")

	return &Result{Payload: payload, Extension: params.Extension}, nil
}

func (s *Service) recordFailure(err error, started time.Time) {
	metrics.RecordRefresh("error", time.Since(started).Seconds())
	kind := "unknown"
	if upstreamErr, ok := upstream.AsError(err); ok {
		kind = string(upstreamErr.Kind)
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = "timeout"
	}
	metrics.RecordUpstreamError(kind)
	s.logger.WithError(err).WithFields(logrus.Fields{
		"action": "refresh",
		"kind":   kind,
	}).Warn("refresh_failed")
}
