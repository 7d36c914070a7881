package proxy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/avatar-hub/avatar-hub/internal/logging"
	"github.com/avatar-hub/avatar-hub/internal/metrics"
	"github.com/avatar-hub/avatar-hub/internal/server"
	"github.com/avatar-hub/avatar-hub/internal/upstream"
)

// AvatarSource 是 Handler 依赖的编排能力，测试中可以注入假实现。
type AvatarSource interface {
	Avatar(ctx context.Context) (*Result, error)
	CacheTTL() time.Duration
}

// Handler 把编排结果翻译为 HTTP 响应：成功返回图片字节，上游失败返回 502 文本。
type Handler struct {
	source AvatarSource
	logger *logrus.Logger
}

// NewHandler constructs the avatar handler.
func NewHandler(source AvatarSource, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		source: source,
		logger: logger,
	}
}

// Handle 实现 server.AvatarHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.source.Avatar(ctx)
	if err != nil {
		metrics.RecordRequest(metrics.ResultError)
		h.logResult(requestID, nil, started, err)
		return h.writeError(c, requestID, err)
	}

	if result.CacheHit {
		metrics.RecordRequest(metrics.ResultHit)
	} else {
		metrics.RecordRequest(metrics.ResultMiss)
	}

	c.Set(fiber.HeaderContentType, "image/"+result.Extension)
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d", int64(h.source.CacheTTL()/time.Second)))
	c.Set("X-Avatar-Hub-Cache-Hit", strconv.FormatBool(result.CacheHit))
	setRequestIDHeader(c, requestID)

	h.logResult(requestID, result, started, nil)
	return c.Status(fiber.StatusOK).Send(result.Payload)
}

// writeError 上游失败映射为 502 纯文本，其余错误为 500。
func (h *Handler) writeError(c fiber.Ctx, requestID string, err error) error {
	setRequestIDHeader(c, requestID)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	upstreamErr, ok := upstream.AsError(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}
	return c.Status(fiber.StatusBadGateway).SendString(errorMessage(upstreamErr.Kind))
}

func errorMessage(kind upstream.Kind) string {
	switch kind {
	case upstream.KindUserFetchFailed:
		return "Failed to fetch user"
	case upstream.KindAvatarFetchFailed:
		return "Failed to fetch avatar"
	case upstream.KindMalformedResponse:
		return "Malformed user record"
	case upstream.KindThrottled:
		return "Upstream throttled"
	default:
		return "Bad Gateway"
	}
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (h *Handler) logResult(requestID string, result *Result, started time.Time, err error) {
	var fields logrus.Fields
	if result != nil {
		fields = logging.RequestFields(requestID, result.CacheHit, result.Extension)
		fields["size_bytes"] = len(result.Payload)
		fields["shared"] = result.Shared
	} else {
		fields = logging.RequestFields(requestID, false, "")
	}
	fields["action"] = "avatar"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		if upstreamErr, ok := upstream.AsError(err); ok {
			fields["kind"] = string(upstreamErr.Kind)
			fields["upstream_status"] = upstreamErr.Status
		}
		h.logger.WithFields(fields).Error("avatar_failed")
		return
	}
	h.logger.WithFields(fields).Info("avatar_complete")
}
