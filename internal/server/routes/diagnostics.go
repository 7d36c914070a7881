package routes

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avatar-hub/avatar-hub/internal/cache"
	"github.com/avatar-hub/avatar-hub/internal/config"
)

// SlotInspector 暴露缓存槽的只读状态。
type SlotInspector interface {
	IsFresh(ctx context.Context) bool
	LastWrite(ctx context.Context) (time.Time, error)
}

// Diagnostics 汇总诊断接口需要的依赖。
type Diagnostics struct {
	Config         *config.Config
	Slot           SlotInspector
	MetricsEnabled bool
}

// RegisterDiagnosticRoutes 暴露 /-/healthz、/-/status 与可选的 /-/metrics。
func RegisterDiagnosticRoutes(app *fiber.App, diag Diagnostics) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if diag.Config != nil && diag.Slot != nil {
		app.Get("/-/status", func(c fiber.Ctx) error {
			return c.JSON(encodeStatus(c.Context(), diag.Config, diag.Slot))
		})
	}

	if diag.MetricsEnabled {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
}

type statusPayload struct {
	CacheMode   string `json:"cache_mode"`
	TTLSeconds  int64  `json:"ttl_seconds"`
	Filetype    string `json:"filetype"`
	Fallback    string `json:"fallback_filetype"`
	ImageSize   int    `json:"image_size"`
	Fresh       bool   `json:"fresh"`
	LastWriteAt string `json:"last_write_at,omitempty"`
	CacheError  string `json:"cache_error,omitempty"`
}

func encodeStatus(ctx context.Context, cfg *config.Config, slot SlotInspector) statusPayload {
	if ctx == nil {
		ctx = context.Background()
	}
	payload := statusPayload{
		CacheMode:  cfg.Cache.CacheMode(),
		TTLSeconds: cfg.Cache.CacheTTL.Seconds(),
		Filetype:   cfg.Avatar.Filetype,
		Fallback:   cfg.Avatar.FallbackFiletype,
		ImageSize:  cfg.Avatar.ImageSize,
		Fresh:      slot.IsFresh(ctx),
	}
	written, err := slot.LastWrite(ctx)
	switch {
	case err == nil:
		payload.LastWriteAt = written.UTC().Format(time.RFC3339)
	case errors.Is(err, cache.ErrNotFound):
	default:
		payload.CacheError = err.Error()
	}
	return payload
}
