package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/avatar-hub/avatar-hub/internal/cache"
	"github.com/avatar-hub/avatar-hub/internal/config"
	"github.com/avatar-hub/avatar-hub/internal/metrics"
)

type fakeSlot struct {
	fresh   bool
	written time.Time
	err     error
}

func (f fakeSlot) IsFresh(context.Context) bool { return f.fresh }

func (f fakeSlot) LastWrite(context.Context) (time.Time, error) { return f.written, f.err }

func TestHealthz(t *testing.T) {
	app := fiber.New()
	RegisterDiagnosticRoutes(app, Diagnostics{})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != `{"status":"ok"}` {
		t.Fatalf("unexpected healthz response: %d %s", resp.StatusCode, string(body))
	}
}

func TestStatusReportsSlot(t *testing.T) {
	written := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	app := fiber.New()
	RegisterDiagnosticRoutes(app, Diagnostics{
		Config: testConfig(),
		Slot:   fakeSlot{fresh: true, written: written},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !payload.Fresh || payload.LastWriteAt != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
	if payload.CacheMode != "memory:enabled" || payload.TTLSeconds != 600 || payload.ImageSize != 128 {
		t.Fatalf("unexpected config fields: %+v", payload)
	}
}

func TestStatusEmptyAndBrokenSlot(t *testing.T) {
	empty := encodeStatus(context.Background(), testConfig(), fakeSlot{err: cache.ErrNotFound})
	if empty.LastWriteAt != "" || empty.CacheError != "" {
		t.Fatalf("missing cache should not report an error: %+v", empty)
	}

	broken := encodeStatus(context.Background(), testConfig(), fakeSlot{err: errors.New("redis down")})
	if broken.CacheError != "redis down" {
		t.Fatalf("expected cache error, got %+v", broken)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RecordRequest(metrics.ResultHit)

	app := fiber.New()
	RegisterDiagnosticRoutes(app, Diagnostics{MetricsEnabled: true})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "avatarhub_requests_total") {
		t.Fatalf("expected avatarhub metrics in output")
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	app := fiber.New()
	RegisterDiagnosticRoutes(app, Diagnostics{})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 when metrics disabled, got %d", resp.StatusCode)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Avatar: config.AvatarConfig{
			Filetype:         config.FiletypePNG,
			FallbackFiletype: config.FiletypePNG,
			ImageSize:        128,
		},
		Cache: config.CacheConfig{
			CacheTTL:     config.Duration(600 * time.Second),
			CacheEnabled: true,
			CacheBackend: config.BackendMemory,
		},
	}
}
