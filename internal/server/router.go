package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AvatarHandler serves the cached avatar. It allows injecting fake handlers
// during tests.
type AvatarHandler interface {
	Handle(fiber.Ctx) error
}

// AvatarHandlerFunc adapts a function to the AvatarHandler interface.
type AvatarHandlerFunc func(fiber.Ctx) error

// Handle makes AvatarHandlerFunc satisfy AvatarHandler.
func (f AvatarHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Avatar AvatarHandler
}

const contextKeyRequestID = "_avatarhub_request_id"

// NewApp builds a Fiber application with request ID middleware, panic
// recovery and the avatar route mounted on GET /.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Avatar == nil {
		return nil, errors.New("avatar handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/", opts.Avatar.Handle)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
