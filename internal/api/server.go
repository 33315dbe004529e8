// Package api server HTTP chỉ đọc để xem trạng thái và báo cáo các lần chạy reconcile.
package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/sirupsen/logrus"

	"coach_reconcile/internal/checkpoint"
)

// NewApp tạo Fiber app với các route xem run
func NewApp(checkpoints checkpoint.Store, log logrus.FieldLogger) *fiber.App {
	if log == nil {
		log = logrus.StandardLogger()
	}
	app := fiber.New(fiber.Config{
		AppName:       "Coach Reconcile",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,

		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			log.WithFields(logrus.Fields{
				"path":  c.Path(),
				"code":  code,
				"error": err.Error(),
			}).Error("🌐 [API] Request error")
			return JSONResponse(c, code, fiber.Map{
				"code":    code,
				"message": message,
				"status":  "error",
			})
		},
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return fmt.Sprintf("%d", time.Now().UnixNano())
		},
	}))

	h := NewRunHandler(checkpoints)
	app.Get("/health", h.HandleHealth)

	v1 := app.Group("/api/v1")
	v1.Get("/runs", h.HandleListRuns)
	v1.Get("/runs/:id", h.HandleGetRun)

	app.Use(func(c fiber.Ctx) error {
		return fiber.ErrNotFound
	})
	return app
}
