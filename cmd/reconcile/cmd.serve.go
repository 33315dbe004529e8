package main

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/cobra"

	"coach_reconcile/internal/api"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTP chỉ đọc để xem trạng thái và báo cáo các lần chạy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx, *envFile, false)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			app := api.NewApp(a.checkpoints, a.log)
			go func() {
				<-ctx.Done()
				a.log.Info("🌐 [API] Đang tắt server...")
				if err := app.Shutdown(); err != nil {
					a.log.WithError(err).Warn("🌐 [API] Shutdown lỗi")
				}
			}()

			a.log.WithField("address", a.cfg.Address).Info("🌐 [API] Starting Fiber server...")
			return app.Listen(a.cfg.Address, fiber.ListenConfig{DisableStartupMessage: true})
		},
	}
}
