package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coach_reconcile/internal/logger"
)

// initLogger khởi tạo logger; logger tự đọc biến môi trường LOG_*
func initLogger() {
	if err := logger.Init(nil); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
}

func main() {
	initLogger()

	// SIGINT/SIGTERM huỷ ctx: driver dừng ở ranh giới chunk kế tiếp và ghi checkpoint
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	logger.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
