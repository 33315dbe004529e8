package reconcile

import (
	"context"
	"time"

	"coach_reconcile/config"
)

// Options tham số của một lần chạy
type Options struct {
	Collection string
	Apply      bool   // false = dry-run, chỉ tính diff
	Passes     []Pass // Rỗng = tất cả

	BatchSize  int           // Bị chặn bởi Store.MaxBatchOps
	MaxRetries int           // Số lần retry lỗi tạm thời của mỗi thao tác store
	RetryBase  time.Duration // Backoff = RetryBase * 2^attempt, tối đa RetryMax
	RetryMax   time.Duration
	OpTimeout  time.Duration // Timeout mỗi thao tác store
	StaleAfter time.Duration // Quá thời gian này kể từ lúc scan thì đọc lại trước khi commit

	// Đồng hồ và hàm chờ, thay được trong test
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig đọc các tham số từ cấu hình
func OptionsFromConfig(c *config.Configuration) Options {
	return Options{
		Collection: c.Collection,
		BatchSize:  c.BatchSize,
		MaxRetries: c.MaxRetries,
		RetryBase:  c.RetryBase(),
		RetryMax:   c.RetryMax(),
		OpTimeout:  c.OpTimeout(),
		StaleAfter: c.StaleAfter(),
	}
}

func (o *Options) defaults() {
	if o.Collection == "" {
		o.Collection = "videos"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 400
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMax < o.RetryBase {
		o.RetryMax = o.RetryBase
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
