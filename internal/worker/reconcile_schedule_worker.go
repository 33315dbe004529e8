// Package worker - ReconcileScheduleWorker chạy job reconcile theo lịch cron.
// Mặc định chỉ dry-run; chỉ ghi thật khi cấu hình RECONCILE_SCHEDULE_APPLY=true.
package worker

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/reconcile"
	"coach_reconcile/internal/utility"
)

// RunFunc chạy một lần reconcile
type RunFunc func(ctx context.Context) (*reconcile.Report, error)

// NotifyFunc gửi báo cáo sau mỗi lần chạy (tuỳ chọn)
type NotifyFunc func(ctx context.Context, r *reconcile.Report) error

// ReconcileScheduleWorker worker chạy reconcile định kỳ.
// Lần chạy trước chưa xong thì lần kế tiếp bị bỏ qua.
type ReconcileScheduleWorker struct {
	schedule string
	run      RunFunc
	notify   NotifyFunc
	log      logrus.FieldLogger
	running  int32
	runs     int64
}

// NewReconcileScheduleWorker tạo worker; schedule là cron 5 trường hoặc @every/@daily
func NewReconcileScheduleWorker(schedule string, run RunFunc, notify NotifyFunc, log logrus.FieldLogger) (*ReconcileScheduleWorker, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, common.Wrap(common.ErrInvalidConfig, err, map[string]interface{}{"schedule": schedule})
	}
	if run == nil {
		return nil, common.NewError(common.ErrCodeConfig, "thiếu hàm chạy reconcile", nil)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReconcileScheduleWorker{schedule: schedule, run: run, notify: notify, log: log}, nil
}

// Start chạy tới khi ctx bị huỷ, chờ lần chạy đang dở kết thúc rồi mới trả về
func (w *ReconcileScheduleWorker) Start(ctx context.Context) {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		w.log.WithError(err).Error("⏰ [RECONCILE_SCHEDULE] Lịch không hợp lệ")
		return
	}

	w.log.WithField("schedule", w.schedule).Info("⏰ [RECONCILE_SCHEDULE] Starting Reconcile Schedule Worker...")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info("⏰ [RECONCILE_SCHEDULE] Reconcile Schedule Worker stopped")
}

// RunOnce chạy một lần; panic được bắt lại để lịch tiếp tục chạy
func (w *ReconcileScheduleWorker) RunOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		w.log.Warn("⏰ [RECONCILE_SCHEDULE] Lần chạy trước chưa xong, bỏ qua")
		return
	}
	defer atomic.StoreInt32(&w.running, 0)
	atomic.AddInt64(&w.runs, 1)

	utility.GoProtect(w.log, func() {
		report, err := w.run(ctx)
		if err != nil {
			w.log.WithError(err).Error("⏰ [RECONCILE_SCHEDULE] Lần chạy theo lịch thất bại")
		}
		if report == nil {
			return
		}
		w.log.WithFields(logrus.Fields{
			"run_id":  report.RunID,
			"state":   report.State,
			"fixed":   report.Counts.Fixed,
			"flagged": report.Counts.Flagged,
		}).Info("⏰ [RECONCILE_SCHEDULE] Hoàn tất lần chạy theo lịch")

		if w.notify != nil {
			if err := w.notify(ctx, report); err != nil {
				w.log.WithError(err).Warn("⏰ [RECONCILE_SCHEDULE] Không gửi được thông báo")
			}
		}
	})
}

// Runs số lần đã chạy
func (w *ReconcileScheduleWorker) Runs() int64 {
	return atomic.LoadInt64(&w.runs)
}
