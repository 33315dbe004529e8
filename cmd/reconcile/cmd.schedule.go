package main

import (
	"context"

	"github.com/spf13/cobra"

	"coach_reconcile/internal/reconcile"
	"coach_reconcile/internal/report"
	"coach_reconcile/internal/worker"
)

func newScheduleCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Chạy reconcile theo lịch RECONCILE_SCHEDULE (mặc định dry-run)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx, *envFile, true)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			run := func(ctx context.Context) (*reconcile.Report, error) {
				d, err := a.newDriver("", a.cfg.ScheduleApply, nil)
				if err != nil {
					return nil, err
				}
				r, err := d.Run(ctx)
				if r != nil {
					if werr := report.Write(report.Path(a.cfg.ReportDir, r.RunID), r); werr != nil {
						a.log.WithError(werr).Error("Không ghi được báo cáo")
					}
				}
				return r, err
			}

			w, err := worker.NewReconcileScheduleWorker(a.cfg.Schedule, run, a.notifier.Notify, a.log)
			if err != nil {
				return err
			}
			w.Start(ctx)
			return nil
		},
	}
}
