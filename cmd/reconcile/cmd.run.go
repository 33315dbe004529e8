package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"coach_reconcile/internal/reconcile"
	"coach_reconcile/internal/report"
)

// errNotDone lần chạy kết thúc ở Failed/Cancelled; process thoát với mã 1
var errNotDone = errors.New("lần chạy không hoàn tất")

type runFlags struct {
	apply      bool
	yes        bool
	passes     []string
	resume     string
	reportPath string
}

func newRunCmd(envFile *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [collection]",
		Short: "Chạy reconcile (mặc định dry-run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passes, err := reconcile.ParsePasses(f.passes)
			if err != nil {
				return err
			}
			collection := ""
			if len(args) == 1 {
				collection = args[0]
			}

			ctx := cmd.Context()
			a, err := initApp(ctx, *envFile, true)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			if collection == "" {
				collection = a.cfg.Collection
			}
			if f.apply && !f.yes {
				msg := fmt.Sprintf("Ghi thay đổi vào collection %q (%s)?", collection, a.cfg.StoreBackend)
				if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), msg) {
					fmt.Fprintln(cmd.OutOrStdout(), "Đã huỷ, không ghi gì.")
					return nil
				}
			}

			d, err := a.newDriver(collection, f.apply, passes)
			if err != nil {
				return err
			}
			var r *reconcile.Report
			if f.resume != "" {
				r, err = d.Resume(ctx, f.resume)
			} else {
				r, err = d.Run(ctx)
			}
			return a.finish(ctx, cmd.OutOrStdout(), r, err, f.reportPath)
		},
	}
	cmd.Flags().BoolVar(&f.apply, "apply", false, "ghi thay đổi (mặc định chỉ dry-run)")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "bỏ qua bước xác nhận khi --apply")
	cmd.Flags().StringSliceVar(&f.passes, "passes", nil, "các pass cần chạy: names,classify,session,dedupe (mặc định tất cả)")
	cmd.Flags().StringVar(&f.resume, "resume", "", "chạy tiếp một run từ checkpoint")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "đường dẫn báo cáo JSON (mặc định <REPORT_DIR>/<runId>.json)")
	return cmd
}

// confirm hỏi yes/no; chỉ "y" hoặc "yes" là đồng ý
func confirm(in io.Reader, out io.Writer, msg string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", msg)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// finish ghi báo cáo, in tóm tắt, gửi Slack rồi chuyển trạng thái run thành lỗi của lệnh
func (a *application) finish(ctx context.Context, out io.Writer, r *reconcile.Report, runErr error, reportPath string) error {
	if r == nil {
		return runErr
	}
	if reportPath == "" {
		reportPath = report.Path(a.cfg.ReportDir, r.RunID)
	}
	if err := report.Write(reportPath, r); err != nil {
		a.log.WithError(err).WithField("path", reportPath).Error("Không ghi được báo cáo")
	}

	fmt.Fprintln(out, report.Summary(r))
	fmt.Fprintf(out, "Báo cáo: %s\n", reportPath)

	if err := a.notifier.Notify(context.WithoutCancel(ctx), r); err != nil {
		a.log.WithError(err).Warn("Không gửi được tóm tắt lên Slack")
	}

	if r.State == reconcile.StateFailed && a.errLog != nil {
		a.errLog.WithFields(logrus.Fields{
			"run_id":     r.RunID,
			"collection": r.Collection,
			"failed_ids": r.FailedIDs,
			"error":      r.Error,
		}).Error("❌ [RECONCILE] Lần chạy thất bại")
	}

	if runErr != nil {
		return runErr
	}
	return exitError(r)
}

// exitError lỗi tương ứng trạng thái cuối của run
func exitError(r *reconcile.Report) error {
	switch r.State {
	case reconcile.StateFailed, reconcile.StateCancelled:
		return fmt.Errorf("%w: %s (%s)", errNotDone, r.RunID, r.State)
	}
	return nil
}
