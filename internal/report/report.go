// Package report ghi báo cáo JSON của một lần chạy và tạo bản tóm tắt cho người đọc.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/reconcile"
)

// Path đường dẫn mặc định của báo cáo: <dir>/<runId>.json
func Path(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// Write ghi báo cáo vào path, tạo thư mục cha nếu chưa có
func Write(path string, r *reconcile.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.Wrap(common.ErrInvalidConfig, err, map[string]interface{}{"path": path})
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	// Ghi file tạm rồi rename để không để lại báo cáo dở dang
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read đọc lại báo cáo đã ghi
func Read(path string) (*reconcile.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrRunNotFound
		}
		return nil, err
	}
	var r reconcile.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Summary bản tóm tắt nhiều dòng (CLI, Slack)
func Summary(r *reconcile.Report) string {
	mode := "dry-run"
	if r.Apply {
		mode = "apply"
	}
	icon := "✅"
	switch r.State {
	case reconcile.StateFailed:
		icon = "❌"
	case reconcile.StateCancelled:
		icon = "⚠️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Reconcile %s [%s] %s: %s\n", icon, r.Collection, mode, r.RunID, r.State)
	c := r.Counts
	fmt.Fprintf(&b, "• Đã quét: %d (không hợp lệ: %d)\n", c.Scanned, c.Invalid)
	if r.Apply {
		fmt.Fprintf(&b, "• Đã sửa: %d, đã xoá trùng: %d\n", c.Fixed, c.Deleted)
	} else {
		fmt.Fprintf(&b, "• Sẽ sửa: %d, sẽ xoá trùng: %d\n", c.PlannedUpdates, c.PlannedDeletes)
	}
	fmt.Fprintf(&b, "• Cần review: %d (điểm thấp: %d, parse lỗi: %d, trùng mơ hồ: %d)\n",
		c.Flagged, c.LowConfidence, c.ParseErrors, c.Ambiguous)
	if c.Failed > 0 || c.Conflicts > 0 || c.NotProcessed > 0 || c.Mismatches > 0 {
		fmt.Fprintf(&b, "• Thất bại: %d, conflict: %d, chưa xử lý: %d, lệch sau commit: %d\n",
			c.Failed, c.Conflicts, c.NotProcessed, c.Mismatches)
	}
	if r.BackupCollection != "" {
		fmt.Fprintf(&b, "• Backup: %s\n", r.BackupCollection)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "• Lỗi: %s\n", r.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
