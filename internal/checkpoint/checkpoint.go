// Package checkpoint lưu trạng thái của từng lần chạy reconcile để có thể resume.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// Entry một snapshot trạng thái run sau một bước (hoặc một chunk)
type Entry struct {
	RunID     string    `json:"runId"`
	Seq       int64     `json:"seq"`
	Step      string    `json:"step"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Run thông tin tóm tắt của một lần chạy (dùng cho API xem trạng thái)
type Run struct {
	RunID      string          `json:"runId"`
	Collection string          `json:"collection"`
	State      string          `json:"state"`
	Apply      bool            `json:"apply"`
	StartedAt  time.Time       `json:"startedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// Store nơi lưu checkpoint. Snapshot là append-only: mỗi bước ghi một dòng mới.
type Store interface {
	// Save ghi snapshot mới nhất của run
	Save(ctx context.Context, runID, step string, payload []byte) error
	// Latest snapshot cuối cùng; chưa có thì trả về common.ErrRunNotFound
	Latest(ctx context.Context, runID string) (*Entry, error)
	// History toàn bộ các bước đã ghi của run
	History(ctx context.Context, runID string) ([]Entry, error)
	// SaveRun ghi/cập nhật thông tin tóm tắt
	SaveRun(ctx context.Context, run Run) error
	// GetRun đọc thông tin tóm tắt; không có thì trả về common.ErrRunNotFound
	GetRun(ctx context.Context, runID string) (*Run, error)
	// ListRuns các run mới nhất trước
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
