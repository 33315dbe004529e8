// Package database trừu tượng hoá document store (Firestore, MongoDB, bộ nhớ) cho job reconcile.
package database

import (
	"context"
	"fmt"
	"time"

	"coach_reconcile/config"
)

// OpKind loại thao tác ghi
type OpKind string

const (
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// RawDocument document như đọc từ store, kiểu dữ liệu đã chuẩn hoá
// (time.Time, []interface{}, map[string]interface{}, int64/float64, string, bool)
type RawDocument struct {
	ID         string                 `json:"id"`
	Data       map[string]interface{} `json:"data"`
	UpdateTime time.Time              `json:"updateTime,omitempty"` // Zero nếu backend không cung cấp
}

// WriteOp một thao tác trong chunk; Fields chỉ dùng cho update, giá trị nil nghĩa là xoá field.
// IfUpdateTime khác zero thì thao tác chỉ được áp dụng khi document chưa bị sửa kể từ thời điểm đó,
// ngược lại cả lần ghi thất bại với common.ErrConcurrentUpdate.
type WriteOp struct {
	Kind         OpKind                 `json:"kind"`
	ID           string                 `json:"id"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	IfUpdateTime time.Time              `json:"ifUpdateTime,omitempty"`
}

// Store các thao tác job reconcile cần. Mọi thao tác ghi đều atomic theo lần gọi.
type Store interface {
	// Name tên backend (firestore, mongo, memory)
	Name() string
	// MaxBatchOps số thao tác tối đa trong một lần ghi atomic
	MaxBatchOps() int
	// FetchAll đọc toàn bộ collection
	FetchAll(ctx context.Context, collection string) ([]RawDocument, error)
	// FetchByIDs đọc lại các record; id không còn tồn tại thì bị bỏ qua
	FetchByIDs(ctx context.Context, collection string, ids []string) ([]RawDocument, error)
	// WriteBackups ghi bản sao vào collection backup, id của document là RawDocument.ID
	WriteBackups(ctx context.Context, collection string, docs []RawDocument) error
	// Commit áp dụng ops trong một lần ghi atomic
	Commit(ctx context.Context, collection string, ops []WriteOp) error
	// Close giải phóng kết nối
	Close(ctx context.Context) error
}

// BackupCollection tên collection backup theo ngày: <collection>_backup_<YYYYMMDD>
func BackupCollection(collection string, at time.Time) string {
	return fmt.Sprintf("%s_backup_%s", collection, at.UTC().Format("20060102"))
}

// BackupDocID id document backup; ghi lại cùng run thì ghi đè chứ không nhân bản
func BackupDocID(originalID, runID string) string {
	return originalID + "__" + runID
}

// New mở store theo STORE_BACKEND
func New(ctx context.Context, c *config.Configuration) (Store, error) {
	switch c.StoreBackend {
	case config.BackendFirestore:
		return NewFirestoreStore(ctx, c)
	case config.BackendMongo:
		return NewMongoStore(ctx, c)
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", c.StoreBackend)
	}
}
