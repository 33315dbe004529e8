package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Các hành động audit của job reconcile
const (
	ActionBackup = "record_backup"
	ActionUpdate = "record_update"
	ActionDelete = "record_delete"
	ActionSkip   = "record_skip_conflict"
)

// AuditAction một dòng audit cho mỗi thao tác ghi/xoá
type AuditAction struct {
	Action     string                 `json:"action"`      // Tên hành động (ví dụ: "record_update")
	RunID      string                 `json:"run_id"`      // ID lần chạy
	Collection string                 `json:"collection"`  // Collection bị ảnh hưởng
	RecordID   string                 `json:"record_id"`   // ID record bị ảnh hưởng
	Details    map[string]interface{} `json:"details"`     // Chi tiết bổ sung (fields, survivor, backup collection)
	Timestamp  time.Time              `json:"timestamp"`   // Thời gian
}

// LogMutation ghi một hành động audit; l nil thì dùng audit logger mặc định
func LogMutation(l logrus.FieldLogger, audit AuditAction) {
	if l == nil {
		l = GetAuditLogger()
	}
	if audit.Timestamp.IsZero() {
		audit.Timestamp = time.Now()
	}

	l.WithFields(logrus.Fields{
		"action":     audit.Action,
		"run_id":     audit.RunID,
		"collection": audit.Collection,
		"record_id":  audit.RecordID,
		"details":    audit.Details,
		"timestamp":  audit.Timestamp,
	}).Info("Audit log")
}
