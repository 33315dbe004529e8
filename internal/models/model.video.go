package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Tên field trong document store (camelCase, giống app web đang ghi)
const (
	FieldDriveID       = "driveId"
	FieldFilename      = "filename"
	FieldTitle         = "title"
	FieldTags          = "tags"
	FieldParsedCoach   = "parsedCoach"
	FieldParsedStudent = "parsedStudent"
	FieldDataSource    = "dataSource"
	FieldCategory      = "category"
	FieldSessionType   = "sessionType"
	FieldParsedWeek    = "parsedWeek"
	FieldSessionDate   = "sessionDate"
	FieldCreatedAt     = "createdAt"
	FieldUpdatedAt     = "updatedAt"
	FieldFixedAt       = "fixedAt"
	FieldDataVersion   = "dataVersion"
	FieldNeedsReview   = "needsReview"
	FieldReviewReasons = "reviewReasons"
	FieldMergedFrom    = "mergedFrom"

	// Field chỉ có trong collection backup
	FieldBackedUpAt  = "backedUpAt"
	FieldOriginalID  = "originalId"
	FieldBackupRunID = "backupRunId"
)

// SessionDateLayout định dạng lưu sessionDate
const SessionDateLayout = "2006-01-02"

// VideoRecord đại diện cho 1 video coaching trong collection
// filename/title là dữ liệu gốc, không bao giờ bị sửa; kết quả parse ghi vào các field parsedX
type VideoRecord struct {
	ID       string   `json:"id" validate:"required"`                  // ID do store cấp, không đổi
	DriveID  string   `json:"driveId,omitempty" validate:"max=256"`    // ID file trên storage ngoài, khoá trùng chính
	Filename string   `json:"filename,omitempty" validate:"max=1024"`  // Tên file gốc
	Title    string   `json:"title,omitempty" validate:"max=1024"`     // Tiêu đề gốc
	Tags     []string `json:"tags,omitempty" validate:"dive,max=256"` // Tags gắn khi ingest

	// ===== KẾT QUẢ PARSE =====
	ParsedCoach   *string  `json:"parsedCoach,omitempty"`
	ParsedStudent *string  `json:"parsedStudent,omitempty"`
	DataSource    *string  `json:"dataSource,omitempty" validate:"omitempty,max=8"`
	Category      Category `json:"category,omitempty" validate:"omitempty,category"`
	SessionType   Category `json:"sessionType,omitempty" validate:"omitempty,category"`
	ParsedWeek    *string  `json:"parsedWeek,omitempty" validate:"omitempty,numeric"`
	SessionDate   *string  `json:"sessionDate,omitempty" validate:"omitempty,datetime=2006-01-02"`

	// ===== AUDIT =====
	FixedAt       *time.Time `json:"fixedAt,omitempty"`
	DataVersion   int        `json:"dataVersion,omitempty" validate:"min=0"`
	NeedsReview   bool       `json:"needsReview,omitempty"`
	ReviewReasons []string   `json:"reviewReasons,omitempty"`
	MergedFrom    []string   `json:"mergedFrom,omitempty"`

	// ===== TIMESTAMPS =====
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	// Raw document như đọc từ store (dùng để backup nguyên trạng)
	Raw map[string]interface{} `json:"-"`
}

// Fingerprint băm các field có ý nghĩa của record, dùng phát hiện record bị sửa đồng thời
func (r *VideoRecord) Fingerprint() string {
	cp := *r
	cp.Raw = nil
	data, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BackupDocument tạo document backup: giữ nguyên raw + backedUpAt, originalId, backupRunId
func (r *VideoRecord) BackupDocument(runID string, at time.Time) map[string]interface{} {
	doc := make(map[string]interface{}, len(r.Raw)+3)
	for k, v := range r.Raw {
		doc[k] = v
	}
	doc[FieldBackedUpAt] = at
	doc[FieldOriginalID] = r.ID
	doc[FieldBackupRunID] = runID
	return doc
}

// StrValue trả về giá trị của con trỏ string, rỗng nếu nil
func StrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StrPtr trả về con trỏ, nil nếu chuỗi rỗng
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
