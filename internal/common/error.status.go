package common

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode định nghĩa mã lỗi chi tiết
type ErrorCode struct {
	Code        string // Mã lỗi (ví dụ: PARSE_001)
	Category    string // Phân loại lỗi (ví dụ: Parse)
	SubCategory string // Phân loại con (ví dụ: Token)
	Description string // Mô tả chi tiết
}

// Định nghĩa các mã lỗi theo taxonomy của engine reconcile
var (
	// Lỗi theo từng record (không fatal, record bị gắn cờ review)
	ErrCodeParse = ErrorCode{
		Code:        "PARSE_001",
		Category:    "Parse",
		SubCategory: "Token",
		Description: "Không trích xuất được thông tin từ filename/title",
	}

	ErrCodeClassification = ErrorCode{
		Code:        "CLS_001",
		Category:    "Classification",
		SubCategory: "Confidence",
		Description: "Điểm phân loại thấp hơn ngưỡng tin cậy",
	}

	ErrCodeDuplicate = ErrorCode{
		Code:        "DUP_001",
		Category:    "Duplicate",
		SubCategory: "Ambiguous",
		Description: "Nhóm trùng có nhiều driveId khác nhau, cần người xác nhận",
	}

	ErrCodeValidation = ErrorCode{
		Code:        "VAL_001",
		Category:    "Validation",
		SubCategory: "Document",
		Description: "Document không đúng schema",
	}

	// Lỗi theo chunk (fatal cho chunk, job vẫn chạy tiếp)
	ErrCodeBackup = ErrorCode{
		Code:        "BAK_001",
		Category:    "Backup",
		SubCategory: "Write",
		Description: "Không ghi được bản backup trước khi sửa/xóa",
	}

	ErrCodeStoreWrite = ErrorCode{
		Code:        "STORE_001",
		Category:    "Store",
		SubCategory: "Write",
		Description: "Lỗi ghi dữ liệu vào document store",
	}

	ErrCodeStoreRead = ErrorCode{
		Code:        "STORE_002",
		Category:    "Store",
		SubCategory: "Read",
		Description: "Lỗi đọc dữ liệu từ document store",
	}

	ErrCodeStoreConnection = ErrorCode{
		Code:        "STORE_003",
		Category:    "Store",
		SubCategory: "Connection",
		Description: "Lỗi kết nối document store",
	}

	ErrCodeConcurrentUpdate = ErrorCode{
		Code:        "STORE_004",
		Category:    "Store",
		SubCategory: "Precondition",
		Description: "Document đã bị sửa sau lần đọc gần nhất",
	}

	// Lỗi của cả run
	ErrCodeRun = ErrorCode{
		Code:        "RUN_001",
		Category:    "Run",
		SubCategory: "State",
		Description: "Lần chạy bị huỷ giữa chừng",
	}

	ErrCodeRunNotFound = ErrorCode{
		Code:        "RUN_002",
		Category:    "Run",
		SubCategory: "Checkpoint",
		Description: "Không tìm thấy checkpoint của lần chạy",
	}

	ErrCodeConfig = ErrorCode{
		Code:        "CFG_001",
		Category:    "Config",
		SubCategory: "General",
		Description: "Cấu hình không hợp lệ",
	}
)

// Error định nghĩa cấu trúc lỗi chi tiết
type Error struct {
	Code      ErrorCode // Mã lỗi chi tiết
	Message   string    // Thông báo lỗi
	Details   any       // Thông tin chi tiết thêm về lỗi (ids, field, ...)
	Transient bool      // true nếu có thể retry
	cause     error
}

// Error trả về message của lỗi
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap trả về lỗi gốc (hỗ trợ errors.Is / errors.As)
func (e *Error) Unwrap() error {
	return e.cause
}

// Is so sánh theo mã lỗi, không so sánh message hay details
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code.Code == t.Code.Code
}

// NewError tạo một error mới với đầy đủ thông tin
func NewError(code ErrorCode, message string, details any) error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap gắn lỗi gốc vào một sentinel của taxonomy.
// Transient được suy ra từ lỗi gốc.
func Wrap(base error, cause error, details any) error {
	var b *Error
	if !errors.As(base, &b) {
		return cause
	}
	return &Error{
		Code:      b.Code,
		Message:   b.Message,
		Details:   details,
		Transient: isTransientCause(cause),
		cause:     cause,
	}
}

// Custom errors
var (
	ErrParse              = NewError(ErrCodeParse, "Thiếu cả filename và title", nil)
	ErrLowConfidence      = NewError(ErrCodeClassification, "Không có category nào đạt ngưỡng", nil)
	ErrDuplicateAmbiguous = NewError(ErrCodeDuplicate, "Nhóm trùng có nhiều driveId khác nhau", nil)
	ErrInvalidDocument    = NewError(ErrCodeValidation, "Document không hợp lệ", nil)
	ErrBackupFailure      = NewError(ErrCodeBackup, "Backup thất bại", nil)
	ErrStoreWrite         = NewError(ErrCodeStoreWrite, "Ghi dữ liệu thất bại", nil)
	ErrStoreRead          = NewError(ErrCodeStoreRead, "Đọc dữ liệu thất bại", nil)
	ErrStoreConnection    = NewError(ErrCodeStoreConnection, "Kết nối document store thất bại", nil)
	ErrNotFound           = NewError(ErrCodeStoreRead, "Không tìm thấy dữ liệu", nil)
	ErrConcurrentUpdate   = NewError(ErrCodeConcurrentUpdate, "Document đã bị sửa sau lần đọc gần nhất", nil)
	ErrCancelled          = NewError(ErrCodeRun, "Lần chạy bị huỷ", nil)
	ErrRunNotFound        = NewError(ErrCodeRunNotFound, "Không tìm thấy checkpoint của lần chạy", nil)
	ErrInvalidConfig      = NewError(ErrCodeConfig, "Cấu hình không hợp lệ", nil)
)

// IsCode lỗi (hoặc lỗi bọc bên trong) có mã code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code.Code == code.Code
}

// IsTransient cho biết lỗi có nên retry hay không
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Transient {
			return true
		}
		if e.cause != nil {
			return isTransientCause(e.cause)
		}
		return false
	}
	return isTransientCause(err)
}

// isTransientCause phân loại lỗi gốc từ driver
func isTransientCause(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Timeout của từng thao tác có thể retry, cancel của cả job thì không
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
			return true
		}
	}
	return false
}

// ConvertMongoError chuyển đổi lỗi MongoDB sang lỗi hệ thống
func ConvertMongoError(base error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return Wrap(ErrStoreConnection, err, nil)
	}
	return Wrap(base, err, nil)
}

// ConvertFirestoreError chuyển đổi lỗi gRPC của Firestore sang lỗi hệ thống
func ConvertFirestoreError(base error, err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.NotFound:
			return ErrNotFound
		case codes.FailedPrecondition:
			return Wrap(ErrConcurrentUpdate, err, nil)
		case codes.Unauthenticated, codes.PermissionDenied:
			return Wrap(ErrStoreConnection, err, nil)
		}
	}
	return Wrap(base, err, nil)
}
