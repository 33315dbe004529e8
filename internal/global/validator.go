package global

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"coach_reconcile/internal/models"
)

var (
	// Validate validator dùng chung, khởi tạo 1 lần
	Validate     *validator.Validate
	validateOnce sync.Once
)

// InitValidator khởi tạo và đăng ký các custom validator
func InitValidator() *validator.Validate {
	validateOnce.Do(func() {
		Validate = validator.New()

		// Đăng ký các custom validator
		_ = Validate.RegisterValidation("category", validateCategory)
	})
	return Validate
}

// validateCategory kiểm tra giá trị thuộc tập category cố định
func validateCategory(fl validator.FieldLevel) bool {
	return models.Category(fl.Field().String()).Valid()
}

// ValidateRecord validate VideoRecord tại biên đọc từ store
func ValidateRecord(rec *models.VideoRecord) error {
	return InitValidator().Struct(rec)
}
