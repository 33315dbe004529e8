package models

// Category phân loại buổi coaching (dùng cho cả category và sessionType)
type Category string

const (
	CategoryGamePlan        Category = "game-plan"           // Buổi đánh giá đầu tiên, luôn do lead coach dẫn
	CategoryExecutionDoc    Category = "execution-doc"       // Buổi làm tài liệu thực thi
	CategoryCheckIn         Category = "check-in"            // Check-in nhanh
	CategoryCoachingSession Category = "coaching-session"    // Buổi coaching thông thường (mặc định)
	CategoryScheduling168   Category = "168-hour-scheduling" // Buổi lập lịch 168 giờ, 1–2 tuần sau game plan
	CategoryMiscellaneous   Category = "miscellaneous"       // Khác
)

// AllCategories thứ tự cố định, dùng khi duyệt bảng điểm
var AllCategories = []Category{
	CategoryGamePlan,
	CategoryExecutionDoc,
	CategoryCheckIn,
	CategoryCoachingSession,
	CategoryScheduling168,
	CategoryMiscellaneous,
}

// Valid kiểm tra category có thuộc tập cố định không
func (c Category) Valid() bool {
	for _, v := range AllCategories {
		if v == c {
			return true
		}
	}
	return false
}

// SessionType ánh xạ category sang loại buổi
// game-plan, check-in, miscellaneous giữ nguyên; còn lại là coaching-session
func (c Category) SessionType() Category {
	switch c {
	case CategoryGamePlan, CategoryCheckIn, CategoryMiscellaneous:
		return c
	default:
		return CategoryCoachingSession
	}
}

// ParseCategory chuẩn hoá các giá trị cũ trong DB (GamePlan, game_plan, 168 hour, ...)
func ParseCategory(s string) (Category, bool) {
	switch normalizeKey(s) {
	case "gameplan":
		return CategoryGamePlan, true
	case "executiondoc", "execution", "executiondocument":
		return CategoryExecutionDoc, true
	case "checkin", "quickcheckin":
		return CategoryCheckIn, true
	case "coachingsession", "coaching", "regularcoaching", "session":
		return CategoryCoachingSession, true
	case "168hourscheduling", "168hour", "168", "168hours", "scheduling168":
		return CategoryScheduling168, true
	case "miscellaneous", "misc", "other":
		return CategoryMiscellaneous, true
	}
	return "", false
}

// normalizeKey bỏ ký tự không phải chữ/số và đưa về chữ thường
func normalizeKey(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		}
	}
	return string(out)
}

// Các lý do review ghi vào reviewReasons
const (
	ReviewCoachUnresolved   = "coach-unresolved"
	ReviewStudentUnresolved = "student-unresolved"
	ReviewUnknownName       = "unknown-name"
	ReviewLeadCoachMissing  = "lead-coach-missing"
	ReviewLeadCoachMismatch = "lead-coach-mismatch" // Game plan nhưng coach không phải lead coach
	ReviewLowConfidence     = "low-confidence"
	ReviewParseError        = "parse-error"
	ReviewDuplicateAmbig    = "duplicate-ambiguous"
)

// DataVersion phiên bản dữ liệu ghi kèm mỗi lần sửa
const DataVersion = 3
