package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Các backend document store hỗ trợ
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
)

// Configuration chứa thông tin tĩnh cần thiết để chạy job reconcile
type Configuration struct {
	Address      string `env:"ADDRESS" envDefault:":8080"`             // Địa chỉ server xem trạng thái run
	StoreBackend string `env:"STORE_BACKEND" envDefault:"firestore"` // firestore | mongo

	// Firebase Configuration
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`       // Firebase Project ID
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"` // Đường dẫn đến service account JSON

	// MongoDB Configuration
	MongoDB_ConnectionURI string `env:"MONGODB_CONNECTION_URI"` // URL kết nối cơ sở dữ liệu
	MongoDB_DBName        string `env:"MONGODB_DBNAME"`         // Tên cơ sở dữ liệu chứa collection video

	// Reconcile
	Collection          string  `env:"RECONCILE_COLLECTION" envDefault:"videos"`            // Collection cần dọn
	RosterPath          string  `env:"ROSTER_PATH" envDefault:"config/roster.yaml"`         // File roster YAML
	BatchSize           int     `env:"RECONCILE_BATCH_SIZE" envDefault:"400"`               // Số thao tác mỗi chunk (bị chặn bởi giới hạn của store)
	MaxRetries          int     `env:"RECONCILE_MAX_RETRIES" envDefault:"3"`                // Số lần retry lỗi tạm thời
	RetryBaseMs         int     `env:"RECONCILE_RETRY_BASE_MS" envDefault:"500"`            // Backoff cơ sở
	RetryMaxMs          int     `env:"RECONCILE_RETRY_MAX_MS" envDefault:"10000"`           // Backoff tối đa
	OpTimeoutSeconds    int     `env:"RECONCILE_OP_TIMEOUT_SECONDS" envDefault:"30"`        // Timeout mỗi thao tác store
	StaleAfterSeconds   int     `env:"RECONCILE_STALE_AFTER_SECONDS" envDefault:"300"`      // Quá thời gian này kể từ lúc backup thì đọc lại trước khi ghi
	ConfidenceThreshold float64 `env:"RECONCILE_CONFIDENCE_THRESHOLD" envDefault:"40"`      // Ngưỡng điểm phân loại
	CheckpointPath      string  `env:"CHECKPOINT_PATH" envDefault:"./data/checkpoint.db"`   // SQLite checkpoint
	ReportDir           string  `env:"REPORT_DIR" envDefault:"./reports"`                   // Thư mục ghi báo cáo JSON

	// Slack Notification Configuration (optional)
	SlackBotToken  string `env:"SLACK_BOT_TOKEN"`  // Bot token, rỗng = không gửi
	SlackChannelID string `env:"SLACK_CHANNEL_ID"` // Channel nhận tóm tắt run

	// Schedule (optional)
	Schedule      string `env:"RECONCILE_SCHEDULE" envDefault:"0 3 * * *"`    // Cron expression cho lệnh schedule
	ScheduleApply bool   `env:"RECONCILE_SCHEDULE_APPLY" envDefault:"false"` // Lịch chạy có ghi thật hay chỉ dry-run
}

// getEnvPath trả về đường dẫn đến file env dựa trên môi trường
func getEnvPath() string {
	// Mặc định sử dụng môi trường development
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	currentDir, err := os.Getwd()
	if err != nil {
		// Sử dụng fmt.Printf vì logger có thể chưa được init ở đây
		fmt.Printf("Không thể lấy được thư mục hiện tại: %v\n", err)
		return ""
	}

	// Tìm thư mục config/env
	for {
		envDir := filepath.Join(currentDir, "config", "env")
		if _, err := os.Stat(envDir); err == nil {
			return filepath.Join(envDir, fmt.Sprintf("%s.env", env))
		}

		// Đi lên thư mục cha
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return ""
		}
		currentDir = parentDir
	}
}

// NewConfig đọc cấu hình từ file env (nếu có) rồi từ biến môi trường.
// files cho phép chỉ định file env cụ thể; không có file nào vẫn chạy được bằng biến môi trường.
func NewConfig(files ...string) (*Configuration, error) {
	if len(files) == 0 {
		if envPath := getEnvPath(); envPath != "" {
			files = []string{envPath}
		}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			// Sử dụng fmt.Printf vì logger có thể chưa được init ở đây
			fmt.Printf("Không tìm thấy file env tại %s, dùng biến môi trường\n", f)
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("không thể load file env tại %s: %w", f, err)
		}
	}

	cfg := Configuration{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("lỗi khi parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate kiểm tra các giá trị phụ thuộc nhau
func (c *Configuration) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID là bắt buộc khi STORE_BACKEND=firestore")
		}
	case BackendMongo:
		if c.MongoDB_ConnectionURI == "" || c.MongoDB_DBName == "" {
			return fmt.Errorf("MONGODB_CONNECTION_URI và MONGODB_DBNAME là bắt buộc khi STORE_BACKEND=mongo")
		}
	default:
		return fmt.Errorf("STORE_BACKEND không hợp lệ: %q", c.StoreBackend)
	}
	if c.Collection == "" {
		return fmt.Errorf("RECONCILE_COLLECTION không được rỗng")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE phải > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("RECONCILE_MAX_RETRIES phải >= 0")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("RECONCILE_CONFIDENCE_THRESHOLD phải trong khoảng 0..100")
	}
	return nil
}

// RetryBase backoff cơ sở
func (c *Configuration) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

// RetryMax backoff tối đa
func (c *Configuration) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMs) * time.Millisecond
}

// OpTimeout timeout mỗi thao tác store
func (c *Configuration) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}

// StaleAfter ngưỡng đọc lại record trước khi ghi
func (c *Configuration) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}
