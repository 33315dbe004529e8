// Package roster - Danh sách coach/student/data source dùng chung cho mọi pass reconcile.
// Thay cho các mảng tên copy-paste trong từng script: một file YAML, nạp một lần,
// truyền tường minh vào Resolver/Classifier.
package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"coach_reconcile/internal/common"
)

// PatternRule một pattern (regex, không phân biệt hoa thường) kèm trọng số
type PatternRule struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// CategoryRule bảng keyword của một category
type CategoryRule struct {
	Category   string        `yaml:"category"`
	BaseWeight float64       `yaml:"baseWeight"`
	Positive   []PatternRule `yaml:"positive"`
	Negative   []PatternRule `yaml:"negative"`
}

// Roster cấu hình tĩnh của resolver/classifier
type Roster struct {
	LeadCoach   string            `yaml:"leadCoach"`   // Coach luôn dẫn buổi game plan
	Coaches     []string          `yaml:"coaches"`     // Danh sách coach đã biết
	Students    []string          `yaml:"students"`    // Danh sách student đã biết
	DataSources []string          `yaml:"dataSources"` // Mã nguồn dữ liệu (A/B/C), không bao giờ là tên người
	Aliases     map[string]string `yaml:"aliases"`     // Tên viết tắt/sai chính tả -> tên chuẩn

	// Ghi đè bảng keyword mặc định của classifier (tuỳ chọn)
	Categories []CategoryRule `yaml:"categories,omitempty"`

	coaches  map[string]string
	students map[string]string
	sources  map[string]string
	aliases  map[string]string
}

// Load đọc roster từ file YAML
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.Wrap(common.ErrInvalidConfig, err, map[string]interface{}{"path": path})
	}
	return Parse(data)
}

// Parse parse YAML và kiểm tra tính nhất quán
func Parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, common.Wrap(common.ErrInvalidConfig, err, nil)
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return &r, nil
}

// New tạo roster từ code (test, default)
func New(leadCoach string, coaches, students, sources []string, aliases map[string]string) (*Roster, error) {
	r := &Roster{
		LeadCoach:   leadCoach,
		Coaches:     coaches,
		Students:    students,
		DataSources: sources,
		Aliases:     aliases,
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

// init dựng các map tra cứu và validate
func (r *Roster) init() error {
	r.coaches = indexNames(r.Coaches)
	r.students = indexNames(r.Students)
	r.sources = indexNames(r.DataSources)
	r.aliases = make(map[string]string, len(r.Aliases))
	for k, v := range r.Aliases {
		r.aliases[key(k)] = strings.TrimSpace(v)
	}

	if len(r.sources) == 0 {
		return common.NewError(common.ErrCodeConfig, "roster thiếu dataSources", nil)
	}
	// Mã nguồn trùng tên người chính là lỗi gốc cần tránh
	for k, src := range r.sources {
		if _, ok := r.coaches[k]; ok {
			return common.NewError(common.ErrCodeConfig, fmt.Sprintf("data source %q trùng tên coach", src), nil)
		}
		if _, ok := r.students[k]; ok {
			return common.NewError(common.ErrCodeConfig, fmt.Sprintf("data source %q trùng tên student", src), nil)
		}
	}
	if r.LeadCoach != "" {
		if _, ok := r.coaches[key(r.LeadCoach)]; !ok {
			return common.NewError(common.ErrCodeConfig, fmt.Sprintf("leadCoach %q không có trong coaches", r.LeadCoach), nil)
		}
		r.LeadCoach = r.coaches[key(r.LeadCoach)]
	}
	for _, c := range r.Categories {
		if c.Category == "" {
			return common.NewError(common.ErrCodeConfig, "category rule thiếu tên category", nil)
		}
	}
	return nil
}

func indexNames(names []string) map[string]string {
	m := make(map[string]string, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		m[key(n)] = n
	}
	return m
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Canonical trả về tên chuẩn (qua alias và cách viết trong roster); không biết thì giữ nguyên
func (r *Roster) Canonical(name string) string {
	name = strings.TrimSpace(name)
	if a, ok := r.aliases[key(name)]; ok {
		name = a
	}
	if c, ok := r.coaches[key(name)]; ok {
		return c
	}
	if s, ok := r.students[key(name)]; ok {
		return s
	}
	return name
}

// IsCoach tên có trong danh sách coach
func (r *Roster) IsCoach(name string) bool {
	_, ok := r.coaches[key(r.Canonical(name))]
	return ok
}

// IsStudent tên có trong danh sách student
func (r *Roster) IsStudent(name string) bool {
	_, ok := r.students[key(r.Canonical(name))]
	return ok
}

// SourceMarker trả về mã nguồn chuẩn nếu v là data source
func (r *Roster) SourceMarker(v string) (string, bool) {
	s, ok := r.sources[key(v)]
	return s, ok
}

// IsSource v có phải data source marker
func (r *Roster) IsSource(v string) bool {
	_, ok := r.sources[key(v)]
	return ok
}

// IsLeadCoach tên có phải lead coach
func (r *Roster) IsLeadCoach(name string) bool {
	return r.LeadCoach != "" && key(r.Canonical(name)) == key(r.LeadCoach)
}
