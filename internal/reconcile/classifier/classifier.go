// Package classifier chấm điểm record theo bảng keyword của từng category.
package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/models"
	"coach_reconcile/internal/roster"
)

// DefaultThreshold ngưỡng điểm tin cậy (thang 0..100)
const DefaultThreshold = 40

// Timing bonus cho 168-hour-scheduling theo số ngày sau buổi game plan
const (
	timingWindowMin = 5
	timingWindowMax = 25
	timingPeakMin   = 7
	timingPeakMax   = 14
	timingBonus     = 15
	timingPeakBonus = 30
)

// Pattern regex không phân biệt hoa thường kèm trọng số
type Pattern struct {
	Expr   *regexp.Regexp
	Weight float64
}

// Rule bảng keyword của một category
type Rule struct {
	Category   models.Category
	BaseWeight float64
	Positive   []Pattern
	Negative   []Pattern
}

// Options tham số của classifier
type Options struct {
	Threshold float64 // <= 0 dùng DefaultThreshold
}

// Input dữ liệu cần để phân loại một record
type Input struct {
	Title    string
	Tags     []string
	Filename string

	SessionDate  time.Time // Zero nếu chưa biết
	GamePlanDate time.Time // Ngày buổi game plan của cùng student, zero nếu chưa biết
}

// Result kết quả phân loại
type Result struct {
	Category      models.Category             `json:"category"`
	SessionType   models.Category             `json:"sessionType"`
	Score         float64                     `json:"score"`
	Scores        map[models.Category]float64 `json:"scores"`
	TimingBonus   float64                     `json:"timingBonus,omitempty"`
	LowConfidence bool                        `json:"lowConfidence,omitempty"`
}

// Classifier pure, an toàn khi dùng lại
type Classifier struct {
	rules     []Rule
	threshold float64
}

// New tạo classifier; rules rỗng thì dùng DefaultRules
func New(rules []Rule, opts Options) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Classifier{rules: rules, threshold: opts.Threshold}
}

func p(expr string, weight float64) Pattern {
	return Pattern{Expr: regexp.MustCompile(`(?i)` + expr), Weight: weight}
}

// DefaultRules bảng keyword mặc định
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: models.CategoryGamePlan,
			Positive: []Pattern{
				p(`game\s*-?\s*plan`, 60),
				p(`initial\s+assessment|kick\s*-?\s*off`, 40),
			},
		},
		{
			Category: models.CategoryExecutionDoc,
			Positive: []Pattern{
				p(`execution\s*-?\s*doc`, 60),
				p(`\bexecution\b|\bexec\b`, 40),
			},
		},
		{
			Category: models.CategoryCheckIn,
			Positive: []Pattern{
				p(`check\s*-?\s*in`, 60),
				p(`quick\s+(call|sync)`, 30),
			},
		},
		{
			Category: models.CategoryScheduling168,
			Positive: []Pattern{
				p(`\b168\b`, 60),
				p(`168\s*-?\s*h(ou)?rs?|time\s+(management|planning)|weekly\s+(schedule|planning)`, 50),
				p(`\bschedul(e|ing)\b`, 30),
				p(`\bw(ee)?k\s*-?\s*0*1\b`, 20),
			},
			Negative: []Pattern{
				p(`\bessays?\b`, 40),
				p(`\bapplications?\b|\bapps?\b`, 40),
			},
		},
		{
			Category: models.CategoryCoachingSession,
			Positive: []Pattern{
				p(`\bcoaching\b`, 25),
				p(`\bsession\b`, 15),
				p(`\bcall\b|\bmeeting\b`, 15),
			},
		},
		{
			Category: models.CategoryMiscellaneous,
			Positive: []Pattern{
				p(`\bmisc(ellaneous)?\b|\bother\b|\btest\s+recording\b`, 40),
			},
		},
	}
}

// RulesFromRoster bảng mặc định, category nào có trong roster thì bị thay thế
func RulesFromRoster(categories []roster.CategoryRule) ([]Rule, error) {
	rules := DefaultRules()
	for _, cr := range categories {
		cat, ok := models.ParseCategory(cr.Category)
		if !ok {
			return nil, common.NewError(common.ErrCodeConfig, fmt.Sprintf("category không hợp lệ: %q", cr.Category), nil)
		}
		rule := Rule{Category: cat, BaseWeight: cr.BaseWeight}
		for _, ps := range cr.Positive {
			pt, err := compile(ps)
			if err != nil {
				return nil, err
			}
			rule.Positive = append(rule.Positive, pt)
		}
		for _, ps := range cr.Negative {
			pt, err := compile(ps)
			if err != nil {
				return nil, err
			}
			rule.Negative = append(rule.Negative, pt)
		}

		replaced := false
		for i := range rules {
			if rules[i].Category == cat {
				rules[i] = rule
				replaced = true
			}
		}
		if !replaced {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func compile(ps roster.PatternRule) (Pattern, error) {
	re, err := regexp.Compile(`(?i)` + ps.Pattern)
	if err != nil {
		return Pattern{}, common.Wrap(common.ErrInvalidConfig, err, map[string]interface{}{"pattern": ps.Pattern})
	}
	return Pattern{Expr: re, Weight: ps.Weight}, nil
}

// Classify chọn category điểm cao nhất.
// Hoà điểm, hoặc điểm generic >= điểm category cụ thể, thì chọn coaching-session.
func (c *Classifier) Classify(in Input) Result {
	scores, bonus := c.score(in)
	res := Result{Scores: scores, TimingBonus: bonus}

	var best models.Category
	bestScore, tie := -1.0, false
	top := 0.0
	for _, rule := range c.rules {
		s := scores[rule.Category]
		top = math.Max(top, s)
		if rule.Category == models.CategoryCoachingSession {
			continue
		}
		switch {
		case s > bestScore:
			best, bestScore, tie = rule.Category, s, false
		case s == bestScore:
			tie = true
		}
	}

	switch {
	case top < c.threshold:
		res.Category = models.CategoryCoachingSession
		res.LowConfidence = true
	case best == "" || tie || scores[models.CategoryCoachingSession] >= bestScore:
		res.Category = models.CategoryCoachingSession
	default:
		res.Category = best
	}
	res.SessionType = res.Category.SessionType()
	res.Score = scores[res.Category]
	return res
}

// Scores bảng điểm từng category (đã gồm timing bonus)
func (c *Classifier) Scores(in Input) map[models.Category]float64 {
	scores, _ := c.score(in)
	return scores
}

func (c *Classifier) score(in Input) (map[models.Category]float64, float64) {
	texts := haystack(in)
	bonus := TimingBonus(in.SessionDate, in.GamePlanDate)

	scores := make(map[models.Category]float64, len(c.rules))
	for _, rule := range c.rules {
		s := rule.BaseWeight
		for _, pt := range rule.Positive {
			if matchAny(pt.Expr, texts) {
				s += pt.Weight
			}
		}
		for _, pt := range rule.Negative {
			if matchAny(pt.Expr, texts) {
				s -= pt.Weight
			}
		}
		if rule.Category == models.CategoryScheduling168 {
			s += bonus
		}
		scores[rule.Category] = clamp(s)
	}
	return scores, bonus
}

// haystack title, từng tag, filename ("_" đổi thành khoảng trắng để \b hoạt động)
func haystack(in Input) []string {
	texts := make([]string, 0, len(in.Tags)+2)
	if in.Title != "" {
		texts = append(texts, in.Title)
	}
	texts = append(texts, in.Tags...)
	if in.Filename != "" {
		texts = append(texts, strings.ReplaceAll(in.Filename, "_", " "))
	}
	return texts
}

// matchAny mỗi pattern chỉ được tính một lần dù khớp nhiều nguồn
func matchAny(re *regexp.Regexp, texts []string) bool {
	for _, t := range texts {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

func clamp(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}

// TimingBonus 168-hour scheduling thường diễn ra 1–2 tuần sau game plan
func TimingBonus(sessionDate, gamePlanDate time.Time) float64 {
	if sessionDate.IsZero() || gamePlanDate.IsZero() {
		return 0
	}
	days := int(math.Round(sessionDate.Sub(gamePlanDate).Hours() / 24))
	switch {
	case days >= timingPeakMin && days <= timingPeakMax:
		return timingPeakBonus
	case days >= timingWindowMin && days <= timingWindowMax:
		return timingBonus
	}
	return 0
}
