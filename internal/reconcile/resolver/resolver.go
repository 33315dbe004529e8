// Package resolver ánh xạ token tên sang coach/student/data source theo roster.
package resolver

import (
	"coach_reconcile/internal/models"
	"coach_reconcile/internal/reconcile/tokenizer"
	"coach_reconcile/internal/roster"
)

// Context cờ ngữ cảnh từ các bước khác
type Context struct {
	GamePlan bool // Record là buổi game plan: coach phải là lead coach
}

// Resolution kết quả resolve một record
type Resolution struct {
	Coach            *string  `json:"coach"`
	Student          *string  `json:"student"`
	Source           *string  `json:"source"`
	NeedsReview      bool     `json:"needsReview"`
	Reasons          []string `json:"reasons,omitempty"`
	LeadCoachApplied bool     `json:"leadCoachApplied,omitempty"` // Coach bị thay bằng lead coach
}

// Resolver stateless, dùng chung cho cả run
type Resolver struct {
	roster *roster.Roster
}

// New tạo resolver với roster đã nạp
func New(r *roster.Roster) *Resolver {
	return &Resolver{roster: r}
}

// slot vị trí ngầm định của một ứng viên tên
const (
	slotCoach   = 0
	slotStudent = 1
)

type candidate struct {
	name    string // Tên đã chuẩn hoá qua alias
	slot    int    // Vị trí ngầm định (0 = coach, 1 = student, >1 = thừa)
	coach   bool
	student bool
}

// Resolve không bao giờ trả lỗi: thiếu thông tin thì để nil và gắn cờ review
func (r *Resolver) Resolve(tokens []tokenizer.Token, ctx Context) Resolution {
	var res Resolution
	var cands []candidate

	for _, t := range tokens {
		if t.Type != tokenizer.TypeName && t.Type != tokenizer.TypeSource {
			continue
		}
		// Data source luôn được loại trước, không bao giờ là tên người
		if src, ok := r.roster.SourceMarker(t.Value); ok {
			if res.Source == nil {
				res.Source = models.StrPtr(src)
			}
			continue
		}
		name := r.roster.Canonical(t.Value)
		if src, ok := r.roster.SourceMarker(name); ok {
			if res.Source == nil {
				res.Source = models.StrPtr(src)
			}
			continue
		}
		// Chữ cái đơn không thuộc tập data source cũng không phải tên
		if t.Type == tokenizer.TypeSource {
			continue
		}

		slot := len(cands)
		switch t.Field {
		case tokenizer.FieldCoach:
			slot = slotCoach
		case tokenizer.FieldStudent:
			slot = slotStudent
		}
		cands = append(cands, candidate{
			name:    name,
			slot:    slot,
			coach:   r.roster.IsCoach(name),
			student: r.roster.IsStudent(name),
		})
	}

	var coach, student string
	used := make([]bool, len(cands))

	// 1. Chỉ có trong danh sách coach
	for i, c := range cands {
		if c.coach && !c.student && coach == "" {
			coach, used[i] = c.name, true
		}
	}
	// 2. Chỉ có trong danh sách student
	for i, c := range cands {
		if c.student && !c.coach && student == "" {
			student, used[i] = c.name, true
		}
	}
	// 3. Có trong cả hai danh sách: theo vị trí
	for i, c := range cands {
		if !c.coach || !c.student || used[i] {
			continue
		}
		switch {
		case c.slot == slotCoach && coach == "":
			coach, used[i] = c.name, true
		case c.slot == slotStudent && student == "":
			student, used[i] = c.name, true
		case coach == "":
			coach, used[i] = c.name, true
		case student == "":
			student, used[i] = c.name, true
		}
	}
	// 4. Không biết: theo vị trí, gắn cờ review
	for i, c := range cands {
		if c.coach || c.student || used[i] {
			continue
		}
		switch {
		case c.slot == slotCoach && coach == "":
			coach, used[i] = c.name, true
		case c.slot == slotStudent && student == "":
			student, used[i] = c.name, true
		default:
			continue
		}
		res.addReason(models.ReviewUnknownName + ":" + c.name)
	}

	if ctx.GamePlan {
		coach, student = r.applyLeadCoach(&res, cands, coach, student)
	}

	res.Coach = models.StrPtr(coach)
	res.Student = models.StrPtr(student)
	if res.Coach == nil {
		res.addReason(models.ReviewCoachUnresolved)
	}
	if res.Student == nil {
		res.addReason(models.ReviewStudentUnresolved)
	}
	res.NeedsReview = len(res.Reasons) > 0
	return res
}

// applyLeadCoach buổi game plan luôn do lead coach dẫn; lead coach không thể là student
func (r *Resolver) applyLeadCoach(res *Resolution, cands []candidate, coach, student string) (string, string) {
	lead := r.roster.LeadCoach
	if lead == "" {
		res.addReason(models.ReviewLeadCoachMissing)
		return coach, student
	}
	if coach != lead {
		res.LeadCoachApplied = true
	}
	if r.roster.IsLeadCoach(student) {
		student = ""
	}
	if student == "" {
		// Ưu tiên student đã biết, sau đó mới tới tên lạ không phải coach
		for _, c := range cands {
			if c.student && !r.roster.IsLeadCoach(c.name) {
				student = c.name
				break
			}
		}
		if student == "" {
			for _, c := range cands {
				if !c.coach && !c.student {
					student = c.name
					res.addReason(models.ReviewUnknownName + ":" + c.name)
					break
				}
			}
		}
	}
	return lead, student
}

// Names trả về coach và student dạng chuỗi (rỗng nếu nil)
func (res Resolution) Names() (string, string) {
	return models.StrValue(res.Coach), models.StrValue(res.Student)
}

func (res *Resolution) addReason(reason string) {
	for _, r := range res.Reasons {
		if r == reason {
			return
		}
	}
	res.Reasons = append(res.Reasons, reason)
}
