// Package tokenizer tách filename/title của video thành các token có kiểu.
// Không resolve tên: việc đó thuộc về resolver.
package tokenizer

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/models"
)

// Type kiểu đoán được của token
type Type string

const (
	TypeSource       Type = "source-letter"
	TypeName         Type = "name-candidate"
	TypeWeek         Type = "week-marker"
	TypeDate         Type = "date"
	TypeCategory     Type = "category-hint"
	TypeUnrecognized Type = "unrecognized"
)

// Origin token lấy từ filename hay title
type Origin string

const (
	OriginFilename Origin = "filename"
	OriginTitle    Origin = "title"
)

// Tên các field positional của filename chuẩn
const (
	FieldSource  = "source"
	FieldCoach   = "coach"
	FieldStudent = "student"
	FieldWeek    = "week"
	FieldDate    = "date"
)

// Token một mảnh của filename/title
type Token struct {
	Raw      string `json:"raw"`
	Type     Type   `json:"type"`
	Value    string `json:"value"`           // Giá trị chuẩn hoá (số tuần, ngày 2006-01-02, ...)
	Origin   Origin `json:"origin"`          // filename | title
	Position int    `json:"position"`        // Vị trí trong chuỗi gốc
	Field    string `json:"field,omitempty"` // Chỉ có khi filename khớp pattern chuẩn
}

// Result kết quả tách token
type Result struct {
	Tokens    []Token `json:"tokens"`
	Canonical bool    `json:"canonical"` // Filename khớp Category_Source_Coach_Student_WkNN_Date_...
}

var (
	weekExact  = regexp.MustCompile(`(?i)^(?:wk|week|w)\s*[-#]?\s*0*(\d{1,3})$`)
	weekInside = regexp.MustCompile(`(?i)\b(?:wk|week)\s*[-#]?\s*0*(\d{1,3})\b`)
	nameLike   = regexp.MustCompile(`^[\p{L}][\p{L}'.\-]*$`)
	dateLike   = regexp.MustCompile(`^\d{8}$|^\d{1,4}[-./]\d{1,2}[-./]\d{1,4}$|[A-Za-z]{3,9}\.?\s*\d{1,2},?\s*\d{4}`)
	extLike    = regexp.MustCompile(`^\.[A-Za-z][A-Za-z0-9]{1,3}$`)
)

// categoryWords các từ gợi ý category xuất hiện trong filename/title (đã chuẩn hoá)
var categoryWords = map[string]bool{
	"coaching": true, "session": true, "call": true,
	"gameplan": true, "game": true, "plan": true,
	"execution": true, "exec": true, "doc": true, "executiondoc": true,
	"checkin": true,
	"168": true, "hour": true, "hours": true, "168hr": true, "168hour": true, "168hours": true, "scheduling": true, "schedule": true,
	"misc": true, "miscellaneous": true,
}

// Tokenize tách filename và title; cả hai rỗng thì trả về ErrParse
func Tokenize(filename, title string) (*Result, error) {
	filename = strings.TrimSpace(filename)
	title = strings.TrimSpace(title)
	if filename == "" && title == "" {
		return nil, common.ErrParse
	}

	res := &Result{}
	if filename != "" {
		toks, canonical := tokenizeFilename(filename)
		res.Tokens = append(res.Tokens, toks...)
		res.Canonical = canonical
	}
	if title != "" {
		res.Tokens = append(res.Tokens, tokenizeTitle(title)...)
	}
	return res, nil
}

// tokenizeFilename khớp pattern positional trước, không khớp thì đoán kiểu từng token
func tokenizeFilename(filename string) ([]Token, bool) {
	base := filename
	if ext := filepath.Ext(base); extLike.MatchString(ext) {
		base = strings.TrimSuffix(base, ext)
	}

	parts := strings.Split(base, "_")
	raw := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			raw = append(raw, p)
		}
	}

	if toks, ok := matchCanonical(raw); ok {
		return toks, true
	}

	toks := make([]Token, 0, len(raw))
	for i, p := range raw {
		toks = append(toks, guess(p, OriginFilename, i))
	}
	return toks, false
}

// matchCanonical Category[_Category...]_Source_Coach_Student_WkNN_Date[_...]
func matchCanonical(raw []string) ([]Token, bool) {
	k := 0
	for k < len(raw) && isCategoryWord(raw[k]) {
		k++
	}
	if k == 0 || len(raw) < k+5 {
		return nil, false
	}

	src, coach, student, week, date := raw[k], raw[k+1], raw[k+2], raw[k+3], raw[k+4]
	if !isSourceLetter(src) || !nameLike.MatchString(coach) || !nameLike.MatchString(student) {
		return nil, false
	}
	w, ok := parseWeek(week)
	if !ok {
		return nil, false
	}
	d, ok := parseDate(date)
	if !ok {
		return nil, false
	}

	toks := make([]Token, 0, len(raw))
	for i := 0; i < k; i++ {
		toks = append(toks, Token{Raw: raw[i], Type: TypeCategory, Value: categoryKey(raw[i]), Origin: OriginFilename, Position: i})
	}
	toks = append(toks,
		Token{Raw: src, Type: TypeSource, Value: strings.ToUpper(src), Origin: OriginFilename, Position: k, Field: FieldSource},
		Token{Raw: coach, Type: TypeName, Value: coach, Origin: OriginFilename, Position: k + 1, Field: FieldCoach},
		Token{Raw: student, Type: TypeName, Value: student, Origin: OriginFilename, Position: k + 2, Field: FieldStudent},
		Token{Raw: week, Type: TypeWeek, Value: w, Origin: OriginFilename, Position: k + 3, Field: FieldWeek},
		Token{Raw: date, Type: TypeDate, Value: d, Origin: OriginFilename, Position: k + 4, Field: FieldDate},
	)
	for i := k + 5; i < len(raw); i++ {
		toks = append(toks, Token{Raw: raw[i], Type: TypeUnrecognized, Value: raw[i], Origin: OriginFilename, Position: i})
	}
	return toks, true
}

// tokenizeTitle tách theo " - " rồi " & ": "Jenny & Ananyaa - Week 1"
func tokenizeTitle(title string) []Token {
	var toks []Token
	pos := 0
	for si, seg := range strings.Split(title, " - ") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		if strings.Contains(seg, " & ") || strings.Contains(seg, "&") {
			for _, n := range strings.Split(seg, "&") {
				if n = strings.TrimSpace(n); n == "" {
					continue
				}
				toks = append(toks, guess(n, OriginTitle, pos))
				pos++
			}
			continue
		}

		t := guess(seg, OriginTitle, pos)
		switch {
		case t.Type != TypeName && t.Type != TypeUnrecognized:
			toks = append(toks, t)
			pos++
			continue
		case t.Type == TypeName && si == 0 && !strings.Contains(seg, " "):
			// Đoạn đầu một từ vẫn có thể là tên ("Jenny - Week 3")
			toks = append(toks, t)
			pos++
			continue
		}

		// Đoạn mô tả: tìm week marker và từ khoá category bên trong
		if m := weekInside.FindStringSubmatch(seg); m != nil {
			toks = append(toks, Token{Raw: m[0], Type: TypeWeek, Value: trimZeros(m[1]), Origin: OriginTitle, Position: pos})
			pos++
		}
		if key := categoryKey(seg); containsCategoryWord(seg) {
			toks = append(toks, Token{Raw: seg, Type: TypeCategory, Value: key, Origin: OriginTitle, Position: pos})
		} else {
			toks = append(toks, Token{Raw: seg, Type: TypeUnrecognized, Value: seg, Origin: OriginTitle, Position: pos})
		}
		pos++
	}
	return toks
}

// guess đoán kiểu của một token đơn lẻ
func guess(s string, origin Origin, pos int) Token {
	t := Token{Raw: s, Type: TypeUnrecognized, Value: s, Origin: origin, Position: pos}
	switch {
	case isSourceLetter(s):
		t.Type, t.Value = TypeSource, strings.ToUpper(s)
	case isCategoryWord(s):
		t.Type, t.Value = TypeCategory, categoryKey(s)
	default:
		if w, ok := parseWeek(s); ok {
			t.Type, t.Value = TypeWeek, w
		} else if d, ok := parseDate(s); ok {
			t.Type, t.Value = TypeDate, d
		} else if isNameLike(s) {
			t.Type, t.Value = TypeName, s
		}
	}
	return t
}

func isSourceLetter(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// isNameLike tối đa hai từ chữ cái ("Mary Ann")
func isNameLike(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 || len(words) > 2 {
		return false
	}
	for _, w := range words {
		if !nameLike.MatchString(w) {
			return false
		}
	}
	return true
}

func isCategoryWord(s string) bool {
	k := categoryKey(s)
	return k != "" && categoryWords[k]
}

func containsCategoryWord(s string) bool {
	for _, w := range strings.Fields(s) {
		if isCategoryWord(w) {
			return true
		}
	}
	return isCategoryWord(s)
}

// categoryKey chữ thường, bỏ ký tự không phải chữ/số
func categoryKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseWeek(s string) (string, bool) {
	m := weekExact.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return trimZeros(m[1]), true
}

func trimZeros(digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}
	return strconv.Itoa(n)
}

// parseDate chỉ nhận chuỗi có dạng ngày rõ ràng, tránh dateparse nhận nhầm số đơn
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !dateLike.MatchString(s) {
		return "", false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return "", false
	}
	return t.Format(models.SessionDateLayout), true
}

// Fields trả về các field positional khi filename khớp pattern chuẩn
func (r *Result) Fields() map[string]string {
	out := make(map[string]string)
	for _, t := range r.Tokens {
		if t.Field != "" {
			out[t.Field] = t.Value
		}
	}
	return out
}

// NameTokens các token ứng viên tên (kể cả source-letter) theo thứ tự.
// Filename chuẩn được ưu tiên, sau đó là title, cuối cùng là filename không chuẩn.
func (r *Result) NameTokens() []Token {
	pick := func(origin Origin) []Token {
		var out []Token
		for _, t := range r.Tokens {
			if t.Origin == origin && (t.Type == TypeName || t.Type == TypeSource) {
				out = append(out, t)
			}
		}
		return out
	}
	if r.Canonical {
		return pick(OriginFilename)
	}
	if toks := pick(OriginTitle); len(toks) > 0 {
		return toks
	}
	return pick(OriginFilename)
}

// Week số tuần, ưu tiên filename
func (r *Result) Week() string {
	return r.first(TypeWeek)
}

// Date ngày buổi học (2006-01-02), ưu tiên filename
func (r *Result) Date() string {
	return r.first(TypeDate)
}

func (r *Result) first(typ Type) string {
	for _, t := range r.Tokens {
		if t.Type == typ && t.Origin == OriginFilename {
			return t.Value
		}
	}
	for _, t := range r.Tokens {
		if t.Type == typ {
			return t.Value
		}
	}
	return ""
}

// CategoryHints giá trị chuẩn hoá của các token category-hint
func (r *Result) CategoryHints() []string {
	var out []string
	for _, t := range r.Tokens {
		if t.Type == TypeCategory {
			out = append(out, t.Value)
		}
	}
	return out
}

// HasHint có hint nào trong keys không
func (r *Result) HasHint(keys ...string) bool {
	for _, h := range r.CategoryHints() {
		for _, k := range keys {
			if h == k || strings.Contains(h, k) {
				return true
			}
		}
	}
	return false
}
