// Package dedupe gom nhóm record trùng và chọn survivor theo quy tắc cố định.
package dedupe

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// Các loại khoá gom nhóm
const (
	KeyDriveID  = "driveId"
	KeyIdentity = "identity"
)

// Candidate dữ liệu tối thiểu của một record để phát hiện trùng
type Candidate struct {
	ID        string
	DriveID   string
	Filename  string
	Title     string
	Coach     string
	Student   string
	CreatedAt time.Time
}

// Group một nhóm trùng đã chọn survivor
type Group struct {
	Kind       string   `json:"kind"` // driveId | identity
	Key        string   `json:"key"`
	Survivor   string   `json:"survivor"`
	Duplicates []string `json:"duplicates"` // Các record sẽ bị xoá (sau khi backup)
	DriveID    string   `json:"driveId,omitempty"`
}

// Ambiguous nhóm giống nội dung nhưng khác file, không tự merge
type Ambiguous struct {
	Key      string   `json:"key"`
	IDs      []string `json:"ids"`
	DriveIDs []string `json:"driveIds"`
}

// Result kết quả phát hiện trùng
type Result struct {
	Groups    []Group     `json:"groups"`
	Ambiguous []Ambiguous `json:"ambiguous"`
}

// Detect gom nhóm theo driveId, sau đó theo (coach, student, title đã chuẩn hoá)
// cho các record không có driveId và survivor của bước trước.
// Kết quả không phụ thuộc thứ tự đầu vào.
func Detect(cands []Candidate) Result {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var res Result

	// Bước 1: driveId
	byDrive := make(map[string][]Candidate)
	var driveKeys []string
	var reps []Candidate
	for _, c := range sorted {
		if c.DriveID == "" {
			reps = append(reps, c)
			continue
		}
		if _, ok := byDrive[c.DriveID]; !ok {
			driveKeys = append(driveKeys, c.DriveID)
		}
		byDrive[c.DriveID] = append(byDrive[c.DriveID], c)
	}
	sort.Strings(driveKeys)

	// merged[survivorID] = các id đã bị gộp vào survivor ở bước 1
	merged := make(map[string][]string)
	for _, key := range driveKeys {
		members := byDrive[key]
		survivor := pickSurvivor(members)
		reps = append(reps, survivor)
		if len(members) < 2 {
			continue
		}
		for _, m := range members {
			if m.ID != survivor.ID {
				merged[survivor.ID] = append(merged[survivor.ID], m.ID)
			}
		}
	}

	// Bước 2: (coach, student, title)
	byIdentity := make(map[string][]Candidate)
	var identityKeys []string
	for _, c := range reps {
		key, ok := IdentityKey(c)
		if !ok {
			continue
		}
		if _, exists := byIdentity[key]; !exists {
			identityKeys = append(identityKeys, key)
		}
		byIdentity[key] = append(byIdentity[key], c)
	}
	sort.Strings(identityKeys)

	identityMerged := make(map[string]bool)
	for _, key := range identityKeys {
		members := byIdentity[key]
		if len(members) < 2 {
			continue
		}

		drives := distinctDriveIDs(members)
		if len(drives) >= 2 {
			ids := make([]string, 0, len(members))
			for _, m := range members {
				ids = append(ids, m.ID)
			}
			sort.Strings(ids)
			res.Ambiguous = append(res.Ambiguous, Ambiguous{Key: key, IDs: ids, DriveIDs: drives})
			continue
		}

		survivor := pickSurvivor(members)
		g := Group{Kind: KeyIdentity, Key: key, Survivor: survivor.ID}
		for _, m := range members {
			identityMerged[m.ID] = true
			g.Duplicates = append(g.Duplicates, merged[m.ID]...)
			if m.ID != survivor.ID {
				g.Duplicates = append(g.Duplicates, m.ID)
			}
		}
		if survivor.DriveID == "" && len(drives) == 1 {
			g.DriveID = drives[0]
		}
		sort.Strings(g.Duplicates)
		res.Groups = append(res.Groups, g)
	}

	for _, key := range driveKeys {
		survivor := pickSurvivor(byDrive[key])
		if len(merged[survivor.ID]) == 0 || identityMerged[survivor.ID] {
			continue
		}
		dups := append([]string(nil), merged[survivor.ID]...)
		sort.Strings(dups)
		res.Groups = append(res.Groups, Group{Kind: KeyDriveID, Key: key, Survivor: survivor.ID, Duplicates: dups})
	}

	sort.Slice(res.Groups, func(i, j int) bool { return res.Groups[i].Survivor < res.Groups[j].Survivor })
	return res
}

// pickSurvivor createdAt sớm nhất (không có createdAt xếp cuối), sau đó filename nhỏ nhất, sau đó id
func pickSurvivor(members []Candidate) Candidate {
	best := members[0]
	for _, m := range members[1:] {
		if before(m, best) {
			best = m
		}
	}
	return best
}

func before(a, b Candidate) bool {
	switch {
	case a.CreatedAt.IsZero() != b.CreatedAt.IsZero():
		return !a.CreatedAt.IsZero()
	case !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.Before(b.CreatedAt)
	case a.Filename != b.Filename:
		return a.Filename < b.Filename
	default:
		return a.ID < b.ID
	}
}

func distinctDriveIDs(members []Candidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range members {
		if m.DriveID != "" && !seen[m.DriveID] {
			seen[m.DriveID] = true
			out = append(out, m.DriveID)
		}
	}
	sort.Strings(out)
	return out
}

// IdentityKey khoá phụ; cần title và ít nhất một trong coach/student
func IdentityKey(c Candidate) (string, bool) {
	title := NormalizeTitle(c.Title)
	coach := strings.ToLower(strings.TrimSpace(c.Coach))
	student := strings.ToLower(strings.TrimSpace(c.Student))
	if title == "" || (coach == "" && student == "") {
		return "", false
	}
	return coach + "|" + student + "|" + title, true
}

// NormalizeTitle chữ thường, gộp ký tự không phải chữ/số thành một khoảng trắng
func NormalizeTitle(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// DeletedIDs tất cả id sẽ bị xoá
func (r Result) DeletedIDs() []string {
	var out []string
	for _, g := range r.Groups {
		out = append(out, g.Duplicates...)
	}
	sort.Strings(out)
	return out
}
