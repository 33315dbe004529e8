package reconcile

import (
	"fmt"
	"strings"
	"time"

	"coach_reconcile/internal/database"
	"coach_reconcile/internal/reconcile/classifier"
	"coach_reconcile/internal/reconcile/dedupe"
	"coach_reconcile/internal/reconcile/resolver"
	"coach_reconcile/internal/reconcile/tokenizer"
	"coach_reconcile/internal/utility"
)

// State trạng thái của một lần chạy
type State string

const (
	StateFetching             State = "Fetching"
	StateTokenizing           State = "Tokenizing"
	StateResolving            State = "Resolving"
	StateClassifying          State = "Classifying"
	StateDeduplicationPending State = "DeduplicationPending"
	StateBackingUp            State = "BackingUp"
	StateCommitting           State = "Committing"
	StateVerifying            State = "Verifying"
	StateDone                 State = "Done"
	StateFailed               State = "Failed"
	StateCancelled            State = "Cancelled"
)

// steps thứ tự các bước, mỗi bước xử lý xong toàn bộ batch mới sang bước sau
var steps = []State{
	StateFetching,
	StateTokenizing,
	StateResolving,
	StateClassifying,
	StateDeduplicationPending,
	StateBackingUp,
	StateCommitting,
	StateVerifying,
}

// Terminal trạng thái kết thúc
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// next bước tiếp theo sau s; dry-run dừng sau khi tính xong diff
func (s State) next(apply bool) State {
	if s == "" {
		return StateFetching
	}
	if s == StateDeduplicationPending && !apply {
		return StateDone
	}
	for i, st := range steps {
		if st == s && i+1 < len(steps) {
			return steps[i+1]
		}
	}
	return StateDone
}

// Pass nhóm sửa lỗi có thể bật/tắt
type Pass string

const (
	PassNames    Pass = "names"    // parsedCoach, parsedStudent, dataSource
	PassClassify Pass = "classify" // category, sessionType
	PassSession  Pass = "session"  // parsedWeek, sessionDate
	PassDedupe   Pass = "dedupe"   // gộp/xoá record trùng
)

// AllPasses mặc định chạy tất cả
var AllPasses = []Pass{PassNames, PassClassify, PassSession, PassDedupe}

// ParsePasses "names,classify" -> []Pass; rỗng = tất cả
func ParsePasses(values []string) ([]Pass, error) {
	var out []Pass
	seen := make(map[Pass]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			p := Pass(part)
			valid := false
			for _, known := range AllPasses {
				if p == known {
					valid = true
				}
			}
			if !valid {
				return nil, fmt.Errorf("pass không hợp lệ: %q", part)
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return append([]Pass(nil), AllPasses...), nil
	}
	return out, nil
}

// ChunkStatus trạng thái của một chunk ghi
type ChunkStatus string

const (
	ChunkPending      ChunkStatus = "pending"
	ChunkBackedUp     ChunkStatus = "backed-up"
	ChunkBackupFailed ChunkStatus = "backup-failed"
	ChunkCommitted    ChunkStatus = "committed"
	ChunkFailed       ChunkStatus = "failed"
	ChunkEmpty        ChunkStatus = "empty" // Mọi record trong chunk đều conflict
)

// ChunkState một nhóm thay đổi được backup và commit atomic cùng nhau
type ChunkState struct {
	Index        int                  `json:"index"`
	IDs          []string             `json:"ids"`
	Status       ChunkStatus          `json:"status"`
	Fingerprints map[string]string    `json:"fingerprints,omitempty"` // Fingerprint lúc backup
	UpdateTimes  map[string]time.Time `json:"updateTimes,omitempty"`  // Thời điểm sửa cuối store báo ở lần đọc gần nhất
	BackedUpAt   time.Time            `json:"backedUpAt,omitempty"`
	CommittedAt  time.Time            `json:"committedAt,omitempty"`
	Conflicts    []string             `json:"conflicts,omitempty"`
	Attempts     int                  `json:"attempts,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Change thay đổi dự kiến cho một record (diff máy đọc được)
type Change struct {
	ID         string                 `json:"id"`
	Kind       database.OpKind        `json:"kind"`
	Fields     map[string]interface{} `json:"fields,omitempty"` // Giá trị mới, nil = xoá field
	Before     map[string]interface{} `json:"before,omitempty"` // Giá trị cũ của các field đổi
	MergedInto string                 `json:"mergedInto,omitempty"`
}

// InvalidRecord document bị loại ở biên đọc
type InvalidRecord struct {
	ID     string   `json:"id"`
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

// RunState toàn bộ trạng thái tích luỹ của run, được checkpoint sau mỗi bước.
// Docs và Tokens được checkpoint riêng một lần ở bước tạo ra chúng.
type RunState struct {
	RunID      string    `json:"runId"`
	Collection string    `json:"collection"`
	Apply      bool      `json:"apply"`
	Passes     []Pass    `json:"passes"`
	Step       State     `json:"step"`  // Bước cuối đã hoàn tất
	State      State     `json:"state"` // Trạng thái hiện tại
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ScannedAt  time.Time `json:"scannedAt,omitempty"`
	Error      string    `json:"error,omitempty"`

	// Fetching
	Scanned      int                    `json:"scanned"`
	Docs         []database.RawDocument `json:"-"`
	Fingerprints map[string]string      `json:"fingerprints,omitempty"`
	Invalid      []InvalidRecord        `json:"invalid,omitempty"`
	Issues       map[string][]string    `json:"issues,omitempty"`

	// Tokenizing
	Tokens      map[string]*tokenizer.Result `json:"-"`
	ParseErrors map[string]string            `json:"parseErrors,omitempty"`

	// Resolving / Classifying
	Resolutions   map[string]resolver.Resolution `json:"resolutions,omitempty"`
	Classes       map[string]classifier.Result   `json:"classes,omitempty"`
	GamePlanDates map[string]string              `json:"gamePlanDates,omitempty"` // student -> ngày game plan sớm nhất

	// DeduplicationPending
	Duplicates *dedupe.Result `json:"duplicates,omitempty"`
	Changes    []Change       `json:"changes,omitempty"`
	Flagged    []string       `json:"flagged,omitempty"` // Record cần người xem lại sau khi sửa
	Chunks     []ChunkState   `json:"chunks,omitempty"`

	// Verifying
	BackupCollection string   `json:"backupCollection,omitempty"`
	VerifyMismatches []string `json:"verifyMismatches,omitempty"`

	// id -> vị trí trong Changes / Chunks, survivor -> thành viên nhóm; dựng lại khi cần
	changeIdx map[string]int
	chunkIdx  map[string]int
	groupIdx  map[string][]string
}

func (s *RunState) hasPass(p Pass) bool {
	for _, x := range s.Passes {
		if x == p {
			return true
		}
	}
	return false
}

func (s *RunState) change(id string) *Change {
	if s.changeIdx == nil {
		s.changeIdx = make(map[string]int, len(s.Changes))
		for i := range s.Changes {
			s.changeIdx[s.Changes[i].ID] = i
		}
	}
	i, ok := s.changeIdx[id]
	if !ok {
		return nil
	}
	return &s.Changes[i]
}

// chunkOf chunk chứa thay đổi của id
func (s *RunState) chunkOf(id string) (*ChunkState, bool) {
	if s.chunkIdx == nil {
		s.chunkIdx = make(map[string]int)
		for i := range s.Chunks {
			for _, cid := range s.Chunks[i].IDs {
				s.chunkIdx[cid] = i
			}
		}
	}
	i, ok := s.chunkIdx[id]
	if !ok {
		return nil, false
	}
	return &s.Chunks[i], true
}

// resetIndex gọi sau khi Changes/Chunks được tính lại
func (s *RunState) resetIndex() {
	s.changeIdx = nil
	s.chunkIdx = nil
	s.groupIdx = nil
}

// groupKey survivor của nhóm trùng chứa id; record không bị xoá là survivor của chính nó
func (s *RunState) groupKey(id string) string {
	if ch := s.change(id); ch != nil && ch.Kind == database.OpDelete && ch.MergedInto != "" {
		return ch.MergedInto
	}
	return id
}

// groupMembers các record có thay đổi thuộc nhóm trùng của survivor, kể cả survivor
func (s *RunState) groupMembers(survivor string) []string {
	if s.groupIdx == nil {
		s.groupIdx = make(map[string][]string)
		for _, ch := range s.Changes {
			key := s.groupKey(ch.ID)
			s.groupIdx[key] = append(s.groupIdx[key], ch.ID)
		}
	}
	return s.groupIdx[survivor]
}

// outsideSurvivors survivor của các bản trùng trong ids mà bản thân không nằm trong ids
func (s *RunState) outsideSurvivors(ids []string) []string {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	var out []string
	for _, id := range ids {
		if key := s.groupKey(id); !in[key] {
			out = append(out, key)
		}
	}
	return utility.SortedUnique(out)
}
