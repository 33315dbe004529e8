package reconcile

import (
	"sort"
	"time"

	"coach_reconcile/internal/database"
	"coach_reconcile/internal/reconcile/dedupe"
)

// Counts số liệu tóm tắt của một lần chạy
type Counts struct {
	Scanned        int `json:"scanned"`
	Invalid        int `json:"invalid"`
	PlannedUpdates int `json:"plannedUpdates"`
	PlannedDeletes int `json:"plannedDeletes"`
	Fixed          int `json:"fixed"`   // Update đã commit
	Deleted        int `json:"deleted"` // Bản trùng đã xoá
	Flagged        int `json:"flagged"`
	Ambiguous      int `json:"ambiguous"`
	LowConfidence  int `json:"lowConfidence"`
	ParseErrors    int `json:"parseErrors"`
	Failed         int `json:"failed"`
	Conflicts      int `json:"conflicts"`
	NotProcessed   int `json:"notProcessed"`
	Mismatches     int `json:"mismatches"`
}

// Report báo cáo máy đọc được, luôn được tạo kể cả khi run thất bại
type Report struct {
	RunID            string    `json:"runId"`
	Collection       string    `json:"collection"`
	Apply            bool      `json:"apply"`
	Passes           []Pass    `json:"passes"`
	State            State     `json:"state"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	BackupCollection string    `json:"backupCollection,omitempty"`

	Counts Counts `json:"counts"`

	Changes          []Change           `json:"changes"`
	Invalid          []InvalidRecord    `json:"invalid,omitempty"`
	Groups           []dedupe.Group     `json:"groups,omitempty"`
	Ambiguous        []dedupe.Ambiguous `json:"ambiguous,omitempty"`
	Flagged          []string           `json:"flagged,omitempty"`
	FailedIDs        []string           `json:"failedIds,omitempty"`
	ConflictIDs      []string           `json:"conflictIds,omitempty"`
	NotProcessedIDs  []string           `json:"notProcessedIds,omitempty"`
	VerifyMismatches []string           `json:"verifyMismatches,omitempty"`
}

// BuildReport tổng hợp báo cáo từ trạng thái run
func BuildReport(s *RunState) *Report {
	r := &Report{
		RunID:            s.RunID,
		Collection:       s.Collection,
		Apply:            s.Apply,
		Passes:           s.Passes,
		State:            s.State,
		Error:            s.Error,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.UpdatedAt,
		BackupCollection: s.BackupCollection,
		Changes:          s.Changes,
		Invalid:          s.Invalid,
		Flagged:          s.Flagged,
		VerifyMismatches: s.VerifyMismatches,
	}
	if r.Changes == nil {
		r.Changes = []Change{}
	}
	if s.Duplicates != nil {
		r.Groups = s.Duplicates.Groups
		r.Ambiguous = s.Duplicates.Ambiguous
	}

	for _, ch := range s.Changes {
		if ch.Kind == database.OpDelete {
			r.Counts.PlannedDeletes++
		} else {
			r.Counts.PlannedUpdates++
		}
	}

	for _, c := range s.Chunks {
		r.ConflictIDs = append(r.ConflictIDs, c.Conflicts...)
		ids := c.pendingIDs()
		switch c.Status {
		case ChunkCommitted:
			for _, id := range ids {
				if ch := s.change(id); ch != nil && ch.Kind == database.OpDelete {
					r.Counts.Deleted++
				} else {
					r.Counts.Fixed++
				}
			}
		case ChunkFailed, ChunkBackupFailed:
			r.FailedIDs = append(r.FailedIDs, ids...)
		case ChunkPending, ChunkBackedUp:
			if s.Apply && s.State != StateDone {
				r.NotProcessedIDs = append(r.NotProcessedIDs, ids...)
			}
		}
	}
	sort.Strings(r.ConflictIDs)
	sort.Strings(r.FailedIDs)
	sort.Strings(r.NotProcessedIDs)

	for _, c := range s.Classes {
		if c.LowConfidence {
			r.Counts.LowConfidence++
		}
	}
	r.Counts.Scanned = s.Scanned
	r.Counts.Invalid = len(s.Invalid)
	r.Counts.Flagged = len(s.Flagged)
	r.Counts.Ambiguous = len(r.Ambiguous)
	r.Counts.ParseErrors = len(s.ParseErrors)
	r.Counts.Failed = len(r.FailedIDs)
	r.Counts.Conflicts = len(r.ConflictIDs)
	r.Counts.NotProcessed = len(r.NotProcessedIDs)
	r.Counts.Mismatches = len(r.VerifyMismatches)
	return r
}
