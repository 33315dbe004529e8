package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach_reconcile/internal/checkpoint"
	"coach_reconcile/internal/common"
	"coach_reconcile/internal/database"
	"coach_reconcile/internal/logger"
	"coach_reconcile/internal/models"
	"coach_reconcile/internal/roster"
)

const coll = "videos"

var scanTime = time.Date(2024, 12, 20, 8, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func testRoster(t *testing.T) *roster.Roster {
	t.Helper()
	r, err := roster.New("Jenny",
		[]string{"Jenny", "Marcus", "Priya"},
		[]string{"Ananyaa", "Ethan", "Sofia", "Liam"},
		[]string{"A", "B", "C"},
		map[string]string{"Jen": "Jenny"},
	)
	require.NoError(t, err)
	return r
}

type harness struct {
	store  *database.MemoryStore
	cps    checkpoint.Store
	now    time.Time
	sleeps []time.Duration
}

func newHarness(maxOps int) *harness {
	return &harness{
		store: database.NewMemoryStore(maxOps),
		cps:   checkpoint.NewMemoryStore(),
		now:   scanTime,
	}
}

func (h *harness) driver(t *testing.T, opts Options) *Driver {
	t.Helper()
	opts.Collection = coll
	opts.Now = func() time.Time { return h.now }
	opts.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	if opts.RetryBase == 0 {
		opts.RetryBase = 10 * time.Millisecond
		opts.RetryMax = time.Second
	}
	d, err := New(Deps{
		Store:       h.store,
		Checkpoints: h.cps,
		Roster:      testRoster(t),
		Log:         logger.Discard(),
		Audit:       logger.Discard(),
	}, opts)
	require.NoError(t, err)
	return d
}

func (h *harness) doc(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	d, ok := h.store.Get(coll, id)
	require.True(t, ok, "thiếu document %s", id)
	return d
}

// seedBasic ba record cần sửa, không trùng nhau
func (h *harness) seedBasic() {
	h.store.Put(coll, "r1", map[string]interface{}{
		"filename":      "Coaching_GamePlan_B_Jenny_Ananyaa_Wk1_2024-09-06_M_xyz",
		"title":         "Jenny & Ananyaa - Game Plan",
		"parsedCoach":   "B",
		"parsedStudent": "Jenny",
		"createdAt":     day(2024, 9, 6),
	})
	h.store.Put(coll, "r2", map[string]interface{}{
		"title":     "Marcus & Ethan - Check-in",
		"createdAt": day(2024, 10, 1),
	})
	h.store.Put(coll, "r3", map[string]interface{}{
		"title":       "Priya & Sofia - Execution Doc",
		"parsedCoach": "C",
		"createdAt":   day(2024, 10, 2),
	})
}

func changeByID(r *Report, id string) *Change {
	for i := range r.Changes {
		if r.Changes[i].ID == id {
			return &r.Changes[i]
		}
	}
	return nil
}

func TestDryRunDoesNotWrite(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()

	report, err := h.driver(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.False(t, report.Apply)
	assert.Equal(t, 3, report.Counts.Scanned)
	assert.Equal(t, 3, report.Counts.PlannedUpdates)
	assert.Zero(t, report.Counts.Fixed)

	assert.Zero(t, h.store.CommitCalls)
	assert.Zero(t, h.store.BackupCalls)
	assert.Equal(t, "B", h.doc(t, "r1")["parsedCoach"])

	ch := changeByID(report, "r1")
	require.NotNil(t, ch)
	assert.Equal(t, "Jenny", ch.Fields[models.FieldParsedCoach])
	assert.Equal(t, "B", ch.Before[models.FieldParsedCoach])
}

func TestApplyFixesCanonicalFilename(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()

	report, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 3, report.Counts.Fixed)
	assert.Empty(t, report.VerifyMismatches)

	doc := h.doc(t, "r1")
	assert.Equal(t, "Jenny", doc["parsedCoach"])
	assert.Equal(t, "Ananyaa", doc["parsedStudent"])
	assert.Equal(t, "B", doc["dataSource"])
	assert.Equal(t, "1", doc["parsedWeek"])
	assert.Equal(t, "2024-09-06", doc["sessionDate"])
	assert.Equal(t, string(models.CategoryGamePlan), doc["category"])
	assert.Equal(t, string(models.CategoryGamePlan), doc["sessionType"])
	assert.Equal(t, models.DataVersion, doc["dataVersion"])
	assert.Equal(t, scanTime, doc["fixedAt"])
	assert.Nil(t, doc["needsReview"])
	// filename/title không bao giờ bị sửa
	assert.Equal(t, "Coaching_GamePlan_B_Jenny_Ananyaa_Wk1_2024-09-06_M_xyz", doc["filename"])

	r3 := h.doc(t, "r3")
	assert.Equal(t, "Priya", r3["parsedCoach"])
	assert.Equal(t, "Sofia", r3["parsedStudent"])
	assert.Equal(t, string(models.CategoryExecutionDoc), r3["category"])
	assert.Equal(t, string(models.CategoryCoachingSession), r3["sessionType"])
	assert.Nil(t, r3["dataSource"])

	// Backup giữ nguyên bản gốc
	backupColl := database.BackupCollection(coll, scanTime)
	assert.Equal(t, backupColl, report.BackupCollection)
	b, ok := h.store.Get(backupColl, database.BackupDocID("r1", report.RunID))
	require.True(t, ok)
	assert.Equal(t, "B", b["parsedCoach"])
	assert.Equal(t, "r1", b[models.FieldOriginalID])
	assert.Equal(t, report.RunID, b[models.FieldBackupRunID])
}

func TestSecondRunIsNoop(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	h.store.Put(coll, "dup1", map[string]interface{}{
		"driveId": "abc123", "title": "Liam & Marcus - Coaching Session", "createdAt": day(2024, 9, 1),
	})
	h.store.Put(coll, "dup2", map[string]interface{}{
		"driveId": "abc123", "title": "Marcus & Liam - coaching session", "createdAt": day(2024, 9, 3),
	})
	h.store.Put(coll, "p1", map[string]interface{}{"parsedCoach": "A", "createdAt": day(2024, 9, 2)})
	h.store.Put(coll, "u1", map[string]interface{}{"title": "Zed & Ethan - Coaching Session", "createdAt": day(2024, 9, 4)})

	first, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, first.State)
	require.NotEmpty(t, first.Changes)
	commits := h.store.CommitCalls

	second, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, second.State)
	assert.Empty(t, second.Changes)
	assert.Empty(t, second.Groups)
	assert.Equal(t, commits, h.store.CommitCalls)
	assert.Equal(t, first.Counts.Flagged, second.Counts.Flagged)
}

func TestParseErrorAndUnknownNameFlagged(t *testing.T) {
	h := newHarness(0)
	h.store.Put(coll, "p1", map[string]interface{}{"parsedCoach": "A", "createdAt": day(2024, 9, 2)})
	h.store.Put(coll, "u1", map[string]interface{}{"title": "Zed & Ethan - Coaching Session", "createdAt": day(2024, 9, 4)})

	report, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts.ParseErrors)
	assert.Equal(t, []string{"p1", "u1"}, report.Flagged)

	p1 := h.doc(t, "p1")
	assert.Nil(t, p1["parsedCoach"], "data source marker phải bị xoá khỏi field tên")
	assert.Equal(t, true, p1["needsReview"])
	assert.Equal(t, []string{models.ReviewCoachUnresolved, models.ReviewParseError, models.ReviewStudentUnresolved}, p1["reviewReasons"])

	u1 := h.doc(t, "u1")
	assert.Equal(t, "Zed", u1["parsedCoach"])
	assert.Equal(t, "Ethan", u1["parsedStudent"])
	assert.Equal(t, []string{models.ReviewUnknownName + ":Zed"}, u1["reviewReasons"])
}

func TestDuplicateDriveIDMergedWithBackup(t *testing.T) {
	h := newHarness(0)
	h.store.Put(coll, "v2", map[string]interface{}{
		"driveId": "abc123", "title": "B & Jenny - Game Plan", "createdAt": day(2024, 9, 8),
	})
	h.store.Put(coll, "v1", map[string]interface{}{
		"driveId": "abc123", "title": "Jenny & Ananyaa - Game Plan", "createdAt": day(2024, 9, 6),
	})

	report, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1, report.Counts.Deleted)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, "v1", report.Groups[0].Survivor)

	_, exists := h.store.Get(coll, "v2")
	assert.False(t, exists)
	v1 := h.doc(t, "v1")
	assert.Equal(t, []string{"v2"}, v1["mergedFrom"])
	assert.Equal(t, day(2024, 9, 6), v1["createdAt"])
	assert.Equal(t, "Jenny", v1["parsedCoach"])
	assert.Equal(t, "Ananyaa", v1["parsedStudent"])

	b, ok := h.store.Get(report.BackupCollection, database.BackupDocID("v2", report.RunID))
	require.True(t, ok, "bản trùng phải được backup trước khi xoá")
	assert.Equal(t, "B & Jenny - Game Plan", b["title"])
}

func TestTimingBonusAfterGamePlan(t *testing.T) {
	h := newHarness(0)
	h.store.Put(coll, "gp", map[string]interface{}{
		"filename":  "Coaching_GamePlan_B_Jenny_Ananyaa_Wk1_2024-09-06_M_xyz",
		"createdAt": day(2024, 9, 6),
	})
	h.store.Put(coll, "w10", map[string]interface{}{
		"title": "Jenny & Ananyaa - Week 1", "driveId": "d10", "createdAt": day(2024, 9, 16),
	})
	h.store.Put(coll, "w90", map[string]interface{}{
		"title": "Jenny & Ananyaa - Week 1", "driveId": "d90", "createdAt": day(2024, 12, 5),
	})

	report, err := h.driver(t, Options{Passes: []Pass{PassNames, PassClassify, PassSession}}).Run(context.Background())
	require.NoError(t, err)

	w10 := changeByID(report, "w10")
	require.NotNil(t, w10)
	assert.Equal(t, string(models.CategoryScheduling168), w10.Fields[models.FieldCategory])
	assert.Equal(t, string(models.CategoryCoachingSession), w10.Fields[models.FieldSessionType])
	assert.Equal(t, "1", w10.Fields[models.FieldParsedWeek])

	w90 := changeByID(report, "w90")
	require.NotNil(t, w90)
	assert.Equal(t, string(models.CategoryCoachingSession), w90.Fields[models.FieldCategory])
	assert.Equal(t, []string{models.ReviewLowConfidence}, w90.Fields[models.FieldReviewReasons])
	assert.Equal(t, 1, report.Counts.LowConfidence)
}

func TestPassesSelection(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()

	report, err := h.driver(t, Options{Passes: []Pass{PassNames}}).Run(context.Background())
	require.NoError(t, err)
	for _, ch := range report.Changes {
		assert.NotContains(t, ch.Fields, models.FieldCategory)
		assert.NotContains(t, ch.Fields, models.FieldParsedWeek)
	}
	assert.Equal(t, "Marcus", changeByID(report, "r2").Fields[models.FieldParsedCoach])
}

func TestInvalidDocumentReported(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	h.store.Put(coll, "bad", map[string]interface{}{"filename": 42})

	report, err := h.driver(t, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Counts.Scanned)
	assert.Equal(t, 1, report.Counts.Invalid)
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, "bad", report.Invalid[0].ID)
	assert.Nil(t, changeByID(report, "bad"))
}

func TestBackupFailureAbortsChunk(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	h.store.BackupHook = func(_ string, docs []database.RawDocument) error {
		if docs[0].Data[models.FieldOriginalID] == "r2" {
			return common.NewError(common.ErrCodeBackup, "quota", nil)
		}
		return nil
	}

	report, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, []string{"r2"}, report.FailedIDs)
	assert.Equal(t, 2, report.Counts.Fixed)
	assert.Equal(t, 2, h.store.CommitCalls)

	// Không có backup thì không có thay đổi
	assert.Nil(t, h.doc(t, "r2")["parsedCoach"])
	assert.Equal(t, "Jenny", h.doc(t, "r1")["parsedCoach"])
}

func TestTransientCommitRetried(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	failures := 2
	h.store.CommitHook = func(string, []database.WriteOp) error {
		if failures > 0 {
			failures--
			return &common.Error{Code: common.ErrCodeStoreWrite, Message: "unavailable", Transient: true}
		}
		return nil
	}

	report, err := h.driver(t, Options{Apply: true, MaxRetries: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 3, report.Counts.Fixed)
	assert.Equal(t, 3, h.store.CommitCalls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, h.sleeps)
}

func TestCommitRetriesExhausted(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	h.store.CommitHook = func(string, []database.WriteOp) error {
		return &common.Error{Code: common.ErrCodeStoreWrite, Message: "unavailable", Transient: true}
	}

	report, err := h.driver(t, Options{Apply: true, MaxRetries: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, []string{"r1", "r2", "r3"}, report.FailedIDs)
	assert.Equal(t, 3, h.store.CommitCalls)
	assert.Len(t, h.sleeps, 2)
	assert.Equal(t, "B", h.doc(t, "r1")["parsedCoach"])
}

func TestBackoffCapped(t *testing.T) {
	h := newHarness(0)
	d := h.driver(t, Options{RetryBase: 100 * time.Millisecond, RetryMax: 300 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, d.backoff(0))
	assert.Equal(t, 200*time.Millisecond, d.backoff(1))
	assert.Equal(t, 300*time.Millisecond, d.backoff(2))
	assert.Equal(t, 300*time.Millisecond, d.backoff(10))
}

func TestConcurrentEditSkippedAsConflict(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	calls := 0
	h.store.FetchHook = func(string) error {
		calls++
		if calls == 2 {
			h.store.Put(coll, "r2", map[string]interface{}{
				"title": "Marcus & Ethan - Check-in", "parsedCoach": "Marcus", "createdAt": day(2024, 10, 1),
			})
		}
		return nil
	}

	report, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"r2"}, report.ConflictIDs)
	assert.Equal(t, 2, report.Counts.Fixed)
	assert.Nil(t, h.doc(t, "r2")["category"])
}

func TestStaleChunkReReadBeforeCommit(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	h.store.BackupHook = func(string, []database.RawDocument) error {
		h.now = h.now.Add(10 * time.Minute)
		h.store.Put(coll, "r3", map[string]interface{}{
			"title": "Priya & Sofia - Execution Doc (edited)", "createdAt": day(2024, 10, 2),
		})
		return nil
	}

	report, err := h.driver(t, Options{Apply: true, StaleAfter: time.Minute}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r3"}, report.ConflictIDs)
	assert.Equal(t, 2, report.Counts.Fixed)
	assert.Equal(t, "Priya & Sofia - Execution Doc (edited)", h.doc(t, "r3")["title"])
	assert.Nil(t, h.doc(t, "r3")["parsedCoach"])
}

func TestChunkSizeBoundedByStore(t *testing.T) {
	h := newHarness(2)
	h.seedBasic()
	h.store.Put(coll, "r4", map[string]interface{}{"title": "Marcus & Liam - Check-in", "createdAt": day(2024, 10, 3)})
	h.store.Put(coll, "r5", map[string]interface{}{"title": "Priya & Ethan - Check-in", "createdAt": day(2024, 10, 4)})

	report, err := h.driver(t, Options{Apply: true, BatchSize: 400}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Counts.Fixed)
	assert.Equal(t, 3, h.store.CommitCalls)
	assert.Equal(t, 3, h.store.BackupCalls)
}

func TestCancelBetweenChunksThenResume(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	ctx, cancel := context.WithCancel(context.Background())
	h.store.CommitHook = func(string, []database.WriteOp) error {
		cancel()
		return nil
	}

	report, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrCancelled))
	assert.Equal(t, StateCancelled, report.State)
	assert.Equal(t, 1, report.Counts.Fixed)
	assert.Equal(t, []string{"r2", "r3"}, report.NotProcessedIDs)
	assert.Equal(t, "Jenny", h.doc(t, "r1")["parsedCoach"])
	assert.Nil(t, h.doc(t, "r2")["parsedCoach"])

	h.store.CommitHook = nil
	resumed, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Resume(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, resumed.State)
	assert.Equal(t, 3, resumed.Counts.Fixed)
	assert.Empty(t, resumed.NotProcessedIDs)
	assert.Equal(t, 3, h.store.CommitCalls)
	assert.Equal(t, "Marcus", h.doc(t, "r2")["parsedCoach"])
}

func TestChunkCheckpointsHoldOnlyChunkState(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	ctx := context.Background()

	report, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Run(ctx)
	require.NoError(t, err)

	history, err := h.cps.History(ctx, report.RunID)
	require.NoError(t, err)
	chunks := 0
	for _, e := range history {
		if e.Step != "chunk" {
			continue
		}
		chunks++
		var c ChunkState
		require.NoError(t, json.Unmarshal(e.Payload, &c))
		assert.Len(t, c.IDs, 1)
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(e.Payload, &fields))
		assert.NotContains(t, fields, "changes")
		assert.NotContains(t, fields, "runId")
	}
	// Mỗi chunk một entry sau backup và một entry sau commit
	assert.Equal(t, 6, chunks)
}

// frozenCheckpoints bỏ qua mọi lần ghi sau limit entry, như process chết giữa chừng
type frozenCheckpoints struct {
	checkpoint.Store
	limit int
	saved int
}

func (f *frozenCheckpoints) Save(ctx context.Context, runID, step string, payload []byte) error {
	f.saved++
	if f.saved > f.limit {
		return nil
	}
	return f.Store.Save(ctx, runID, step, payload)
}

func TestResumeReplaysChunkEntriesAfterLastStep(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	mem := h.cps
	// 7 entry phân tích, 3 chunk backup, BackingUp, chunk đầu tiên commit
	h.cps = &frozenCheckpoints{Store: mem, limit: 12}
	ctx, cancel := context.WithCancel(context.Background())
	h.store.CommitHook = func(string, []database.WriteOp) error {
		cancel()
		return nil
	}

	first, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Run(ctx)
	require.Error(t, err)
	require.Equal(t, 1, first.Counts.Fixed)

	history, err := mem.History(context.Background(), first.RunID)
	require.NoError(t, err)
	require.Len(t, history, 12)
	assert.Equal(t, "BackingUp", history[10].Step)
	assert.Equal(t, "chunk", history[11].Step)

	h.cps = mem
	h.store.CommitHook = nil
	resumed, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Resume(context.Background(), first.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, resumed.State)
	assert.Equal(t, 3, resumed.Counts.Fixed)
	assert.Equal(t, 3, resumed.Counts.Scanned)
	assert.Equal(t, 3, h.store.CommitCalls)
	assert.Equal(t, "Marcus", h.doc(t, "r2")["parsedCoach"])
}

func TestResumeDryRunWithApplyDoesNotRescan(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()

	dry, err := h.driver(t, Options{}).Run(context.Background())
	require.NoError(t, err)

	h.store.Put(coll, "late", map[string]interface{}{"title": "Marcus & Liam - Check-in", "createdAt": day(2024, 11, 1)})

	applied, err := h.driver(t, Options{Apply: true}).Resume(context.Background(), dry.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, applied.State)
	assert.True(t, applied.Apply)
	assert.Equal(t, 3, applied.Counts.Fixed)
	assert.Nil(t, h.doc(t, "late")["parsedCoach"])
	assert.Equal(t, "Jenny", h.doc(t, "r1")["parsedCoach"])
}

func TestSurvivorDeletedBeforeResumeKeepsDuplicate(t *testing.T) {
	h := newHarness(0)
	h.store.Put(coll, "v1", map[string]interface{}{
		"driveId": "abc123", "title": "Jenny & Ananyaa - Game Plan", "createdAt": day(2024, 9, 6),
	})
	h.store.Put(coll, "v2", map[string]interface{}{
		"driveId": "abc123", "title": "B & Jenny - Game Plan", "createdAt": day(2024, 9, 8),
	})
	ctx := context.Background()

	dry, err := h.driver(t, Options{}).Run(ctx)
	require.NoError(t, err)
	require.Len(t, dry.Groups, 1)
	require.Equal(t, "v1", dry.Groups[0].Survivor)

	require.NoError(t, h.store.Commit(ctx, coll, []database.WriteOp{{Kind: database.OpDelete, ID: "v1"}}))

	applied, err := h.driver(t, Options{Apply: true}).Resume(ctx, dry.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, applied.State)
	assert.Equal(t, []string{"v1", "v2"}, applied.ConflictIDs)
	assert.Zero(t, applied.Counts.Deleted)
	assert.Zero(t, applied.Counts.Fixed)
	assert.Equal(t, "B & Jenny - Game Plan", h.doc(t, "v2")["title"])
	assert.Equal(t, 1, h.store.Count(coll))
}

func TestSplitGroupSkippedWhenSurvivorEdited(t *testing.T) {
	h := newHarness(0)
	h.store.Put(coll, "v1", map[string]interface{}{
		"driveId": "abc123", "title": "Jenny & Ananyaa - Game Plan", "createdAt": day(2024, 9, 6),
	})
	h.store.Put(coll, "v2", map[string]interface{}{
		"driveId": "abc123", "title": "B & Jenny - Game Plan", "createdAt": day(2024, 9, 8),
	})
	calls := 0
	h.store.FetchHook = func(string) error {
		calls++
		// Lần đọc lại đầu tiên là chunk chứa survivor
		if calls == 2 {
			h.store.Put(coll, "v1", map[string]interface{}{
				"driveId": "abc123", "title": "Jenny & Ananyaa - Game Plan (edited)", "createdAt": day(2024, 9, 6),
			})
		}
		return nil
	}

	report, err := h.driver(t, Options{Apply: true, BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Changes, 2)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"v1", "v2"}, report.ConflictIDs)
	assert.Zero(t, report.Counts.Deleted)
	assert.Zero(t, h.store.CommitCalls)
	assert.Equal(t, "B & Jenny - Game Plan", h.doc(t, "v2")["title"])
	assert.Nil(t, h.doc(t, "v1")["mergedFrom"])
}

func TestEditedDuplicateKeepsSurvivorInEarlierChunk(t *testing.T) {
	h := newHarness(0)
	for i, id := range []string{"v1", "v2", "v3"} {
		h.store.Put(coll, id, map[string]interface{}{
			"driveId": "abc123", "title": "Jenny & Ananyaa - Game Plan", "createdAt": day(2024, 9, 6+i),
		})
	}
	calls := 0
	h.store.FetchHook = func(string) error {
		calls++
		// Đọc lại chunk thứ hai, chứa v3
		if calls == 3 {
			h.store.Put(coll, "v3", map[string]interface{}{
				"driveId": "abc123", "title": "Jenny & Ananyaa - Game Plan (edited)", "createdAt": day(2024, 9, 8),
			})
		}
		return nil
	}

	report, err := h.driver(t, Options{Apply: true, BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, "v1", report.Groups[0].Survivor)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"v1", "v2", "v3"}, report.ConflictIDs)
	assert.Zero(t, report.Counts.Deleted)
	assert.Zero(t, report.Counts.Fixed)
	assert.Zero(t, h.store.CommitCalls)
	assert.Equal(t, 3, h.store.Count(coll))
	assert.Nil(t, h.doc(t, "v1")["mergedFrom"])
}

func TestGamePlanCoachMismatchFlaggedWithoutNamesPass(t *testing.T) {
	h := newHarness(0)
	h.store.Put(coll, "gp", map[string]interface{}{
		"filename":      "Coaching_GamePlan_A_Marcus_Ethan_Wk1_2024-09-06_M_xyz",
		"title":         "Marcus & Ethan - Game Plan",
		"parsedCoach":   "Marcus",
		"parsedStudent": "Ethan",
		"createdAt":     day(2024, 9, 6),
	})

	report, err := h.driver(t, Options{Apply: true, Passes: []Pass{PassClassify}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gp"}, report.Flagged)

	doc := h.doc(t, "gp")
	assert.Equal(t, string(models.CategoryGamePlan), doc["category"])
	assert.Equal(t, "Marcus", doc["parsedCoach"])
	assert.Equal(t, true, doc["needsReview"])
	assert.Contains(t, doc["reviewReasons"], models.ReviewLeadCoachMismatch)

	// Chạy đủ pass thì lead coach được ghi và lý do bị gỡ
	_, err = h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	doc = h.doc(t, "gp")
	assert.Equal(t, "Jenny", doc["parsedCoach"])
	reasons, _ := doc["reviewReasons"].([]string)
	assert.NotContains(t, reasons, models.ReviewLeadCoachMismatch)
}

func TestEditRacingCommitRejectedByStore(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	edited := false
	h.store.CommitHook = func(string, []database.WriteOp) error {
		if !edited {
			edited = true
			h.store.Put(coll, "r2", map[string]interface{}{
				"title": "Marcus & Ethan - Check-in (edited)", "createdAt": day(2024, 10, 1),
			})
		}
		return nil
	}

	report, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"r2"}, report.ConflictIDs)
	assert.Equal(t, 2, report.Counts.Fixed)
	assert.Equal(t, 2, h.store.CommitCalls)

	r2 := h.doc(t, "r2")
	assert.Equal(t, "Marcus & Ethan - Check-in (edited)", r2["title"])
	assert.Nil(t, r2["parsedCoach"])
	assert.Equal(t, "Jenny", h.doc(t, "r1")["parsedCoach"])
	assert.Equal(t, "Priya", h.doc(t, "r3")["parsedCoach"])
}

func TestResumeUnknownRun(t *testing.T) {
	h := newHarness(0)
	_, err := h.driver(t, Options{}).Resume(context.Background(), "missing")
	assert.True(t, errors.Is(err, common.ErrRunNotFound))
}

func TestCheckpointHistoryPerStep(t *testing.T) {
	h := newHarness(0)
	h.seedBasic()
	ctx := context.Background()

	report, err := h.driver(t, Options{}).Run(ctx)
	require.NoError(t, err)

	history, err := h.cps.History(ctx, report.RunID)
	require.NoError(t, err)
	var names []string
	for _, e := range history {
		names = append(names, e.Step)
	}
	assert.Equal(t, []string{
		"docs", "Fetching", "tokens", "Tokenizing", "Resolving", "Classifying", "DeduplicationPending", "Done",
	}, names)

	// Docs và Tokens chỉ nằm trong entry riêng, không lặp lại ở mỗi bước
	for _, e := range history[1:] {
		if e.Step == "tokens" {
			continue
		}
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(e.Payload, &fields), e.Step)
		assert.NotContains(t, fields, "docs", e.Step)
		assert.NotContains(t, fields, "tokens", e.Step)
	}

	run, err := h.cps.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(StateDone), run.State)
	assert.NotEmpty(t, run.Report)
}

func TestFetchFailureFailsRun(t *testing.T) {
	h := newHarness(0)
	h.store.FetchHook = func(string) error {
		return common.NewError(common.ErrCodeStoreRead, "permission denied", nil)
	}

	report, err := h.driver(t, Options{Apply: true}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.NotEmpty(t, report.Error)
	assert.Zero(t, h.store.CommitCalls)
}

func TestParsePasses(t *testing.T) {
	all, err := ParsePasses(nil)
	require.NoError(t, err)
	assert.Equal(t, AllPasses, all)

	got, err := ParsePasses([]string{"names, classify", "names"})
	require.NoError(t, err)
	assert.Equal(t, []Pass{PassNames, PassClassify}, got)

	_, err = ParsePasses([]string{"bogus"})
	assert.Error(t, err)
}
