// Package reconcile chạy job dọn dữ liệu video theo state machine:
// Fetching → Tokenizing → Resolving → Classifying → DeduplicationPending →
// BackingUp → Committing → Verifying → Done.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coach_reconcile/internal/checkpoint"
	"coach_reconcile/internal/common"
	"coach_reconcile/internal/database"
	"coach_reconcile/internal/logger"
	"coach_reconcile/internal/reconcile/classifier"
	"coach_reconcile/internal/reconcile/resolver"
	"coach_reconcile/internal/roster"
)

// Deps các thành phần driver cần
type Deps struct {
	Store       database.Store
	Checkpoints checkpoint.Store       // nil = không lưu checkpoint (không resume được)
	Roster      *roster.Roster
	Classifier  *classifier.Classifier // nil = bảng keyword mặc định
	Log         logrus.FieldLogger     // nil = app logger
	Audit       logrus.FieldLogger     // nil = audit logger
}

// Driver điều phối một lần chạy; chạy tuần tự, không song song trong process
type Driver struct {
	store       database.Store
	checkpoints checkpoint.Store
	roster      *roster.Roster
	resolver    *resolver.Resolver
	classifier  *classifier.Classifier
	log         logrus.FieldLogger
	audit       logrus.FieldLogger
	opts        Options
}

// New tạo driver
func New(deps Deps, opts Options) (*Driver, error) {
	if deps.Store == nil {
		return nil, common.NewError(common.ErrCodeConfig, "thiếu document store", nil)
	}
	if deps.Roster == nil {
		return nil, common.NewError(common.ErrCodeConfig, "thiếu roster", nil)
	}
	opts.defaults()

	d := &Driver{
		store:       deps.Store,
		checkpoints: deps.Checkpoints,
		roster:      deps.Roster,
		resolver:    resolver.New(deps.Roster),
		classifier:  deps.Classifier,
		log:         deps.Log,
		audit:       deps.Audit,
		opts:        opts,
	}
	if d.classifier == nil {
		d.classifier = classifier.New(nil, classifier.Options{})
	}
	if d.log == nil {
		d.log = logger.GetAppLogger()
	}
	if d.audit == nil {
		d.audit = logger.GetAuditLogger()
	}
	return d, nil
}

// Run bắt đầu một lần chạy mới.
// Lỗi trả về khác nil khi một bước thất bại hoặc bị huỷ; Report luôn có.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	passes := d.opts.Passes
	if len(passes) == 0 {
		passes = append([]Pass(nil), AllPasses...)
	}
	now := d.opts.Now().UTC()
	s := &RunState{
		RunID:      uuid.NewString(),
		Collection: d.opts.Collection,
		Apply:      d.opts.Apply,
		Passes:     passes,
		StartedAt:  now,
		UpdatedAt:  now,
	}

	d.log.WithFields(logrus.Fields{
		"run_id":     s.RunID,
		"collection": s.Collection,
		"apply":      s.Apply,
		"passes":     s.Passes,
		"store":      d.store.Name(),
	}).Info("🚀 [RECONCILE] Bắt đầu lần chạy")
	return d.execute(ctx, s)
}

// Resume chạy tiếp từ bước cuối đã hoàn tất, không scan lại collection.
// Chunk đã commit được bỏ qua; chunk lỗi được thử lại. Options.Apply = true
// cho phép áp dụng diff của một lần dry-run.
func (d *Driver) Resume(ctx context.Context, runID string) (*Report, error) {
	if d.checkpoints == nil {
		return nil, common.NewError(common.ErrCodeConfig, "không có checkpoint store", nil)
	}
	s, err := d.load(ctx, runID)
	if err != nil {
		return nil, err
	}

	if s.State == StateDone && (s.Apply || !d.opts.Apply) {
		d.log.WithField("run_id", runID).Info("Lần chạy đã hoàn tất, không có gì để resume")
		return BuildReport(s), nil
	}
	if d.opts.Apply && !s.Apply {
		s.Apply = true
	}
	d.rewind(s)

	d.log.WithFields(logrus.Fields{
		"run_id": runID,
		"step":   s.Step,
		"apply":  s.Apply,
	}).Info("🔁 [RECONCILE] Resume lần chạy")
	return d.execute(ctx, s)
}

// Nhãn của các entry checkpoint không phải snapshot bước
const (
	entryDocs   = "docs"   // s.Docs, ghi một lần sau Fetching
	entryTokens = "tokens" // s.Tokens, ghi một lần sau Tokenizing
	entryChunk  = "chunk"  // Một ChunkState sau mỗi lần backup/commit chunk
)

// load dựng lại RunState: snapshot bước cuối cùng, cộng docs/tokens và các chunk ghi sau snapshot đó
func (d *Driver) load(ctx context.Context, runID string) (*RunState, error) {
	if _, err := d.checkpoints.Latest(ctx, runID); err != nil {
		return nil, err
	}
	history, err := d.checkpoints.History(ctx, runID)
	if err != nil {
		return nil, err
	}
	base := -1
	for i, e := range history {
		switch e.Step {
		case entryDocs, entryTokens, entryChunk:
		default:
			base = i
		}
	}
	if base < 0 {
		return nil, common.Wrap(common.ErrRunNotFound, nil, map[string]interface{}{"run_id": runID})
	}

	var s RunState
	if err := json.Unmarshal(history[base].Payload, &s); err != nil {
		return nil, common.Wrap(common.ErrRunNotFound, err, map[string]interface{}{"run_id": runID})
	}
	for i, e := range history {
		var err error
		switch {
		case e.Step == entryDocs:
			err = json.Unmarshal(e.Payload, &s.Docs)
		case e.Step == entryTokens:
			err = json.Unmarshal(e.Payload, &s.Tokens)
		case e.Step == entryChunk && i > base:
			var c ChunkState
			if err = json.Unmarshal(e.Payload, &c); err == nil && c.Index >= 0 && c.Index < len(s.Chunks) {
				s.Chunks[c.Index] = c
			}
		}
		if err != nil {
			return nil, common.Wrap(common.ErrRunNotFound, err, map[string]interface{}{"run_id": runID, "step": e.Step})
		}
	}
	return &s, nil
}

// rewind đưa run về bước cần chạy lại
func (d *Driver) rewind(s *RunState) {
	s.Error = ""
	if !s.Apply || len(s.Chunks) == 0 || stepIndex(s.Step) < stepIndex(StateDeduplicationPending) {
		return
	}

	needBackup, needCommit := false, false
	for i := range s.Chunks {
		c := &s.Chunks[i]
		switch c.Status {
		case ChunkPending:
			needBackup = true
		case ChunkBackupFailed:
			c.Status, c.Error = ChunkPending, ""
			needBackup = true
		case ChunkFailed:
			c.Status, c.Error = ChunkBackedUp, ""
			needCommit = true
		case ChunkBackedUp:
			needCommit = true
		}
	}
	switch {
	case needBackup:
		s.Step = StateDeduplicationPending
	case needCommit:
		s.Step = StateBackingUp
	}
}

func stepIndex(st State) int {
	for i, x := range steps {
		if x == st {
			return i
		}
	}
	return len(steps)
}

// execute chạy các bước còn lại tới trạng thái kết thúc
func (d *Driver) execute(ctx context.Context, s *RunState) (*Report, error) {
	var runErr error
	for {
		next := s.Step.next(s.Apply)
		if next == StateDone {
			s.State = StateDone
			break
		}
		if ctx.Err() != nil {
			s.State = StateCancelled
			runErr = common.ErrCancelled
			break
		}

		s.State = next
		d.saveRun(ctx, s, nil)
		log := d.log.WithFields(logrus.Fields{"run_id": s.RunID, "step": next})
		log.Debug("Bắt đầu bước")

		if err := d.runStep(ctx, s, next); err != nil {
			if errors.Is(err, common.ErrCancelled) || ctx.Err() != nil {
				s.State = StateCancelled
				runErr = common.ErrCancelled
			} else {
				s.State = StateFailed
				s.Error = err.Error()
				runErr = err
			}
			log.WithError(err).Error("❌ [RECONCILE] Bước thất bại")
			break
		}
		s.Step = next
		switch next {
		case StateFetching:
			d.save(ctx, s.RunID, entryDocs, s.Docs)
		case StateTokenizing:
			d.save(ctx, s.RunID, entryTokens, s.Tokens)
		}
		d.checkpoint(ctx, s)
	}

	if s.State == StateDone && s.failedChunks() > 0 {
		s.State = StateFailed
		s.Error = fmt.Sprintf("%d chunk không commit được", s.failedChunks())
	}
	s.UpdatedAt = d.opts.Now().UTC()
	report := BuildReport(s)
	d.checkpoint(ctx, s)
	d.saveRun(ctx, s, report)

	d.log.WithFields(logrus.Fields{
		"run_id":    s.RunID,
		"state":     s.State,
		"fixed":     report.Counts.Fixed,
		"deleted":   report.Counts.Deleted,
		"flagged":   report.Counts.Flagged,
		"failed":    report.Counts.Failed,
		"conflicts": report.Counts.Conflicts,
	}).Info("🏁 [RECONCILE] Kết thúc lần chạy")
	return report, runErr
}

func (d *Driver) runStep(ctx context.Context, s *RunState, st State) error {
	switch st {
	case StateFetching:
		return d.stepFetch(ctx, s)
	case StateTokenizing:
		return d.stepTokenize(ctx, s)
	case StateResolving:
		return d.stepResolve(ctx, s)
	case StateClassifying:
		return d.stepClassify(ctx, s)
	case StateDeduplicationPending:
		return d.stepPlan(ctx, s)
	case StateBackingUp:
		return d.stepBackup(ctx, s)
	case StateCommitting:
		return d.stepCommit(ctx, s)
	case StateVerifying:
		return d.stepVerify(ctx, s)
	}
	return fmt.Errorf("bước không xác định: %s", st)
}

// checkpoint ghi snapshot bước (không gồm Docs/Tokens)
func (d *Driver) checkpoint(ctx context.Context, s *RunState) {
	s.UpdatedAt = d.opts.Now().UTC()
	step := string(s.Step)
	if s.State.Terminal() {
		step = string(s.State)
	}
	d.save(ctx, s.RunID, step, s)
}

// checkpointChunk chỉ ghi trạng thái của chunk vừa xử lý
func (d *Driver) checkpointChunk(ctx context.Context, s *RunState, c *ChunkState) {
	s.UpdatedAt = d.opts.Now().UTC()
	d.save(ctx, s.RunID, entryChunk, c)
}

// save ghi một entry; lỗi checkpoint chỉ được log, không làm hỏng run
func (d *Driver) save(ctx context.Context, runID, step string, v interface{}) {
	if d.checkpoints == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		d.log.WithError(err).WithField("step", step).Error("Không serialize được trạng thái run")
		return
	}
	if err := d.checkpoints.Save(context.WithoutCancel(ctx), runID, step, payload); err != nil {
		d.log.WithError(err).WithField("run_id", runID).Error("Không ghi được checkpoint")
	}
}

// saveRun cập nhật thông tin tóm tắt của run (API đọc)
func (d *Driver) saveRun(ctx context.Context, s *RunState, report *Report) {
	if d.checkpoints == nil {
		return
	}
	run := checkpoint.Run{
		RunID:      s.RunID,
		Collection: s.Collection,
		State:      string(s.State),
		Apply:      s.Apply,
		StartedAt:  s.StartedAt,
		UpdatedAt:  d.opts.Now().UTC(),
	}
	if report != nil {
		if data, err := json.Marshal(report); err == nil {
			run.Report = data
		}
	}
	if err := d.checkpoints.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		d.log.WithError(err).WithField("run_id", s.RunID).Error("Không ghi được thông tin run")
	}
}

func (s *RunState) failedChunks() int {
	n := 0
	for _, c := range s.Chunks {
		if c.Status == ChunkFailed || c.Status == ChunkBackupFailed {
			n++
		}
	}
	return n
}
