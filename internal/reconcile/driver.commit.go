package reconcile

import (
	"context"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/database"
	"coach_reconcile/internal/logger"
	"coach_reconcile/internal/models"
	"coach_reconcile/internal/utility"
)

// withRetry chạy fn với timeout riêng cho mỗi lần thử; chỉ retry lỗi tạm thời.
// Trả về số lần đã thử.
func (d *Driver) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, common.Wrap(common.ErrCancelled, err, nil)
		}

		opCtx, cancel := context.WithTimeout(ctx, d.opts.OpTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, common.Wrap(common.ErrCancelled, ctx.Err(), nil)
		}
		if !common.IsTransient(err) || attempt >= d.opts.MaxRetries {
			return attempt + 1, err
		}

		wait := d.backoff(attempt)
		d.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"wait":    wait.String(),
			"error":   err.Error(),
		}).Warn("⚠️ [RECONCILE] Lỗi tạm thời, thử lại")
		if err := d.opts.Sleep(ctx, wait); err != nil {
			return attempt + 1, common.Wrap(common.ErrCancelled, err, nil)
		}
	}
}

// backoff base * 2^attempt, tối đa RetryMax
func (d *Driver) backoff(attempt int) time.Duration {
	wait := time.Duration(float64(d.opts.RetryBase) * math.Pow(2, float64(attempt)))
	if wait > d.opts.RetryMax || wait <= 0 {
		wait = d.opts.RetryMax
	}
	return wait
}

// freshDoc bản đọc lại của một record
type freshDoc struct {
	rec        *models.VideoRecord
	updateTime time.Time
}

// fetchFresh đọc lại các record và decode
func (d *Driver) fetchFresh(ctx context.Context, collection string, ids []string) (map[string]freshDoc, error) {
	var docs []database.RawDocument
	_, err := d.withRetry(ctx, "fetch_by_ids", func(ctx context.Context) error {
		var err error
		docs, err = d.store.FetchByIDs(ctx, collection, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]freshDoc, len(docs))
	for _, doc := range docs {
		rec, _, err := models.DecodeVideoRecord(doc.ID, doc.Data)
		if err != nil {
			continue
		}
		out[doc.ID] = freshDoc{rec: rec, updateTime: doc.UpdateTime}
	}
	return out, nil
}

// stepBackup backup mọi chunk trước khi commit bất kỳ chunk nào.
// Record bị sửa/xoá kể từ lúc scan được bỏ qua (conflict) cùng cả nhóm trùng chứa nó.
func (d *Driver) stepBackup(ctx context.Context, s *RunState) error {
	backupColl := database.BackupCollection(s.Collection, s.StartedAt)
	s.BackupCollection = backupColl

	for i := range s.Chunks {
		c := &s.Chunks[i]
		if c.Status != ChunkPending {
			continue
		}
		if ctx.Err() != nil {
			return common.Wrap(common.ErrCancelled, ctx.Err(), nil)
		}
		log := d.log.WithFields(logrus.Fields{"run_id": s.RunID, "chunk": c.Index, "size": len(c.IDs)})

		fresh, err := d.fetchFresh(ctx, s.Collection, append(append([]string(nil), c.IDs...), s.outsideSurvivors(c.IDs)...))
		if err != nil {
			if common.IsCode(err, common.ErrCodeRun) {
				return err
			}
			d.failChunk(c, ChunkBackupFailed, common.Wrap(common.ErrBackupFailure, err, c.IDs), log)
			d.checkpointChunk(ctx, s, c)
			continue
		}

		now := d.opts.Now().UTC()
		keep := d.screenGroups(s, c, c.IDs, fresh, s.Fingerprints, false)
		d.skipGroupsElsewhere(ctx, s, c)
		c.Fingerprints = make(map[string]string, len(keep))
		c.UpdateTimes = make(map[string]time.Time, len(keep))
		docs := make([]database.RawDocument, 0, len(keep))
		for _, id := range keep {
			c.Fingerprints[id] = s.Fingerprints[id]
			c.UpdateTimes[id] = fresh[id].updateTime
			docs = append(docs, database.RawDocument{
				ID:   database.BackupDocID(id, s.RunID),
				Data: fresh[id].rec.BackupDocument(s.RunID, now),
			})
		}
		if len(docs) == 0 {
			c.Status = ChunkEmpty
			d.checkpointChunk(ctx, s, c)
			continue
		}

		attempts, err := d.withRetry(ctx, "write_backups", func(ctx context.Context) error {
			return d.store.WriteBackups(ctx, backupColl, docs)
		})
		c.Attempts = attempts
		if err != nil {
			if common.IsCode(err, common.ErrCodeRun) {
				return err
			}
			d.failChunk(c, ChunkBackupFailed, common.Wrap(common.ErrBackupFailure, err, c.IDs), log)
			d.checkpointChunk(ctx, s, c)
			continue
		}

		c.Status = ChunkBackedUp
		c.BackedUpAt = now
		for _, doc := range docs {
			logger.LogMutation(d.audit, logger.AuditAction{
				Action:     logger.ActionBackup,
				RunID:      s.RunID,
				Collection: backupColl,
				RecordID:   doc.Data[models.FieldOriginalID].(string),
				Details:    map[string]interface{}{"backup_id": doc.ID},
				Timestamp:  now,
			})
		}
		log.WithField("backups", len(docs)).Info("💾 [RECONCILE] Đã backup chunk")
		d.checkpointChunk(ctx, s, c)
	}
	return nil
}

// stepCommit commit từng chunk đã backup; chunk lỗi không dừng job.
// Mỗi op mang thời điểm sửa cuối đã đọc; store từ chối thì chunk được đọc lại và thử thêm một lần.
func (d *Driver) stepCommit(ctx context.Context, s *RunState) error {
	for i := range s.Chunks {
		c := &s.Chunks[i]
		if c.Status != ChunkBackedUp {
			continue
		}
		if ctx.Err() != nil {
			return common.Wrap(common.ErrCancelled, ctx.Err(), nil)
		}
		log := d.log.WithFields(logrus.Fields{"run_id": s.RunID, "chunk": c.Index})

		reread := d.opts.Now().Sub(s.ScannedAt) > d.opts.StaleAfter
		var (
			ops      []database.WriteOp
			attempts int
			err      error
			now      time.Time
		)
		for try := 0; ; try++ {
			ops = nil
			var ids []string
			ids, err = d.screenCommit(ctx, s, c, reread)
			if err != nil || len(ids) == 0 {
				break
			}
			now = d.opts.Now().UTC()
			ops = make([]database.WriteOp, 0, len(ids))
			for _, id := range ids {
				op := s.change(id).op(now)
				op.IfUpdateTime = c.UpdateTimes[id]
				ops = append(ops, op)
			}
			attempts, err = d.withRetry(ctx, "commit", func(ctx context.Context) error {
				return d.store.Commit(ctx, s.Collection, ops)
			})
			if err == nil || try > 0 || !common.IsCode(err, common.ErrCodeConcurrentUpdate) {
				break
			}
			log.WithError(err).Warn("⚠️ [RECONCILE] Record bị sửa ngay trước commit, đọc lại chunk")
			reread = true
		}
		c.Attempts = attempts
		if err != nil {
			if common.IsCode(err, common.ErrCodeRun) {
				return err
			}
			d.failChunk(c, ChunkFailed, err, log)
			d.checkpointChunk(ctx, s, c)
			continue
		}
		if len(ops) == 0 {
			c.Status = ChunkEmpty
			d.checkpointChunk(ctx, s, c)
			continue
		}

		c.Status = ChunkCommitted
		c.CommittedAt = now
		for _, op := range ops {
			d.auditOp(s, op, now)
		}
		log.WithFields(logrus.Fields{"ops": len(ops), "attempts": attempts}).Info("✅ [RECONCILE] Đã commit chunk")
		d.checkpointChunk(ctx, s, c)
	}
	return nil
}

// screenCommit id của chunk còn được phép commit. Survivor nằm ở chunk khác luôn được đọc lại;
// bản thân chunk chỉ được đọc lại khi reread.
func (d *Driver) screenCommit(ctx context.Context, s *RunState, c *ChunkState, reread bool) ([]string, error) {
	ids := c.pendingIDs()
	fetch := s.outsideSurvivors(ids)
	if reread {
		fetch = append(append([]string(nil), ids...), fetch...)
	}
	fresh := make(map[string]freshDoc)
	if len(fetch) > 0 {
		var err error
		if fresh, err = d.fetchFresh(ctx, s.Collection, fetch); err != nil {
			return nil, err
		}
	}
	var want map[string]string
	if reread {
		want = c.Fingerprints
	}
	keep := d.screenGroups(s, c, ids, fresh, want, true)
	if reread {
		if c.UpdateTimes == nil {
			c.UpdateTimes = make(map[string]time.Time, len(keep))
		}
		for _, id := range keep {
			c.UpdateTimes[id] = fresh[id].updateTime
		}
	}
	return keep, nil
}

// screenGroups lọc ids: record khác want (bị sửa/xoá) bị coi là conflict, và khi đó mọi record
// cùng nhóm trùng trong chunk cũng bị bỏ qua. Bản trùng chỉ được xoá khi survivor của nó còn đó
// và (nếu survivor cũng được sửa) chunk của survivor không lỗi; committed=true đòi survivor đã commit.
// want nil thì không kiểm tra bản thân ids.
func (d *Driver) screenGroups(s *RunState, c *ChunkState, ids []string, fresh map[string]freshDoc, want map[string]string, committed bool) []string {
	cause := make(map[string]string) // survivor -> id làm hỏng nhóm
	if want != nil {
		for _, id := range ids {
			if f, ok := fresh[id]; ok && f.rec.Fingerprint() == want[id] {
				continue
			}
			if key := s.groupKey(id); cause[key] == "" {
				cause[key] = id
			}
		}
	}
	for _, sv := range s.outsideSurvivors(ids) {
		if !d.survivorReady(s, sv, fresh, committed) {
			cause[sv] = sv
		}
	}

	keep := make([]string, 0, len(ids))
	for _, id := range ids {
		key := s.groupKey(id)
		by, bad := cause[key]
		if !bad {
			keep = append(keep, id)
			continue
		}
		_, exists := fresh[id]
		c.Conflicts = append(c.Conflicts, id)
		d.logConflict(s, id, exists || want == nil, key, by)
	}
	return keep
}

// skipGroupsElsewhere thành viên của nhóm trùng bị conflict trong c mà nằm ở chunk đã backup
// nhưng chưa commit cũng bị bỏ qua. Mọi chunk được backup trước khi commit nên cả nhóm
// được giữ nguyên.
func (d *Driver) skipGroupsElsewhere(ctx context.Context, s *RunState, c *ChunkState) {
	for _, id := range c.Conflicts {
		key := s.groupKey(id)
		for _, m := range s.groupMembers(key) {
			oc, ok := s.chunkOf(m)
			if !ok || oc.Index == c.Index || oc.Status != ChunkBackedUp || utility.Contains(oc.Conflicts, m) {
				continue
			}
			oc.Conflicts = append(oc.Conflicts, m)
			d.logConflict(s, m, true, key, id)
			d.checkpointChunk(ctx, s, oc)
		}
	}
}

// survivorReady survivor nằm ngoài chunk vẫn còn và không bị conflict
func (d *Driver) survivorReady(s *RunState, id string, fresh map[string]freshDoc, committed bool) bool {
	f, ok := fresh[id]
	if !ok {
		return false
	}
	if s.change(id) == nil {
		return f.rec.Fingerprint() == s.Fingerprints[id]
	}
	oc, ok := s.chunkOf(id)
	if !ok || utility.Contains(oc.Conflicts, id) {
		return false
	}
	if committed {
		return oc.Status == ChunkCommitted
	}
	switch oc.Status {
	case ChunkFailed, ChunkBackupFailed, ChunkEmpty:
		return false
	}
	return true
}

// stepVerify đọc lại các record đã commit và so với diff
func (d *Driver) stepVerify(ctx context.Context, s *RunState) error {
	var ids []string
	for _, c := range s.Chunks {
		if c.Status == ChunkCommitted {
			ids = append(ids, c.pendingIDs()...)
		}
	}
	s.VerifyMismatches = nil
	for _, part := range utility.Chunk(ids, d.store.MaxBatchOps()) {
		var docs []database.RawDocument
		_, err := d.withRetry(ctx, "verify", func(ctx context.Context) error {
			var err error
			docs, err = d.store.FetchByIDs(ctx, s.Collection, part)
			return err
		})
		if err != nil {
			return err
		}
		byID := make(map[string]map[string]interface{}, len(docs))
		for _, doc := range docs {
			byID[doc.ID] = doc.Data
		}
		for _, id := range part {
			ch := s.change(id)
			data, exists := byID[id]
			switch {
			case ch.Kind == database.OpDelete && exists:
				s.VerifyMismatches = append(s.VerifyMismatches, id)
			case ch.Kind == database.OpUpdate && (!exists || !matches(data, ch.Fields)):
				s.VerifyMismatches = append(s.VerifyMismatches, id)
			}
		}
	}
	sort.Strings(s.VerifyMismatches)
	if len(s.VerifyMismatches) > 0 {
		d.log.WithFields(logrus.Fields{
			"run_id":     s.RunID,
			"mismatches": len(s.VerifyMismatches),
		}).Warn("Kiểm tra sau commit có record không khớp")
	}
	return nil
}

// op thao tác ghi của change; fixedAt/dataVersion chỉ đi kèm khi có field khác thay đổi
func (ch *Change) op(now time.Time) database.WriteOp {
	if ch.Kind == database.OpDelete {
		return database.WriteOp{Kind: database.OpDelete, ID: ch.ID}
	}
	fields := make(map[string]interface{}, len(ch.Fields)+2)
	for k, v := range ch.Fields {
		fields[k] = normalizeValue(v)
	}
	fields[models.FieldFixedAt] = now
	fields[models.FieldDataVersion] = models.DataVersion
	return database.WriteOp{Kind: database.OpUpdate, ID: ch.ID, Fields: fields}
}

// pendingIDs id trong chunk chưa bị conflict
func (c *ChunkState) pendingIDs() []string {
	if len(c.Conflicts) == 0 {
		return append([]string(nil), c.IDs...)
	}
	skip := make(map[string]bool, len(c.Conflicts))
	for _, id := range c.Conflicts {
		skip[id] = true
	}
	out := make([]string, 0, len(c.IDs))
	for _, id := range c.IDs {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}

func (d *Driver) failChunk(c *ChunkState, status ChunkStatus, err error, log logrus.FieldLogger) {
	c.Status = status
	c.Error = err.Error()
	log.WithError(err).Error("❌ [RECONCILE] Chunk thất bại")
}

// logConflict ghi audit cho record bị bỏ qua; group/caused_by khi record bị bỏ theo nhóm trùng
func (d *Driver) logConflict(s *RunState, id string, exists bool, group, by string) {
	details := map[string]interface{}{"exists": exists}
	if by != id {
		details["group"] = group
		details["caused_by"] = by
	}
	logger.LogMutation(d.audit, logger.AuditAction{
		Action:     logger.ActionSkip,
		RunID:      s.RunID,
		Collection: s.Collection,
		RecordID:   id,
		Details:    details,
		Timestamp:  d.opts.Now().UTC(),
	})
}

func (d *Driver) auditOp(s *RunState, op database.WriteOp, now time.Time) {
	action := logger.ActionUpdate
	details := map[string]interface{}{"fields": op.Fields}
	if op.Kind == database.OpDelete {
		action = logger.ActionDelete
		details = map[string]interface{}{"merged_into": s.change(op.ID).MergedInto}
	}
	details["backup_collection"] = s.BackupCollection
	logger.LogMutation(d.audit, logger.AuditAction{
		Action:     action,
		RunID:      s.RunID,
		Collection: s.Collection,
		RecordID:   op.ID,
		Details:    details,
		Timestamp:  now,
	})
}

// normalizeValue đưa giá trị đã qua JSON (checkpoint) về kiểu ghi vào store
func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case float64:
		if x == math.Trunc(x) {
			return int64(x)
		}
	case int:
		return int64(x)
	}
	return v
}

// matches document đã lưu chứa đúng các giá trị trong fields
func matches(data, fields map[string]interface{}) bool {
	for k, want := range fields {
		want = normalizeValue(want)
		got := normalizeValue(data[k])
		if want == nil {
			if got != nil {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
