package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/database"
	"coach_reconcile/internal/global"
	"coach_reconcile/internal/models"
	"coach_reconcile/internal/reconcile/classifier"
	"coach_reconcile/internal/reconcile/dedupe"
	"coach_reconcile/internal/reconcile/resolver"
	"coach_reconcile/internal/reconcile/tokenizer"
	"coach_reconcile/internal/utility"
)

// stepFetch đọc toàn bộ collection, decode và validate tại biên đọc
func (d *Driver) stepFetch(ctx context.Context, s *RunState) error {
	var docs []database.RawDocument
	_, err := d.withRetry(ctx, "fetch_all", func(ctx context.Context) error {
		var err error
		docs, err = d.store.FetchAll(ctx, s.Collection)
		return err
	})
	if err != nil {
		return err
	}

	s.ScannedAt = d.opts.Now().UTC()
	s.Scanned = len(docs)
	s.Docs = make([]database.RawDocument, 0, len(docs))
	s.Fingerprints = make(map[string]string, len(docs))
	s.Invalid = nil
	s.Issues = make(map[string][]string)

	for _, doc := range docs {
		rec, issues, err := models.DecodeVideoRecord(doc.ID, doc.Data)
		if err == nil {
			err = global.ValidateRecord(rec)
		}
		if err != nil {
			s.Invalid = append(s.Invalid, InvalidRecord{ID: doc.ID, Error: common.Wrap(common.ErrInvalidDocument, err, nil).Error(), Issues: issues})
			d.log.WithFields(logrus.Fields{"record_id": doc.ID, "error": err.Error()}).Warn("Bỏ qua document không hợp lệ")
			continue
		}
		if len(issues) > 0 {
			s.Issues[doc.ID] = issues
		}
		s.Docs = append(s.Docs, doc)
		s.Fingerprints[doc.ID] = rec.Fingerprint()
	}

	d.log.WithFields(logrus.Fields{
		"scanned": len(docs),
		"valid":   len(s.Docs),
		"invalid": len(s.Invalid),
	}).Info("📥 [RECONCILE] Đã đọc collection")
	return nil
}

// records decode lại các document hợp lệ (đã validate ở bước Fetching)
func (d *Driver) records(s *RunState) []*models.VideoRecord {
	out := make([]*models.VideoRecord, 0, len(s.Docs))
	for _, doc := range s.Docs {
		rec, _, err := models.DecodeVideoRecord(doc.ID, doc.Data)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// stepTokenize tách token cho mọi record; record thiếu cả filename và title bị gắn parse-error
func (d *Driver) stepTokenize(_ context.Context, s *RunState) error {
	s.Tokens = make(map[string]*tokenizer.Result, len(s.Docs))
	s.ParseErrors = make(map[string]string)
	for _, rec := range d.records(s) {
		res, err := tokenizer.Tokenize(rec.Filename, rec.Title)
		if err != nil {
			s.ParseErrors[rec.ID] = err.Error()
			continue
		}
		s.Tokens[rec.ID] = res
	}
	d.log.WithFields(logrus.Fields{
		"tokenized":    len(s.Tokens),
		"parse_errors": len(s.ParseErrors),
	}).Info("Đã tách token")
	return nil
}

// stepResolve resolve tên lần đầu, chưa có ngữ cảnh game plan
func (d *Driver) stepResolve(_ context.Context, s *RunState) error {
	s.Resolutions = make(map[string]resolver.Resolution, len(s.Tokens))
	for id, toks := range s.Tokens {
		s.Resolutions[id] = d.resolver.Resolve(toks.NameTokens(), resolver.Context{})
	}
	return nil
}

// stepClassify phân loại hai lượt: lượt đầu tìm ngày game plan của từng student,
// lượt hai cộng timing bonus. Record game plan được resolve lại với lead coach.
func (d *Driver) stepClassify(_ context.Context, s *RunState) error {
	recs := d.records(s)
	s.Classes = make(map[string]classifier.Result, len(s.Tokens))
	s.GamePlanDates = make(map[string]string)

	first := make(map[string]classifier.Result, len(recs))
	for _, rec := range recs {
		toks, ok := s.Tokens[rec.ID]
		if !ok {
			continue
		}
		in := d.classifierInput(rec, toks)
		res := d.classifier.Classify(in)
		first[rec.ID] = res
		if res.Category != models.CategoryGamePlan || in.SessionDate.IsZero() {
			continue
		}
		student := models.StrValue(s.Resolutions[rec.ID].Student)
		if student == "" {
			continue
		}
		date := in.SessionDate.Format(models.SessionDateLayout)
		if cur, ok := s.GamePlanDates[student]; !ok || date < cur {
			s.GamePlanDates[student] = date
		}
	}

	for _, rec := range recs {
		toks, ok := s.Tokens[rec.ID]
		if !ok {
			continue
		}
		res := first[rec.ID]
		student := models.StrValue(s.Resolutions[rec.ID].Student)
		if gp, ok := s.GamePlanDates[student]; ok && student != "" {
			in := d.classifierInput(rec, toks)
			in.GamePlanDate, _ = time.Parse(models.SessionDateLayout, gp)
			res = d.classifier.Classify(in)
		}
		s.Classes[rec.ID] = res

		if res.Category == models.CategoryGamePlan {
			s.Resolutions[rec.ID] = d.resolver.Resolve(toks.NameTokens(), resolver.Context{GamePlan: true})
		}
	}

	low := 0
	for _, c := range s.Classes {
		if c.LowConfidence {
			low++
		}
	}
	d.log.WithFields(logrus.Fields{
		"classified":     len(s.Classes),
		"low_confidence": low,
		"game_plans":     len(s.GamePlanDates),
	}).Info("Đã phân loại")
	return nil
}

func (d *Driver) classifierInput(rec *models.VideoRecord, toks *tokenizer.Result) classifier.Input {
	return classifier.Input{
		Title:       rec.Title,
		Tags:        rec.Tags,
		Filename:    rec.Filename,
		SessionDate: sessionDate(rec, toks),
	}
}

// sessionDate ngày trong filename/title, sau đó sessionDate đã lưu, cuối cùng là createdAt
func sessionDate(rec *models.VideoRecord, toks *tokenizer.Result) time.Time {
	for _, s := range []string{toks.Date(), models.StrValue(rec.SessionDate)} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(models.SessionDateLayout, s); err == nil {
			return t
		}
	}
	if !rec.CreatedAt.IsZero() {
		y, m, day := rec.CreatedAt.UTC().Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

// stepPlan phát hiện trùng và tính diff của toàn bộ batch
func (d *Driver) stepPlan(_ context.Context, s *RunState) error {
	recs := d.records(s)
	desired := make(map[string]*patch, len(recs))
	for _, rec := range recs {
		desired[rec.ID] = d.desiredPatch(s, rec)
	}

	deleted := make(map[string]string)
	groupOf := make(map[string]string)
	s.Duplicates = nil
	if s.hasPass(PassDedupe) {
		cands := make([]dedupe.Candidate, 0, len(recs))
		for _, rec := range recs {
			p := desired[rec.ID]
			cands = append(cands, dedupe.Candidate{
				ID:        rec.ID,
				DriveID:   rec.DriveID,
				Filename:  rec.Filename,
				Title:     rec.Title,
				Coach:     p.coach,
				Student:   p.student,
				CreatedAt: rec.CreatedAt,
			})
		}
		res := dedupe.Detect(cands)
		s.Duplicates = &res

		for _, g := range res.Groups {
			p := desired[g.Survivor]
			p.mergedFrom = utility.SortedUnique(append(append([]string(nil), p.mergedFrom...), g.Duplicates...))
			if g.DriveID != "" {
				p.driveID = g.DriveID
			}
			for _, id := range g.Duplicates {
				deleted[id] = g.Survivor
				groupOf[id] = g.Survivor
			}
			groupOf[g.Survivor] = g.Survivor
		}
		for _, a := range res.Ambiguous {
			for _, id := range a.IDs {
				p := desired[id]
				p.addReason(models.ReviewDuplicateAmbig)
				p.reasons = utility.SortedUnique(p.reasons)
			}
		}
	}

	s.Changes = nil
	s.Flagged = nil
	for _, rec := range recs {
		if survivor, ok := deleted[rec.ID]; ok {
			s.Changes = append(s.Changes, Change{ID: rec.ID, Kind: database.OpDelete, MergedInto: survivor})
			continue
		}
		if len(desired[rec.ID].reasons) > 0 {
			s.Flagged = append(s.Flagged, rec.ID)
		}
		fields, before := desired[rec.ID].diff(rec)
		if len(fields) == 0 {
			continue
		}
		s.Changes = append(s.Changes, Change{ID: rec.ID, Kind: database.OpUpdate, Fields: fields, Before: before})
	}
	sort.Slice(s.Changes, func(i, j int) bool { return s.Changes[i].ID < s.Changes[j].ID })
	sort.Strings(s.Flagged)

	s.Chunks = d.chunk(s.Changes, groupOf)
	s.resetIndex()

	d.log.WithFields(logrus.Fields{
		"changes": len(s.Changes),
		"deletes": len(deleted),
		"chunks":  len(s.Chunks),
	}).Info("📝 [RECONCILE] Đã tính diff")
	return nil
}

// chunk chia thay đổi thành các chunk <= min(BatchSize, MaxBatchOps).
// Survivor và các bản trùng của nó được giữ trong cùng chunk khi vừa, survivor đứng đầu
// để khi nhóm bị tách thì chunk chứa survivor được commit trước.
func (d *Driver) chunk(changes []Change, groupOf map[string]string) []ChunkState {
	size := d.opts.BatchSize
	if limit := d.store.MaxBatchOps(); limit > 0 && limit < size {
		size = limit
	}

	var units [][]string
	unitIndex := make(map[string]int)
	for _, c := range changes {
		key, grouped := groupOf[c.ID]
		if grouped {
			if i, ok := unitIndex[key]; ok {
				if c.ID == key {
					units[i] = append([]string{c.ID}, units[i]...)
				} else {
					units[i] = append(units[i], c.ID)
				}
				continue
			}
			unitIndex[key] = len(units)
		}
		units = append(units, []string{c.ID})
	}

	var chunks []ChunkState
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, ChunkState{Index: len(chunks), IDs: cur, Status: ChunkPending})
			cur = nil
		}
	}
	for _, u := range units {
		if len(cur)+len(u) > size {
			flush()
		}
		for _, part := range utility.Chunk(u, size) {
			if len(cur)+len(part) > size {
				flush()
			}
			cur = append(cur, part...)
		}
	}
	flush()
	return chunks
}

// patch giá trị mong muốn của các field có thể sửa
type patch struct {
	passes map[Pass]bool

	coach, student, source string
	category, sessionType  models.Category
	week, date             string
	driveID                string
	mergedFrom             []string
	reasons                []string
}

func (p *patch) addReason(r string) {
	p.reasons = append(p.reasons, r)
}

// desiredPatch giá trị đúng của record theo các pass được bật
func (d *Driver) desiredPatch(s *RunState, rec *models.VideoRecord) *patch {
	p := &patch{
		passes:      make(map[Pass]bool),
		coach:       models.StrValue(rec.ParsedCoach),
		student:     models.StrValue(rec.ParsedStudent),
		source:      models.StrValue(rec.DataSource),
		category:    rec.Category,
		sessionType: rec.SessionType,
		mergedFrom:  rec.MergedFrom,
	}
	for _, ps := range s.Passes {
		p.passes[ps] = true
	}

	// Lý do của các pass không chạy được giữ nguyên
	for _, r := range rec.ReviewReasons {
		if pass, known := reasonPass(r); !known || (pass != "" && !p.passes[pass]) {
			p.addReason(r)
		}
	}

	toks, parsed := s.Tokens[rec.ID]
	if !parsed {
		p.addReason(models.ReviewParseError)
	}

	if p.passes[PassNames] {
		res := s.Resolutions[rec.ID]
		p.coach = d.keepOrReplace(rec.ParsedCoach, res.Coach, d.roster.IsCoach)
		p.student = d.keepOrReplace(rec.ParsedStudent, res.Student, d.roster.IsStudent)
		p.source = d.desiredSource(rec.DataSource, res.Source, p.coach, p.student)
		for _, r := range res.Reasons {
			switch {
			case r == models.ReviewCoachUnresolved && p.coach != "" && d.roster.IsCoach(p.coach):
			case r == models.ReviewStudentUnresolved && p.student != "" && d.roster.IsStudent(p.student):
			default:
				p.addReason(r)
			}
		}
		if !parsed {
			// Không có token: chỉ dọn giá trị data source nằm nhầm trong field tên
			if p.coach == "" {
				p.addReason(models.ReviewCoachUnresolved)
			}
			if p.student == "" {
				p.addReason(models.ReviewStudentUnresolved)
			}
		}
	}

	if cls, ok := s.Classes[rec.ID]; ok && p.passes[PassClassify] {
		p.category = cls.Category
		p.sessionType = cls.SessionType
		if cls.LowConfidence {
			p.addReason(models.ReviewLowConfidence)
		}
	}

	// Buổi game plan luôn do lead coach dẫn
	if p.category == models.CategoryGamePlan && d.roster.LeadCoach != "" && !d.roster.IsLeadCoach(p.coach) {
		p.addReason(models.ReviewLeadCoachMismatch)
	}

	if parsed && p.passes[PassSession] {
		p.week = toks.Week()
		p.date = toks.Date()
	}

	p.reasons = utility.SortedUnique(p.reasons)
	return p
}

// keepOrReplace giá trị resolve được; nếu không resolve được thì giữ giá trị cũ
// trừ khi giá trị cũ là data source marker
func (d *Driver) keepOrReplace(existing, resolved *string, known func(string) bool) string {
	if v := models.StrValue(resolved); v != "" {
		return v
	}
	old := strings.TrimSpace(models.StrValue(existing))
	if old == "" || d.roster.IsSource(old) {
		return ""
	}
	if known(old) {
		return d.roster.Canonical(old)
	}
	return old
}

// desiredSource marker resolve được, hoặc marker hợp lệ đã lưu; tên người thì bị xoá
func (d *Driver) desiredSource(existing, resolved *string, coach, student string) string {
	if v := models.StrValue(resolved); v != "" {
		return v
	}
	old := strings.TrimSpace(models.StrValue(existing))
	if old == "" {
		return ""
	}
	if m, ok := d.roster.SourceMarker(old); ok {
		return m
	}
	if d.roster.IsCoach(old) || d.roster.IsStudent(old) ||
		strings.EqualFold(old, coach) || strings.EqualFold(old, student) {
		return ""
	}
	return old
}

// reasonPass pass sở hữu một lý do review; "" = luôn tính lại, known=false = lý do lạ, giữ nguyên
func reasonPass(reason string) (Pass, bool) {
	switch {
	case reason == models.ReviewParseError,
		reason == models.ReviewLeadCoachMismatch:
		return "", true
	case reason == models.ReviewCoachUnresolved,
		reason == models.ReviewStudentUnresolved,
		reason == models.ReviewLeadCoachMissing,
		strings.HasPrefix(reason, models.ReviewUnknownName):
		return PassNames, true
	case reason == models.ReviewLowConfidence:
		return PassClassify, true
	case reason == models.ReviewDuplicateAmbig:
		return PassDedupe, true
	}
	return "", false
}

// diff so với document đã lưu; chỉ trả về field thật sự khác
func (p *patch) diff(rec *models.VideoRecord) (map[string]interface{}, map[string]interface{}) {
	fields := make(map[string]interface{})
	before := make(map[string]interface{})
	raw := rec.Raw

	setString := func(field, want string) {
		cur, present := raw[field]
		if want == "" {
			if present && cur != nil {
				fields[field], before[field] = nil, cur
			}
			return
		}
		if s, ok := cur.(string); !ok || s != want {
			fields[field], before[field] = want, cur
		}
	}
	setList := func(field string, cur, want []string) {
		if !utility.EqualStrings(cur, want) {
			var v interface{}
			if len(want) > 0 {
				v = want
			}
			fields[field], before[field] = v, raw[field]
		}
	}

	if p.passes[PassNames] {
		setString(models.FieldParsedCoach, p.coach)
		setString(models.FieldParsedStudent, p.student)
		setString(models.FieldDataSource, p.source)
	}
	if p.passes[PassClassify] {
		setString(models.FieldCategory, string(p.category))
		setString(models.FieldSessionType, string(p.sessionType))
	}
	if p.passes[PassSession] {
		// Không tìm thấy thì giữ giá trị cũ, không xoá
		if p.week != "" {
			setString(models.FieldParsedWeek, p.week)
		}
		if p.date != "" {
			setString(models.FieldSessionDate, p.date)
		}
	}
	if p.passes[PassDedupe] {
		if p.driveID != "" && rec.DriveID == "" {
			setString(models.FieldDriveID, p.driveID)
		}
		setList(models.FieldMergedFrom, rec.MergedFrom, p.mergedFrom)
	}

	setList(models.FieldReviewReasons, rec.ReviewReasons, p.reasons)
	needsReview := len(p.reasons) > 0
	if cur, _ := raw[models.FieldNeedsReview].(bool); cur != needsReview {
		fields[models.FieldNeedsReview], before[models.FieldNeedsReview] = needsReview, raw[models.FieldNeedsReview]
	}

	if len(fields) == 0 {
		return nil, nil
	}
	return fields, before
}
