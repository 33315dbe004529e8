package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"coach_reconcile/internal/common"
	"coach_reconcile/internal/utility"
)

// MemoryStore store trong bộ nhớ cho test và chạy thử; hỗ trợ chèn lỗi theo từng lần gọi
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]interface{}
	updated     map[string]map[string]time.Time // Thời điểm sửa cuối của từng document
	clock       time.Time
	maxOps      int

	// Hook chèn lỗi, trả về lỗi thì thao tác không được áp dụng
	FetchHook  func(collection string) error
	BackupHook func(collection string, docs []RawDocument) error
	CommitHook func(collection string, ops []WriteOp) error

	CommitCalls int
	BackupCalls int
}

// NewMemoryStore tạo store rỗng; maxOps <= 0 dùng giới hạn 500 như Firestore
func NewMemoryStore(maxOps int) *MemoryStore {
	if maxOps <= 0 {
		maxOps = firestoreMaxBatchOps
	}
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		updated:     make(map[string]map[string]time.Time),
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		maxOps:      maxOps,
	}
}

func (s *MemoryStore) Name() string     { return "memory" }
func (s *MemoryStore) MaxBatchOps() int { return s.maxOps }

// Put ghi thẳng một document (seed dữ liệu test)
func (s *MemoryStore) Put(collection, id string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection)[id] = utility.DeepCopyMap(data)
	s.touch(collection, id)
}

// UpdateTime thời điểm sửa cuối của document
func (s *MemoryStore) UpdateTime(collection, id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.updated[collection][id]
	return t, ok
}

// touch tăng đồng hồ logic, mỗi lần ghi có một thời điểm riêng. Gọi khi đang giữ mu.
func (s *MemoryStore) touch(collection, id string) {
	s.clock = s.clock.Add(time.Microsecond)
	u, ok := s.updated[collection]
	if !ok {
		u = make(map[string]time.Time)
		s.updated[collection] = u
	}
	u[id] = s.clock
}

// Get đọc một document
func (s *MemoryStore) Get(collection, id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.collections[collection][id]
	return utility.DeepCopyMap(d), ok
}

// Count số document trong collection
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// Collections tên các collection hiện có
func (s *MemoryStore) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.collections))
	for name := range s.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) coll(name string) map[string]map[string]interface{} {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]map[string]interface{})
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) FetchAll(ctx context.Context, collection string) ([]RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.ErrStoreRead, err, nil)
	}
	if s.FetchHook != nil {
		if err := s.FetchHook(collection); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RawDocument, 0, len(ids))
	for _, id := range ids {
		out = append(out, RawDocument{
			ID:         id,
			Data:       utility.DeepCopyMap(s.collections[collection][id]),
			UpdateTime: s.updated[collection][id],
		})
	}
	return out, nil
}

func (s *MemoryStore) FetchByIDs(ctx context.Context, collection string, ids []string) ([]RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Wrap(common.ErrStoreRead, err, nil)
	}
	if s.FetchHook != nil {
		if err := s.FetchHook(collection); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RawDocument, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.collections[collection][id]; ok {
			out = append(out, RawDocument{ID: id, Data: utility.DeepCopyMap(d), UpdateTime: s.updated[collection][id]})
		}
	}
	return out, nil
}

func (s *MemoryStore) WriteBackups(ctx context.Context, collection string, docs []RawDocument) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.ErrBackupFailure, err, nil)
	}
	s.mu.Lock()
	s.BackupCalls++
	s.mu.Unlock()

	if len(docs) > s.maxOps {
		return common.NewError(common.ErrCodeBackup, "vượt quá số thao tác tối đa của một batch", len(docs))
	}
	if s.BackupHook != nil {
		if err := s.BackupHook(collection, docs); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	for _, d := range docs {
		c[d.ID] = utility.DeepCopyMap(d.Data)
		s.touch(collection, d.ID)
	}
	return nil
}

func (s *MemoryStore) Commit(ctx context.Context, collection string, ops []WriteOp) error {
	if err := ctx.Err(); err != nil {
		return common.Wrap(common.ErrStoreWrite, err, nil)
	}
	s.mu.Lock()
	s.CommitCalls++
	s.mu.Unlock()

	if len(ops) > s.maxOps {
		return common.NewError(common.ErrCodeStoreWrite, "vượt quá số thao tác tối đa của một batch", len(ops))
	}
	if s.CommitHook != nil {
		if err := s.CommitHook(collection, ops); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)

	// Kiểm tra trước rồi mới áp dụng để giữ tính atomic
	for _, op := range ops {
		_, exists := c[op.ID]
		if !op.IfUpdateTime.IsZero() && (!exists || !s.updated[collection][op.ID].Equal(op.IfUpdateTime)) {
			return common.NewError(common.ErrCodeConcurrentUpdate, "document đã bị sửa sau lần đọc gần nhất", op.ID)
		}
		if op.Kind == OpUpdate && !exists {
			return common.NewError(common.ErrCodeStoreWrite, "document không tồn tại", op.ID)
		}
	}
	for _, op := range ops {
		switch op.Kind {
		case OpDelete:
			delete(c, op.ID)
			delete(s.updated[collection], op.ID)
		case OpUpdate:
			s.touch(collection, op.ID)
			doc := c[op.ID]
			for k, v := range utility.DeepCopyMap(op.Fields) {
				if v == nil {
					delete(doc, k)
					continue
				}
				doc[k] = v
			}
		}
	}
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }
