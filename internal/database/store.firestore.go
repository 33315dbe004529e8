package database

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"coach_reconcile/config"
	"coach_reconcile/internal/common"
)

// Firestore giới hạn 500 thao tác mỗi batch
const firestoreMaxBatchOps = 500

// FirestoreStore document store trên Firestore
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore kết nối Firestore theo cấu hình
func NewFirestoreStore(ctx context.Context, c *config.Configuration) (*FirestoreStore, error) {
	client, err := GetFirestoreClient(ctx, c.FirebaseProjectID, c.FirebaseCredentialsPath)
	if err != nil {
		return nil, common.Wrap(common.ErrStoreConnection, err, nil)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Name() string     { return "firestore" }
func (s *FirestoreStore) MaxBatchOps() int { return firestoreMaxBatchOps }

func (s *FirestoreStore) FetchAll(ctx context.Context, collection string) ([]RawDocument, error) {
	iter := s.client.Collection(collection).Documents(ctx)
	defer iter.Stop()

	var out []RawDocument
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, common.ConvertFirestoreError(common.ErrStoreRead, err)
		}
		out = append(out, rawDocument(snap))
	}
	return out, nil
}

func rawDocument(snap *firestore.DocumentSnapshot) RawDocument {
	return RawDocument{ID: snap.Ref.ID, Data: normalizeFirestoreMap(snap.Data()), UpdateTime: snap.UpdateTime}
}

func (s *FirestoreStore) FetchByIDs(ctx context.Context, collection string, ids []string) ([]RawDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.client.Collection(collection).Doc(id))
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, common.ConvertFirestoreError(common.ErrStoreRead, err)
	}

	out := make([]RawDocument, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		out = append(out, rawDocument(snap))
	}
	return out, nil
}

func (s *FirestoreStore) WriteBackups(ctx context.Context, collection string, docs []RawDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if len(docs) > firestoreMaxBatchOps {
		return common.NewError(common.ErrCodeBackup, "vượt quá số thao tác tối đa của một batch", len(docs))
	}

	batch := s.client.Batch()
	for _, d := range docs {
		batch.Set(s.client.Collection(collection).Doc(d.ID), d.Data)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return common.ConvertFirestoreError(common.ErrBackupFailure, err)
	}
	return nil
}

func (s *FirestoreStore) Commit(ctx context.Context, collection string, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > firestoreMaxBatchOps {
		return common.NewError(common.ErrCodeStoreWrite, "vượt quá số thao tác tối đa của một batch", len(ops))
	}

	batch := s.client.Batch()
	for _, op := range ops {
		ref := s.client.Collection(collection).Doc(op.ID)
		var pre []firestore.Precondition
		if !op.IfUpdateTime.IsZero() {
			pre = append(pre, firestore.LastUpdateTime(op.IfUpdateTime))
		}
		switch op.Kind {
		case OpDelete:
			batch.Delete(ref, pre...)
		case OpUpdate:
			updates := make([]firestore.Update, 0, len(op.Fields))
			for k, v := range op.Fields {
				if v == nil {
					v = firestore.Delete
				}
				updates = append(updates, firestore.Update{Path: k, Value: v})
			}
			// Update thất bại nếu document đã bị xoá hoặc bị sửa sau IfUpdateTime, cả batch bị huỷ
			batch.Update(ref, updates, pre...)
		}
	}
	if _, err := batch.Commit(ctx); err != nil {
		return common.ConvertFirestoreError(common.ErrStoreWrite, err)
	}
	return nil
}

func (s *FirestoreStore) Close(ctx context.Context) error {
	return s.client.Close()
}

// normalizeFirestoreMap đưa các kiểu riêng của Firestore về kiểu chung
func normalizeFirestoreMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeFirestoreValue(v)
	}
	return out
}

func normalizeFirestoreValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return normalizeFirestoreMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = normalizeFirestoreValue(item)
		}
		return out
	case *firestore.DocumentRef:
		if x == nil {
			return nil
		}
		return x.Path
	default:
		return v
	}
}
