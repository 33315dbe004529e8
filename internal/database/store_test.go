package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"coach_reconcile/internal/common"
)

func TestBackupNaming(t *testing.T) {
	at := time.Date(2024, 9, 6, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "videos_backup_20240906", BackupCollection("videos", at))
	assert.Equal(t, "v1__run-1", BackupDocID("v1", "run-1"))
}

func TestMemoryStoreCommitAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Put("videos", "a", map[string]interface{}{"title": "A", "parsedCoach": "B"})
	s.Put("videos", "b", map[string]interface{}{"title": "B"})

	// Một op update vào document không tồn tại làm hỏng cả chunk
	err := s.Commit(ctx, "videos", []WriteOp{
		{Kind: OpDelete, ID: "b"},
		{Kind: OpUpdate, ID: "missing", Fields: map[string]interface{}{"x": 1}},
	})
	require.Error(t, err)
	assert.Equal(t, 2, s.Count("videos"))

	err = s.Commit(ctx, "videos", []WriteOp{
		{Kind: OpDelete, ID: "b"},
		{Kind: OpUpdate, ID: "a", Fields: map[string]interface{}{"parsedCoach": nil, "parsedStudent": "Ethan"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count("videos"))

	doc, ok := s.Get("videos", "a")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"title": "A", "parsedStudent": "Ethan"}, doc)
	assert.Equal(t, 2, s.CommitCalls)
}

func TestMemoryStoreFetch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Put("videos", "b", map[string]interface{}{"tags": []interface{}{"x"}})
	s.Put("videos", "a", map[string]interface{}{"title": "A"})

	all, err := s.FetchAll(ctx, "videos")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	// Dữ liệu trả về là bản copy
	all[1].Data["tags"].([]interface{})[0] = "changed"
	doc, _ := s.Get("videos", "b")
	assert.Equal(t, "x", doc["tags"].([]interface{})[0])

	byID, err := s.FetchByIDs(ctx, "videos", []string{"b", "gone", "a"})
	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, "b", byID[0].ID)
	assert.Equal(t, "a", byID[1].ID)
}

func TestMemoryStoreUpdateTimePrecondition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Put("videos", "a", map[string]interface{}{"title": "A"})
	s.Put("videos", "b", map[string]interface{}{"title": "B"})

	docs, err := s.FetchByIDs(ctx, "videos", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	readA, readB := docs[0].UpdateTime, docs[1].UpdateTime
	require.False(t, readA.IsZero())
	assert.True(t, readB.After(readA))

	// a bị sửa sau lần đọc: cả lần ghi bị từ chối, b không bị xoá
	s.Put("videos", "a", map[string]interface{}{"title": "A (edited)"})
	err = s.Commit(ctx, "videos", []WriteOp{
		{Kind: OpUpdate, ID: "a", Fields: map[string]interface{}{"parsedCoach": "Jenny"}, IfUpdateTime: readA},
		{Kind: OpDelete, ID: "b", IfUpdateTime: readB},
	})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeConcurrentUpdate))
	assert.False(t, common.IsTransient(err))
	assert.Equal(t, 2, s.Count("videos"))

	current, ok := s.UpdateTime("videos", "a")
	require.True(t, ok)
	err = s.Commit(ctx, "videos", []WriteOp{
		{Kind: OpUpdate, ID: "a", Fields: map[string]interface{}{"parsedCoach": "Jenny"}, IfUpdateTime: current},
		{Kind: OpDelete, ID: "b", IfUpdateTime: readB},
	})
	require.NoError(t, err)
	doc, _ := s.Get("videos", "a")
	assert.Equal(t, "Jenny", doc["parsedCoach"])
	after, _ := s.UpdateTime("videos", "a")
	assert.True(t, after.After(current))
	_, ok = s.UpdateTime("videos", "b")
	assert.False(t, ok)

	// Document đã bị xoá cũng không qua được điều kiện
	err = s.Commit(ctx, "videos", []WriteOp{{Kind: OpDelete, ID: "b", IfUpdateTime: readB}})
	assert.True(t, common.IsCode(err, common.ErrCodeConcurrentUpdate))
}

func TestMemoryStoreHooksAndLimits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	boom := common.Wrap(common.ErrStoreWrite, context.DeadlineExceeded, nil)
	s.CommitHook = func(string, []WriteOp) error { return boom }

	s.Put("videos", "a", map[string]interface{}{})
	err := s.Commit(ctx, "videos", []WriteOp{{Kind: OpDelete, ID: "a"}})
	assert.True(t, errors.Is(err, common.ErrStoreWrite))
	assert.True(t, common.IsTransient(err))
	assert.Equal(t, 1, s.Count("videos"))

	err = s.WriteBackups(ctx, "videos_backup", []RawDocument{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	assert.True(t, errors.Is(err, common.ErrBackupFailure))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.FetchAll(cancelled, "videos")
	assert.True(t, errors.Is(err, common.ErrStoreRead))
	assert.False(t, common.IsTransient(err))
}

func TestNormalizeBSON(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 9, 6, 0, 0, 0, 0, time.UTC)

	raw := toRawDocument(bson.M{
		"_id":         oid,
		"createdAt":   primitive.NewDateTimeFromTime(when),
		"tags":        primitive.A{"a", int32(2)},
		"meta":        primitive.D{{Key: "k", Value: "v"}},
		"dataVersion": int32(3),
	})

	assert.Equal(t, oid.Hex(), raw.ID)
	assert.NotContains(t, raw.Data, "_id")
	assert.Equal(t, when, raw.Data["createdAt"])
	assert.Equal(t, []interface{}{"a", int64(2)}, raw.Data["tags"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, raw.Data["meta"])
	assert.Equal(t, int64(3), raw.Data["dataVersion"])

	assert.Equal(t, "plain", toRawDocument(bson.M{"_id": "plain"}).ID)
}

func TestNormalizeFirestore(t *testing.T) {
	in := map[string]interface{}{
		"nested": map[string]interface{}{"list": []interface{}{"a"}},
		"n":      int64(1),
	}
	assert.Equal(t, in, normalizeFirestoreMap(in))
}
