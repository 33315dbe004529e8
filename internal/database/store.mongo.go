package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coach_reconcile/config"
	"coach_reconcile/internal/common"
	"coach_reconcile/internal/utility"
)

// Không có giới hạn cứng như Firestore; giữ chunk vừa phải để transaction ngắn
const mongoMaxBatchOps = 1000

// MongoStore document store trên MongoDB.
// Commit/WriteBackups chạy trong transaction nên server phải là replica set hoặc mongos.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore kết nối MongoDB theo cấu hình
func NewMongoStore(ctx context.Context, c *config.Configuration) (*MongoStore, error) {
	client, err := GetInstance(ctx, c.MongoDB_ConnectionURI)
	if err != nil {
		return nil, common.Wrap(common.ErrStoreConnection, err, nil)
	}
	return &MongoStore{client: client, db: client.Database(c.MongoDB_DBName)}, nil
}

func (s *MongoStore) Name() string     { return "mongo" }
func (s *MongoStore) MaxBatchOps() int { return mongoMaxBatchOps }

func (s *MongoStore) FetchAll(ctx context.Context, collection string) ([]RawDocument, error) {
	return s.find(ctx, collection, bson.M{})
}

func (s *MongoStore) FetchByIDs(ctx context.Context, collection string, ids []string) ([]RawDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, collection, bson.M{"_id": bson.M{"$in": utility.IDFilterValues(ids)}})
}

func (s *MongoStore) find(ctx context.Context, collection string, filter bson.M) ([]RawDocument, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, common.ConvertMongoError(common.ErrStoreRead, err)
	}
	defer cursor.Close(ctx)

	var out []RawDocument
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, common.ConvertMongoError(common.ErrStoreRead, err)
		}
		out = append(out, toRawDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, common.ConvertMongoError(common.ErrStoreRead, err)
	}
	return out, nil
}

func (s *MongoStore) WriteBackups(ctx context.Context, collection string, docs []RawDocument) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		replacement := bson.M{}
		for k, v := range d.Data {
			replacement[k] = v
		}
		replacement["_id"] = d.ID
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(replacement).
			SetUpsert(true))
	}

	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		_, err := s.db.Collection(collection).BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
		return err
	})
	if err != nil {
		return common.ConvertMongoError(common.ErrBackupFailure, err)
	}
	return nil
}

// Commit ghi ops trong một transaction. MongoDB không lưu thời điểm sửa cuối phía server
// nên IfUpdateTime không được kiểm tra ở đây.
func (s *MongoStore) Commit(ctx context.Context, collection string, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(ops))
	updates := 0
	for _, op := range ops {
		filter := bson.M{"_id": bson.M{"$in": utility.IDFilterValues([]string{op.ID})}}
		switch op.Kind {
		case OpDelete:
			models = append(models, mongo.NewDeleteOneModel().SetFilter(filter))
		case OpUpdate:
			updates++
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(filter).
				SetUpdate(utility.UpdateDocument(op.Fields)))
		}
	}

	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.db.Collection(collection).BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
		if err != nil {
			return err
		}
		// Giống Firestore: update vào document đã mất thì huỷ cả chunk
		if res.MatchedCount < int64(updates) {
			return common.NewError(common.ErrCodeStoreWrite,
				fmt.Sprintf("chỉ khớp %d/%d document cần update", res.MatchedCount, updates), nil)
		}
		return nil
	})
	if err != nil {
		return common.ConvertMongoError(common.ErrStoreWrite, err)
	}
	return nil
}

func (s *MongoStore) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return CloseInstance(ctx, s.client)
}

// toRawDocument tách _id và chuẩn hoá kiểu BSON
func toRawDocument(doc bson.M) RawDocument {
	var id string
	switch v := doc["_id"].(type) {
	case primitive.ObjectID:
		id = utility.ObjectID2String(v)
	case string:
		id = v
	default:
		id = fmt.Sprintf("%v", v)
	}
	data := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		data[k] = normalizeBSONValue(v)
	}
	return RawDocument{ID: id, Data: data}
}

func normalizeBSONValue(v interface{}) interface{} {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.ObjectID:
		return x.Hex()
	case primitive.A:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = normalizeBSONValue(item)
		}
		return out
	case primitive.M:
		out := make(map[string]interface{}, len(x))
		for k, item := range x {
			out[k] = normalizeBSONValue(item)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(x))
		for _, e := range x {
			out[e.Key] = normalizeBSONValue(e.Value)
		}
		return out
	case int32:
		return int64(x)
	default:
		return v
	}
}
