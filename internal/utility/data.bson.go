package utility

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// BsonWrapper chứa các thao tác update cơ bản $set, $unset
type BsonWrapper struct {
	// Set sẽ đặt dữ liệu trong db, ví dụ { $set : {parsedCoach : "Jenny"}}
	Set bson.M `json:"$set,omitempty" bson:"$set,omitempty"`

	// Unset xoá field, ví dụ { $unset: { parsedStudent: "" } }. Field không tồn tại thì không làm gì.
	Unset bson.M `json:"$unset,omitempty" bson:"$unset,omitempty"`
}

// UpdateDocument tạo document update từ patch: giá trị nil nghĩa là xoá field
func UpdateDocument(fields map[string]interface{}) BsonWrapper {
	var w BsonWrapper
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		if v == nil {
			if w.Unset == nil {
				w.Unset = bson.M{}
			}
			w.Unset[k] = ""
			continue
		}
		if w.Set == nil {
			w.Set = bson.M{}
		}
		w.Set[k] = v
	}
	return w
}
