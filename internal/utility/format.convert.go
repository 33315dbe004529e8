package utility

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// String2ObjectID chuyển đổi chuỗi thành ObjectID, ok = false nếu không phải hex hợp lệ
func String2ObjectID(id string) (primitive.ObjectID, bool) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return objectID, true
}

// ObjectID2String chuyển đổi ObjectID thành chuỗi
func ObjectID2String(id primitive.ObjectID) string {
	return id.Hex()
}

// IDFilterValues giá trị _id dùng trong filter $in: collection cũ có cả _id dạng ObjectID lẫn string,
// id dạng hex được thêm cả bản ObjectID
func IDFilterValues(ids []string) []interface{} {
	out := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		out = append(out, id)
		if oid, ok := String2ObjectID(id); ok {
			out = append(out, oid)
		}
	}
	return out
}
