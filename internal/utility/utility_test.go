package utility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SortedUnique([]string{"b", "", "a", "b"}))
	assert.Nil(t, SortedUnique(nil))
	assert.True(t, EqualStrings(nil, []string{}))
	assert.False(t, EqualStrings([]string{"a"}, []string{"b"}))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, Chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2}}, Chunk([]int{1, 2}, 0))
}

func TestUpdateDocument(t *testing.T) {
	w := UpdateDocument(map[string]interface{}{
		"parsedCoach":   "Jenny",
		"parsedStudent": nil,
	})
	assert.Equal(t, bson.M{"parsedCoach": "Jenny"}, w.Set)
	assert.Equal(t, bson.M{"parsedStudent": ""}, w.Unset)

	w = UpdateDocument(map[string]interface{}{"a": 1})
	assert.Nil(t, w.Unset)
}

func TestIDFilterValues(t *testing.T) {
	oid := primitive.NewObjectID()
	vals := IDFilterValues([]string{"plain", oid.Hex()})
	assert.Equal(t, []interface{}{"plain", oid.Hex(), oid}, vals)
	_, ok := String2ObjectID("plain")
	assert.False(t, ok)
}

func TestDeepCopyMap(t *testing.T) {
	src := map[string]interface{}{
		"tags":   []interface{}{"a"},
		"nested": map[string]interface{}{"k": "v"},
	}
	cp := DeepCopyMap(src)
	cp["tags"].([]interface{})[0] = "changed"
	cp["nested"].(map[string]interface{})["k"] = "changed"

	assert.Equal(t, "a", src["tags"].([]interface{})[0])
	assert.Equal(t, "v", src["nested"].(map[string]interface{})["k"])
}

func TestGoProtect(t *testing.T) {
	assert.True(t, GoProtect(nil, func() {}))
	assert.False(t, GoProtect(nil, func() { panic("boom") }))
}
