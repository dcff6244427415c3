package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/twinstore/pkg/twin/graph"
)

func TestDecodeAgtype_Vertex(t *testing.T) {
	value := graph.DecodeAgtype(`{"id": 42, "label": "Twin", "properties": {"$dtId": "room1"}}::vertex`)
	vertex, ok := value.(*graph.Vertex)
	assert.True(t, ok)
	assert.Equal(t, int64(42), vertex.ID)
	assert.Equal(t, "Twin", vertex.Label)
	assert.Equal(t, "room1", vertex.Properties["$dtId"])
}

func TestDecodeAgtype_Edge(t *testing.T) {
	value := graph.DecodeAgtype(`{"id": 7, "label": "contains", "start_id": 1, "end_id": 2, "properties": {}}::edge`)
	edge, ok := value.(*graph.Edge)
	assert.True(t, ok)
	assert.Equal(t, "contains", edge.Label)
	assert.Equal(t, int64(1), edge.StartID)
	assert.Equal(t, int64(2), edge.EndID)
}

func TestDecodeAgtype_Scalars(t *testing.T) {
	assert.Equal(t, int64(42), graph.DecodeAgtype("42"))
	assert.Equal(t, 21.5, graph.DecodeAgtype("21.5"))
	assert.Equal(t, true, graph.DecodeAgtype("true"))
	assert.Equal(t, false, graph.DecodeAgtype("false"))
	assert.Equal(t, "hello", graph.DecodeAgtype(`"hello"`))
	assert.Nil(t, graph.DecodeAgtype("null"))
	assert.Nil(t, graph.DecodeAgtype("  "))
}

func TestDecodeAgtype_Containers(t *testing.T) {
	list, ok := graph.DecodeAgtype(`[1, "two", true]`).([]interface{})
	assert.True(t, ok)
	assert.Len(t, list, 3)

	m, ok := graph.DecodeAgtype(`{"name": "lobby", "floor": 2}`).(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "lobby", m["name"])
}

func TestDecodeAgtype_UnrecognizedFallsBackToRawText(t *testing.T) {
	assert.Equal(t, "not valid}::vertex", graph.DecodeAgtype("not valid}::vertex"))
	assert.Equal(t, "bare words", graph.DecodeAgtype("bare words"))
}

func TestPropertyCount(t *testing.T) {
	assert.Equal(t, 0, graph.PropertyCount(nil))
	assert.Equal(t, 1, graph.PropertyCount(int64(5)))
	assert.Equal(t, 1, graph.PropertyCount("s"))

	vertex := &graph.Vertex{Properties: map[string]interface{}{
		"$dtId":     "room1",
		"$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
		"tags":      []interface{}{"a", "b"},
	}}
	assert.Equal(t, 4, graph.PropertyCount(vertex))

	assert.Equal(t, 0, graph.PropertyCount(map[string]interface{}{}))
}
