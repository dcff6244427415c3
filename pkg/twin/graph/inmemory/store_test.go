package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/twinstore/pkg/twin/graph"
	inmemory "github.com/tigerroll/twinstore/pkg/twin/graph/inmemory"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

func seedStore(t *testing.T) *inmemory.InMemoryGraphStore {
	t.Helper()
	store := inmemory.NewInMemoryGraphStore()
	ctx := context.Background()
	assert.NoError(t, store.CreateOrReplaceModel(ctx, map[string]interface{}{"@id": "dtmi:example:Room;1"}))
	assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
		"$dtId": "room1", "$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
	}))
	assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
		"$dtId": "room2", "$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
	}))
	assert.NoError(t, store.CreateOrReplaceRelationship(ctx, map[string]interface{}{
		"$relationshipId": "rel1", "$relationshipName": "adjacentTo",
		"$sourceId": "room1", "$targetId": "room2",
	}))
	return store
}

func TestCreateOrReplaceTwin_RejectsUnknownModel(t *testing.T) {
	store := inmemory.NewInMemoryGraphStore()
	err := store.CreateOrReplaceTwin(context.Background(), map[string]interface{}{
		"$dtId": "orphan", "$metadata": map[string]interface{}{"$model": "dtmi:example:Missing;1"},
	})
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryItem, exception.CategoryOf(err))
}

func TestCreateOrReplaceTwin_MissingIDIsValidationError(t *testing.T) {
	store := inmemory.NewInMemoryGraphStore()
	err := store.CreateOrReplaceTwin(context.Background(), map[string]interface{}{
		"$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
	})
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}

func TestCreateOrReplaceRelationship_RejectsMissingEndpoints(t *testing.T) {
	store := inmemory.NewInMemoryGraphStore()
	ctx := context.Background()
	assert.NoError(t, store.CreateOrReplaceModel(ctx, map[string]interface{}{"@id": "m1"}))
	assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
		"$dtId": "t1", "$metadata": map[string]interface{}{"$model": "m1"},
	}))

	err := store.CreateOrReplaceRelationship(ctx, map[string]interface{}{
		"$relationshipId": "rel1", "$relationshipName": "linksTo",
		"$sourceId": "t1", "$targetId": "ghost",
	})
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryItem, exception.CategoryOf(err))
}

func TestCreateOrReplace_IsAnUpsert(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
		"$dtId": "room1", "$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
		"temperature": 22.0,
	}))

	twins, err := store.ListTwins(ctx, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, twins, 2)
	assert.Equal(t, 22.0, twins[0]["temperature"])
}

func TestListTwins_OffsetAndLimit(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	twins, err := store.ListTwins(ctx, 0, 1)
	assert.NoError(t, err)
	assert.Len(t, twins, 1)
	assert.Equal(t, "room1", twins[0]["$dtId"])

	twins, err = store.ListTwins(ctx, 1, 10)
	assert.NoError(t, err)
	assert.Len(t, twins, 1)
	assert.Equal(t, "room2", twins[0]["$dtId"])

	twins, err = store.ListTwins(ctx, 5, 10)
	assert.NoError(t, err)
	assert.Empty(t, twins)
}

func TestDelete_ReportsCountsAndHonorsLimit(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	n, err := store.DeleteRelationships(ctx, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.DeleteTwins(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.DeleteTwins(ctx, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.DeleteModels(ctx, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.DeleteModels(ctx, 10)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExecuteCypher_VertexRowsDecode(t *testing.T) {
	store := seedStore(t)

	rows, err := store.ExecuteCypher(context.Background(), "MATCH (t) RETURN t", []string{"t"}, false)
	assert.NoError(t, err)
	assert.Len(t, rows, 2)

	vertex, ok := graph.DecodeAgtype(rows[0][0]).(*graph.Vertex)
	assert.True(t, ok)
	assert.Equal(t, "Twin", vertex.Label)
	assert.Equal(t, "room1", vertex.Properties["$dtId"])
}

func TestExecuteCypher_SkipLimitAndCount(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	rows, err := store.ExecuteCypher(ctx, "MATCH (t) RETURN t SKIP 1 LIMIT 5", []string{"t"}, false)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = store.ExecuteCypher(ctx, "MATCH (t) RETURN count(t)", []string{"c0"}, false)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int64(2), graph.DecodeAgtype(rows[0][0]))
}

func TestExecuteCypher_EdgePattern(t *testing.T) {
	store := seedStore(t)

	rows, err := store.ExecuteCypher(context.Background(), "MATCH ()-[r]->() RETURN r", []string{"r"}, false)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)

	edge, ok := graph.DecodeAgtype(rows[0][0]).(*graph.Edge)
	assert.True(t, ok)
	assert.Equal(t, "adjacentTo", edge.Label)
	assert.Equal(t, "rel1", edge.Properties["$relationshipId"])
}

func TestExecuteCypher_UnsupportedQueryFails(t *testing.T) {
	store := seedStore(t)

	_, err := store.ExecuteCypher(context.Background(), "MATCH (a)-[r]->(b) RETURN a, b", nil, false)
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}
