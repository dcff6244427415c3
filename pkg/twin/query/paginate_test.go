package query_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	graphinmemory "github.com/tigerroll/twinstore/pkg/twin/graph/inmemory"
	"github.com/tigerroll/twinstore/pkg/twin/query"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

func TestContinuationToken_RoundTrip(t *testing.T) {
	token := &query.ContinuationToken{Query: "MATCH (t) RETURN t LIMIT 5", RowNumber: 2}
	encoded, err := token.Encode()
	assert.NoError(t, err)

	decoded, err := query.DecodeContinuationToken(encoded)
	assert.NoError(t, err)
	assert.Equal(t, token.Query, decoded.Query)
	assert.Equal(t, token.RowNumber, decoded.RowNumber)
}

func TestDecodeContinuationToken_Invalid(t *testing.T) {
	for _, bad := range []string{
		"not base64 at all!!",
		"aGVsbG8=", // base64 but not JSON
	} {
		_, err := query.DecodeContinuationToken(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
	}
}

func newTestEngine(t *testing.T, twinCount int) *query.Engine {
	t.Helper()
	store := graphinmemory.NewInMemoryGraphStore()
	ctx := context.Background()
	assert.NoError(t, store.CreateOrReplaceModel(ctx, map[string]interface{}{"@id": "dtmi:example:Room;1"}))
	for i := 0; i < twinCount; i++ {
		assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
			"$dtId":     fmt.Sprintf("room%02d", i),
			"$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
		}))
	}
	cfg := &config.QueryConfig{DefaultPageSize: 100, MaxPageSize: 1000}
	return query.NewEngine(store, cfg, metrics.NewNoopRecorder(), metrics.NewNoopTracer())
}

func TestExecute_PagesThroughLimitedQuery(t *testing.T) {
	engine := newTestEngine(t, 8)
	ctx := context.Background()

	page1, err := engine.Execute(ctx, "MATCH (t) RETURN t LIMIT 5", "", 2)
	assert.NoError(t, err)
	assert.Len(t, page1.Values, 2)
	assert.NotNil(t, page1.ContinuationToken)

	page2, err := engine.Execute(ctx, "", *page1.ContinuationToken, 2)
	assert.NoError(t, err)
	assert.Len(t, page2.Values, 2)
	assert.NotNil(t, page2.ContinuationToken)

	page3, err := engine.Execute(ctx, "", *page2.ContinuationToken, 2)
	assert.NoError(t, err)
	assert.Len(t, page3.Values, 1)
	assert.Nil(t, page3.ContinuationToken)
}

func TestExecute_TokenQueryIsAuthoritative(t *testing.T) {
	engine := newTestEngine(t, 5)
	ctx := context.Background()

	page1, err := engine.Execute(ctx, "MATCH (t) RETURN t LIMIT 4", "", 2)
	assert.NoError(t, err)
	assert.NotNil(t, page1.ContinuationToken)

	// A different query alongside the token is ignored.
	page2, err := engine.Execute(ctx, "MATCH (m:Model) RETURN m", *page1.ContinuationToken, 2)
	assert.NoError(t, err)
	assert.Len(t, page2.Values, 2)
	assert.Nil(t, page2.ContinuationToken)
}

func TestExecute_ConcatenatedPagesMatchUnpagedResult(t *testing.T) {
	engine := newTestEngine(t, 7)
	ctx := context.Background()

	full, err := engine.Execute(ctx, "MATCH (t) RETURN t", "", 100)
	assert.NoError(t, err)
	assert.Len(t, full.Values, 7)
	assert.Nil(t, full.ContinuationToken)

	var paged []interface{}
	token := ""
	for {
		page, err := engine.Execute(ctx, "MATCH (t) RETURN t", token, 3)
		assert.NoError(t, err)
		paged = append(paged, page.Values...)
		if page.ContinuationToken == nil {
			break
		}
		token = *page.ContinuationToken
	}
	assert.Equal(t, full.Values, paged)
}

func TestExecute_ShortPageIsFinal(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	page, err := engine.Execute(ctx, "MATCH (t) RETURN t", "", 10)
	assert.NoError(t, err)
	assert.Len(t, page.Values, 3)
	assert.Nil(t, page.ContinuationToken)
}

func TestExecute_EmptyResultIsFinal(t *testing.T) {
	engine := newTestEngine(t, 0)
	ctx := context.Background()

	page, err := engine.Execute(ctx, "MATCH (t) RETURN t", "", 10)
	assert.NoError(t, err)
	assert.Empty(t, page.Values)
	assert.Nil(t, page.ContinuationToken)
}

func TestExecute_ZeroPageSizeUsesDefault(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	page, err := engine.Execute(ctx, "MATCH (t) RETURN t", "", 0)
	assert.NoError(t, err)
	assert.Len(t, page.Values, 3)
}

func TestExecute_ChargeCountsRowsAndProperties(t *testing.T) {
	engine := newTestEngine(t, 2)
	ctx := context.Background()

	// Each twin carries $dtId plus a one-entry $metadata map: 2 properties.
	page, err := engine.Execute(ctx, "MATCH (t) RETURN t", "", 10)
	assert.NoError(t, err)
	assert.Len(t, page.Values, 2)
	assert.Equal(t, 2.0+2.0*2.0, page.QueryCharge)
}

func TestExecute_AggregateQueryTakesSurcharge(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	page, err := engine.Execute(ctx, "SELECT COUNT() FROM digitaltwins", "", 10)
	assert.NoError(t, err)
	assert.Len(t, page.Values, 1)
	// One row, one scalar property, one aggregate surcharge.
	assert.Equal(t, 3.0, page.QueryCharge)
}

func TestExecute_DeclarativeQueryEndToEnd(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	page, err := engine.Execute(ctx, "SELECT * FROM digitaltwins", "", 10)
	assert.NoError(t, err)
	assert.Len(t, page.Values, 3)

	first, ok := page.Values[0].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "room00", first["$dtId"])
}

func TestExecute_MutatingQueryIsRejected(t *testing.T) {
	engine := newTestEngine(t, 1)

	_, err := engine.Execute(context.Background(), "MATCH (t) DETACH DELETE t", "", 10)
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}
