package query

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const engineModule = "QueryPaginationEngine"

// Charge surcharges on top of rows and property counts: one unit when the
// query is forced onto the read-write pool and one when it carries aggregate
// functions.
const (
	chargeReadWriteSurcharge = 1.0
	chargeAggregateSurcharge = 1.0
)

var (
	tailSkipRe  = regexp.MustCompile(`(?i)\s+SKIP\s+(\d+)\s*$`)
	tailLimitRe = regexp.MustCompile(`(?i)\s+LIMIT\s+(\d+)\s*$`)
)

// Engine executes queries one bounded page at a time, minting continuation
// tokens that make the remaining result set reissuable.
type Engine struct {
	store    graph.GraphStore
	cfg      *config.QueryConfig
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewEngine creates a pagination engine over the given graph store.
func NewEngine(store graph.GraphStore, cfg *config.QueryConfig, recorder metrics.MetricRecorder, tracer metrics.Tracer) *Engine {
	return &Engine{store: store, cfg: cfg, recorder: recorder, tracer: tracer}
}

// splitWindow strips a trailing SKIP/LIMIT pair off a cypher query and
// returns the bare query plus the parsed values. limit -1 means unbounded.
func splitWindow(cypher string) (base string, skip, limit int) {
	base = strings.TrimSpace(cypher)
	limit = -1
	if m := tailLimitRe.FindStringSubmatch(base); m != nil {
		limit, _ = strconv.Atoi(m[1])
		base = strings.TrimSpace(tailLimitRe.ReplaceAllString(base, ""))
	}
	if m := tailSkipRe.FindStringSubmatch(base); m != nil {
		skip, _ = strconv.Atoi(m[1])
		base = strings.TrimSpace(tailSkipRe.ReplaceAllString(base, ""))
	}
	return base, skip, limit
}

func (e *Engine) clampPageSize(maxItemsPerPage int) int {
	if maxItemsPerPage <= 0 {
		return e.cfg.DefaultPageSize
	}
	if maxItemsPerPage > e.cfg.MaxPageSize {
		return e.cfg.MaxPageSize
	}
	return maxItemsPerPage
}

// Execute runs one page of a query. When continuationToken is non-empty the
// token's embedded query is authoritative and the query argument is ignored.
func (e *Engine) Execute(ctx context.Context, query string, continuationToken string, maxItemsPerPage int) (*model.Page, error) {
	rowsEmitted := 0
	if continuationToken != "" {
		token, err := DecodeContinuationToken(continuationToken)
		if err != nil {
			return nil, err
		}
		query = token.Query
		rowsEmitted = token.RowNumber
	}

	translation, err := Translate(query)
	if err != nil {
		return nil, err
	}

	routing := "read"
	if translation.ReadWrite {
		routing = "readwrite"
	}
	ctx, endSpan := e.tracer.StartSpan(ctx, "query.execute", map[string]string{
		"query.routing": routing,
	})
	started := time.Now()

	page, err := e.executePage(ctx, query, translation, rowsEmitted, maxItemsPerPage)
	endSpan(err)
	if err != nil {
		return nil, err
	}

	e.recorder.RecordQuery(ctx, routing, len(page.Values), page.QueryCharge, time.Since(started))
	return page, nil
}

func (e *Engine) executePage(ctx context.Context, query string, translation *Translation, rowsEmitted, maxItemsPerPage int) (*model.Page, error) {
	base, baseSkip, hardLimit := splitWindow(translation.Cypher)

	pageSize := e.clampPageSize(maxItemsPerPage)
	if hardLimit >= 0 {
		remaining := hardLimit - rowsEmitted
		if remaining <= 0 {
			return &model.Page{Values: []interface{}{}}, nil
		}
		if remaining < pageSize {
			pageSize = remaining
		}
	}

	cypher := base
	if effectiveSkip := baseSkip + rowsEmitted; effectiveSkip > 0 {
		cypher = fmt.Sprintf("%s SKIP %d", cypher, effectiveSkip)
	}
	cypher = fmt.Sprintf("%s LIMIT %d", cypher, pageSize)

	logger.Debugf("%s: page query (emitted=%d, pageSize=%d): %s", engineModule, rowsEmitted, pageSize, cypher)

	rows, err := e.store.ExecuteCypher(ctx, cypher, translation.Columns, translation.ReadWrite)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0, len(rows))
	charge := float64(len(rows))
	for _, row := range rows {
		value, propertyCount := MaterializeRow(row, translation.Columns)
		values = append(values, value)
		charge += float64(propertyCount)
	}
	if translation.ReadWrite {
		charge += chargeReadWriteSurcharge
	}
	if translation.HasAggregates {
		charge += chargeAggregateSurcharge
	}

	page := &model.Page{Values: values, QueryCharge: charge}

	totalEmitted := rowsEmitted + len(rows)
	final := len(rows) < pageSize || (hardLimit >= 0 && totalEmitted >= hardLimit)
	if !final {
		token := &ContinuationToken{Query: query, RowNumber: totalEmitted}
		encoded, err := token.Encode()
		if err != nil {
			return nil, err
		}
		page.ContinuationToken = &encoded
	}
	return page, nil
}
