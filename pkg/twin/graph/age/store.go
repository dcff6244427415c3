// Package age implements the graph store on Apache AGE. Cypher statements run
// through the cypher() table function on plain SQL connections, so the store
// works over the same resolver-managed GORM pools the repositories use.
package age

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	database "github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const moduleName = "AgeGraphStore"

// Vertex labels and edge naming rules of the stored graph.
const (
	LabelModel = "Model"
	LabelTwin  = "Twin"
)

var labelRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AgeGraphStore executes cypher against an AGE-enabled PostgreSQL database.
// Replica-safe queries run on the read connection when one is configured.
type AgeGraphStore struct {
	resolver  database.DBConnectionResolver
	graphName string
	rwRef     string
	roRef     string
}

// NewAgeGraphStore wires the store to the configured graph connections.
func NewAgeGraphStore(resolver database.DBConnectionResolver, cfg *config.Config) *AgeGraphStore {
	infra := cfg.Twinstore.Infrastructure
	roRef := infra.GraphReadDBRef
	if roRef == "" {
		roRef = infra.GraphDBRef
	}
	return &AgeGraphStore{
		resolver:  resolver,
		graphName: cfg.Twinstore.Query.GraphName,
		rwRef:     infra.GraphDBRef,
		roRef:     roRef,
	}
}

func (s *AgeGraphStore) sqlDB(ctx context.Context, readWrite bool) (*sql.DB, error) {
	ref := s.roRef
	if readWrite {
		ref = s.rwRef
	}
	conn, err := s.resolver.ResolveDBConnection(ctx, ref)
	if err != nil {
		return nil, exception.NewInfrastructureError(moduleName, fmt.Sprintf("failed to resolve graph connection '%s'", ref), err)
	}
	db, err := conn.GetSQLDB()
	if err != nil {
		return nil, exception.NewInfrastructureError(moduleName, fmt.Sprintf("failed to obtain sql.DB for graph connection '%s'", ref), err)
	}
	return db, nil
}

// dollarQuote wraps the cypher body in a dollar-quoted literal, picking a tag
// the body does not contain.
func dollarQuote(body string) string {
	tag := "$q$"
	for i := 0; strings.Contains(body, tag); i++ {
		tag = fmt.Sprintf("$q%d$", i)
	}
	return tag + body + tag
}

func (s *AgeGraphStore) cypherSQL(cypher string, columnCount int) string {
	if columnCount < 1 {
		columnCount = 1
	}
	cols := make([]string, columnCount)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d agtype", i)
	}
	return fmt.Sprintf("SELECT * FROM ag_catalog.cypher('%s', %s) AS (%s)",
		s.graphName, dollarQuote(cypher), strings.Join(cols, ", "))
}

func (s *AgeGraphStore) runCypher(ctx context.Context, cypher string, columnCount int, readWrite bool) ([][]string, error) {
	db, err := s.sqlDB(ctx, readWrite)
	if err != nil {
		return nil, err
	}

	stmt := s.cypherSQL(cypher, columnCount)
	logger.Debugf("%s: executing cypher (readWrite=%t): %s", moduleName, readWrite, cypher)

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, exception.NewInfrastructureError(moduleName, "cypher execution failed", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		cells := make([]sql.NullString, columnCount)
		dest := make([]interface{}, columnCount)
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, exception.NewInfrastructureError(moduleName, "failed to scan cypher result row", err)
		}
		row := make([]string, columnCount)
		for i, c := range cells {
			if c.Valid {
				row[i] = c.String
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewInfrastructureError(moduleName, "cypher result iteration failed", err)
	}
	return out, nil
}

// runCount executes a cypher statement whose single column is an integer.
func (s *AgeGraphStore) runCount(ctx context.Context, cypher string) (int, error) {
	rows, err := s.runCypher(ctx, cypher, 1, true)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, ok := graph.DecodeAgtype(rows[0][0]).(int64)
	if !ok {
		return 0, exception.NewInfrastructureError(moduleName, fmt.Sprintf("unexpected count result '%s'", rows[0][0]), nil)
	}
	return int(n), nil
}

// cypherLiteral renders a JSON-shaped value as a cypher literal. Map keys are
// backtick-escaped so wire-format keys like "$dtId" and "@id" survive.
func cypherLiteral(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return quoteString(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			parts = append(parts, cypherLiteral(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, quoteKey(k)+": "+cypherLiteral(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func quoteKey(k string) string {
	if labelRe.MatchString(k) {
		return k
	}
	return "`" + strings.ReplaceAll(k, "`", "") + "`"
}

func requireString(doc map[string]interface{}, key, what string) (string, error) {
	v, _ := doc[key].(string)
	if v == "" {
		return "", exception.NewValidationError(moduleName, fmt.Sprintf("%s is missing '%s'", what, key), nil)
	}
	return v, nil
}

// CreateOrReplaceModel upserts a model vertex keyed by "@id".
func (s *AgeGraphStore) CreateOrReplaceModel(ctx context.Context, document map[string]interface{}) error {
	id, err := requireString(document, graph.KeyModelID, "model document")
	if err != nil {
		return err
	}
	cypher := fmt.Sprintf("MERGE (m:%s {%s: %s}) SET m = %s RETURN count(m)",
		LabelModel, quoteKey(graph.KeyModelID), quoteString(id), cypherLiteral(document))
	_, err = s.runCount(ctx, cypher)
	return err
}

// CreateOrReplaceTwin upserts a twin vertex keyed by "$dtId" after verifying
// the referenced model exists.
func (s *AgeGraphStore) CreateOrReplaceTwin(ctx context.Context, twin map[string]interface{}) error {
	id, err := requireString(twin, graph.KeyTwinID, "twin document")
	if err != nil {
		return err
	}
	meta, _ := twin[graph.KeyMetadata].(map[string]interface{})
	modelID, _ := meta[graph.KeyModel].(string)
	if modelID == "" {
		return exception.NewItemError(moduleName, fmt.Sprintf("twin '%s' carries no model reference", id), nil)
	}

	found, err := s.runCount(ctx, fmt.Sprintf("MATCH (m:%s {%s: %s}) RETURN count(m)",
		LabelModel, quoteKey(graph.KeyModelID), quoteString(modelID)))
	if err != nil {
		return err
	}
	if found == 0 {
		return exception.NewItemError(moduleName, fmt.Sprintf("twin '%s' references nonexistent model '%s'", id, modelID), nil)
	}

	cypher := fmt.Sprintf("MERGE (t:%s {%s: %s}) SET t = %s RETURN count(t)",
		LabelTwin, quoteKey(graph.KeyTwinID), quoteString(id), cypherLiteral(twin))
	_, err = s.runCount(ctx, cypher)
	return err
}

// CreateOrReplaceRelationship upserts an edge keyed by "$relationshipId". The
// edge label is the relationship name, so both endpoints must resolve in one
// MATCH for the MERGE to take effect.
func (s *AgeGraphStore) CreateOrReplaceRelationship(ctx context.Context, relationship map[string]interface{}) error {
	id, err := requireString(relationship, graph.KeyRelationshipID, "relationship document")
	if err != nil {
		return err
	}
	sourceID, _ := relationship[graph.KeySourceID].(string)
	targetID, _ := relationship[graph.KeyTargetID].(string)
	name, _ := relationship[graph.KeyRelationshipName].(string)
	if sourceID == "" || targetID == "" {
		return exception.NewItemError(moduleName, fmt.Sprintf("relationship '%s' is missing an endpoint reference", id), nil)
	}
	if !labelRe.MatchString(name) {
		return exception.NewItemError(moduleName, fmt.Sprintf("relationship '%s' has an invalid name '%s'", id, name), nil)
	}

	cypher := fmt.Sprintf(
		"MATCH (s:%s {%s: %s}), (t:%s {%s: %s}) MERGE (s)-[r:%s {%s: %s}]->(t) SET r = %s RETURN count(r)",
		LabelTwin, quoteKey(graph.KeyTwinID), quoteString(sourceID),
		LabelTwin, quoteKey(graph.KeyTwinID), quoteString(targetID),
		name, quoteKey(graph.KeyRelationshipID), quoteString(id),
		cypherLiteral(relationship))
	merged, err := s.runCount(ctx, cypher)
	if err != nil {
		return err
	}
	if merged == 0 {
		return exception.NewItemError(moduleName,
			fmt.Sprintf("relationship '%s' references a nonexistent twin ('%s' or '%s')", id, sourceID, targetID), nil)
	}
	return nil
}

// DeleteRelationships deletes up to limit edges and reports how many went.
func (s *AgeGraphStore) DeleteRelationships(ctx context.Context, limit int) (int, error) {
	return s.runCount(ctx, fmt.Sprintf("MATCH ()-[r]->() WITH r LIMIT %d DELETE r RETURN count(*)", limit))
}

// DeleteTwins deletes up to limit twin vertices.
func (s *AgeGraphStore) DeleteTwins(ctx context.Context, limit int) (int, error) {
	return s.runCount(ctx, fmt.Sprintf("MATCH (t:%s) WITH t LIMIT %d DETACH DELETE t RETURN count(*)", LabelTwin, limit))
}

// DeleteModels deletes up to limit model vertices.
func (s *AgeGraphStore) DeleteModels(ctx context.Context, limit int) (int, error) {
	return s.runCount(ctx, fmt.Sprintf("MATCH (m:%s) WITH m LIMIT %d DETACH DELETE m RETURN count(*)", LabelModel, limit))
}

func (s *AgeGraphStore) listVertices(ctx context.Context, label, orderKey string, offset, limit int) ([]map[string]interface{}, error) {
	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.%s SKIP %d LIMIT %d",
		label, quoteKey(orderKey), offset, limit)
	rows, err := s.runCypher(ctx, cypher, 1, false)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		v, ok := graph.DecodeAgtype(row[0]).(*graph.Vertex)
		if !ok {
			return nil, exception.NewInfrastructureError(moduleName, fmt.Sprintf("unexpected vertex cell '%s'", row[0]), nil)
		}
		out = append(out, v.Properties)
	}
	return out, nil
}

// ListModels returns model documents ordered by id.
func (s *AgeGraphStore) ListModels(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	return s.listVertices(ctx, LabelModel, graph.KeyModelID, offset, limit)
}

// ListTwins returns twin documents ordered by id.
func (s *AgeGraphStore) ListTwins(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	return s.listVertices(ctx, LabelTwin, graph.KeyTwinID, offset, limit)
}

// ListRelationships returns relationship documents ordered by id.
func (s *AgeGraphStore) ListRelationships(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	cypher := fmt.Sprintf("MATCH ()-[r]->() RETURN r ORDER BY r.%s SKIP %d LIMIT %d",
		quoteKey(graph.KeyRelationshipID), offset, limit)
	rows, err := s.runCypher(ctx, cypher, 1, false)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		e, ok := graph.DecodeAgtype(row[0]).(*graph.Edge)
		if !ok {
			return nil, exception.NewInfrastructureError(moduleName, fmt.Sprintf("unexpected edge cell '%s'", row[0]), nil)
		}
		out = append(out, e.Properties)
	}
	return out, nil
}

// ExecuteCypher runs an arbitrary cypher query and returns the raw agtype text
// of every cell. readWrite selects the connection pool.
func (s *AgeGraphStore) ExecuteCypher(ctx context.Context, cypher string, columns []string, readWrite bool) ([][]string, error) {
	return s.runCypher(ctx, cypher, len(columns), readWrite)
}

// Close is a no-op; connection life cycle belongs to the resolver's providers.
func (s *AgeGraphStore) Close() error {
	return nil
}

var _ graph.GraphStore = (*AgeGraphStore)(nil)
