// Package inmemory provides an in-memory implementation of the graph store,
// suitable for tests and embedded use. Query support is intentionally small:
// single-vertex and single-edge MATCH/RETURN patterns with SKIP/LIMIT and
// count(), which is what the pagination engine exercises.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/tigerroll/twinstore/pkg/twin/graph"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

const moduleName = "InMemoryGraphStore"

// InMemoryGraphStore holds the whole graph in maps guarded by one mutex.
type InMemoryGraphStore struct {
	models        map[string]map[string]interface{}
	twins         map[string]map[string]interface{}
	relationships map[string]map[string]interface{}
	vertexIDs     map[string]int64
	nextVertexID  int64
	mu            sync.RWMutex
}

// NewInMemoryGraphStore creates an empty in-memory graph store.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		models:        make(map[string]map[string]interface{}),
		twins:         make(map[string]map[string]interface{}),
		relationships: make(map[string]map[string]interface{}),
		vertexIDs:     make(map[string]int64),
		nextVertexID:  1,
	}
}

func copyDocument(doc map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		c[k] = v
	}
	return c
}

func stringKey(doc map[string]interface{}, key string) (string, bool) {
	v, ok := doc[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func (s *InMemoryGraphStore) assignVertexID(key string) int64 {
	if id, ok := s.vertexIDs[key]; ok {
		return id
	}
	id := s.nextVertexID
	s.nextVertexID++
	s.vertexIDs[key] = id
	return id
}

// CreateOrReplaceModel upserts a model document keyed by "@id".
func (s *InMemoryGraphStore) CreateOrReplaceModel(ctx context.Context, document map[string]interface{}) error {
	id, ok := stringKey(document, graph.KeyModelID)
	if !ok {
		return exception.NewValidationError(moduleName, "model document is missing '@id'", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[id] = copyDocument(document)
	s.assignVertexID("model:" + id)
	return nil
}

// twinModelID extracts the model reference from a twin's "$metadata.$model".
func twinModelID(twin map[string]interface{}) string {
	meta, ok := twin[graph.KeyMetadata].(map[string]interface{})
	if !ok {
		return ""
	}
	modelID, _ := meta[graph.KeyModel].(string)
	return modelID
}

// CreateOrReplaceTwin upserts a twin keyed by "$dtId". A twin referencing a
// nonexistent model is an item-level error.
func (s *InMemoryGraphStore) CreateOrReplaceTwin(ctx context.Context, twin map[string]interface{}) error {
	id, ok := stringKey(twin, graph.KeyTwinID)
	if !ok {
		return exception.NewValidationError(moduleName, "twin document is missing '$dtId'", nil)
	}
	modelID := twinModelID(twin)
	if modelID == "" {
		return exception.NewItemError(moduleName, fmt.Sprintf("twin '%s' carries no model reference", id), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[modelID]; !exists {
		return exception.NewItemError(moduleName, fmt.Sprintf("twin '%s' references nonexistent model '%s'", id, modelID), nil)
	}
	s.twins[id] = copyDocument(twin)
	s.assignVertexID("twin:" + id)
	return nil
}

// CreateOrReplaceRelationship upserts a relationship keyed by "$relationshipId".
func (s *InMemoryGraphStore) CreateOrReplaceRelationship(ctx context.Context, relationship map[string]interface{}) error {
	id, ok := stringKey(relationship, graph.KeyRelationshipID)
	if !ok {
		return exception.NewValidationError(moduleName, "relationship document is missing '$relationshipId'", nil)
	}
	sourceID, ok := stringKey(relationship, graph.KeySourceID)
	if !ok {
		return exception.NewItemError(moduleName, fmt.Sprintf("relationship '%s' is missing '$sourceId'", id), nil)
	}
	targetID, ok := stringKey(relationship, graph.KeyTargetID)
	if !ok {
		return exception.NewItemError(moduleName, fmt.Sprintf("relationship '%s' is missing '$targetId'", id), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.twins[sourceID]; !exists {
		return exception.NewItemError(moduleName, fmt.Sprintf("relationship '%s' references nonexistent source twin '%s'", id, sourceID), nil)
	}
	if _, exists := s.twins[targetID]; !exists {
		return exception.NewItemError(moduleName, fmt.Sprintf("relationship '%s' references nonexistent target twin '%s'", id, targetID), nil)
	}
	s.relationships[id] = copyDocument(relationship)
	return nil
}

func deleteUpTo(m map[string]map[string]interface{}, limit int) int {
	if limit <= 0 {
		limit = len(m)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	deleted := 0
	for _, k := range keys {
		if deleted >= limit {
			break
		}
		delete(m, k)
		deleted++
	}
	return deleted
}

// DeleteRelationships deletes up to limit relationships.
func (s *InMemoryGraphStore) DeleteRelationships(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteUpTo(s.relationships, limit), nil
}

// DeleteTwins deletes up to limit twins. Relationships must already be gone;
// the bulk delete order guarantees that.
func (s *InMemoryGraphStore) DeleteTwins(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteUpTo(s.twins, limit), nil
}

// DeleteModels deletes up to limit models.
func (s *InMemoryGraphStore) DeleteModels(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteUpTo(s.models, limit), nil
}

func listSlice(m map[string]map[string]interface{}, offset, limit int) []map[string]interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if offset >= len(keys) {
		return nil
	}
	keys = keys[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	out := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyDocument(m[k]))
	}
	return out
}

// ListModels returns model documents ordered by id.
func (s *InMemoryGraphStore) ListModels(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSlice(s.models, offset, limit), nil
}

// ListTwins returns twin documents ordered by id.
func (s *InMemoryGraphStore) ListTwins(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSlice(s.twins, offset, limit), nil
}

// ListRelationships returns relationship documents ordered by id.
func (s *InMemoryGraphStore) ListRelationships(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSlice(s.relationships, offset, limit), nil
}

var (
	matchVertexRe = regexp.MustCompile(`(?is)^\s*MATCH\s*\(\s*(\w+)\s*(?::\s*(\w+))?\s*\)\s*RETURN\s+(.+?)\s*$`)
	matchEdgeRe   = regexp.MustCompile(`(?is)^\s*MATCH\s*\(\s*\)\s*-\s*\[\s*(\w+)\s*\]\s*->\s*\(\s*\)\s*RETURN\s+(.+?)\s*$`)
	skipRe        = regexp.MustCompile(`(?i)\bSKIP\s+(\d+)`)
	limitRe       = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	countRe       = regexp.MustCompile(`(?i)^count\s*\(`)
)

func parseSkipLimit(clause string) (skip, limit int) {
	limit = -1
	if m := skipRe.FindStringSubmatch(clause); m != nil {
		skip, _ = strconv.Atoi(m[1])
	}
	if m := limitRe.FindStringSubmatch(clause); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}
	return skip, limit
}

func window(rows []string, skip, limit int) []string {
	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (s *InMemoryGraphStore) vertexText(kind, key, label string, props map[string]interface{}) string {
	id := s.vertexIDs[kind+":"+key]
	data, _ := json.Marshal(props)
	return fmt.Sprintf(`{"id": %d, "label": "%s", "properties": %s}::vertex`, id, label, data)
}

// ExecuteCypher evaluates the supported query subset against the stored graph.
// Rows are rendered in the engine's text form (vertex/edge annotations) so the
// materializer exercises the same decode path as the SQL-backed store.
func (s *InMemoryGraphStore) ExecuteCypher(ctx context.Context, cypher string, columns []string, readWrite bool) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m := matchEdgeRe.FindStringSubmatch(cypher); m != nil {
		skip, limit := parseSkipLimit(m[2])
		keys := make([]string, 0, len(s.relationships))
		for k := range s.relationships {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if countRe.MatchString(m[2]) {
			return [][]string{{strconv.Itoa(len(keys))}}, nil
		}

		texts := make([]string, 0, len(keys))
		for _, k := range keys {
			data, _ := json.Marshal(s.relationships[k])
			texts = append(texts, fmt.Sprintf(`{"id": 0, "label": "%s", "properties": %s}::edge`,
				s.relationships[k][graph.KeyRelationshipName], data))
		}
		rows := make([][]string, 0)
		for _, t := range window(texts, skip, limit) {
			rows = append(rows, []string{t})
		}
		return rows, nil
	}

	m := matchVertexRe.FindStringSubmatch(cypher)
	if m == nil {
		return nil, exception.NewValidationError(moduleName, fmt.Sprintf("unsupported query: %s", cypher), nil)
	}
	label := m[2]
	returnClause := m[3]
	skip, limit := parseSkipLimit(returnClause)

	var keys []string
	var kind, vertexLabel string
	var source map[string]map[string]interface{}
	if label == "Model" {
		source, kind, vertexLabel = s.models, "model", "Model"
	} else {
		source, kind, vertexLabel = s.twins, "twin", "Twin"
	}
	for k := range source {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if countRe.MatchString(returnClause) {
		return [][]string{{strconv.Itoa(len(keys))}}, nil
	}

	texts := make([]string, 0, len(keys))
	for _, k := range keys {
		texts = append(texts, s.vertexText(kind, k, vertexLabel, source[k]))
	}
	rows := make([][]string, 0)
	for _, t := range window(texts, skip, limit) {
		rows = append(rows, []string{t})
	}
	return rows, nil
}

// Close releases resources held by the store. Nothing to release in memory.
func (s *InMemoryGraphStore) Close() error {
	return nil
}

var _ graph.GraphStore = (*InMemoryGraphStore)(nil)
