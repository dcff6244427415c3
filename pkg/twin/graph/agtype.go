package graph

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Vertex is the decoded form of an agtype vertex cell.
type Vertex struct {
	ID         int64                  `json:"id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties"`
}

// Edge is the decoded form of an agtype edge cell.
type Edge struct {
	ID         int64                  `json:"id"`
	Label      string                 `json:"label"`
	StartID    int64                  `json:"start_id"`
	EndID      int64                  `json:"end_id"`
	Properties map[string]interface{} `json:"properties"`
}

const (
	vertexSuffix = "::vertex"
	edgeSuffix   = "::edge"
)

// DecodeAgtype turns the raw text of one agtype cell into a Go value.
// Decode order: vertex, edge, integer, float, boolean, quoted string, list,
// map. Anything unrecognized comes back as the raw string so a row never
// fails to materialize.
func DecodeAgtype(text string) interface{} {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	if strings.HasSuffix(trimmed, vertexSuffix) {
		var v Vertex
		if err := json.Unmarshal([]byte(strings.TrimSuffix(trimmed, vertexSuffix)), &v); err == nil {
			return &v
		}
		return text
	}
	if strings.HasSuffix(trimmed, edgeSuffix) {
		var e Edge
		if err := json.Unmarshal([]byte(strings.TrimSuffix(trimmed, edgeSuffix)), &e); err == nil {
			return &e
		}
		return text
	}

	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	if trimmed == "true" {
		return true
	}
	if trimmed == "false" {
		return false
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return s
		}
	}
	if strings.HasPrefix(trimmed, "[") {
		var l []interface{}
		if err := json.Unmarshal([]byte(trimmed), &l); err == nil {
			return l
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	return text
}

// PropertyCount reports how many scalar property slots a decoded value
// carries. Vertices and edges count their property maps, containers count
// recursively, scalars count one.
func PropertyCount(value interface{}) int {
	switch v := value.(type) {
	case nil:
		return 0
	case *Vertex:
		return PropertyCount(v.Properties)
	case *Edge:
		return PropertyCount(v.Properties)
	case map[string]interface{}:
		n := 0
		for _, e := range v {
			n += PropertyCount(e)
		}
		return n
	case []interface{}:
		n := 0
		for _, e := range v {
			n += PropertyCount(e)
		}
		return n
	default:
		return 1
	}
}
