package query

import (
	"fmt"

	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
)

// materializeCell decodes one agtype cell into a plain Go value. Vertices and
// edges unwrap to their property maps; everything else follows the decode
// priority of the graph package.
func materializeCell(text string) (interface{}, int) {
	decoded := graph.DecodeAgtype(text)
	count := graph.PropertyCount(decoded)
	switch v := decoded.(type) {
	case *graph.Vertex:
		return v.Properties, count
	case *graph.Edge:
		return v.Properties, count
	default:
		return decoded, count
	}
}

// MaterializeRow turns one raw result row into the caller-facing value and
// reports the materialized property count for charge accounting. Single-column
// rows unwrap to the bare value; wider rows become a column-keyed map.
func MaterializeRow(row []string, columns []string) (interface{}, int) {
	if len(row) == 1 {
		return materializeCell(row[0])
	}

	out := make(map[string]interface{}, len(row))
	total := 0
	for i, cell := range row {
		value, count := materializeCell(cell)
		total += count
		name := ""
		if i < len(columns) {
			name = columns[i]
		}
		if name == "" {
			name = fmt.Sprintf("c%d", i)
		}
		out[name] = value
	}
	return out, total
}
