// Package sqlgraph stores the property graph in three relational tables
// (graph_nodes, graph_node_labels, graph_relationships) and runs compiled
// statements against them. Dialects supply the JSON and placeholder syntax.
package sqlgraph

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Parameter types understood by Dialect.Param.
const (
	TypeText   = "text"
	TypeBigint = "bigint"
	TypeJSON   = "jsonb"
)

// Dialect renders the store-specific fragments of a query.
type Dialect interface {
	// Name identifies the dialect in cache keys and logs.
	Name() string
	// Param renders the n-th (1-based) placeholder of the given type.
	Param(n int, typ string) string
	// JSONField extracts key from the JSON column col for comparison and indexing.
	JSONField(col, key string) string
	// MergeJSON returns base patched with the JSON object in patch; keys whose
	// patch value is null are dropped. An empty base means "no properties yet".
	MergeJSON(base, patch string) string
	// ComparisonArg converts a property value to the argument compared
	// against JSONField.
	ComparisonArg(v any) (any, error)
	// IsTransient reports whether err is worth retrying.
	IsTransient(err error) bool
}

// IDString renders a node id the way it is stored in the id columns.
// JSON numbers decoded as float64 keep their integer form.
func IDString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// encodeProperties serializes a property map for the JSON column. The
// lastupdated value lives in its own column and is left out.
func encodeProperties(props map[string]any, skip ...string) (string, error) {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	for _, k := range skip {
		delete(out, k)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode properties: %w", err)
	}
	return string(b), nil
}
