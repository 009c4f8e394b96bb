package entities

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"

	"github.com/google/uuid"
)

// UpdateTagKey is the run parameter holding the sync's logical clock.
const UpdateTagKey = "UPDATE_TAG"

// RunContext carries the parameters of one sync invocation (update tag,
// tenant ids, ...). It is immutable: With returns an extended copy.
type RunContext struct {
	runID  string
	params map[string]any
}

// NewRunContext creates a run context stamped with updateTag plus extra params.
// extra is copied; later changes to it are not observed.
func NewRunContext(updateTag int64, extra map[string]any) RunContext {
	params := make(map[string]any, len(extra)+1)
	maps.Copy(params, extra)
	params[UpdateTagKey] = updateTag
	return RunContext{runID: uuid.NewString(), params: params}
}

// RunID identifies the sync invocation in logs.
func (rc RunContext) RunID() string {
	return rc.runID
}

// Get returns the value stored under key.
func (rc RunContext) Get(key string) (any, bool) {
	v, ok := rc.params[key]
	return v, ok
}

// With returns a copy of the context carrying key=value in addition to the
// receiver's parameters. The receiver is left untouched.
func (rc RunContext) With(key string, value any) RunContext {
	params := make(map[string]any, len(rc.params)+1)
	maps.Copy(params, rc.params)
	params[key] = value
	return RunContext{runID: rc.runID, params: params}
}

// Keys returns the parameter names in sorted order.
func (rc RunContext) Keys() []string {
	keys := make([]string, 0, len(rc.params))
	for k := range rc.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UpdateTag returns the run's update tag as int64.
func (rc RunContext) UpdateTag() (int64, error) {
	v, ok := rc.params[UpdateTagKey]
	if !ok {
		return 0, &MissingKwargError{Key: UpdateTagKey}
	}
	tag, err := AsInt64(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", UpdateTagKey, err)
	}
	return tag, nil
}

// AsInt64 converts the integer representations found in records and run
// parameters (Go ints, JSON float64, json.Number) to int64.
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
