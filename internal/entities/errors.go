package entities

import "fmt"

// SchemaError reports a malformed schema or a record that cannot satisfy it.
// It is raised before anything reaches the store.
type SchemaError struct {
	Label  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("schema error: %s", e.Reason)
	}
	return fmt.Sprintf("schema error on %s: %s", e.Label, e.Reason)
}

func schemaErrorf(label, format string, args ...any) *SchemaError {
	return &SchemaError{Label: label, Reason: fmt.Sprintf(format, args...)}
}

// MissingKwargError is returned when a constant PropertyRef names a key the
// run context does not carry.
type MissingKwargError struct {
	Key string
}

func (e *MissingKwargError) Error() string {
	return fmt.Sprintf("missing run parameter %q", e.Key)
}
