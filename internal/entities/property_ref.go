package entities

import "fmt"

// RefKind identifies where a PropertyRef takes its value from.
type RefKind int

const (
	// RefField resolves from a key of the record being loaded.
	RefField RefKind = iota
	// RefConstant resolves from a key of the run context.
	RefConstant
)

// PropertyRef points at the value of one graph attribute.
// Example: Field("arn") reads record["arn"], Constant("UPDATE_TAG") reads the run's update tag.
type PropertyRef struct {
	Kind       RefKind
	Name       string // Record key (RefField) or run context key (RefConstant)
	ExtraIndex bool   // The property should be indexed by the store
	OneToMany  bool   // The resolved value is a list; relationships fan out per element
}

// RefOption customizes a PropertyRef.
type RefOption func(*PropertyRef)

// ExtraIndex marks the property as worth an index in the store.
func ExtraIndex() RefOption {
	return func(r *PropertyRef) { r.ExtraIndex = true }
}

// OneToMany marks a matcher property whose source value is a list.
func OneToMany() RefOption {
	return func(r *PropertyRef) { r.OneToMany = true }
}

// Field creates a PropertyRef that resolves from the current record.
func Field(name string, opts ...RefOption) PropertyRef {
	ref := PropertyRef{Kind: RefField, Name: name}
	for _, opt := range opts {
		opt(&ref)
	}
	return ref
}

// Constant creates a PropertyRef that resolves from the run context.
func Constant(key string, opts ...RefOption) PropertyRef {
	ref := PropertyRef{Kind: RefConstant, Name: key}
	for _, opt := range opts {
		opt(&ref)
	}
	return ref
}

// IsConstant reports whether the ref resolves from the run context.
func (r PropertyRef) IsConstant() bool {
	return r.Kind == RefConstant
}

// String returns a compact representation, e.g. "field:arn" or "const:UPDATE_TAG".
func (r PropertyRef) String() string {
	prefix := "field"
	if r.IsConstant() {
		prefix = "const"
	}
	s := fmt.Sprintf("%s:%s", prefix, r.Name)
	if r.OneToMany {
		s += "[]"
	}
	return s
}

// ResolveProperty returns the value a ref points at for one record.
// A field missing from the record resolves to nil; a constant missing from
// the run context is a caller bug and yields *MissingKwargError.
func ResolveProperty(ref PropertyRef, record map[string]any, rc RunContext) (any, error) {
	switch ref.Kind {
	case RefField:
		return record[ref.Name], nil
	case RefConstant:
		v, ok := rc.Get(ref.Name)
		if !ok {
			return nil, &MissingKwargError{Key: ref.Name}
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown property ref kind %d", ref.Kind)
	}
}
