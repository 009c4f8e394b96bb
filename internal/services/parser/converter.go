package parser

import (
	"fmt"
	"strings"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/zclconf/go-cty/cty"
)

// hclFile is the top-level structure of a schema file.
type hclFile struct {
	Nodes []*hclNode `hcl:"node,block"`
}

type hclNode struct {
	Name              string                 `hcl:"name,label"`
	Label             *string                `hcl:"label,optional"` // Defaults to the block name
	ScopedCleanup     bool                   `hcl:"scoped_cleanup,optional"`
	ExtraLabels       []string               `hcl:"extra_labels,optional"`
	Properties        []*hclProperty         `hcl:"property,block"`
	SubResource       *hclRelationship       `hcl:"sub_resource,block"`
	Relationships     []*hclRelationship     `hcl:"relationship,block"`
	ConditionalLabels []*hclConditionalLabel `hcl:"conditional_label,block"`
}

type hclProperty struct {
	Name       string  `hcl:"name,label"`
	Field      *string `hcl:"field,optional"`
	Constant   *string `hcl:"constant,optional"`
	ExtraIndex bool    `hcl:"extra_index,optional"`
	OneToMany  bool    `hcl:"one_to_many,optional"`
}

type hclRelationship struct {
	TargetLabel string         `hcl:"target_label"`
	RelLabel    string         `hcl:"rel_label"`
	Direction   *string        `hcl:"direction,optional"` // inward (default) or outward
	Match       []*hclProperty `hcl:"match,block"`
	Properties  []*hclProperty `hcl:"property,block"`
}

type hclConditionalLabel struct {
	Label string    `hcl:"label,label"`
	When  cty.Value `hcl:"when"`
}

func (n *hclNode) toSchema() (*entities.NodeSchema, error) {
	label := n.Name
	if n.Label != nil {
		label = *n.Label
	}

	props, err := toRefs(n.Properties)
	if err != nil {
		return nil, err
	}

	s := &entities.NodeSchema{
		Label:         label,
		Properties:    props,
		ExtraLabels:   n.ExtraLabels,
		ScopedCleanup: n.ScopedCleanup,
	}

	if n.SubResource != nil {
		rel, err := n.SubResource.toRelSchema()
		if err != nil {
			return nil, fmt.Errorf("sub_resource: %w", err)
		}
		s.SubResourceRel = &rel
	}
	for _, r := range n.Relationships {
		rel, err := r.toRelSchema()
		if err != nil {
			return nil, fmt.Errorf("relationship %s: %w", r.RelLabel, err)
		}
		s.OtherRels = append(s.OtherRels, rel)
	}
	for _, cl := range n.ConditionalLabels {
		conds, err := conditions(cl.When)
		if err != nil {
			return nil, fmt.Errorf("conditional_label %q: %w", cl.Label, err)
		}
		s.ConditionalLabels = append(s.ConditionalLabels, entities.ConditionalLabel{Label: cl.Label, Conditions: conds})
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *hclRelationship) toRelSchema() (entities.RelSchema, error) {
	dir := entities.Inward
	if r.Direction != nil {
		switch strings.ToLower(*r.Direction) {
		case "inward":
		case "outward":
			dir = entities.Outward
		default:
			return entities.RelSchema{}, fmt.Errorf("direction must be inward or outward, got %q", *r.Direction)
		}
	}

	matcher, err := toRefs(r.Match)
	if err != nil {
		return entities.RelSchema{}, err
	}
	props, err := toRefs(r.Properties)
	if err != nil {
		return entities.RelSchema{}, err
	}
	return entities.RelSchema{
		TargetLabel:   r.TargetLabel,
		TargetMatcher: matcher,
		Direction:     dir,
		RelLabel:      r.RelLabel,
		Properties:    props,
	}, nil
}

func toRefs(blocks []*hclProperty) (map[string]entities.PropertyRef, error) {
	refs := make(map[string]entities.PropertyRef, len(blocks))
	for _, b := range blocks {
		if _, dup := refs[b.Name]; dup {
			return nil, fmt.Errorf("property %q declared twice", b.Name)
		}
		ref, err := b.toRef()
		if err != nil {
			return nil, err
		}
		refs[b.Name] = ref
	}
	return refs, nil
}

func (p *hclProperty) toRef() (entities.PropertyRef, error) {
	var opts []entities.RefOption
	if p.ExtraIndex {
		opts = append(opts, entities.ExtraIndex())
	}
	if p.OneToMany {
		opts = append(opts, entities.OneToMany())
	}

	switch {
	case p.Field != nil && p.Constant != nil:
		return entities.PropertyRef{}, fmt.Errorf("property %q sets both field and constant", p.Name)
	case p.Field != nil:
		return entities.Field(*p.Field, opts...), nil
	case p.Constant != nil:
		return entities.Constant(*p.Constant, opts...), nil
	default:
		return entities.PropertyRef{}, fmt.Errorf("property %q needs a field or a constant", p.Name)
	}
}

// conditions converts a `when` object into property/value pairs.
func conditions(when cty.Value) (map[string]any, error) {
	if when.IsNull() || !when.IsKnown() {
		return nil, fmt.Errorf("when must be a known object")
	}
	ty := when.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("when must be an object, got %s", ty.FriendlyName())
	}

	out := make(map[string]any)
	for k, v := range when.AsValueMap() {
		goValue, err := toGo(v)
		if err != nil {
			return nil, fmt.Errorf("when.%s: %w", k, err)
		}
		out[k] = goValue
	}
	return out, nil
}

// toGo converts a primitive cty value to the Go value records carry.
func toGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if n, acc := bf.Int64(); acc == 0 {
				return n, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type().FriendlyName())
	}
}
