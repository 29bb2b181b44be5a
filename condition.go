package queryspec

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// wireValidate enforces the wire-format DTO boundary's own shape
// constraints — "page/size are sane before we even attempt field
// resolution" — independent of validateGroup's structural AND/OR checks.
// Grounded on the teacher's types.go QueryRequest, which carried
// `validate:"..."` struct tags but never actually wired a validator.Validate
// to enforce them; this module wires the same library the tags already
// named.
var wireValidate = validator.New()

// Builder constructs an immutable SearchCondition[D] through a fluent API.
// A Builder is mutable scratch state; the condition tree it produces is
// frozen the moment Build() succeeds. Grounded on the teacher's
// CompositeCondition construction idiom (condition.go), generalized from a
// single INTERSECT/UNION-emitting tree into a typed, round-trippable one.
type Builder[D any] struct {
	group       *GroupBuilder[D]
	sort        []OrderBy
	page        int
	size        int
	fetchFields []FetchField
	err         error
}

// NewBuilder starts a fresh condition for entity type D with an empty,
// implicitly-AND top-level group.
func NewBuilder[D any]() *Builder[D] {
	b := &Builder[D]{page: 0, size: 20}
	b.group = newGroupBuilder[D](b, OpAnd)
	return b
}

// From seeds a Builder with a deep copy of an existing condition, so callers
// can derive variants (e.g. the same filters with a different page) without
// mutating the original. Grounded on the spec's "from(existing)" lifecycle
// requirement.
func From[D any](existing SearchCondition[D]) *Builder[D] {
	b := &Builder[D]{
		sort:        append([]OrderBy(nil), existing.sort...),
		page:        existing.page,
		size:        existing.size,
		fetchFields: append([]FetchField(nil), existing.fetchFields...),
	}
	b.group = cloneGroupBuilder[D](b, existing.root, OpAnd)
	return b
}

// GroupBuilder accumulates sibling Nodes within one nesting level. The
// top-level group is implicitly AND-joined; And()/Or() on a GroupBuilder
// only matter once a second sibling is added (spec §8 property 6: the first
// sibling's operator is always nil).
type GroupBuilder[D any] struct {
	parent   *Builder[D]
	joinWith BooleanOperator
	nodes    []Node
}

func newGroupBuilder[D any](parent *Builder[D], joinWith BooleanOperator) *GroupBuilder[D] {
	return &GroupBuilder[D]{parent: parent, joinWith: joinWith}
}

func cloneGroupBuilder[D any](parent *Builder[D], src Group, joinWith BooleanOperator) *GroupBuilder[D] {
	gb := newGroupBuilder[D](parent, joinWith)
	for _, n := range src.Nodes {
		gb.nodes = append(gb.nodes, cloneNode(n))
	}
	return gb
}

func cloneNode(n Node) Node {
	out := Node{Operator: n.Operator}
	if n.Leaf != nil {
		leaf := *n.Leaf
		leaf.Values = append([]any(nil), n.Leaf.Values...)
		out.Leaf = &leaf
	}
	if n.Group != nil {
		grp := Group{}
		for _, child := range n.Group.Nodes {
			grp.Nodes = append(grp.Nodes, cloneNode(child))
		}
		out.Group = &grp
	}
	return out
}

func (g *GroupBuilder[D]) appendLeaf(leaf Leaf) {
	op := g.joinWith
	if len(g.nodes) == 0 {
		op = ""
	}
	g.nodes = append(g.nodes, Node{Operator: op, Leaf: &leaf})
}

// Where appends a leaf comparison joined to its preceding sibling with the
// group's current join operator (AND by default; see Group for explicit
// nested grouping).
func (g *GroupBuilder[D]) Where(field string, op SearchOperator, value any) *GroupBuilder[D] {
	g.appendLeaf(Leaf{Field: field, Operator: op, Value: value})
	return g
}

// WhereIn appends a multi-valued comparison (IN, NOT_IN, BETWEEN).
func (g *GroupBuilder[D]) WhereIn(field string, op SearchOperator, values []any) *GroupBuilder[D] {
	g.appendLeaf(Leaf{Field: field, Operator: op, Values: values})
	return g
}

// And sets the join operator used for subsequently appended siblings at this
// nesting level to AND. Has no effect on the first sibling.
func (g *GroupBuilder[D]) And() *GroupBuilder[D] {
	g.joinWith = OpAnd
	return g
}

// Or sets the join operator used for subsequently appended siblings at this
// nesting level to OR.
func (g *GroupBuilder[D]) Or() *GroupBuilder[D] {
	g.joinWith = OpOr
	return g
}

// Group opens a nested boundary joined to its preceding sibling with the
// current join operator, populates it via fn, and closes it — the nested
// group's own internal AND/OR nesting is independent of its parent's (spec
// §8 property 7: nested group boundaries must survive compilation intact).
func (g *GroupBuilder[D]) Group(fn func(*GroupBuilder[D])) *GroupBuilder[D] {
	op := g.joinWith
	if len(g.nodes) == 0 {
		op = ""
	}
	child := newGroupBuilder[D](g.parent, OpAnd)
	fn(child)
	grp := Group{Nodes: child.nodes}
	g.nodes = append(g.nodes, Node{Operator: op, Group: &grp})
	return g
}

// OrderBy appends a sort key, ascending by default.
func (b *Builder[D]) OrderBy(field string, dir SortDirection) *Builder[D] {
	b.sort = append(b.sort, OrderBy{Field: field, Direction: dir})
	return b
}

// Page sets the 0-based page number and page size.
func (b *Builder[D]) Page(page, size int) *Builder[D] {
	b.page = page
	b.size = size
	return b
}

// Fetch marks a related ToOne path for eager materialization in Phase 2.
func (b *Builder[D]) Fetch(fields ...FetchField) *Builder[D] {
	b.fetchFields = append(b.fetchFields, fields...)
	return b
}

// Root exposes the implicit top-level group for adding leaves/nested groups.
func (b *Builder[D]) Root() *GroupBuilder[D] { return b.group }

// Build validates the accumulated structure and freezes it into an
// immutable SearchCondition[D]. Structural-only validation happens here
// (page/size sanity, non-empty leaf fields); field-existence and
// operator-compatibility validation is deferred to the compiler (C6), which
// has access to the entity's field descriptors.
func (b *Builder[D]) Build() (SearchCondition[D], error) {
	if b.err != nil {
		return SearchCondition[D]{}, b.err
	}
	if err := wireValidate.Struct(wireCondition{Page: b.page, Size: b.size}); err != nil {
		return SearchCondition[D]{}, NewValidationError(ErrCodeValidationFailed, err.Error())
	}
	if err := validateGroup(b.group.toGroup()); err != nil {
		return SearchCondition[D]{}, err
	}
	return SearchCondition[D]{
		root:        b.group.toGroup(),
		sort:        append([]OrderBy(nil), b.sort...),
		page:        b.page,
		size:        b.size,
		fetchFields: append([]FetchField(nil), b.fetchFields...),
	}, nil
}

func (g *GroupBuilder[D]) toGroup() Group {
	return Group{Nodes: append([]Node(nil), g.nodes...)}
}

// validateGroup enforces the structural contract: the first sibling of
// every group carries no BooleanOperator, every later sibling carries one,
// and every leaf names a non-empty field.
func validateGroup(g Group) error {
	for i, n := range g.Nodes {
		wantEmpty := i == 0
		if wantEmpty && n.Operator != "" {
			return NewValidationError(ErrCodeUnexpectedOperator,
				fmt.Sprintf("sibling %d is first in its group and must not carry a boolean operator", i))
		}
		if !wantEmpty && n.Operator == "" {
			return NewValidationError(ErrCodeMissingOperator,
				fmt.Sprintf("sibling %d must carry a boolean operator joining it to its predecessor", i))
		}
		switch {
		case n.Leaf != nil && n.Group != nil:
			return NewValidationError(ErrCodeValidationFailed, "node cannot be both a leaf and a group")
		case n.Leaf == nil && n.Group == nil:
			return NewValidationError(ErrCodeValidationFailed, "node must be either a leaf or a group")
		case n.Leaf != nil && n.Leaf.Field == "":
			return NewValidationError(ErrCodeValidationFailed, "leaf must name a field")
		case n.Group != nil:
			if err := validateGroup(*n.Group); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---- JSON wire format (spec §6.1) ----

type wireCondition struct {
	Conditions  []json.RawMessage `json:"conditions,omitempty"`
	Sort        []OrderBy         `json:"sort,omitempty"`
	Page        int               `json:"page" validate:"gte=0"`
	Size        int               `json:"size" validate:"gte=1,lte=1000"`
	FetchFields []FetchField      `json:"fetchFields,omitempty"`
}

type wireNode struct {
	Operator       BooleanOperator   `json:"operator,omitempty"`
	Field          string            `json:"field,omitempty"`
	SearchOperator SearchOperator    `json:"searchOperator,omitempty"`
	Value          any               `json:"value,omitempty"`
	Conditions     []json.RawMessage `json:"conditions,omitempty"`
}

// MarshalJSON renders the wire format: a group is {"conditions":[...]}, a
// leaf is {"field","searchOperator","value"}, and every node carries
// "operator" except the first sibling in its enclosing group. Per spec
// §6.1, multi-operand leaves (IN/NOT_IN/BETWEEN/NOT_BETWEEN) reuse "value"
// as an array rather than a separate key. The server-only fetch-field set is
// not written, and UnmarshalJSON drops it if the input carries one.
func (c SearchCondition[D]) MarshalJSON() ([]byte, error) {
	nodes, err := marshalNodes(c.root.Nodes)
	if err != nil {
		return nil, err
	}
	w := wireCondition{Conditions: nodes, Sort: c.sort, Page: c.page, Size: c.size}
	return json.Marshal(w)
}

func marshalNodes(nodes []Node) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(nodes))
	for _, n := range nodes {
		raw, err := marshalNode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func marshalNode(n Node) (json.RawMessage, error) {
	switch {
	case n.Leaf != nil:
		w := wireNode{Operator: n.Operator, Field: n.Leaf.Field, SearchOperator: n.Leaf.Operator, Value: n.Leaf.Value}
		if n.Leaf.Values != nil {
			w.Value = n.Leaf.Values
		}
		return json.Marshal(w)
	case n.Group != nil:
		nodes, err := marshalNodes(n.Group.Nodes)
		if err != nil {
			return nil, err
		}
		w := wireNode{Operator: n.Operator, Conditions: nodes}
		return json.Marshal(w)
	default:
		return nil, fmt.Errorf("node has neither leaf nor group")
	}
}

// UnmarshalJSON parses the wire format into a SearchCondition[D], applying
// the same structural validation Build() does. The discriminator between a
// leaf and a group mirrors the teacher's key-set discriminator in
// types.go's unmarshalCondition: presence of "conditions" means a group,
// otherwise a leaf.
func (c *SearchCondition[D]) UnmarshalJSON(data []byte) error {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if err := wireValidate.Struct(w); err != nil {
		return NewValidationError(ErrCodeValidationFailed, err.Error())
	}
	group, err := unmarshalGroup(w.Conditions)
	if err != nil {
		return err
	}
	if err := validateGroup(group); err != nil {
		return err
	}
	c.root = group
	c.sort = w.Sort
	c.page = w.Page
	c.size = w.Size
	c.fetchFields = nil
	return nil
}

func unmarshalGroup(raw []json.RawMessage) (Group, error) {
	nodes := make([]Node, 0, len(raw))
	for _, r := range raw {
		n, err := unmarshalNode(r)
		if err != nil {
			return Group{}, err
		}
		nodes = append(nodes, n)
	}
	return Group{Nodes: nodes}, nil
}

func unmarshalNode(raw json.RawMessage) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(raw, &w); err != nil {
		return Node{}, err
	}
	if w.Conditions != nil {
		grp, err := unmarshalGroup(w.Conditions)
		if err != nil {
			return Node{}, err
		}
		return Node{Operator: w.Operator, Group: &grp}, nil
	}
	leaf := Leaf{Field: w.Field, Operator: w.SearchOperator}
	if arr, ok := w.Value.([]any); ok {
		leaf.Values = arr
	} else {
		leaf.Value = w.Value
	}
	return Node{Operator: w.Operator, Leaf: &leaf}, nil
}
