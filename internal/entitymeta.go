package internal

import "fmt"

// Join is one JOIN entry in a compiled query plan. Grounded on
// internal/relation_index.go's RelationDescriptor (parent/child schema
// pairing) and the gorm-filter reference implementation's
// autoJoinRelatedTables idea (other_examples' join auto-resolution from
// dotted field paths), generalized into an alias-reusing join list
// independent of any ORM.
type Join struct {
	Alias       string
	Table       string
	ParentAlias string
	// ParentColumn/ChildColumn name the equality join predicate:
	// <ParentAlias>.<ParentColumn> = <Alias>.<ChildColumn>.
	ParentColumn string
	ChildColumn  string
	Kind         RelationKind
}

// JoinPlan is the ordered, deduplicated set of joins a compiled query needs,
// built once per Compile call and reused by every leaf/sort key that
// resolves into one of its paths.
type JoinPlan struct {
	RootAlias string
	Joins     []*Join

	byPath    map[string]*Join
	aliasDesc map[string]*EntityDescriptor
}

// NewJoinPlan starts a plan rooted at the base entity's table alias and
// descriptor.
func NewJoinPlan(rootAlias string, root *EntityDescriptor) *JoinPlan {
	return &JoinPlan{
		RootAlias: rootAlias,
		byPath:    map[string]*Join{},
		aliasDesc: map[string]*EntityDescriptor{rootAlias: root},
	}
}

// EnsureJoin walks path (a chain of relation FieldDescriptors resolved by
// ResolveField), adding any join not already present in the plan and
// reusing the alias of one that is — the "minimal join plan with alias
// reuse for shared path prefixes" C5 requires. Returns the alias the final
// path segment's target table is joined under.
func (jp *JoinPlan) EnsureJoin(path []*FieldDescriptor) (string, error) {
	parentAlias := jp.RootAlias
	var prefix string
	for _, fd := range path {
		if fd.Relation == RelationNone {
			return "", fmt.Errorf("field %q is not a relation", fd.WireName)
		}
		prefix += "." + fd.RelPath
		if existing, ok := jp.byPath[prefix]; ok {
			parentAlias = existing.Alias
			continue
		}

		parentDesc := jp.aliasDesc[parentAlias]
		childDesc, err := DescriptorFor(fd.RelType)
		if err != nil {
			return "", err
		}

		alias := fmt.Sprintf("j%d", len(jp.Joins))
		j := &Join{
			Alias:       alias,
			Table:       childDesc.TableName,
			ParentAlias: parentAlias,
			Kind:        fd.Relation,
		}
		switch fd.Relation {
		case RelationToOne:
			j.ParentColumn = fd.Column
			if fd.RelFK != "" {
				j.ParentColumn = fd.RelFK
			}
			j.ChildColumn = primaryKeyColumn(childDesc)
		case RelationToMany:
			j.ParentColumn = primaryKeyColumn(parentDesc)
			j.ChildColumn = fd.RelFK
		}
		jp.Joins = append(jp.Joins, j)
		jp.byPath[prefix] = j
		jp.aliasDesc[alias] = childDesc
		parentAlias = alias
	}
	return parentAlias, nil
}

// HasToMany reports whether the plan contains any ToMany join. The compiler's
// fetch-field handling does not call it: compileFetchFields checks each
// fetch field's Relation directly and skips ToMany paths.
func (jp *JoinPlan) HasToMany() bool {
	for _, j := range jp.Joins {
		if j.Kind == RelationToMany {
			return true
		}
	}
	return false
}

func primaryKeyColumn(d *EntityDescriptor) string {
	if d == nil || len(d.PrimaryKey) == 0 {
		return "id"
	}
	return d.PrimaryKey[0].Column
}

// PrimaryKeyDescriptors returns the primary key field descriptors for d:
// every field tagged pk, in declaration order, so a composite key is several
// tagged fields. A nested key struct is not expanded into its components.
func PrimaryKeyDescriptors(d *EntityDescriptor) ([]*FieldDescriptor, error) {
	if len(d.PrimaryKey) == 0 {
		return nil, fmt.Errorf("entity %s has no field tagged pk", d.Type.Name())
	}
	return d.PrimaryKey, nil
}
