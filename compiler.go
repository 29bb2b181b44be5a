package queryspec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/lychee-technology/queryspec/internal"
	"go.uber.org/zap"
)

// Compile walks cond's condition tree and produces a backend-neutral
// CompiledQuery: this is the specification compiler, C6. It resolves every
// leaf's dotted field path against D's field descriptors (C2/C5), builds
// the minimal join plan, coerces every leaf value through the value
// coercer (C1), and appends the mandatory primary-key tiebreak to the sort
// (spec §8: "PK tiebreak is mandatory"). Grounded on
// internal/sql_generator.go's buildComposite/buildKv tree walk, redesigned
// from EAV EXISTS-subqueries to relational JOIN-qualified comparisons.
func Compile[D any](cond SearchCondition[D]) (*CompiledQuery, error) {
	var zero D
	entityType := reflect.TypeOf(zero)
	desc, err := internal.DescriptorFor(entityType)
	if err != nil {
		return nil, NewCompileError(ErrCodeUnknownField, err.Error())
	}

	pk, err := internal.PrimaryKeyDescriptors(desc)
	if err != nil {
		return nil, NewCompileError(ErrCodeNoPrimaryKey, err.Error())
	}

	plan := internal.NewJoinPlan("t", desc)
	renderer := internal.NewSQLRenderer()

	whereExpr, err := compileGroup(cond.Root(), desc, plan)
	if err != nil {
		return nil, err
	}
	whereSQL, err := internal.RenderPredicate(renderer, whereExpr)
	if err != nil {
		return nil, NewCompileError(ErrCodeValidationFailed, err.Error())
	}

	sorts, err := compileSort(cond.Sort(), desc, plan, pk)
	if err != nil {
		return nil, err
	}

	fetchJoins, err := compileFetchFields(cond.FetchFields(), desc, plan)
	if err != nil {
		return nil, err
	}

	return &CompiledQuery{
		Table:      desc.TableName,
		RootAlias:  "t",
		Where:      whereSQL,
		Args:       renderer.Args(),
		Joins:      convertJoins(plan.Joins),
		OrderBy:    sorts,
		FetchJoins: fetchJoins,
	}, nil
}

func convertJoins(joins []*internal.Join) []CompiledJoin {
	out := make([]CompiledJoin, 0, len(joins))
	for _, j := range joins {
		out = append(out, CompiledJoin{
			Alias:        j.Alias,
			Table:        j.Table,
			ParentAlias:  j.ParentAlias,
			ParentColumn: j.ParentColumn,
			ChildColumn:  j.ChildColumn,
		})
	}
	return out
}

func compileGroup(g Group, root *internal.EntityDescriptor, plan *internal.JoinPlan) (internal.PredExpr, error) {
	if len(g.Nodes) == 0 {
		return internal.And{}, nil
	}
	var andChain []internal.PredExpr
	flushAnd := func() internal.PredExpr {
		if len(andChain) == 1 {
			e := andChain[0]
			andChain = nil
			return e
		}
		e := internal.And{Children: andChain}
		andChain = nil
		return e
	}

	for i, n := range g.Nodes {
		leafExpr, err := compileNode(n, root, plan)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			andChain = append(andChain, leafExpr)
			continue
		}
		switch n.Operator {
		case OpAnd:
			andChain = append(andChain, leafExpr)
		case OpOr:
			andChain = []internal.PredExpr{internal.Or{Children: []internal.PredExpr{flushAnd(), leafExpr}}}
		default:
			return nil, NewValidationError(ErrCodeMissingOperator, "sibling missing boolean operator").WithField(n.Leaf.Field)
		}
	}
	return flushAnd(), nil
}

func compileNode(n Node, root *internal.EntityDescriptor, plan *internal.JoinPlan) (internal.PredExpr, error) {
	switch {
	case n.Group != nil:
		return compileGroup(*n.Group, root, plan)
	case n.Leaf != nil:
		return compileLeaf(*n.Leaf, root, plan)
	default:
		return nil, NewValidationError(ErrCodeValidationFailed, "node is neither leaf nor group")
	}
}

func compileLeaf(leaf Leaf, root *internal.EntityDescriptor, plan *internal.JoinPlan) (internal.PredExpr, error) {
	fd, path, err := internal.ResolveField(root, leaf.Field)
	if err != nil {
		return nil, NewCompileError(ErrCodeUnknownField, err.Error()).WithField(leaf.Field)
	}
	alias := plan.RootAlias
	if len(path) > 0 {
		alias, err = plan.EnsureJoin(path)
		if err != nil {
			return nil, NewCompileError(ErrCodeUnknownField, err.Error()).WithField(leaf.Field)
		}
	}
	opName := internal.SearchOperatorName(leaf.Operator)
	if !fd.AllowedOps[opName] {
		return nil, NewCompileError(ErrCodeUnsupportedOp,
			fmt.Sprintf("operator %s is not supported for field %q", leaf.Operator, leaf.Field)).WithField(leaf.Field)
	}
	return buildPredicate(fd, alias, leaf)
}

func buildPredicate(fd *internal.FieldDescriptor, alias string, leaf Leaf) (internal.PredExpr, error) {
	switch leaf.Operator {
	case OpIsNull:
		return internal.IsNull{Alias: alias, Column: fd.Column}, nil
	case OpIsNotNull:
		return internal.IsNull{Alias: alias, Column: fd.Column, Negate: true}, nil
	case OpIn, OpNotIn:
		vals, err := coerceAll(fd, leaf.Values)
		if err != nil {
			return nil, err
		}
		return internal.InList{Alias: alias, Column: fd.Column, Values: vals, Negate: leaf.Operator == OpNotIn}, nil
	case OpBetween, OpNotBetween:
		if len(leaf.Values) != 2 {
			return nil, NewValidationError(ErrCodeValidationFailed, "BETWEEN requires exactly two values").WithField(fd.WireName)
		}
		lo, hi, err := coerceBetween(fd, leaf.Values[0], leaf.Values[1])
		if err != nil {
			return nil, err
		}
		return internal.Between{Alias: alias, Column: fd.Column, Lo: lo, Hi: hi, Negate: leaf.Operator == OpNotBetween}, nil
	case OpContains, OpNotContains, OpStartsWith, OpNotStartsWith, OpEndsWith, OpNotEndsWith:
		s, err := coerceOne(fd, leaf.Value)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("%v", s)
		var pattern string
		switch leaf.Operator {
		case OpContains, OpNotContains:
			pattern = "%" + text + "%"
		case OpStartsWith, OpNotStartsWith:
			pattern = text + "%"
		case OpEndsWith, OpNotEndsWith:
			pattern = "%" + text
		}
		negate := leaf.Operator == OpNotContains || leaf.Operator == OpNotStartsWith || leaf.Operator == OpNotEndsWith
		return internal.Pattern{Alias: alias, Column: fd.Column, Pattern: pattern, Negate: negate}, nil
	default:
		v, err := coerceOne(fd, leaf.Value)
		if err != nil {
			return nil, err
		}
		return internal.Cmp{Alias: alias, Column: fd.Column, Op: internal.SearchOperatorName(leaf.Operator), Value: v}, nil
	}
}

func coerceOne(fd *internal.FieldDescriptor, raw any) (any, error) {
	v, err := internal.Coerce(raw, fd.Kind, time.UTC, fd.EnumValues)
	if err != nil {
		return nil, NewParseError(ErrCodeParseFailed, err.Error()).WithField(fd.WireName)
	}
	return v, nil
}

func coerceAll(fd *internal.FieldDescriptor, raws []any) ([]any, error) {
	out := make([]any, 0, len(raws))
	for _, r := range raws {
		v, err := coerceOne(fd, r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func coerceBetween(fd *internal.FieldDescriptor, rawLo, rawHi any) (any, any, error) {
	lo, err := coerceOne(fd, rawLo)
	if err != nil {
		return nil, nil, err
	}
	hi, err := coerceOne(fd, rawHi)
	if err != nil {
		return nil, nil, err
	}
	if fd.Kind == internal.KindDate || fd.Kind == internal.KindDateTime {
		if hiStr, ok := rawHi.(string); ok && internal.IsDateOnly(hiStr) {
			if hiTime, ok := hi.(time.Time); ok {
				_, end := internal.DayBounds(hiTime, time.UTC)
				hi = end.Add(-time.Nanosecond)
			}
		}
	}
	return lo, hi, nil
}

func compileSort(requested []OrderBy, desc *internal.EntityDescriptor, plan *internal.JoinPlan, pk []*internal.FieldDescriptor) ([]CompiledSort, error) {
	seen := internal.NewSet[string]()
	out := make([]CompiledSort, 0, len(requested)+len(pk))
	for _, ob := range requested {
		fd, path, err := internal.ResolveField(desc, ob.Field)
		if err != nil {
			return nil, NewCompileError(ErrCodeUnknownField, err.Error()).WithField(ob.Field)
		}
		if !fd.Sortable {
			return nil, NewCompileError(ErrCodeFieldNotSortable, fmt.Sprintf("field %q is not sortable", ob.Field)).WithField(ob.Field)
		}
		alias := plan.RootAlias
		if len(path) > 0 {
			alias, err = plan.EnsureJoin(path)
			if err != nil {
				return nil, NewCompileError(ErrCodeUnknownField, err.Error()).WithField(ob.Field)
			}
		}
		col := fd.ResolveSortColumn()
		key := alias + "." + col
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		out = append(out, CompiledSort{Alias: alias, Column: col, Direction: ob.Direction})
	}
	// Mandatory PK tiebreak: append every primary-key component ascending,
	// skipping any already present from the caller's own sort (spec §8: the
	// single most important invariant).
	for _, fd := range pk {
		key := plan.RootAlias + "." + fd.Column
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		out = append(out, CompiledSort{Alias: plan.RootAlias, Column: fd.Column, Direction: SortAsc})
	}
	return out, nil
}

func compileFetchFields(fields []FetchField, desc *internal.EntityDescriptor, plan *internal.JoinPlan) ([]CompiledJoin, error) {
	var joins []CompiledJoin
	for _, f := range fields {
		fd, path, err := internal.ResolveField(desc, string(f))
		if err != nil {
			return nil, NewCompileError(ErrCodeUnknownField, err.Error()).WithField(string(f))
		}
		fullPath := append(append([]*internal.FieldDescriptor(nil), path...), fd)
		if fd.Relation == internal.RelationToMany {
			zap.S().Warnw("ignoring ToMany fetch field; a ToMany fetch-join would multiply rows",
				"field", f)
			continue
		}
		if fd.Relation != internal.RelationToOne {
			return nil, NewCompileError(ErrCodeUnknownField, fmt.Sprintf("fetch field %q does not name a relation", f))
		}
		alias, err := plan.EnsureJoin(fullPath)
		if err != nil {
			return nil, NewCompileError(ErrCodeUnknownField, err.Error())
		}
		for _, j := range plan.Joins {
			if j.Alias == alias {
				joins = append(joins, CompiledJoin{
					Alias: j.Alias, Table: j.Table, ParentAlias: j.ParentAlias,
					ParentColumn: j.ParentColumn, ChildColumn: j.ChildColumn,
				})
			}
		}
	}
	return joins, nil
}
