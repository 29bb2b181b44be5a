package internal

import "fmt"

var cmpSymbols = map[SearchOperatorName]string{
	"EQUALS":                   "=",
	"NOT_EQUALS":               "<>",
	"GREATER_THAN":             ">",
	"GREATER_THAN_OR_EQUAL_TO": ">=",
	"LESS_THAN":                "<",
	"LESS_THAN_OR_EQUAL_TO":    "<=",
}

// RenderPredicate walks a PredExpr tree and emits its SQL text using r,
// parenthesizing every multi-child And/Or (a single child renders bare) the
// same way internal/sql_generator.go's
// buildComposite does, so operator precedence always matches the condition
// tree's explicit nesting rather than SQL's default AND-before-OR.
func RenderPredicate(r *SQLRenderer, expr PredExpr) (string, error) {
	switch e := expr.(type) {
	case Cmp:
		sym, ok := cmpSymbols[e.Op]
		if !ok {
			return "", fmt.Errorf("unsupported comparison operator %q", e.Op)
		}
		return fmt.Sprintf("%s.%s %s %s", r.Ident(e.Alias), r.Ident(e.Column), sym, r.Param(e.Value)), nil
	case Pattern:
		// CONTAINS/STARTS_WITH/ENDS_WITH are case-insensitive matches; ILIKE
		// mirrors the teacher's own postgres_repository.go buildFilterConditions
		// (`value_text ILIKE '%' || $1 || '%'`).
		op := "ILIKE"
		if e.Negate {
			op = "NOT ILIKE"
		}
		return fmt.Sprintf("%s.%s %s %s", r.Ident(e.Alias), r.Ident(e.Column), op, r.Param(e.Pattern)), nil
	case InList:
		if len(e.Values) == 0 {
			if e.Negate {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		placeholders := make([]string, len(e.Values))
		for i, v := range e.Values {
			placeholders[i] = r.Param(v)
		}
		op := "IN"
		if e.Negate {
			op = "NOT IN"
		}
		list := placeholders[0]
		for _, p := range placeholders[1:] {
			list += ", " + p
		}
		return fmt.Sprintf("%s.%s %s (%s)", r.Ident(e.Alias), r.Ident(e.Column), op, list), nil
	case Between:
		op := "BETWEEN"
		if e.Negate {
			op = "NOT BETWEEN"
		}
		return fmt.Sprintf("%s.%s %s %s AND %s", r.Ident(e.Alias), r.Ident(e.Column), op, r.Param(e.Lo), r.Param(e.Hi)), nil
	case IsNull:
		op := "IS NULL"
		if e.Negate {
			op = "IS NOT NULL"
		}
		return fmt.Sprintf("%s.%s %s", r.Ident(e.Alias), r.Ident(e.Column), op), nil
	case And:
		return renderBoolChain(r, e.Children, "AND")
	case Or:
		return renderBoolChain(r, e.Children, "OR")
	default:
		return "", fmt.Errorf("unsupported predicate node %T", expr)
	}
}

func renderBoolChain(r *SQLRenderer, children []PredExpr, joiner string) (string, error) {
	if len(children) == 0 {
		return "TRUE", nil
	}
	parts := make([]string, len(children))
	for i, c := range children {
		s, err := RenderPredicate(r, c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + joiner + " " + p
	}
	if len(children) > 1 {
		return "(" + out + ")", nil
	}
	return out, nil
}
