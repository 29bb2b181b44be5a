package internal

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"
)

// SQLRenderer renders text/template SQL templates while collecting
// parameter values and providing a safe identifier helper to avoid SQL
// injection. Grounded verbatim on the teacher's internal/sql_template_renderer.go;
// generalized from "?" (DuckDB-style) placeholders to pgx's positional
// "$N" placeholders and with the DuckDB-specific cast/param_cast/duck_type
// template funcs dropped (no second storage backend in this module).
type SQLRenderer struct {
	args []any
}

// NewSQLRenderer creates an empty renderer.
func NewSQLRenderer() *SQLRenderer {
	return &SQLRenderer{args: make([]any, 0)}
}

// Param appends a value to the renderer's args and returns a "$N"
// placeholder to be inserted into the template.
func (r *SQLRenderer) Param(v any) string {
	r.args = append(r.args, v)
	return fmt.Sprintf("$%d", len(r.args))
}

var identRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// QuoteIdent validates a SQL identifier (table/column/alias) and returns it
// double-quoted. Panics on an invalid identifier — callers never pass
// untrusted strings here, only names resolved from field descriptors or
// compiled join/sort plans.
func QuoteIdent(name string) string {
	if !identRegex.MatchString(name) {
		panic(fmt.Sprintf("invalid SQL identifier: %q", name))
	}
	return `"` + name + `"`
}

// Ident validates a SQL identifier (table/column/alias) and returns it
// quoted. Panics on an invalid identifier — callers never pass untrusted
// strings to Ident, only names resolved from field descriptors.
func (r *SQLRenderer) Ident(name string) string {
	return QuoteIdent(name)
}

// Args returns the parameter values collected so far, in placeholder order.
func (r *SQLRenderer) Args() []any { return r.args }

// Render executes tpl with data while providing the template functions
// "param" and "ident". It returns the rendered SQL and the collected args.
func (r *SQLRenderer) Render(tpl *template.Template, data any) (string, []any, error) {
	tplClone, err := tpl.Clone()
	if err != nil {
		return "", nil, fmt.Errorf("clone template: %w", err)
	}

	funcs := template.FuncMap{
		"param": func(v any) string { return r.Param(v) },
		"ident": func(s string) string { return r.Ident(s) },
	}
	tplClone = tplClone.Funcs(funcs)

	var buf bytes.Buffer
	if err := tplClone.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), r.args, nil
}

// RenderSQLTemplate is a one-shot convenience wrapper around a fresh
// SQLRenderer.
func RenderSQLTemplate(tpl *template.Template, data any) (string, []any, error) {
	r := NewSQLRenderer()
	return r.Render(tpl, data)
}
