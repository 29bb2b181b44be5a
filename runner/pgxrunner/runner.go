// Package pgxrunner is the concrete PostgreSQL QueryRunner: it renders a
// queryspec.CompiledQuery into SQL text and drives it through pgx/v5.
// Grounded on internal/postgres_persistent_repository_query.go's
// runOptimizedQuery/scanOptimizedRow (pgx querying + scanning idiom) and
// internal/postgres_repository.go's pool-holding repository shape,
// generalized from one fixed entity_main shape to any struct D carrying a
// `qs:"..."` tag, via reflection over queryspec/internal's field
// descriptors instead of a hand-maintained column descriptor table.
package pgxrunner

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/queryspec"
	"github.com/lychee-technology/queryspec/internal"
	"go.uber.org/zap"
)

// Runner implements queryspec.QueryRunner over a pgxpool.Pool. It satisfies
// both *pgxpool.Pool and pgxmock's pool fake, mirroring the teacher's
// queryPool test-injection interface in factory/factory.go.
type Runner struct {
	pool Pool
}

// Pool is the minimal pgx surface Runner needs; *pgxpool.Pool and
// pgxmock.PgxPoolIface both satisfy it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// New wraps an existing pgxpool.Pool as a queryspec.QueryRunner.
func New(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// NewWithPool wraps any Pool implementation (e.g. a pgxmock pool in tests).
func NewWithPool(pool Pool) *Runner {
	return &Runner{pool: pool}
}

func ident(s string) string { return internal.QuoteIdent(s) }

func qualified(alias, col string) string { return ident(alias) + "." + ident(col) }

func renderJoins(joins []queryspec.CompiledJoin) string {
	var b strings.Builder
	for _, j := range joins {
		fmt.Fprintf(&b, " JOIN %s %s ON %s = %s",
			ident(j.Table), ident(j.Alias), qualified(j.ParentAlias, j.ParentColumn), qualified(j.Alias, j.ChildColumn))
	}
	return b.String()
}

func renderOrderBy(sorts []queryspec.CompiledSort) string {
	if len(sorts) == 0 {
		return ""
	}
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		parts[i] = fmt.Sprintf("%s %s", qualified(s.Alias, s.Column), s.Direction)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// ProjectKeys implements Phase 1.
func (r *Runner) ProjectKeys(ctx context.Context, q queryspec.CompiledQuery, pkColumns []string, offset, limit int) ([]queryspec.KeyTuple, error) {
	selectCols := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		selectCols[i] = qualified(q.RootAlias, c)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s %s%s WHERE %s%s",
		strings.Join(selectCols, ", "), ident(q.Table), ident(q.RootAlias), renderJoins(q.Joins), q.Where, renderOrderBy(q.OrderBy))

	args := append([]any(nil), q.Args...)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	} else if offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", offset)
	}

	zap.S().Debugw("project_keys", "sql", sql)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("project keys: %w", err)
	}
	defer rows.Close()

	var keys []queryspec.KeyTuple
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("project keys: scan: %w", err)
		}
		keys = append(keys, queryspec.KeyTuple(vals))
	}
	return keys, rows.Err()
}

// LoadEntities implements Phase 2: materializes full rows for exactly the
// given primary keys, including any ToOne FetchJoins, scanning into dest (a
// pointer to a slice of D) via reflection over D's field descriptors.
func (r *Runner) LoadEntities(ctx context.Context, q queryspec.CompiledQuery, pkColumns []string, keys []queryspec.KeyTuple, dest any) error {
	if len(keys) == 0 {
		return nil
	}
	destPtr := reflect.ValueOf(dest)
	if destPtr.Kind() != reflect.Ptr || destPtr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("load entities: dest must be a pointer to a slice")
	}
	sliceVal := destPtr.Elem()
	elemType := sliceVal.Type().Elem()

	desc, err := internal.DescriptorFor(elemType)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	joins := append([]queryspec.CompiledJoin(nil), q.Joins...)
	for _, fj := range q.FetchJoins {
		if !slices.ContainsFunc(joins, func(j queryspec.CompiledJoin) bool { return j.Alias == fj.Alias }) {
			joins = append(joins, fj)
		}
	}
	sql, args := buildInClauseQuery(q, joins, pkColumns, keys)

	zap.S().Debugw("load_entities", "sql", sql, "key_count", len(keys))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("load entities: scan: %w", err)
		}
		elem := reflect.New(elemType).Elem()
		for i, fd := range fields {
			descField := desc.FieldByColumn(string(fd.Name))
			if descField == nil {
				continue
			}
			setField(elem.FieldByName(descField.GoName), vals[i])
		}
		sliceVal.Set(reflect.Append(sliceVal, elem))
	}
	return rows.Err()
}

func setField(field reflect.Value, val any) {
	if val == nil || !field.IsValid() || !field.CanSet() {
		return
	}
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return
	}
	if rv.Type().ConvertibleTo(field.Type()) {
		field.Set(rv.Convert(field.Type()))
	}
}

// buildInClauseQuery renders SELECT t.* ... WHERE (pk1,pk2,...) IN
// ((v1,v2),(v3,v4),...) scoped to exactly keys, independent of q.Where —
// Phase 2 re-fetches by primary key only, never re-applies the filter.
func buildInClauseQuery(q queryspec.CompiledQuery, joins []queryspec.CompiledJoin, pkColumns []string, keys []queryspec.KeyTuple) (string, []any) {
	pkRefs := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		pkRefs[i] = qualified(q.RootAlias, c)
	}
	pkTuple := "(" + strings.Join(pkRefs, ", ") + ")"

	var args []any
	tuples := make([]string, len(keys))
	n := 1
	for ki, key := range keys {
		placeholders := make([]string, len(key))
		for i, v := range key {
			placeholders[i] = fmt.Sprintf("$%d", n)
			args = append(args, v)
			n++
		}
		tuples[ki] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	sql := fmt.Sprintf("SELECT %s.* FROM %s %s%s WHERE %s IN (%s)%s",
		ident(q.RootAlias), ident(q.Table), ident(q.RootAlias), renderJoins(joins), pkTuple, strings.Join(tuples, ", "), renderOrderBy(q.OrderBy))
	return sql, args
}

// CountDistinctKeys implements Phase 3.
func (r *Runner) CountDistinctKeys(ctx context.Context, q queryspec.CompiledQuery, pkColumns []string) (int64, error) {
	pkRefs := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		pkRefs[i] = qualified(q.RootAlias, c)
	}
	sql := fmt.Sprintf("SELECT COUNT(DISTINCT (%s)) FROM %s %s%s WHERE %s",
		strings.Join(pkRefs, ", "), ident(q.Table), ident(q.RootAlias), renderJoins(q.Joins), q.Where)

	zap.S().Debugw("count_distinct_keys", "sql", sql)
	var count int64
	row := r.pool.QueryRow(ctx, sql, q.Args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count distinct keys: %w", err)
	}
	return count, nil
}

// ExecuteUpdate applies set to every row named by keys.
func (r *Runner) ExecuteUpdate(ctx context.Context, table string, pkColumns []string, keys []queryspec.KeyTuple, set map[string]any) (int64, error) {
	if len(keys) == 0 || len(set) == 0 {
		return 0, nil
	}
	setCols := make([]string, 0, len(set))
	args := make([]any, 0, len(set))
	n := 1
	for col, v := range set {
		setCols = append(setCols, fmt.Sprintf("%s = $%d", ident(col), n))
		args = append(args, v)
		n++
	}
	pkTuple := "(" + strings.Join(quoteAll(pkColumns), ", ") + ")"
	tuples := make([]string, len(keys))
	for ki, key := range keys {
		placeholders := make([]string, len(key))
		for i, v := range key {
			placeholders[i] = fmt.Sprintf("$%d", n)
			args = append(args, v)
			n++
		}
		tuples[ki] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s IN (%s)",
		ident(table), strings.Join(setCols, ", "), pkTuple, strings.Join(tuples, ", "))
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("execute update: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExecuteDelete deletes every row named by keys.
func (r *Runner) ExecuteDelete(ctx context.Context, table string, pkColumns []string, keys []queryspec.KeyTuple) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	pkTuple := "(" + strings.Join(quoteAll(pkColumns), ", ") + ")"
	var args []any
	tuples := make([]string, len(keys))
	n := 1
	for ki, key := range keys {
		placeholders := make([]string, len(key))
		for i, v := range key {
			placeholders[i] = fmt.Sprintf("$%d", n)
			args = append(args, v)
			n++
		}
		tuples[ki] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", ident(table), pkTuple, strings.Join(tuples, ", "))
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("execute delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return out
}
