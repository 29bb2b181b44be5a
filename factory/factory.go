// Package factory wires a pgxpool.Pool and a Config into a ready-to-use
// queryspec.Service, verifying the entity's table exists before returning.
// Grounded verbatim on factory/factory.go's overridable-factory-function DI
// pattern (defaultMetadataLoaderFactory/tableCollector package vars for test
// injection) and its collectTablesFromPool/zap logging, generalized from
// loading a JSON-schema-backed metadata cache to resolving one entity's
// table name from its `qs:"..."` struct tags.
package factory

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/queryspec"
	"github.com/lychee-technology/queryspec/internal"
	"github.com/lychee-technology/queryspec/runner/pgxrunner"
)

// queryPool is a minimal interface used for querying table names; matches
// *pgxpool.Pool and pgxmock pools used in tests.
type queryPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// tableCollector is a test hook for table discovery.
var tableCollector = collectTablesFromPool

// collectTablesFromPool queries information_schema for table/view names and
// returns the list.
func collectTablesFromPool(pool queryPool) ([]string, error) {
	rows, err := pool.Query(context.Background(), `SELECT table_name FROM information_schema.tables t
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
union SELECT table_name FROM information_schema.views v WHERE table_schema = 'public';`)
	if err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tables, nil
}

// NewService creates a queryspec.Service[Entity,Key] backed by a pgxrunner
// over pool. It verifies Entity's resolved table exists in the database
// before returning, failing fast on a misconfigured entity rather than on
// the first query. This is the primary way for external projects to wire up
// a Service.
//
// Usage:
//
//	cfg := queryspec.DefaultConfig()
//	svc, err := factory.NewService[Customer, string](cfg, pool)
func NewService[Entity, Key any](cfg *queryspec.Config, pool *pgxpool.Pool) (*queryspec.Service[Entity, Key], error) {
	if cfg == nil {
		cfg = queryspec.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var zero Entity
	desc, err := internal.DescriptorFor(reflect.TypeOf(zero))
	if err != nil {
		return nil, fmt.Errorf("resolve entity descriptor: %w", err)
	}

	tables, err := tableCollector(pool)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(tables, desc.TableName) {
		return nil, fmt.Errorf("required table %q is missing in the database", desc.TableName)
	}
	zap.S().Infow("resolved entity table", "table", desc.TableName)

	r := pgxrunner.New(pool)
	return queryspec.NewService[Entity, Key](r, cfg), nil
}
