package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/queryspec"
)

type gizmo struct {
	ID   string `qs:"field=id,column=id,pk,sortable"`
	Name string `qs:"field=name,column=name,sortable"`
}

func (gizmo) TableName() string { return "gizmos" }

func withTableCollector(t *testing.T, fn func(pool queryPool) ([]string, error)) {
	t.Helper()
	orig := tableCollector
	tableCollector = fn
	t.Cleanup(func() { tableCollector = orig })
}

func TestCollectTablesFromPool_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT table_name FROM information_schema.tables`).
		WillReturnError(errors.New("connection refused"))

	tables, err := collectTablesFromPool(mock)
	require.Error(t, err)
	assert.Nil(t, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectTablesFromPool_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"table_name"}).AddRow("gizmos").AddRow("widgets")
	mock.ExpectQuery(`SELECT table_name FROM information_schema.tables`).WillReturnRows(rows)

	tables, err := collectTablesFromPool(mock)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gizmos", "widgets"}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectTablesFromPool_ScanError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"table_name"}).AddRow("gizmos").RowError(0, errors.New("bad row"))
	mock.ExpectQuery(`SELECT table_name FROM information_schema.tables`).WillReturnRows(rows)

	tables, err := collectTablesFromPool(mock)
	require.Error(t, err)
	assert.Nil(t, tables)
}

func TestNewService_MissingTable(t *testing.T) {
	withTableCollector(t, func(queryPool) ([]string, error) {
		return []string{"widgets"}, nil
	})

	svc, err := NewService[gizmo, string](nil, nil)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "gizmos")
}

func TestNewService_CollectorError(t *testing.T) {
	withTableCollector(t, func(queryPool) ([]string, error) {
		return nil, errors.New("connection refused")
	})

	svc, err := NewService[gizmo, string](nil, nil)
	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestNewService_InvalidConfig(t *testing.T) {
	withTableCollector(t, func(queryPool) ([]string, error) {
		return []string{"gizmos"}, nil
	})

	cfg := queryspec.DefaultConfig()
	cfg.Query.DefaultPageSize = 0

	svc, err := NewService[gizmo, string](cfg, nil)
	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestNewService_Success(t *testing.T) {
	withTableCollector(t, func(pool queryPool) ([]string, error) {
		return []string{"gizmos", "widgets"}, nil
	})

	svc, err := NewService[gizmo, string](nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc)
}

// connectTestPostgres is kept for parity with the integration battery this
// factory would run against a real PostgreSQL instance; skipped here since
// no DATABASE_URL is configured in the unit test run.
func connectTestPostgres(t *testing.T, ctx context.Context) {
	t.Helper()
	t.Skip("integration test requires DATABASE_URL; skipping in unit test run")
}
