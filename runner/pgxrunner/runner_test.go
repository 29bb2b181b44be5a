package pgxrunner

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/queryspec"
)

type widget struct {
	ID   string `qs:"field=id,column=id,pk,sortable"`
	Name string `qs:"field=name,column=name,sortable"`
}

func (widget) TableName() string { return "widgets" }

func baseQuery() queryspec.CompiledQuery {
	return queryspec.CompiledQuery{
		Table:     "widgets",
		RootAlias: "t",
		Where:     `"t"."name" = $1`,
		Args:      []any{"gadget"},
		OrderBy: []queryspec.CompiledSort{
			{Alias: "t", Column: "id", Direction: queryspec.SortAsc},
		},
	}
}

func TestProjectKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id"}).AddRow("w-1").AddRow("w-2")
	mock.ExpectQuery(`SELECT "t"\."id" FROM "widgets" "t" WHERE "t"\."name" = \$1 ORDER BY "t"\."id" ASC LIMIT 20 OFFSET 0`).
		WithArgs("gadget").
		WillReturnRows(rows)

	r := NewWithPool(mock)
	keys, err := r.ProjectKeys(context.Background(), baseQuery(), []string{"id"}, 0, 20)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, queryspec.KeyTuple{"w-1"}, keys[0])
	assert.Equal(t, queryspec.KeyTuple{"w-2"}, keys[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadEntities(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "name"}).AddRow("w-1", "Gadget One")
	mock.ExpectQuery(`SELECT "t"\.\* FROM "widgets" "t" WHERE \("t"\."id"\) IN \(\(\$1\)\) ORDER BY "t"\."id" ASC`).
		WithArgs("w-1").
		WillReturnRows(rows)

	r := NewWithPool(mock)
	var dest []widget
	err = r.LoadEntities(context.Background(), baseQuery(), []string{"id"}, []queryspec.KeyTuple{{"w-1"}}, &dest)
	require.NoError(t, err)
	require.Len(t, dest, 1)
	assert.Equal(t, "w-1", dest[0].ID)
	assert.Equal(t, "Gadget One", dest[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadEntitiesNoKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := NewWithPool(mock)
	var dest []widget
	err = r.LoadEntities(context.Background(), baseQuery(), []string{"id"}, nil, &dest)
	require.NoError(t, err)
	assert.Empty(t, dest)
}

func TestCountDistinctKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"count"}).AddRow(int64(7))
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT \("t"\."id"\)\) FROM "widgets" "t" WHERE "t"\."name" = \$1`).
		WithArgs("gadget").
		WillReturnRows(rows)

	r := NewWithPool(mock)
	count, err := r.CountDistinctKeys(context.Background(), baseQuery(), []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE "widgets" SET "name" = \$1 WHERE \("id"\) IN \(\(\$2\)\)`).
		WithArgs("New Name", "w-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	r := NewWithPool(mock)
	affected, err := r.ExecuteUpdate(context.Background(), "widgets", []string{"id"}, []queryspec.KeyTuple{{"w-1"}}, map[string]any{"name": "New Name"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM "widgets" WHERE \("id"\) IN \(\(\$1\)\)`).
		WithArgs("w-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	r := NewWithPool(mock)
	affected, err := r.ExecuteDelete(context.Background(), "widgets", []string{"id"}, []queryspec.KeyTuple{{"w-1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	require.NoError(t, mock.ExpectationsWereMet())
}
