package queryspec

import "context"

// CompiledQuery is the backend-neutral output of the specification compiler
// (C6): a WHERE-clause predicate plus its parameter values, the joins
// needed to resolve every referenced path, and the fully resolved sort
// (including the mandatory PK tiebreak). A QueryRunner implementation
// renders this into the concrete SQL/driver calls for its backend.
type CompiledQuery struct {
	Table      string
	RootAlias  string
	Where      string
	Args       []any
	Joins      []CompiledJoin
	OrderBy    []CompiledSort
	FetchJoins []CompiledJoin
}

// CompiledJoin is one join the backend must emit to resolve a referenced
// path (filter, sort, or ToOne fetch field).
type CompiledJoin struct {
	Alias        string
	Table        string
	ParentAlias  string
	ParentColumn string
	ChildColumn  string
}

// CompiledSort is one fully-resolved ORDER BY entry, already including any
// PK tiebreak components the compiler appended.
type CompiledSort struct {
	Alias     string
	Column    string
	Direction SortDirection
}

// QueryRunner is the backend abstraction the two-phase executor (C7) is
// specified against — grounded on storage.go's EntityManager interface
// shape and spec.md §6.3. A concrete implementation (e.g. runner/pgxrunner)
// turns each method into one round trip against the underlying store.
type QueryRunner interface {
	// ProjectKeys executes Phase 1: with q's filter and full (tiebroken)
	// sort applied, return exactly the primary-key tuples for the
	// requested page window, in sorted order. limit <= 0 means unbounded
	// (used by UpdateWith/DeleteWith, which apply to the full matching set
	// rather than one page).
	ProjectKeys(ctx context.Context, q CompiledQuery, pkColumns []string, offset, limit int) (keys []KeyTuple, err error)

	// LoadEntities executes Phase 2: materialize full rows (with any
	// ToOne FetchJoins applied) for exactly the given primary keys,
	// scanning into dest (a pointer to a slice of the entity type).
	LoadEntities(ctx context.Context, q CompiledQuery, pkColumns []string, keys []KeyTuple, dest any) error

	// CountDistinctKeys executes Phase 3: count the distinct primary keys
	// matching q's filter, independent of the page window.
	CountDistinctKeys(ctx context.Context, q CompiledQuery, pkColumns []string) (int64, error)

	// ExecuteUpdate applies a column/value update to every row named by
	// keys. Used only for keyed batch updates (C8 updateWith) — this
	// module never issues a predicate-scoped UPDATE.
	ExecuteUpdate(ctx context.Context, table string, pkColumns []string, keys []KeyTuple, set map[string]any) (rowsAffected int64, err error)

	// ExecuteDelete deletes every row named by keys. Used only for keyed
	// batch deletes (C8 deleteWith).
	ExecuteDelete(ctx context.Context, table string, pkColumns []string, keys []KeyTuple) (rowsAffected int64, err error)
}

// KeyTuple is one primary key value (or, for a composite key, one ordered
// tuple of values) as projected in Phase 1 and consumed by Phase 2/updates/
// deletes.
type KeyTuple []any
