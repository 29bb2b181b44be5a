package queryspec

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lychee-technology/queryspec/internal"
	"go.uber.org/zap"
)

// Execute runs the mandatory two-phase (three-query) protocol (C7) for
// cond against runner: Phase 1 projects primary keys for the requested page
// window under the full tiebroken sort, Phase 2 materializes full entities
// for exactly those keys (batching the IN clause at
// cfg.Query.MaxInClauseBatch and re-assembling the original key order), and
// Phase 3 counts the distinct matching keys independent of the page window.
//
// This deliberately never collapses into one JOIN-and-paginate query: doing
// so — the teacher's own internal/advanced_query_template.go /
// entity_manager_query.go approach — multiplies base rows across any
// ToMany join and silently corrupts both the page window and the count,
// the exact pathology spec.md's design notes call out.
func Execute[D any](ctx context.Context, runner QueryRunner, cfg *Config, breaker *internal.CircuitBreaker, cond SearchCondition[D]) (Page[D], error) {
	cq, err := Compile(cond)
	if err != nil {
		return Page[D]{}, err
	}

	var zero D
	desc, err := internal.DescriptorFor(reflect.TypeOf(zero))
	if err != nil {
		return Page[D]{}, NewCompileError(ErrCodeUnknownField, err.Error())
	}
	pkDescs, err := internal.PrimaryKeyDescriptors(desc)
	if err != nil {
		return Page[D]{}, NewCompileError(ErrCodeNoPrimaryKey, err.Error())
	}
	pkColumns := make([]string, len(pkDescs))
	for i, fd := range pkDescs {
		pkColumns[i] = fd.Column
	}

	offset := cond.Page() * cond.Size()

	keys, err := runBreaker(breaker, func() ([]KeyTuple, error) {
		phaseCtx, cancel := context.WithTimeout(ctx, cfg.Query.DefaultTimeout)
		defer cancel()
		return runner.ProjectKeys(phaseCtx, *cq, pkColumns, offset, cond.Size())
	})
	if err != nil {
		return Page[D]{}, wrapBackendError(err, "project_keys")
	}

	total, err := runBreakerValue(breaker, func() (int64, error) {
		phaseCtx, cancel := context.WithTimeout(ctx, cfg.Query.DefaultTimeout)
		defer cancel()
		return runner.CountDistinctKeys(phaseCtx, *cq, pkColumns)
	})
	if err != nil {
		return Page[D]{}, wrapBackendError(err, "count_distinct_keys")
	}

	items, err := materialize[D](ctx, runner, cfg, breaker, *cq, pkColumns, pkDescs, keys)
	if err != nil {
		return Page[D]{}, err
	}

	totalPages := total / int64(cond.Size())
	if total%int64(cond.Size()) != 0 {
		totalPages++
	}

	if cfg.Logging.EnableQueryLogging {
		zap.S().Infow("executed search",
			"table", cq.Table, "page", cond.Page(), "size", cond.Size(),
			"keys_projected", len(keys), "total", total)
	}

	return Page[D]{
		Items:       items,
		Page:        cond.Page(),
		Size:        cond.Size(),
		TotalItems:  total,
		TotalPages:  totalPages,
		AppliedSort: cq.OrderBy2SortKeys(),
	}, nil
}

// OrderBy2SortKeys is a small convenience converting the compiled sort back
// into the wire-level OrderBy shape for reporting in Page.AppliedSort.
func (cq CompiledQuery) OrderBy2SortKeys() []OrderBy {
	out := make([]OrderBy, 0, len(cq.OrderBy))
	for _, s := range cq.OrderBy {
		out = append(out, OrderBy{Field: s.Column, Direction: s.Direction})
	}
	return out
}

// materialize implements Phase 2: batches keys into groups of at most
// cfg.Query.MaxInClauseBatch, calls LoadEntities per batch, and
// re-assembles the results in the exact order Phase 1 projected them —
// batching must never reorder the page.
func materialize[D any](ctx context.Context, runner QueryRunner, cfg *Config, breaker *internal.CircuitBreaker, cq CompiledQuery, pkColumns []string, pkDescs []*internal.FieldDescriptor, keys []KeyTuple) ([]D, error) {
	if len(keys) == 0 {
		return []D{}, nil
	}
	batchSize := cfg.Query.MaxInClauseBatch
	if batchSize <= 0 {
		batchSize = len(keys)
	}

	byKey := make(map[string]D, len(keys))
	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		var dest []D
		_, err := runBreaker(breaker, func() ([]D, error) {
			phaseCtx, cancel := context.WithTimeout(ctx, cfg.Query.DefaultTimeout)
			defer cancel()
			err := runner.LoadEntities(phaseCtx, cq, pkColumns, batch, &dest)
			return dest, err
		})
		if err != nil {
			return nil, wrapBackendError(err, "load_entities")
		}
		for _, item := range dest {
			k, kerr := extractKey(item, pkDescs)
			if kerr != nil {
				return nil, NewIntegrityError(ErrCodeShortMaterialization, kerr.Error())
			}
			byKey[keyString(k)] = item
		}
	}

	out := make([]D, 0, len(keys))
	for _, k := range keys {
		v, ok := byKey[keyString(k)]
		if !ok {
			return nil, NewIntegrityError(ErrCodeShortMaterialization,
				fmt.Sprintf("phase 2 did not materialize a row for projected key %v", k))
		}
		out = append(out, v)
	}
	return out, nil
}

func extractKey(item any, pkDescs []*internal.FieldDescriptor) (KeyTuple, error) {
	v := reflect.ValueOf(item)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("materialized item is not a struct")
	}
	key := make(KeyTuple, len(pkDescs))
	for i, fd := range pkDescs {
		fv := v.FieldByName(fd.GoName)
		if !fv.IsValid() {
			return nil, fmt.Errorf("materialized item missing primary key field %s", fd.GoName)
		}
		key[i] = fv.Interface()
	}
	return key, nil
}

func keyString(k KeyTuple) string {
	return fmt.Sprint([]any(k)...)
}

func runBreaker[T any](breaker *internal.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if breaker.IsOpen() {
		return zero, NewBackendError(ErrCodeCircuitOpen, "circuit breaker is open")
	}
	v, err := fn()
	if err != nil {
		breaker.RecordFailure()
		return zero, err
	}
	breaker.RecordSuccess()
	return v, nil
}

func runBreakerValue[T any](breaker *internal.CircuitBreaker, fn func() (T, error)) (T, error) {
	return runBreaker(breaker, fn)
}

func wrapBackendError(err error, phase string) error {
	if _, ok := err.(*IntegrityError); ok {
		return err
	}
	return NewBackendError(ErrCodeQueryExecution, fmt.Sprintf("%s: %v", phase, err)).WithCause(err)
}
