package queryspec

import (
	"context"
	"reflect"

	"github.com/lychee-technology/queryspec/internal"
	"golang.org/x/sync/errgroup"
)

// Service[Entity, Key] is the C8 facade applications call into: it wires a
// Config, a circuit breaker, and a concrete QueryRunner together and exposes
// the find/update/delete operations a caller builds SearchConditions for.
// Grounded on storage.go's EntityManager interface shape, redesigned for the
// mandatory three-phase protocol (C7) instead of a single optimized query.
type Service[Entity, Key any] struct {
	runner  QueryRunner
	cfg     *Config
	breaker *internal.CircuitBreaker
}

// NewService builds a Service from a Config and a concrete QueryRunner,
// constructing its own CircuitBreaker from the config's breaker knobs —
// mirroring the teacher's overridable-constructor-function factory pattern
// (see factory/factory.go) rather than a package-level global breaker.
func NewService[Entity, Key any](runner QueryRunner, cfg *Config) *Service[Entity, Key] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	breaker := internal.NewCircuitBreaker(
		cfg.Query.CircuitBreakerThreshold,
		cfg.Query.CircuitBreakerWindow,
		cfg.Query.CircuitBreakerOpenDuration,
	)
	return &Service[Entity, Key]{runner: runner, cfg: cfg, breaker: breaker}
}

// FindAll runs the full two-phase protocol for cond and returns one page of
// Entity plus its total count.
func (s *Service[Entity, Key]) FindAll(ctx context.Context, cond SearchCondition[Entity]) (Page[Entity], error) {
	return Execute[Entity](ctx, s.runner, s.cfg, s.breaker, cond)
}

// FindOne runs cond pinned to a single-row page and returns its one result,
// or ok=false if nothing matched.
func (s *Service[Entity, Key]) FindOne(ctx context.Context, cond SearchCondition[Entity]) (item Entity, ok bool, err error) {
	pinned, err := From(cond).Page(0, 1).Build()
	if err != nil {
		return item, false, err
	}
	page, err := Execute[Entity](ctx, s.runner, s.cfg, s.breaker, pinned)
	if err != nil {
		return item, false, err
	}
	if len(page.Items) == 0 {
		return item, false, nil
	}
	return page.Items[0], true, nil
}

// UpdateWith resolves every key matching cond (ignoring its page window —
// the update always applies to the full matching set) and applies set to
// each matching row, returning the number of rows affected.
func (s *Service[Entity, Key]) UpdateWith(ctx context.Context, cond SearchCondition[Entity], set map[string]any) (int64, error) {
	cq, pkCols, keys, err := s.resolveAllKeys(ctx, cond)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.runner.ExecuteUpdate(ctx, cq.Table, pkCols, keys, set)
}

// DeleteWith resolves every key matching cond and deletes those rows,
// returning the number of rows affected.
func (s *Service[Entity, Key]) DeleteWith(ctx context.Context, cond SearchCondition[Entity]) (int64, error) {
	cq, pkCols, keys, err := s.resolveAllKeys(ctx, cond)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.runner.ExecuteDelete(ctx, cq.Table, pkCols, keys)
}

// resolveAllKeys compiles cond and projects every matching key with no page
// window (limit 0 signals "unbounded" to the QueryRunner), wrapped by the
// same circuit breaker as the read path.
func (s *Service[Entity, Key]) resolveAllKeys(ctx context.Context, cond SearchCondition[Entity]) (*CompiledQuery, []string, []KeyTuple, error) {
	cq, err := Compile(cond)
	if err != nil {
		return nil, nil, nil, err
	}
	var zero Entity
	pkCols := pkColumnsOfEntity(zero)
	keys, err := runBreaker(s.breaker, func() ([]KeyTuple, error) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.Query.DefaultTimeout)
		defer cancel()
		return s.runner.ProjectKeys(ctx, *cq, pkCols, 0, 0)
	})
	if err != nil {
		return nil, nil, nil, wrapBackendError(err, "project_keys_unbounded")
	}
	return cq, pkCols, keys, nil
}

func pkColumnsOfEntity(zero any) []string {
	desc, err := internal.DescriptorFor(reflect.TypeOf(zero))
	if err != nil {
		return nil
	}
	pk, err := internal.PrimaryKeyDescriptors(desc)
	if err != nil {
		return nil
	}
	cols := make([]string, len(pk))
	for i, fd := range pk {
		cols[i] = fd.Column
	}
	return cols
}

// Source names one backend the same entity shape can be searched across —
// e.g. a tenant-sharded schema or a read replica pool.
type Source struct {
	Name   string
	Runner QueryRunner
}

// FindAcross runs the same condition against every Source concurrently and
// returns one Page[D] per source name. This is the cross-schema search
// supplement: the original system's query layer could reach across multiple
// tenant schemas in one call, a capability the distilled single-backend
// specification dropped but that a complete implementation still needs.
func FindAcross[D any](ctx context.Context, sources []Source, cfg *Config, cond SearchCondition[D]) (map[string]Page[D], error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	results := make(map[string]Page[D], len(sources))
	g, gctx := errgroup.WithContext(ctx)
	pages := make([]Page[D], len(sources))
	errs := make([]error, len(sources))
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			breaker := internal.NewCircuitBreaker(
				cfg.Query.CircuitBreakerThreshold,
				cfg.Query.CircuitBreakerWindow,
				cfg.Query.CircuitBreakerOpenDuration,
			)
			page, err := Execute[D](gctx, src.Runner, cfg, breaker, cond)
			pages[i] = page
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, src := range sources {
		if errs[i] != nil {
			return nil, NewBackendError(ErrCodeQueryExecution, "source "+src.Name+": "+errs[i].Error()).WithCause(errs[i])
		}
		results[src.Name] = pages[i]
	}
	return results, nil
}
