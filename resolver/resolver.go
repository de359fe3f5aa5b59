// Package resolver provides the default capability solver for a modwire
// container.
//
// The solver is a greedy depth-first search: each requirement takes the
// first candidate, in the order the container supplies them, whose owner can
// itself be resolved. Dependency cycles are resolved optimistically; when a
// revision in a cycle later fails, the pass is repeated with that revision
// excluded as a provider until the result is consistent.
package resolver

import (
	"fmt"

	"github.com/GoCodeAlone/modwire"
)

// Option represents a functional option for configuring the solver
type Option func(*Solver)

// WithLogger sets the logger used for debug output.
func WithLogger(logger modwire.Logger) Option {
	return func(s *Solver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxPasses bounds the number of consistency passes of one call.
func WithMaxPasses(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.maxPasses = n
		}
	}
}

// Solver implements modwire.Resolver.
type Solver struct {
	logger    modwire.Logger
	maxPasses int
}

var _ modwire.Resolver = (*Solver)(nil)

// New creates a solver.
func New(opts ...Option) *Solver {
	s := &Solver{logger: nopLogger{}, maxPasses: 64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve implements modwire.Resolver. Mandatory resources resolve all or
// nothing; optional resources resolve independently of each other.
func (s *Solver) Resolve(ctx modwire.ResolveContext) (map[*modwire.Revision][]*modwire.Wire, error) {
	excluded := make(map[*modwire.Revision]bool)
	for pass := 1; ; pass++ {
		st := newSearch(ctx, excluded, s.logger)

		var failed []*modwire.Revision
		for _, rev := range ctx.MandatoryResources() {
			if !st.resolveResource(rev) {
				failed = append(failed, rev)
			}
		}
		if len(failed) == 0 {
			for _, rev := range ctx.OptionalResources() {
				st.resolveResource(rev)
			}
		}

		broken := st.brokenProviders()
		if len(broken) > 0 && pass < s.maxPasses {
			for _, rev := range broken {
				s.logger.Debug("Excluding provider that failed inside a cycle", "revision", rev.String(), "pass", pass)
				excluded[rev] = true
			}
			continue
		}

		if len(failed) > 0 {
			return nil, st.resolutionError(failed)
		}
		if len(broken) > 0 {
			return nil, passesExhausted(broken, pass)
		}
		return st.result(), nil
	}
}

// ResolveDynamic implements modwire.Resolver. The first candidate whose
// owner can be resolved is wired.
func (s *Solver) ResolveDynamic(ctx modwire.ResolveContext, host *modwire.Revision, requirement *modwire.Requirement) (map[*modwire.Revision][]*modwire.Wire, error) {
	excluded := make(map[*modwire.Revision]bool)
	for pass := 1; ; pass++ {
		st := newSearch(ctx, excluded, s.logger)
		wire, ok := st.satisfy(host, requirement)

		broken := st.brokenProviders()
		if len(broken) > 0 && pass < s.maxPasses {
			for _, rev := range broken {
				excluded[rev] = true
			}
			continue
		}
		if len(broken) > 0 {
			return nil, passesExhausted(broken, pass)
		}
		if !ok || wire == nil {
			return map[*modwire.Revision][]*modwire.Wire{}, nil
		}
		result := st.result()
		result[host] = []*modwire.Wire{wire}
		return result, nil
	}
}

// passesExhausted reports providers that were still wired without resolving
// when no passes were left.
func passesExhausted(broken []*modwire.Revision, passes int) error {
	return &modwire.ResolutionError{
		Unresolved: broken,
		Err:        fmt.Errorf("%w after %d passes", modwire.ErrUnresolvedProvider, passes),
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
