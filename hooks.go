package modwire

// ResolverHook lets policy code take part in a resolution attempt. Begin and
// End are always paired, even when the attempt fails. The Filter methods
// return the subset of their input that stays eligible; anything not in the
// input is ignored.
type ResolverHook interface {
	// Begin is called once before an attempt with its trigger revisions.
	Begin(triggers []*Revision)

	// FilterResolvable returns the unresolved revisions that may resolve.
	FilterResolvable(candidates []*Revision) []*Revision

	// FilterSingletonCollisions returns the collision candidates that count
	// as colliding with the singleton owning identity.
	FilterSingletonCollisions(identity *Capability, candidates []*Capability) []*Capability

	// FilterMatches returns the capabilities requirement may be wired to.
	FilterMatches(requirement *Requirement, candidates []*Capability) []*Capability

	// End is called once after the attempt.
	End()
}

// NopResolverHook accepts everything.
type NopResolverHook struct{}

// Begin implements ResolverHook.
func (NopResolverHook) Begin([]*Revision) {}

// FilterResolvable implements ResolverHook.
func (NopResolverHook) FilterResolvable(candidates []*Revision) []*Revision { return candidates }

// FilterSingletonCollisions implements ResolverHook.
func (NopResolverHook) FilterSingletonCollisions(_ *Capability, candidates []*Capability) []*Capability {
	return candidates
}

// FilterMatches implements ResolverHook.
func (NopResolverHook) FilterMatches(_ *Requirement, candidates []*Capability) []*Capability {
	return candidates
}

// End implements ResolverHook.
func (NopResolverHook) End() {}

// ResolverHookFactory creates the hook for one resolution attempt, so hooks
// may keep per-attempt state.
type ResolverHookFactory func() ResolverHook

// hookChain runs several hooks; a candidate survives only if every hook
// keeps it. Results are intersected with the input so a hook cannot add
// candidates or reorder them.
type hookChain []ResolverHook

func (h hookChain) Begin(triggers []*Revision) {
	for _, hook := range h {
		hook.Begin(append([]*Revision(nil), triggers...))
	}
}

func (h hookChain) FilterResolvable(candidates []*Revision) []*Revision {
	for _, hook := range h {
		candidates = intersect(candidates, hook.FilterResolvable(append([]*Revision(nil), candidates...)))
	}
	return candidates
}

func (h hookChain) FilterSingletonCollisions(identity *Capability, candidates []*Capability) []*Capability {
	for _, hook := range h {
		candidates = intersect(candidates, hook.FilterSingletonCollisions(identity, append([]*Capability(nil), candidates...)))
	}
	return candidates
}

func (h hookChain) FilterMatches(requirement *Requirement, candidates []*Capability) []*Capability {
	for _, hook := range h {
		candidates = intersect(candidates, hook.FilterMatches(requirement, append([]*Capability(nil), candidates...)))
	}
	return candidates
}

func (h hookChain) End() {
	for i := len(h) - 1; i >= 0; i-- {
		h[i].End()
	}
}

// intersect keeps the elements of in that appear in kept, in the order of in.
func intersect[T comparable](in, kept []T) []T {
	set := make(map[T]struct{}, len(kept))
	for _, k := range kept {
		set[k] = struct{}{}
	}
	out := in[:0:0]
	for _, v := range in {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// CollisionOperation says why a collision check runs.
type CollisionOperation int

const (
	CollisionInstalling CollisionOperation = iota + 1
	CollisionUpdating
)

// CollisionHook decides which modules with the same symbolic name and version
// count as duplicates of target. For installs target is the origin module
// requesting the install; for updates it is the module being updated.
type CollisionHook interface {
	FilterCollisions(op CollisionOperation, target *Module, collisions []*Module) []*Module
}

// CollisionHookFunc adapts a function to CollisionHook.
type CollisionHookFunc func(op CollisionOperation, target *Module, collisions []*Module) []*Module

// FilterCollisions implements CollisionHook.
func (f CollisionHookFunc) FilterCollisions(op CollisionOperation, target *Module, collisions []*Module) []*Module {
	return f(op, target, collisions)
}
