package modwire

// Resolver is the pluggable solver that selects capabilities for
// requirements. The container calls it outside every lock with a context
// over an immutable snapshot.
//
// The result maps each requirer revision to its ordered wires. For a
// revision that was unresolved the list is its complete set of required
// wires and may be empty; every unresolved revision present as a key becomes
// resolved. For a revision that was already resolved the list holds only the
// wires to add.
type Resolver interface {
	// Resolve resolves the context's mandatory resources, all or nothing,
	// and as many optional resources as possible. It fails with a
	// *ResolutionError when a mandatory resource cannot be resolved.
	Resolve(ctx ResolveContext) (map[*Revision][]*Wire, error)

	// ResolveDynamic finds one wire for requirement on behalf of the
	// resolved host. An empty result means no provider was found.
	ResolveDynamic(ctx ResolveContext, host *Revision, requirement *Requirement) (map[*Revision][]*Wire, error)
}

// ResolveContext is the solver's view of one resolution attempt.
type ResolveContext interface {
	// MandatoryResources must all resolve or the attempt fails.
	MandatoryResources() []*Revision

	// OptionalResources resolve on a best-effort basis.
	OptionalResources() []*Revision

	// FindProviders returns the eligible capabilities for requirement in
	// preference order.
	FindProviders(requirement *Requirement) []*Capability

	// IsEffective reports whether requirement takes part in resolution.
	IsEffective(requirement *Requirement) bool

	// Wirings returns the snapshot of resolved revisions. Callers must not
	// modify it.
	Wirings() map[*Revision]*Wiring

	// InsertHostedCapability inserts a capability contributed by a fragment
	// into a host's capability list after the host's own capabilities of the
	// same namespace, returning the new list and the insertion index.
	InsertHostedCapability(capabilities []*Capability, hosted *Capability) ([]*Capability, int)
}
