package modwire

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Wire is one resolved edge from a requirement to a capability. Wires are
// immutable except for invalidation when their wiring is torn down.
type Wire struct {
	capability  *Capability
	provider    *Revision
	requirement *Requirement
	requirer    *Revision
	invalid     atomic.Bool
}

// NewWire creates a wire. Resolver implementations use it to report their
// choices.
func NewWire(capability *Capability, provider *Revision, requirement *Requirement, requirer *Revision) *Wire {
	return &Wire{
		capability:  capability,
		provider:    provider,
		requirement: requirement,
		requirer:    requirer,
	}
}

// Capability returns the wired capability.
func (w *Wire) Capability() *Capability { return w.capability }

// Provider returns the revision offering the capability.
func (w *Wire) Provider() *Revision { return w.provider }

// Requirement returns the wired requirement.
func (w *Wire) Requirement() *Requirement { return w.requirement }

// Requirer returns the revision whose requirement is satisfied.
func (w *Wire) Requirer() *Revision { return w.requirer }

// IsValid reports whether the wire is still part of a live wiring.
func (w *Wire) IsValid() bool { return !w.invalid.Load() }

func (w *Wire) invalidate() { w.invalid.Store(true) }

func (w *Wire) String() string {
	return fmt.Sprintf("%s %s -> %s %s", w.requirer, w.requirement, w.provider, w.capability)
}

// Wiring is the resolved state of one revision. A revision has a wiring if
// and only if it is resolved. Wirings are copy-on-write: the store replaces
// a wiring instead of mutating one that readers may hold.
type Wiring struct {
	revision     *Revision
	capabilities []*Capability
	requirements []*Requirement
	provided     []*Wire
	required     []*Wire
	substituted  map[string]struct{}
}

// Revision returns the wired revision.
func (w *Wiring) Revision() *Revision { return w.revision }

// Capabilities returns the capabilities offered by the wiring in the given
// namespace, or all of them when namespace is empty.
func (w *Wiring) Capabilities(namespace string) []*Capability {
	var out []*Capability
	for _, c := range w.capabilities {
		if namespace == "" || c.namespace == namespace {
			out = append(out, c)
		}
	}
	return out
}

// Requirements returns the requirements considered by the wiring.
func (w *Wiring) Requirements(namespace string) []*Requirement {
	var out []*Requirement
	for _, r := range w.requirements {
		if namespace == "" || r.namespace == namespace {
			out = append(out, r)
		}
	}
	return out
}

// ProvidedWires returns the wires where this revision is the provider, in
// capability declaration order.
func (w *Wiring) ProvidedWires(namespace string) []*Wire {
	return filterWires(w.provided, namespace)
}

// RequiredWires returns the wires where this revision is the requirer, in
// requirement declaration order.
func (w *Wiring) RequiredWires(namespace string) []*Wire {
	return filterWires(w.required, namespace)
}

// Substituted returns the sorted names of packages the revision declares but
// does not offer because it imports them instead.
func (w *Wiring) Substituted() []string {
	names := make([]string, 0, len(w.substituted))
	for name := range w.substituted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSubstituted reports whether c is hidden by an import of the same package.
func (w *Wiring) IsSubstituted(c *Capability) bool {
	if c.namespace != NamespacePackage {
		return false
	}
	_, ok := w.substituted[c.Name()]
	return ok
}

// hostedCapability returns the wiring's copy of a fragment capability, or
// nil when the host does not offer it.
func (w *Wiring) hostedCapability(declared *Capability) *Capability {
	for _, c := range w.capabilities {
		if c.declared == declared {
			return c
		}
	}
	return nil
}

func (w *Wiring) offers(c *Capability) bool {
	decl := c.Declared()
	for _, own := range w.capabilities {
		if own.Declared() == decl {
			return true
		}
	}
	return false
}

// withWires returns a copy of w with replaced wire lists.
func (w *Wiring) withWires(provided, required []*Wire) *Wiring {
	return &Wiring{
		revision:     w.revision,
		capabilities: w.capabilities,
		requirements: w.requirements,
		provided:     provided,
		required:     required,
		substituted:  w.substituted,
	}
}

func (w *Wiring) clone() *Wiring {
	return w.withWires(append([]*Wire(nil), w.provided...), append([]*Wire(nil), w.required...))
}

func filterWires(wires []*Wire, namespace string) []*Wire {
	var out []*Wire
	for _, wire := range wires {
		if namespace == "" || wire.capability.namespace == namespace {
			out = append(out, wire)
		}
	}
	return out
}
