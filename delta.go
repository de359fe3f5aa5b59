package modwire

import "sort"

// generateDelta turns the solver's {requirer -> wires} result into the
// wirings to merge. Revisions that were unresolved get a complete wiring;
// revisions that were already resolved get a copy of their wiring with the
// new wires added and their capability and requirement lists untouched.
func generateDelta(result map[*Revision][]*Wire, current map[*Revision]*Wiring) map[*Revision]*Wiring {
	required := make(map[*Revision][]*Wire)
	provided := make(map[*Revision][]*Wire)
	involved := make(map[*Revision]struct{})
	for requirer, wires := range result {
		involved[requirer] = struct{}{}
		required[requirer] = append(required[requirer], wires...)
		for _, w := range wires {
			provided[w.provider] = append(provided[w.provider], w)
			involved[w.provider] = struct{}{}
		}
	}

	delta := make(map[*Revision]*Wiring, len(involved))
	for _, rev := range sortedRevisions(involved) {
		if existing := current[rev]; existing != nil {
			if len(required[rev]) == 0 && len(provided[rev]) == 0 {
				continue
			}
			req := append(append([]*Wire(nil), existing.required...), required[rev]...)
			prov := append(append([]*Wire(nil), existing.provided...), provided[rev]...)
			sortRequiredWires(req, existing.requirements)
			sortProvidedWires(prov, existing.capabilities)
			delta[rev] = existing.withWires(prov, req)
			continue
		}
		if _, resolving := result[rev]; !resolving {
			// A provider the solver did not report as resolved cannot gain
			// wires; the solver contract forbids this.
			continue
		}
		delta[rev] = newWiring(rev, provided[rev], required[rev])
	}
	return delta
}

// newWiring builds the wiring of a revision resolved for the first time.
func newWiring(rev *Revision, provided, required []*Wire) *Wiring {
	if rev.fragment {
		// A fragment offers nothing by itself. Its wiring only records the
		// hosts it is attached to; its declarations live in the hosts.
		req := append([]*Wire(nil), required...)
		sortRequiredWires(req, rev.requirements)
		return &Wiring{
			revision:     rev,
			capabilities: []*Capability{rev.Identity()},
			requirements: rev.Requirements(NamespaceHost),
			required:     req,
			substituted:  map[string]struct{}{},
		}
	}

	var caps []*Capability
	for _, c := range rev.capabilities {
		if c.IsEffective() {
			caps = append(caps, c)
		}
	}
	var reqs []*Requirement
	for _, r := range rev.requirements {
		if r.IsEffective() {
			reqs = append(reqs, r)
		}
	}

	// Merge attached fragments after the host's own declarations of the same
	// namespace.
	for _, fragment := range attachedFragments(provided) {
		for _, c := range fragment.capabilities {
			if mergeable(c.namespace) && c.IsEffective() {
				caps, _ = insertHostedCapability(caps, hostedCapabilityFor(rev, c, provided))
			}
		}
		for _, r := range fragment.requirements {
			if mergeable(r.namespace) && r.IsEffective() {
				reqs = insertHostedRequirement(reqs, hostedRequirementFor(rev, r, required))
			}
		}
	}

	// Optional requirements without a wire are dropped; dynamic ones stay
	// so they can be wired later.
	wiredReqs := make(map[*Requirement]bool, len(required))
	for _, w := range required {
		wiredReqs[w.requirement.Declared()] = true
	}
	substituted := make(map[string]struct{})
	keptReqs := reqs[:0:0]
	for _, r := range reqs {
		if r.IsOptional() && !wiredReqs[r.Declared()] {
			continue
		}
		keptReqs = append(keptReqs, r)
	}
	for _, w := range required {
		if w.capability.namespace == NamespacePackage && w.provider != rev {
			substituted[w.capability.Name()] = struct{}{}
		}
	}

	keptCaps := caps[:0:0]
	for _, c := range caps {
		if c.namespace == NamespacePackage {
			if _, ok := substituted[c.Name()]; ok {
				continue
			}
		}
		keptCaps = append(keptCaps, c)
	}
	// Only names the revision actually declares count as substituted.
	for name := range substituted {
		if !declaresPackage(caps, name) {
			delete(substituted, name)
		}
	}

	prov := append([]*Wire(nil), provided...)
	req := append([]*Wire(nil), required...)
	sortProvidedWires(prov, keptCaps)
	sortRequiredWires(req, keptReqs)

	return &Wiring{
		revision:     rev,
		capabilities: keptCaps,
		requirements: keptReqs,
		provided:     prov,
		required:     req,
		substituted:  substituted,
	}
}

// mergeable reports whether a fragment declaration in namespace is merged
// into its hosts.
func mergeable(namespace string) bool {
	switch namespace {
	case NamespaceIdentity, NamespaceHost, NamespaceExecutionEnvironment:
		return false
	default:
		return true
	}
}

// hostedCapabilityFor reuses the solver's hosted capability when a wire
// refers to it.
func hostedCapabilityFor(host *Revision, declared *Capability, provided []*Wire) *Capability {
	for _, w := range provided {
		if w.capability.declared == declared && w.capability.revision == host {
			return w.capability
		}
	}
	return NewHostedCapability(host, declared)
}

// hostedRequirementFor reuses the solver's hosted requirement when a wire
// refers to it, so the wiring and its wires share one object.
func hostedRequirementFor(host *Revision, declared *Requirement, required []*Wire) *Requirement {
	for _, w := range required {
		if w.requirement.declared == declared && w.requirement.revision == host {
			return w.requirement
		}
	}
	return NewHostedRequirement(host, declared)
}

// attachedFragments lists the fragments wired to a host through host wires,
// ordered by creation.
func attachedFragments(provided []*Wire) []*Revision {
	seen := make(map[*Revision]struct{})
	for _, w := range provided {
		if w.capability.namespace == NamespaceHost && w.requirer.fragment {
			seen[w.requirer] = struct{}{}
		}
	}
	out := make([]*Revision, 0, len(seen))
	for rev := range seen {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func declaresPackage(caps []*Capability, name string) bool {
	for _, c := range caps {
		if c.namespace == NamespacePackage && c.Name() == name {
			return true
		}
	}
	return false
}

// sortProvidedWires orders wires by the position of their capability in
// caps. Wires to capabilities not in caps keep their relative order at the
// end.
func sortProvidedWires(wires []*Wire, caps []*Capability) {
	pos := make(map[*Capability]int, len(caps))
	for i, c := range caps {
		pos[c.Declared()] = i
	}
	sort.SliceStable(wires, func(i, j int) bool {
		return position(pos, wires[i].capability.Declared()) < position(pos, wires[j].capability.Declared())
	})
}

// sortRequiredWires orders wires by the position of their requirement in
// reqs.
func sortRequiredWires(wires []*Wire, reqs []*Requirement) {
	pos := make(map[*Requirement]int, len(reqs))
	for i, r := range reqs {
		pos[r.Declared()] = i
	}
	sort.SliceStable(wires, func(i, j int) bool {
		return position(pos, wires[i].requirement.Declared()) < position(pos, wires[j].requirement.Declared())
	})
}

func position[K comparable](pos map[K]int, key K) int {
	if i, ok := pos[key]; ok {
		return i
	}
	return len(pos)
}

func sortedRevisions(set map[*Revision]struct{}) []*Revision {
	out := make([]*Revision, 0, len(set))
	for rev := range set {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return revisionLess(out[i], out[j]) })
	return out
}
