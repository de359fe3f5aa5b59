package modwire

import "sort"

// Singleton tie-break policies for equal versions.
const (
	TieBreakFirstDeclared = "first-declared"
	TieBreakLastDeclared  = "last-declared"
)

// resolveProcess is one resolution attempt over a snapshot. It implements
// ResolveContext for the solver.
type resolveProcess struct {
	store    *store
	logger   Logger
	snap     snapshot
	hook     hookChain
	tieBreak string

	triggers  []*Revision
	mandatory []*Revision
	optional  []*Revision

	// disabled revisions are invisible for the rest of the attempt.
	disabled        map[*Revision]bool
	singletonLosers map[*Revision]bool
}

func newResolveProcess(c *Container, snap snapshot, triggers []*Revision, mandatory bool) *resolveProcess {
	p := &resolveProcess{
		store:           c.store,
		logger:          c.logger,
		snap:            snap,
		hook:            c.newHookChain(),
		tieBreak:        c.config.SingletonTieBreak,
		disabled:        make(map[*Revision]bool),
		singletonLosers: make(map[*Revision]bool),
	}

	unresolved := make(map[*Revision]bool, len(snap.unresolved))
	for _, rev := range snap.unresolved {
		unresolved[rev] = true
	}
	for _, rev := range triggers {
		if unresolved[rev] {
			p.triggers = append(p.triggers, rev)
		}
	}

	// Without triggers every unresolved revision is optional; the mandatory
	// flag has nothing to apply to.
	switch {
	case len(triggers) == 0:
		p.optional = append([]*Revision(nil), snap.unresolved...)
	case mandatory:
		p.mandatory = p.triggers
		p.optional = p.unresolvedFragments(p.triggers)
	default:
		p.optional = append(append([]*Revision(nil), p.triggers...), p.unresolvedFragments(p.triggers)...)
	}
	return p
}

// empty reports whether the attempt has nothing to resolve.
func (p *resolveProcess) empty() bool {
	return len(p.mandatory) == 0 && len(p.optional) == 0
}

func (p *resolveProcess) unresolvedFragments(exclude []*Revision) []*Revision {
	skip := make(map[*Revision]bool, len(exclude))
	for _, rev := range exclude {
		skip[rev] = true
	}
	var out []*Revision
	for _, rev := range p.snap.unresolved {
		if rev.fragment && !skip[rev] {
			out = append(out, rev)
		}
	}
	return out
}

// prepare runs the hook-driven filtering and singleton selection. It must be
// followed by p.hook.End().
func (p *resolveProcess) prepare() error {
	p.hook.Begin(p.triggers)

	kept := p.hook.FilterResolvable(append([]*Revision(nil), p.snap.unresolved...))
	keptSet := make(map[*Revision]bool, len(kept))
	for _, rev := range kept {
		keptSet[rev] = true
	}
	for _, rev := range p.snap.unresolved {
		if !keptSet[rev] {
			p.disabled[rev] = true
			p.logger.Debug("Revision disabled by resolver hook", "revision", rev.String())
		}
	}

	p.selectSingletons()

	var disabledTriggers []*Revision
	for _, rev := range p.mandatory {
		if p.disabled[rev] {
			disabledTriggers = append(disabledTriggers, rev)
		}
	}
	p.mandatory = p.withoutDisabled(p.mandatory)
	p.optional = p.withoutDisabled(p.optional)

	if len(disabledTriggers) > 0 {
		cause := ErrDisabledTrigger
		for _, rev := range disabledTriggers {
			if p.singletonLosers[rev] {
				cause = ErrSingletonCollision
				break
			}
		}
		return &ResolutionError{Unresolved: disabledTriggers, Err: cause}
	}
	return nil
}

func (p *resolveProcess) withoutDisabled(revs []*Revision) []*Revision {
	out := revs[:0:0]
	for _, rev := range revs {
		if !p.disabled[rev] {
			out = append(out, rev)
		}
	}
	return out
}

// selectSingletons leaves at most one resolvable revision per singleton
// symbolic name. A candidate colliding with an already resolved or already
// selected revision is disabled; otherwise the highest version among the
// candidate and its collision partners wins and the rest are disabled.
func (p *resolveProcess) selectSingletons() {
	groups := make(map[string][]*Revision)
	for rev := range p.snap.wirings {
		if rev.singleton {
			groups[rev.symbolicName] = append(groups[rev.symbolicName], rev)
		}
	}
	for _, rev := range p.snap.unresolved {
		if rev.singleton && !p.disabled[rev] {
			groups[rev.symbolicName] = append(groups[rev.symbolicName], rev)
		}
	}

	names := make([]string, 0, len(groups))
	for name, group := range groups {
		if len(group) > 1 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		group := groups[name]
		sort.Slice(group, func(i, j int) bool { return revisionLess(group[i], group[j]) })

		collisions := make(map[*Revision][]*Revision, len(group))
		for _, rev := range group {
			var others []*Capability
			owners := make(map[*Capability]*Revision)
			for _, other := range group {
				if other == rev {
					continue
				}
				if id := other.Identity(); id != nil {
					others = append(others, id)
					owners[id] = other
				}
			}
			for _, c := range p.hook.FilterSingletonCollisions(rev.Identity(), others) {
				collisions[rev] = append(collisions[rev], owners[c])
			}
		}

		selected := make(map[*Revision]bool)
		for _, rev := range group {
			if p.snap.wirings[rev] != nil {
				selected[rev] = true
			}
		}

		for _, candidate := range group {
			if selected[candidate] || p.disabled[candidate] {
				continue
			}
			partners := collisions[candidate]
			blocked := false
			for _, partner := range partners {
				if selected[partner] {
					blocked = true
					break
				}
			}
			if blocked {
				p.disableSingleton(candidate)
				continue
			}

			pool := []*Revision{candidate}
			for _, partner := range partners {
				if !p.disabled[partner] && !selected[partner] {
					pool = append(pool, partner)
				}
			}
			best := p.pickSingleton(pool)
			selected[best] = true
			p.logger.Debug("Singleton selected", "symbolicName", name, "revision", best.String(), "candidates", len(pool))
			for _, rev := range pool {
				if rev != best {
					p.disableSingleton(rev)
				}
			}
		}
	}
}

func (p *resolveProcess) disableSingleton(rev *Revision) {
	p.disabled[rev] = true
	p.singletonLosers[rev] = true
	p.logger.Debug("Singleton disabled", "revision", rev.String())
}

// pickSingleton returns the highest version in pool. Equal versions are
// decided by declaration order according to the configured tie-break.
func (p *resolveProcess) pickSingleton(pool []*Revision) *Revision {
	best := pool[0]
	for _, rev := range pool[1:] {
		switch c := rev.version.Compare(best.version); {
		case c > 0:
			best = rev
		case c == 0:
			if p.tieBreak == TieBreakLastDeclared {
				if rev.seq > best.seq {
					best = rev
				}
			} else if rev.seq < best.seq {
				best = rev
			}
		}
	}
	return best
}

// MandatoryResources implements ResolveContext.
func (p *resolveProcess) MandatoryResources() []*Revision {
	return append([]*Revision(nil), p.mandatory...)
}

// OptionalResources implements ResolveContext.
func (p *resolveProcess) OptionalResources() []*Revision {
	return append([]*Revision(nil), p.optional...)
}

// IsEffective implements ResolveContext.
func (p *resolveProcess) IsEffective(req *Requirement) bool {
	return req.IsEffective()
}

// Wirings implements ResolveContext.
func (p *resolveProcess) Wirings() map[*Revision]*Wiring {
	return p.snap.wirings
}

// InsertHostedCapability implements ResolveContext.
func (p *resolveProcess) InsertHostedCapability(caps []*Capability, hosted *Capability) ([]*Capability, int) {
	return insertHostedCapability(caps, hosted)
}

// FindProviders implements ResolveContext. Candidates from the index are
// dropped when their owner is disabled, when they are not effective, or when
// their owner's wiring does not offer them. Capabilities of attached
// fragments are replaced by the hosts' copies. The hook filters what is
// left, and the result is sorted: resolved providers first, then higher
// versions, then later revisions of the same module, then lower module ids.
func (p *resolveProcess) FindProviders(req *Requirement) []*Capability {
	var candidates []*Capability
	for _, c := range p.store.findCapabilities(req) {
		owner := c.revision
		if p.disabled[owner] || !c.IsEffective() {
			continue
		}
		w := p.snap.wirings[owner]
		if owner.fragment {
			if w == nil {
				candidates = append(candidates, c)
				continue
			}
			for _, hostWire := range w.required {
				if hostWire.capability.namespace != NamespaceHost {
					continue
				}
				if hw := p.snap.wirings[hostWire.provider]; hw != nil {
					if hosted := hw.hostedCapability(c); hosted != nil {
						candidates = append(candidates, hosted)
					}
				}
			}
			continue
		}
		if w != nil && (w.IsSubstituted(c) || !w.offers(c)) {
			continue
		}
		candidates = append(candidates, c)
	}

	candidates = p.hook.FilterMatches(req, candidates)
	sortCandidates(candidates, p.snap.wirings)
	return candidates
}

func sortCandidates(caps []*Capability, wirings map[*Revision]*Wiring) {
	sort.SliceStable(caps, func(i, j int) bool {
		a, b := caps[i], caps[j]
		ra, rb := wirings[a.revision] != nil, wirings[b.revision] != nil
		if ra != rb {
			return ra
		}
		if c := a.Version().Compare(b.Version()); c != 0 {
			return c > 0
		}
		ma, mb := moduleID(a.revision), moduleID(b.revision)
		if ma == mb && a.revision != b.revision {
			return a.revision.seq > b.revision.seq
		}
		return ma < mb
	})
}

func moduleID(rev *Revision) uint64 {
	if rev.module == nil {
		return 0
	}
	return rev.module.id
}

// insertHostedCapability places hosted after the last capability of the same
// namespace, or at the end when there is none.
func insertHostedCapability(caps []*Capability, hosted *Capability) ([]*Capability, int) {
	at := len(caps)
	for i := len(caps) - 1; i >= 0; i-- {
		if caps[i].namespace == hosted.namespace {
			at = i + 1
			break
		}
	}
	out := make([]*Capability, 0, len(caps)+1)
	out = append(out, caps[:at]...)
	out = append(out, hosted)
	out = append(out, caps[at:]...)
	return out, at
}

// insertHostedRequirement is the requirement counterpart of
// insertHostedCapability.
func insertHostedRequirement(reqs []*Requirement, hosted *Requirement) []*Requirement {
	at := len(reqs)
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].namespace == hosted.namespace {
			at = i + 1
			break
		}
	}
	out := make([]*Requirement, 0, len(reqs)+1)
	out = append(out, reqs[:at]...)
	out = append(out, hosted)
	out = append(out, reqs[at:]...)
	return out
}

