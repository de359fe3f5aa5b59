package modwire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modwire/filter"
	"github.com/GoCodeAlone/modwire/version"
)

// Resolve resolves the current revisions of triggers. With mandatory set,
// every trigger must resolve or nothing is committed and a
// *ResolutionError names what failed. Otherwise as many triggers as possible
// are resolved. With no triggers every unresolved revision is attempted
// and mandatory is ignored.
// Concurrent modification is retried transparently.
func (c *Container) Resolve(triggers []*Module, mandatory bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	revs := make([]*Revision, 0, len(triggers))
	for _, m := range triggers {
		if !c.owns(m) {
			return fmt.Errorf("%w: %v", ErrUnknownModule, m)
		}
		rev := m.CurrentRevision()
		if rev == nil {
			if mandatory {
				return newModuleError(ErrorInvalid, "resolve", m, ErrModuleUninstalled)
			}
			continue
		}
		revs = append(revs, rev)
	}
	if len(triggers) > 0 && len(revs) == 0 {
		return nil
	}
	return c.resolveRevisions(revs, mandatory)
}

func (c *Container) resolveRevisions(triggers []*Revision, mandatory bool) error {
	logger := WithLogFields(c.logger, "resolution", generateEventID())
	for {
		c.metrics.resolveAttempt()
		snap := c.store.takeSnapshot()
		p := newResolveProcess(c, snap, triggers, mandatory)
		if p.empty() {
			return nil
		}
		result, err := c.runSolver(p, func() (map[*Revision][]*Wire, error) {
			return c.solver.Resolve(p)
		})
		if err != nil {
			c.metrics.resolveFailure()
			logger.Warn("Resolution failed", "error", err)
			return err
		}
		delta := generateDelta(result, snap.wirings)
		if len(delta) == 0 {
			return nil
		}
		err = c.commit(snap, delta)
		if errors.Is(err, errTimestampConflict) {
			c.metrics.resolveConflict()
			logger.Debug("Resolution snapshot is stale, retrying", "timestamp", snap.timestamp)
			continue
		}
		return err
	}
}

// runSolver brackets one solver call with the hook's Begin and End.
func (c *Container) runSolver(p *resolveProcess, solve func() (map[*Revision][]*Wire, error)) (map[*Revision][]*Wire, error) {
	defer p.hook.End()
	if err := p.prepare(); err != nil {
		return nil, err
	}
	result, err := solve()
	if err != nil {
		var resErr *ResolutionError
		if errors.As(err, &resErr) {
			return nil, err
		}
		return nil, &ResolutionError{Unresolved: p.mandatory, Err: err}
	}
	return result, nil
}

// commit applies delta if the store is unchanged since snap was taken. It
// returns errTimestampConflict otherwise, having changed nothing.
func (c *Container) commit(snap snapshot, delta map[*Revision]*Wiring) error {
	var newly []*Revision
	var mods []*Module
	for _, rev := range sortedDeltaRevisions(delta) {
		if snap.wirings[rev] == nil {
			newly = append(newly, rev)
			mods = append(mods, rev.module)
		}
	}

	unlockModules, err := lockModules(mods, EventModuleResolved, c.config.LockTimeout)
	if err != nil {
		return newModuleError(ErrorFatal, "commit", nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err))
	}

	c.store.lockWrite()
	if c.store.timestamp != snap.timestamp {
		c.store.unlockWrite()
		unlockModules()
		return errTimestampConflict
	}
	c.store.mergeWiringLocked(delta)
	tickets := make([]*eventTicket, 0, len(newly))
	for _, rev := range newly {
		m := rev.module
		if m.State() == StateInstalled {
			m.setState(StateResolved)
		}
		tickets = append(tickets, c.events.reserve(newModuleEvent(EventModuleResolved, m, rev, nil)))
	}
	c.store.unlockWrite()
	unlockModules()
	c.events.publish(tickets...)

	for _, rev := range newly {
		c.logger.Debug("Module resolved", "module", rev.module.String(), "revision", rev.String())
	}
	c.updateGauges()
	return nil
}

func sortedDeltaRevisions(delta map[*Revision]*Wiring) []*Revision {
	set := make(map[*Revision]struct{}, len(delta))
	for rev := range delta {
		set[rev] = struct{}{}
	}
	return sortedRevisions(set)
}

// ResolveDynamic wires packageName for the resolved revision rev through one
// of its dynamic imports. It returns the existing wire when the package is
// already wired, and nil without an error when rev is unresolved, has no
// dynamic import matching the name, or no provider is available.
func (c *Container) ResolveDynamic(rev *Revision, packageName string) (*Wire, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if rev == nil || rev.module == nil || !c.owns(rev.module) {
		return nil, ErrUnknownModule
	}
	for {
		c.metrics.resolveAttempt()
		snap := c.store.takeSnapshot()
		hostWiring := snap.wirings[rev]
		if hostWiring == nil || rev.fragment {
			return nil, nil
		}
		if wire := wiredPackage(hostWiring, packageName); wire != nil {
			return wire, nil
		}
		dynamic := matchingDynamicImport(hostWiring, packageName)
		if dynamic == nil {
			return nil, nil
		}
		req, err := dynamicRequirement(rev, dynamic, packageName)
		if err != nil {
			return nil, err
		}

		p := newResolveProcess(c, snap, nil, false)
		p.optional = attachableFragments(snap, dependencyClosure(snap.wirings, []*Module{rev.module}))
		result, err := c.runSolver(p, func() (map[*Revision][]*Wire, error) {
			return c.solver.ResolveDynamic(p, rev, req)
		})
		if err != nil {
			c.metrics.resolveFailure()
			c.logger.Debug("Dynamic resolution failed", "revision", rev.String(), "package", packageName, "error", err)
			return nil, nil
		}
		wires := result[rev]
		if len(wires) == 0 {
			return nil, nil
		}
		delta := generateDelta(result, snap.wirings)
		err = c.commit(snap, delta)
		if errors.Is(err, errTimestampConflict) {
			c.metrics.resolveConflict()
			continue
		}
		if err != nil {
			return nil, err
		}
		c.logger.Info("Dynamic package wired", "revision", rev.String(), "package", packageName, "provider", wires[0].provider.String())
		return wires[0], nil
	}
}

func wiredPackage(w *Wiring, name string) *Wire {
	for _, wire := range w.required {
		if wire.capability.namespace == NamespacePackage && wire.capability.Name() == name {
			return wire
		}
	}
	return nil
}

// matchingDynamicImport returns the first dynamic package requirement of w
// whose pattern covers name. Patterns are an exact name, "*", or a prefix
// ending in ".*".
func matchingDynamicImport(w *Wiring, name string) *Requirement {
	for _, req := range w.requirements {
		if req.namespace != NamespacePackage || !req.IsDynamic() {
			continue
		}
		pattern, _ := req.attributes[NamespacePackage].(string)
		if packageMatches(pattern, name) {
			return req
		}
	}
	return nil
}

func packageMatches(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == name
	}
}

// dynamicRequirement derives the concrete requirement for name from a
// dynamic import. It keeps the import as its declaration so wires sort in
// the import's position.
func dynamicRequirement(host *Revision, dynamic *Requirement, name string) (*Requirement, error) {
	rangeText, _ := dynamic.attributes[dynamicRangeAttribute].(string)
	text, err := rangeFilter(NamespacePackage, name, rangeText)
	if err != nil {
		return nil, err
	}
	if _, err := version.ParseRange(rangeText); err != nil {
		return nil, err
	}
	f, err := filter.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return &Requirement{
		namespace:  NamespacePackage,
		attributes: map[string]any{NamespacePackage: name},
		directives: map[string]string{
			DirectiveFilter:     text,
			DirectiveResolution: ResolutionDynamic,
		},
		filter:   f,
		revision: host,
		declared: dynamic.Declared(),
		index:    dynamic.index,
	}, nil
}

// attachableFragments lists the unresolved fragments whose host requirement
// is satisfied by a revision in modules.
func attachableFragments(snap snapshot, modules []*Module) []*Revision {
	var hosts []*Capability
	for _, m := range modules {
		for rev, w := range snap.wirings {
			if rev.module == m {
				hosts = append(hosts, w.Capabilities(NamespaceHost)...)
			}
		}
	}
	var out []*Revision
	for _, rev := range snap.unresolved {
		if !rev.fragment {
			continue
		}
		for _, req := range rev.Requirements(NamespaceHost) {
			if matchesAny(req, hosts) {
				out = append(out, rev)
				break
			}
		}
	}
	return out
}

func matchesAny(req *Requirement, caps []*Capability) bool {
	for _, c := range caps {
		if req.Matches(c) {
			return true
		}
	}
	return false
}
