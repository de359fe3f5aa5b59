package resolver

import (
	"github.com/GoCodeAlone/modwire"
)

type status int

const (
	unvisited status = iota
	resolving
	resolved
	failed
)

// search is the state of one pass over a resolve context.
type search struct {
	ctx      modwire.ResolveContext
	wirings  map[*modwire.Revision]*modwire.Wiring
	excluded map[*modwire.Revision]bool
	logger   modwire.Logger

	status   map[*modwire.Revision]status
	wires    map[*modwire.Revision][]*modwire.Wire
	failures map[*modwire.Revision][]*modwire.Requirement

	// fragments is the pool of unresolved fragments that may attach to
	// hosts resolved in this pass.
	fragments []*modwire.Revision
	// attached records the fragments attached to each host in this pass.
	attached map[*modwire.Revision][]*modwire.Revision
	// hostCaps holds the capability lists of hosts with attached fragment
	// capabilities inserted.
	hostCaps map[*modwire.Revision][]*modwire.Capability
}

func newSearch(ctx modwire.ResolveContext, excluded map[*modwire.Revision]bool, logger modwire.Logger) *search {
	s := &search{
		ctx:      ctx,
		wirings:  ctx.Wirings(),
		excluded: excluded,
		logger:   logger,
		status:   make(map[*modwire.Revision]status),
		wires:    make(map[*modwire.Revision][]*modwire.Wire),
		failures: make(map[*modwire.Revision][]*modwire.Requirement),
		attached: make(map[*modwire.Revision][]*modwire.Revision),
		hostCaps: make(map[*modwire.Revision][]*modwire.Capability),
	}
	seen := make(map[*modwire.Revision]bool)
	for _, rev := range append(ctx.MandatoryResources(), ctx.OptionalResources()...) {
		if rev.IsFragment() && s.wirings[rev] == nil && !seen[rev] {
			seen[rev] = true
			s.fragments = append(s.fragments, rev)
		}
	}
	return s
}

func (s *search) resolveResource(rev *modwire.Revision) bool {
	if rev.IsFragment() {
		return s.resolveFragment(rev)
	}
	return s.resolveRevision(rev)
}

// resolveRevision resolves a host revision and attaches the pooled
// fragments that fit it. A revision already being resolved counts as
// resolvable.
func (s *search) resolveRevision(rev *modwire.Revision) bool {
	if s.wirings[rev] != nil {
		return true
	}
	switch s.status[rev] {
	case resolving, resolved:
		return true
	case failed:
		return false
	}
	if rev.IsFragment() {
		return s.resolveFragment(rev)
	}

	s.status[rev] = resolving
	var wires []*modwire.Wire
	var missing []*modwire.Requirement
	for _, req := range rev.Requirements("") {
		if !s.ctx.IsEffective(req) || req.IsDynamic() {
			continue
		}
		w, ok := s.satisfy(rev, req)
		if !ok {
			if !req.IsOptional() {
				missing = append(missing, req)
			}
			continue
		}
		if w != nil {
			wires = append(wires, w)
		}
	}
	if len(missing) > 0 {
		s.status[rev] = failed
		s.failures[rev] = missing
		s.logger.Debug("Revision cannot be resolved", "revision", rev.String(), "missing", len(missing))
		return false
	}

	wires = append(wires, s.attachFragments(rev)...)
	s.status[rev] = resolved
	s.wires[rev] = append(s.wires[rev], wires...)
	return true
}

// satisfy finds a wire for req on behalf of requirer. A requirement met by
// the requirer's own capability succeeds without a wire.
func (s *search) satisfy(requirer *modwire.Revision, req *modwire.Requirement) (*modwire.Wire, bool) {
	for _, c := range s.ctx.FindProviders(req) {
		owner := c.Revision()
		if s.excluded[owner] {
			continue
		}
		if owner.IsFragment() {
			if w, ok := s.viaHost(requirer, req, c); ok {
				return w, true
			}
			continue
		}
		if owner == requirer {
			return nil, true
		}
		if !s.resolveRevision(owner) {
			continue
		}
		return modwire.NewWire(c, owner, req, requirer), true
	}
	return nil, false
}

// viaHost wires req to the capability c of an unresolved fragment through
// a host resolved in this pass that the fragment attaches to.
func (s *search) viaHost(requirer *modwire.Revision, req *modwire.Requirement, c *modwire.Capability) (*modwire.Wire, bool) {
	fragment := c.Revision()
	if s.status[fragment] == failed {
		return nil, false
	}
	hostReqs := fragment.Requirements(modwire.NamespaceHost)
	if len(hostReqs) == 0 {
		return nil, false
	}
	for _, hc := range s.ctx.FindProviders(hostReqs[0]) {
		host := hc.Revision()
		if host.IsFragment() || host == requirer || s.excluded[host] || s.wirings[host] != nil {
			continue
		}
		if !s.resolveRevision(host) || !s.isAttached(fragment, host) {
			continue
		}
		return modwire.NewWire(s.hostedCapability(host, c), host, req, requirer), true
	}
	return nil, false
}

// resolveFragment attaches a fragment to every matching host: resolved
// hosts gain only the host wire, unresolved hosts are resolved and pick the
// fragment up from the pool.
func (s *search) resolveFragment(fragment *modwire.Revision) bool {
	if s.wirings[fragment] != nil {
		return true
	}
	switch s.status[fragment] {
	case resolved:
		return true
	case failed:
		return false
	}
	hostReqs := fragment.Requirements(modwire.NamespaceHost)
	if len(hostReqs) == 0 {
		s.status[fragment] = failed
		return false
	}
	hostReq := hostReqs[0]
	for _, c := range s.ctx.FindProviders(hostReq) {
		host := c.Revision()
		if host.IsFragment() || s.excluded[host] {
			continue
		}
		if s.wirings[host] != nil {
			s.wires[fragment] = append(s.wires[fragment], modwire.NewWire(c, host, hostReq, fragment))
			s.status[fragment] = resolved
			continue
		}
		if s.status[host] == resolving {
			continue
		}
		s.resolveRevision(host)
	}
	if s.status[fragment] == resolved {
		return true
	}
	s.status[fragment] = failed
	s.failures[fragment] = []*modwire.Requirement{hostReq}
	s.logger.Debug("Fragment has no host", "fragment", fragment.String())
	return false
}

// attachFragments attaches the pooled fragments whose host requirement
// accepts host and whose own requirements can be met on host's behalf. It
// returns the wires of the hosted requirements.
func (s *search) attachFragments(host *modwire.Revision) []*modwire.Wire {
	hostCaps := host.Capabilities(modwire.NamespaceHost)
	if len(hostCaps) == 0 {
		return nil
	}
	var out []*modwire.Wire
	for _, fragment := range s.fragments {
		if s.status[fragment] == failed || s.excluded[fragment] || s.isAttached(fragment, host) {
			continue
		}
		hostReqs := fragment.Requirements(modwire.NamespaceHost)
		if len(hostReqs) == 0 {
			continue
		}
		hostCap := acceptedHost(s.ctx.FindProviders(hostReqs[0]), hostCaps)
		if hostCap == nil {
			continue
		}
		hosted, ok := s.fragmentWires(host, fragment)
		if !ok {
			s.logger.Debug("Fragment requirements not met on host", "fragment", fragment.String(), "host", host.String())
			continue
		}
		out = append(out, hosted...)
		s.wires[fragment] = append(s.wires[fragment], modwire.NewWire(hostCap, host, hostReqs[0], fragment))
		s.status[fragment] = resolved
		s.attached[host] = append(s.attached[host], fragment)
		for _, c := range fragment.Capabilities("") {
			if mergeable(c.Namespace()) {
				s.hostedCapability(host, c)
			}
		}
	}
	return out
}

// fragmentWires resolves the requirements of fragment as requirements of
// host.
func (s *search) fragmentWires(host, fragment *modwire.Revision) ([]*modwire.Wire, bool) {
	var out []*modwire.Wire
	for _, req := range fragment.Requirements("") {
		if !mergeable(req.Namespace()) || !s.ctx.IsEffective(req) || req.IsDynamic() {
			continue
		}
		hosted := modwire.NewHostedRequirement(host, req)
		w, ok := s.satisfy(host, hosted)
		if !ok {
			if req.IsOptional() {
				continue
			}
			return nil, false
		}
		if w != nil {
			out = append(out, w)
		}
	}
	return out, true
}

// hostedCapability returns host's copy of the fragment capability c,
// inserting it into the host's capability list on first use.
func (s *search) hostedCapability(host *modwire.Revision, c *modwire.Capability) *modwire.Capability {
	caps, ok := s.hostCaps[host]
	if !ok {
		caps = host.Capabilities("")
	}
	for _, existing := range caps {
		if existing.IsHosted() && existing.Declared() == c.Declared() {
			return existing
		}
	}
	hosted := modwire.NewHostedCapability(host, c)
	s.hostCaps[host], _ = s.ctx.InsertHostedCapability(caps, hosted)
	return hosted
}

func (s *search) isAttached(fragment, host *modwire.Revision) bool {
	for _, f := range s.attached[host] {
		if f == fragment {
			return true
		}
	}
	return false
}

// brokenProviders lists the providers of wires held by resolved revisions
// that did not end up resolved themselves.
func (s *search) brokenProviders() []*modwire.Revision {
	seen := make(map[*modwire.Revision]bool)
	var out []*modwire.Revision
	for requirer, wires := range s.wires {
		if s.status[requirer] != resolved {
			continue
		}
		for _, w := range wires {
			p := w.Provider()
			if s.wirings[p] == nil && s.status[p] != resolved && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// result maps every revision resolved in this pass to its wires.
func (s *search) result() map[*modwire.Revision][]*modwire.Wire {
	out := make(map[*modwire.Revision][]*modwire.Wire)
	for rev, st := range s.status {
		if st == resolved && s.wirings[rev] == nil {
			out[rev] = s.wires[rev]
		}
	}
	return out
}

func (s *search) resolutionError(failedRevs []*modwire.Revision) error {
	reqs := make(map[*modwire.Revision][]*modwire.Requirement, len(failedRevs))
	for _, rev := range failedRevs {
		if missing := s.failures[rev]; len(missing) > 0 {
			reqs[rev] = missing
		}
	}
	return &modwire.ResolutionError{
		Unresolved:   failedRevs,
		Requirements: reqs,
		Err:          modwire.ErrMissingRequirement,
	}
}

// acceptedHost returns the first of hostCaps among candidates.
func acceptedHost(candidates, hostCaps []*modwire.Capability) *modwire.Capability {
	for _, c := range candidates {
		for _, h := range hostCaps {
			if c == h {
				return h
			}
		}
	}
	return nil
}

// mergeable reports whether a fragment declaration in namespace is carried
// by its hosts.
func mergeable(namespace string) bool {
	switch namespace {
	case modwire.NamespaceIdentity, modwire.NamespaceHost, modwire.NamespaceExecutionEnvironment:
		return false
	default:
		return true
	}
}
