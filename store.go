package modwire

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// store is the single source of truth for installed modules, their
// revisions and the accepted wiring graph. Every committed mutation
// increments timestamp; a snapshot may only be committed while the
// timestamp is unchanged.
type store struct {
	mu         sync.RWMutex
	timestamp  uint64
	modules    map[uint64]*Module
	byLocation map[string]*Module
	wirings    map[*Revision]*Wiring
	index      *capabilityIndex
	nextID     uint64

	seq atomic.Uint64

	locationLocks *LockSet[string]
	nameLocks     *LockSet[string]
}

func newStore(lockTimeout time.Duration) *store {
	return &store{
		modules:       make(map[uint64]*Module),
		byLocation:    make(map[string]*Module),
		wirings:       make(map[*Revision]*Wiring),
		index:         newCapabilityIndex(),
		locationLocks: NewLockSet[string](lockTimeout),
		nameLocks:     NewLockSet[string](lockTimeout),
	}
}

func (s *store) lockRead()    { s.mu.RLock() }
func (s *store) unlockRead()  { s.mu.RUnlock() }
func (s *store) lockWrite()   { s.mu.Lock() }
func (s *store) unlockWrite() { s.mu.Unlock() }

func (s *store) nextSeq() uint64 { return s.seq.Add(1) }

// currentTimestamp returns the current store timestamp.
func (s *store) currentTimestamp() uint64 {
	s.lockRead()
	defer s.unlockRead()
	return s.timestamp
}

// snapshot is an immutable view used by one resolution attempt.
type snapshot struct {
	timestamp  uint64
	wirings    map[*Revision]*Wiring
	unresolved []*Revision
}

func (s *store) takeSnapshot() snapshot {
	s.lockRead()
	defer s.unlockRead()
	return snapshot{
		timestamp:  s.timestamp,
		wirings:    s.wiringsCloneLocked(),
		unresolved: s.unresolvedLocked(),
	}
}

// wiringsCloneLocked returns a map of wiring copies with private wire lists,
// safe to hand to code running outside the lock.
func (s *store) wiringsCloneLocked() map[*Revision]*Wiring {
	out := make(map[*Revision]*Wiring, len(s.wirings))
	for rev, w := range s.wirings {
		out[rev] = w.clone()
	}
	return out
}

// wiringsCopyLocked returns a new map sharing the wiring values, for building
// the next map under the write lock.
func (s *store) wiringsCopyLocked() map[*Revision]*Wiring {
	out := make(map[*Revision]*Wiring, len(s.wirings))
	for rev, w := range s.wirings {
		out[rev] = w
	}
	return out
}

// mergeWiringLocked installs the wirings of a delta.
func (s *store) mergeWiringLocked(delta map[*Revision]*Wiring) {
	for rev, w := range delta {
		s.wirings[rev] = w
	}
	s.timestamp++
}

// setWiringLocked replaces the whole wiring map.
func (s *store) setWiringLocked(wirings map[*Revision]*Wiring) {
	s.wirings = wirings
	s.timestamp++
}

func (s *store) wiring(rev *Revision) *Wiring {
	s.lockRead()
	defer s.unlockRead()
	return s.wirings[rev]
}

func (s *store) findCapabilities(req *Requirement) []*Capability {
	s.lockRead()
	defer s.unlockRead()
	return s.index.find(req)
}

func (s *store) modulesLocked() []*Module {
	out := make([]*Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *store) getModules() []*Module {
	s.lockRead()
	defer s.unlockRead()
	return s.modulesLocked()
}

// unresolvedLocked lists current revisions without a wiring, by module id.
func (s *store) unresolvedLocked() []*Revision {
	var out []*Revision
	for _, m := range s.modulesLocked() {
		if rev := m.currentRevisionLocked(); rev != nil && s.wirings[rev] == nil {
			out = append(out, rev)
		}
	}
	return out
}

func (s *store) isCurrentLocked(rev *Revision) bool {
	m := rev.module
	return m != nil && m.State() != StateUninstalled && len(m.revisions) > 0 && m.revisions[0] == rev
}

// removalPendingLocked lists wired revisions that are no longer current.
func (s *store) removalPendingLocked() []*Revision {
	var out []*Revision
	for rev := range s.wirings {
		if !s.isCurrentLocked(rev) {
			out = append(out, rev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return revisionLess(out[i], out[j]) })
	return out
}

// insertLocked adds a new module with its first revision.
func (s *store) insertLocked(location string, rev *Revision, startLevel int) *Module {
	s.nextID++
	m := newModule(s.nextID, location, s, startLevel)
	s.attachLocked(m, rev)
	s.modules[m.id] = m
	s.byLocation[location] = m
	s.timestamp++
	return m
}

// insertSystemLocked adds the module with id 0.
func (s *store) insertSystemLocked(location string, rev *Revision) *Module {
	m := newModule(0, location, s, 0)
	s.attachLocked(m, rev)
	s.modules[0] = m
	s.byLocation[location] = m
	s.timestamp++
	return m
}

func (s *store) attachLocked(m *Module, rev *Revision) {
	rev.module = m
	m.revisions = append([]*Revision{rev}, m.revisions...)
	s.index.add(rev)
}

// replaceRevisionLocked makes rev the current revision of m.
func (s *store) replaceRevisionLocked(m *Module, rev *Revision) {
	s.attachLocked(m, rev)
	m.touch()
	s.timestamp++
}

// removeModuleLocked forgets m. Its revisions stay in the index until they
// are detached.
func (s *store) removeModuleLocked(m *Module) {
	delete(s.modules, m.id)
	if s.byLocation[m.location] == m {
		delete(s.byLocation, m.location)
	}
	m.touch()
	s.timestamp++
}

// detachLocked drops a revision that no wiring references any more.
func (s *store) detachLocked(rev *Revision) {
	m := rev.module
	kept := m.revisions[:0:0]
	for _, r := range m.revisions {
		if r != rev {
			kept = append(kept, r)
		}
	}
	m.revisions = kept
	s.index.remove(rev)
	s.timestamp++
}

// removeWiring deletes rev's wiring from wirings, invalidates its wires and
// drops them from the wire lists of the other endpoints. It works on a map
// that is about to be committed, never on the live one.
func removeWiring(wirings map[*Revision]*Wiring, rev *Revision) *Wiring {
	w := wirings[rev]
	if w == nil {
		return nil
	}
	delete(wirings, rev)
	for _, wire := range w.required {
		wire.invalidate()
	}
	for _, wire := range w.provided {
		wire.invalidate()
	}
	touched := make(map[*Revision]struct{})
	for _, wire := range w.required {
		touched[wire.provider] = struct{}{}
	}
	for _, wire := range w.provided {
		touched[wire.requirer] = struct{}{}
	}
	for other := range touched {
		if ow := wirings[other]; ow != nil {
			wirings[other] = ow.withWires(validWires(ow.provided), validWires(ow.required))
		}
	}
	return w
}

func validWires(wires []*Wire) []*Wire {
	out := make([]*Wire, 0, len(wires))
	for _, w := range wires {
		if w.IsValid() {
			out = append(out, w)
		}
	}
	return out
}

// isReferenced reports whether another module still depends on rev. A
// fragment is referenced while a host of another module is wired to it,
// since its declarations live in that host's wiring.
func isReferenced(wirings map[*Revision]*Wiring, rev *Revision) bool {
	w := wirings[rev]
	if w == nil {
		return false
	}
	for _, wire := range w.provided {
		if wire.IsValid() && wire.requirer.module != rev.module && wirings[wire.requirer] != nil {
			return true
		}
	}
	if rev.fragment {
		for _, wire := range w.required {
			if wire.IsValid() && wire.capability.namespace == NamespaceHost &&
				wire.provider.module != rev.module && wirings[wire.provider] != nil {
				return true
			}
		}
	}
	return false
}

// pruneUnreferencedLocked removes the wirings of non-current revisions that
// nothing depends on any more, repeating until stable, and detaches them.
// Non-current revisions without a wiring are detached as well. It returns
// the detached revisions.
func (s *store) pruneUnreferencedLocked(wirings map[*Revision]*Wiring, candidates []*Revision) []*Revision {
	var detached []*Revision
	seen := make(map[*Revision]bool)
	for changed := true; changed; {
		changed = false
		for _, rev := range pruneCandidates(wirings, candidates) {
			if seen[rev] || s.isCurrentLocked(rev) || isReferenced(wirings, rev) {
				continue
			}
			removeWiring(wirings, rev)
			seen[rev] = true
			detached = append(detached, rev)
			changed = true
		}
	}
	for _, rev := range detached {
		s.detachLocked(rev)
	}
	return detached
}

// pruneCandidates is the explicit candidate list plus every wired revision,
// in a stable order.
func pruneCandidates(wirings map[*Revision]*Wiring, extra []*Revision) []*Revision {
	set := make(map[*Revision]struct{}, len(wirings)+len(extra))
	for rev := range wirings {
		set[rev] = struct{}{}
	}
	for _, rev := range extra {
		set[rev] = struct{}{}
	}
	out := make([]*Revision, 0, len(set))
	for rev := range set {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return revisionLess(out[i], out[j]) })
	return out
}

// sortedModules returns mods without duplicates, by increasing id.
func sortedModules(mods []*Module) []*Module {
	seen := make(map[*Module]bool, len(mods))
	out := make([]*Module, 0, len(mods))
	for _, m := range mods {
		if m != nil && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
