package modwire

// capabilityIndex maps namespaces and names to declared capabilities of every
// revision the store still holds. It is guarded by the store lock.
type capabilityIndex struct {
	byNamespace map[string][]*Capability
	byName      map[string]map[string][]*Capability
}

func newCapabilityIndex() *capabilityIndex {
	return &capabilityIndex{
		byNamespace: make(map[string][]*Capability),
		byName:      make(map[string]map[string][]*Capability),
	}
}

func (idx *capabilityIndex) add(rev *Revision) {
	for _, c := range rev.capabilities {
		idx.byNamespace[c.namespace] = append(idx.byNamespace[c.namespace], c)
		if name := c.Name(); name != "" {
			names := idx.byName[c.namespace]
			if names == nil {
				names = make(map[string][]*Capability)
				idx.byName[c.namespace] = names
			}
			names[name] = append(names[name], c)
		}
	}
}

func (idx *capabilityIndex) remove(rev *Revision) {
	for ns, caps := range idx.byNamespace {
		idx.byNamespace[ns] = withoutRevision(caps, rev)
		if len(idx.byNamespace[ns]) == 0 {
			delete(idx.byNamespace, ns)
		}
	}
	for ns, names := range idx.byName {
		for name, caps := range names {
			names[name] = withoutRevision(caps, rev)
			if len(names[name]) == 0 {
				delete(names, name)
			}
		}
		if len(names) == 0 {
			delete(idx.byName, ns)
		}
	}
}

// find returns the unordered capabilities matching req. A top-level equality
// on the namespace attribute narrows the lookup to one name bucket.
func (idx *capabilityIndex) find(req *Requirement) []*Capability {
	candidates := idx.byNamespace[req.namespace]
	if req.filter != nil {
		if name, ok := req.filter.EqualityValue(req.namespace); ok {
			candidates = idx.byName[req.namespace][name]
		}
	}
	var out []*Capability
	for _, c := range candidates {
		if req.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

func withoutRevision(caps []*Capability, rev *Revision) []*Capability {
	out := caps[:0:0]
	for _, c := range caps {
		if c.revision != rev {
			out = append(out, c)
		}
	}
	return out
}
