// Package report renders the modules and wirings of a container as plain
// values, for JSON encoding and for a deterministic text listing.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/GoCodeAlone/modwire"
)

// Report is a point-in-time view of a container.
type Report struct {
	Timestamp      uint64   `json:"timestamp"`
	StartLevel     int      `json:"startLevel"`
	Modules        []Module `json:"modules"`
	RemovalPending []string `json:"removalPending"`
}

// Module describes an installed module.
type Module struct {
	ID                  uint64  `json:"id"`
	Location            string  `json:"location"`
	SymbolicName        string  `json:"symbolicName"`
	Version             string  `json:"version"`
	State               string  `json:"state"`
	StartLevel          int     `json:"startLevel"`
	PersistentlyStarted bool    `json:"persistentlyStarted"`
	Fragment            bool    `json:"fragment"`
	Revisions           int     `json:"revisions"`
	Wiring              *Wiring `json:"wiring,omitempty"`
}

// Wiring describes the wiring of one revision.
type Wiring struct {
	Revision     string   `json:"revision"`
	Capabilities []string `json:"capabilities"`
	Required     []Wire   `json:"required"`
	Provided     []Wire   `json:"provided"`
	Substituted  []string `json:"substituted,omitempty"`
}

// Wire describes one wire.
type Wire struct {
	Namespace   string `json:"namespace"`
	Requirement string `json:"requirement"`
	Capability  string `json:"capability"`
	Requirer    string `json:"requirer"`
	Provider    string `json:"provider"`
}

// Build reports every module of c in id order, each with the wiring of its
// current revision.
func Build(c *modwire.Container) Report {
	r := Report{
		Timestamp:  c.Timestamp(),
		StartLevel: c.StartLevel(),
	}
	for _, m := range c.Modules() {
		r.Modules = append(r.Modules, ModuleOf(c, m, true))
	}
	for _, rev := range c.RemovalPending() {
		r.RemovalPending = append(r.RemovalPending, rev.String())
	}
	return r
}

// ModuleOf describes m, including its wiring when withWiring is set and the
// current revision is resolved.
func ModuleOf(c *modwire.Container, m *modwire.Module, withWiring bool) Module {
	out := Module{
		ID:                  m.ID(),
		Location:            m.Location(),
		SymbolicName:        m.SymbolicName(),
		State:               m.State().String(),
		StartLevel:          m.StartLevel(),
		PersistentlyStarted: m.IsPersistentlyStarted(),
		Fragment:            m.IsFragment(),
		Revisions:           len(m.Revisions()),
	}
	rev := m.CurrentRevision()
	if rev == nil {
		return out
	}
	out.Version = rev.Version().String()
	if withWiring {
		out.Wiring = WiringOf(c.Wiring(rev))
	}
	return out
}

// WiringOf describes w. It returns nil for a nil wiring.
func WiringOf(w *modwire.Wiring) *Wiring {
	if w == nil {
		return nil
	}
	out := &Wiring{
		Revision:     w.Revision().String(),
		Capabilities: []string{},
		Required:     wiresOf(w.RequiredWires("")),
		Provided:     wiresOf(w.ProvidedWires("")),
	}
	if names := w.Substituted(); len(names) > 0 {
		out.Substituted = names
	}
	for _, c := range w.Capabilities("") {
		out.Capabilities = append(out.Capabilities, c.String())
	}
	return out
}

func wiresOf(wires []*modwire.Wire) []Wire {
	out := make([]Wire, 0, len(wires))
	for _, w := range wires {
		out = append(out, Wire{
			Namespace:   w.Capability().Namespace(),
			Requirement: w.Requirement().String(),
			Capability:  w.Capability().String(),
			Requirer:    w.Requirer().String(),
			Provider:    w.Provider().String(),
		})
	}
	return out
}

// WriteText writes the report as an indented listing. Only required wires
// are listed; provided wires are the same wires seen from the other end.
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder
	for _, m := range r.Modules {
		fmt.Fprintf(&b, "%d %s %s %s\n", m.ID, m.SymbolicName, m.Version, m.State)
		if m.Wiring == nil {
			continue
		}
		for _, wire := range m.Wiring.Required {
			fmt.Fprintf(&b, "  %s -> %s %s\n", wire.Namespace, wire.Provider, wire.Capability)
		}
		for _, name := range m.Wiring.Substituted {
			fmt.Fprintf(&b, "  substituted %s\n", name)
		}
	}
	if len(r.RemovalPending) > 0 {
		fmt.Fprintf(&b, "removal pending: %s\n", strings.Join(r.RemovalPending, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
