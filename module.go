package modwire

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ModuleState is the lifecycle state of a module.
type ModuleState int32

const (
	StateInstalled ModuleState = iota + 1
	StateResolved
	StateStarting
	StateActive
	StateStopping
	StateUninstalled
)

func (s ModuleState) String() string {
	switch s {
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateUninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ModuleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AllModuleStates lists every state, in lifecycle order.
var AllModuleStates = []ModuleState{
	StateInstalled, StateResolved, StateStarting, StateActive, StateStopping, StateUninstalled,
}

// Activator is run when a module starts and stops. It is the only hook into
// what happens after wiring; modules without one only change state.
type Activator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ActivatorFuncs adapts a pair of functions to Activator. Nil functions are
// no-ops.
type ActivatorFuncs struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Start implements Activator.
func (a ActivatorFuncs) Start(ctx context.Context) error {
	if a.OnStart == nil {
		return nil
	}
	return a.OnStart(ctx)
}

// Stop implements Activator.
func (a ActivatorFuncs) Stop(ctx context.Context) error {
	if a.OnStop == nil {
		return nil
	}
	return a.OnStop(ctx)
}

// Module is an installed unit. Its revisions are guarded by the store lock;
// its state only changes while its state-change lock is held.
type Module struct {
	id        uint64
	location  string
	store     *store
	stateLock *stateLock

	state               atomic.Int32
	startLevel          atomic.Int32
	persistentlyStarted atomic.Bool
	lastModified        atomic.Int64

	// revisions is newest first; revisions[0] is current unless the module
	// is uninstalled.
	revisions []*Revision
}

func newModule(id uint64, location string, s *store, startLevel int) *Module {
	m := &Module{
		id:        id,
		location:  location,
		store:     s,
		stateLock: newStateLock(),
	}
	m.state.Store(int32(StateInstalled))
	m.startLevel.Store(int32(startLevel))
	m.touch()
	return m
}

// ID returns the module id. The system module has id 0.
func (m *Module) ID() uint64 { return m.id }

// Location returns the install location.
func (m *Module) Location() string { return m.location }

// State returns the current lifecycle state.
func (m *Module) State() ModuleState { return ModuleState(m.state.Load()) }

func (m *Module) setState(s ModuleState) {
	m.state.Store(int32(s))
}

// StartLevel returns the module start level.
func (m *Module) StartLevel() int { return int(m.startLevel.Load()) }

// IsPersistentlyStarted reports whether the module should be active whenever
// the container start level allows it.
func (m *Module) IsPersistentlyStarted() bool { return m.persistentlyStarted.Load() }

// LastModified returns the time of the last install, update or uninstall.
func (m *Module) LastModified() time.Time { return time.Unix(0, m.lastModified.Load()) }

func (m *Module) touch() {
	m.lastModified.Store(time.Now().UnixNano())
}

// CurrentRevision returns the current revision, or nil for an uninstalled
// module.
func (m *Module) CurrentRevision() *Revision {
	m.store.lockRead()
	defer m.store.unlockRead()
	return m.currentRevisionLocked()
}

func (m *Module) currentRevisionLocked() *Revision {
	if m.State() == StateUninstalled || len(m.revisions) == 0 {
		return nil
	}
	return m.revisions[0]
}

// Revisions returns all revisions still held by the container, newest first.
func (m *Module) Revisions() []*Revision {
	m.store.lockRead()
	defer m.store.unlockRead()
	return append([]*Revision(nil), m.revisions...)
}

// SymbolicName returns the symbolic name of the newest revision.
func (m *Module) SymbolicName() string {
	m.store.lockRead()
	defer m.store.unlockRead()
	if len(m.revisions) == 0 {
		return ""
	}
	return m.revisions[0].symbolicName
}

// IsFragment reports whether the newest revision is a fragment.
func (m *Module) IsFragment() bool {
	m.store.lockRead()
	defer m.store.unlockRead()
	return len(m.revisions) > 0 && m.revisions[0].fragment
}

func (m *Module) String() string {
	return fmt.Sprintf("%s[%d]", m.location, m.id)
}
