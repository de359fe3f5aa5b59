package modwire

import (
	"fmt"
	"sync"
	"time"
)

// LockSet provides mutual exclusion per key. Entries are reference counted
// and removed once no goroutine holds or waits for them. Acquisition waits at
// most the configured timeout.
type LockSet[K comparable] struct {
	mu      sync.Mutex
	locks   map[K]*keyedLock
	timeout time.Duration
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewLockSet creates a lock set with the given acquisition timeout.
func NewLockSet[K comparable](timeout time.Duration) *LockSet[K] {
	return &LockSet[K]{
		locks:   make(map[K]*keyedLock),
		timeout: timeout,
	}
}

// Lock acquires the lock for key, failing with ErrLockTimeout when it is not
// released in time.
func (s *LockSet[K]) Lock(key K) error {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-timer.C:
		s.release(key, l)
		return fmt.Errorf("%w: %v", ErrLockTimeout, key)
	}
}

// Unlock releases the lock for key. Unlocking a key that is not held panics.
func (s *LockSet[K]) Unlock(key K) {
	s.mu.Lock()
	l, ok := s.locks[key]
	s.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("modwire: unlock of unlocked key %v", key))
	}
	<-l.ch
	s.release(key, l)
}

func (s *LockSet[K]) release(key K, l *keyedLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// stateLock serializes lifecycle transitions of one module. It records the
// transition in progress so a timeout can name it. It is not reentrant.
type stateLock struct {
	ch     chan struct{}
	mu     sync.Mutex
	holder ModuleEventType
}

func newStateLock() *stateLock {
	return &stateLock{ch: make(chan struct{}, 1)}
}

func (l *stateLock) lock(m *Module, event ModuleEventType, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		l.mu.Lock()
		l.holder = event
		l.mu.Unlock()
		return nil
	case <-timer.C:
		l.mu.Lock()
		holder := l.holder
		l.mu.Unlock()
		return newModuleError(ErrorTransient, string(event), m,
			fmt.Errorf("%w: held for %s", ErrStateChangeTimeout, holder))
	}
}

func (l *stateLock) unlock() {
	l.mu.Lock()
	l.holder = ""
	l.mu.Unlock()
	<-l.ch
}

// lockModules acquires the state-change locks of mods in increasing id
// order. On failure nothing stays locked. The returned function releases
// them all.
func lockModules(mods []*Module, event ModuleEventType, timeout time.Duration) (func(), error) {
	sorted := sortedModules(mods)
	held := make([]*Module, 0, len(sorted))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].stateLock.unlock()
		}
	}
	for _, m := range sorted {
		if err := m.stateLock.lock(m, event, timeout); err != nil {
			unlock()
			return nil, err
		}
		held = append(held, m)
	}
	return unlock, nil
}
