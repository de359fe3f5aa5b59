package modwire

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Container owns a universe of modules and keeps their wiring consistent
// under concurrent installs, updates, uninstalls, resolves and refreshes.
//
// Resolution runs outside every lock against a snapshot and is committed
// only if the store did not change in the meantime; otherwise it is retried
// from scratch. Per-module state-change locks serialize lifecycle
// transitions of one module and are always taken in increasing id order.
// Events are delivered asynchronously, after the locks of the operation that
// produced them are released.
type Container struct {
	config *Config
	logger Logger
	store  *store
	solver Resolver

	hookFactories  []ResolverHookFactory
	collisionHooks []CollisionHook

	observers *observerRegistry
	events    *eventQueue
	jobs      *jobQueue
	metrics   *Metrics
	scheduler *RefreshScheduler

	system           *Module
	activeStartLevel atomic.Int32
	closed           atomic.Bool
}

func (c *Container) newHookChain() hookChain {
	chain := make(hookChain, 0, len(c.hookFactories))
	for _, f := range c.hookFactories {
		if hook := f(); hook != nil {
			chain = append(chain, hook)
		}
	}
	return chain
}

// Config returns the configuration the container was built with.
func (c *Container) Config() Config { return *c.config }

// Logger returns the container logger.
func (c *Container) Logger() Logger { return c.logger }

// Metrics returns the container metrics, or nil when none are registered.
func (c *Container) Metrics() *Metrics { return c.metrics }

// SystemModule returns the module with id 0.
func (c *Container) SystemModule() *Module { return c.system }

// Modules returns every installed module by increasing id.
func (c *Container) Modules() []*Module { return c.store.getModules() }

// Module returns the installed module with the given id.
func (c *Container) Module(id uint64) (*Module, bool) {
	c.store.lockRead()
	defer c.store.unlockRead()
	m, ok := c.store.modules[id]
	return m, ok
}

// ModuleByLocation returns the installed module at location.
func (c *Container) ModuleByLocation(location string) (*Module, bool) {
	c.store.lockRead()
	defer c.store.unlockRead()
	m, ok := c.store.byLocation[location]
	return m, ok
}

// Wiring returns the wiring of rev, or nil when it is unresolved.
func (c *Container) Wiring(rev *Revision) *Wiring {
	return c.store.wiring(rev)
}

// Wirings returns a snapshot of every wiring.
func (c *Container) Wirings() map[*Revision]*Wiring {
	c.store.lockRead()
	defer c.store.unlockRead()
	return c.store.wiringsCloneLocked()
}

// Timestamp returns the store timestamp. It increases on every committed
// change.
func (c *Container) Timestamp() uint64 { return c.store.currentTimestamp() }

// RemovalPending lists revisions that are no longer current but are still
// wired.
func (c *Container) RemovalPending() []*Revision {
	c.store.lockRead()
	defer c.store.unlockRead()
	return c.store.removalPendingLocked()
}

// StartLevel returns the active container start level.
func (c *Container) StartLevel() int { return int(c.activeStartLevel.Load()) }

// FlushEvents waits until every event produced so far has been delivered.
func (c *Container) FlushEvents(ctx context.Context) error {
	return c.events.flush(ctx)
}

// Close stops every module by lowering the start level to zero, then stops
// the scheduler, the job queue and the event dispatcher.
func (c *Container) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c.scheduler != nil {
		c.scheduler.Stop(ctx)
	}
	done, err := c.jobs.submit(func(ctx context.Context) error {
		return c.changeStartLevel(ctx, 0)
	})
	if err == nil {
		err = await(ctx, done)
	}
	if err != nil {
		errs = append(errs, err)
	}
	c.jobs.close()
	if err := c.events.close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("event dispatcher: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Container) checkOpen() error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	return nil
}

// owns reports whether m was installed in this container.
func (c *Container) owns(m *Module) bool {
	return m != nil && m.store == c.store
}
