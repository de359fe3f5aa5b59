package modwire

import (
	"context"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// eventBatch collects the events of a lifecycle operation. They are reserved
// just before the operation's module locks are released.
type eventBatch []cloudevents.Event

func (b *eventBatch) add(event cloudevents.Event) {
	*b = append(*b, event)
}

// withModuleLocks runs fn holding the state-change locks of mods and
// delivers its events once the locks are released.
func (c *Container) withModuleLocks(mods []*Module, event ModuleEventType, fn func(batch *eventBatch) error) error {
	unlock, err := lockModules(mods, event, c.config.LockTimeout)
	if err != nil {
		return err
	}
	var batch eventBatch
	err = fn(&batch)
	tickets := make([]*eventTicket, 0, len(batch))
	for _, e := range batch {
		tickets = append(tickets, c.events.reserve(e))
	}
	unlock()
	c.events.publish(tickets...)
	return err
}

// Install installs a module at location on behalf of origin, or returns the
// module already installed there. A nil origin stands for the system module.
// Installing a revision with the same symbolic name and version as an
// installed module fails with ErrDuplicateModule unless every collision
// hook removes the collision.
func (c *Container) Install(origin *Module, location string, builder *RevisionBuilder) (*Module, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if origin == nil {
		origin = c.system
	}
	if builder == nil {
		return nil, newModuleError(ErrorInvalid, "install", nil, fmt.Errorf("%w: revision builder", ErrConfigNil))
	}

	if err := c.store.locationLocks.Lock(location); err != nil {
		return nil, newModuleError(ErrorTransient, "install", nil, err)
	}
	defer c.store.locationLocks.Unlock(location)

	if existing, ok := c.ModuleByLocation(location); ok {
		return existing, nil
	}

	rev, err := builder.build(c.store.nextSeq())
	if err != nil {
		return nil, newModuleError(ErrorInvalid, "install", nil, fmt.Errorf("%s: %w", location, err))
	}

	if err := c.store.nameLocks.Lock(rev.symbolicName); err != nil {
		return nil, newModuleError(ErrorTransient, "install", nil, err)
	}
	defer c.store.nameLocks.Unlock(rev.symbolicName)

	if err := c.checkCollisions(CollisionInstalling, origin, rev, nil); err != nil {
		return nil, newModuleError(ErrorInvalid, "install", nil, fmt.Errorf("%s: %w", location, err))
	}

	startLevel := rev.startLevel
	if startLevel <= 0 {
		startLevel = c.config.DefaultModuleStartLevel
	}

	c.store.lockWrite()
	m := c.store.insertLocked(location, rev, startLevel)
	ticket := c.events.reserve(newModuleEvent(EventModuleInstalled, m, rev, nil))
	c.store.unlockWrite()
	c.events.publish(ticket)

	c.logger.Info("Module installed", "module", m.String(), "revision", rev.String(), "origin", origin.String())
	c.updateGauges()
	return m, nil
}

// checkCollisions fails when an installed module other than self has the
// same symbolic name and version as rev and no collision hook allows it.
func (c *Container) checkCollisions(op CollisionOperation, target *Module, rev *Revision, self *Module) error {
	var collisions []*Module
	for _, m := range c.Modules() {
		if m == self {
			continue
		}
		current := m.CurrentRevision()
		if current != nil && current.symbolicName == rev.symbolicName && current.version.Compare(rev.version) == 0 {
			collisions = append(collisions, m)
		}
	}
	for _, hook := range c.collisionHooks {
		if len(collisions) == 0 {
			break
		}
		collisions = intersect(collisions, hook.FilterCollisions(op, target, append([]*Module(nil), collisions...)))
	}
	if len(collisions) > 0 {
		return fmt.Errorf("%w: %s %s already installed as %s", ErrDuplicateModule, rev.symbolicName, rev.version, collisions[0])
	}
	return nil
}

// Update replaces the current revision of m. An active module is stopped
// first and started again afterwards; a resolved module is resolved again.
// The previous revision stays wired while other modules depend on it.
func (c *Container) Update(ctx context.Context, m *Module, builder *RevisionBuilder) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.owns(m) {
		return fmt.Errorf("%w: %v", ErrUnknownModule, m)
	}
	if m.id == 0 {
		return newModuleError(ErrorInvalid, "update", m, ErrSystemModule)
	}
	if builder == nil {
		return newModuleError(ErrorInvalid, "update", m, fmt.Errorf("%w: revision builder", ErrConfigNil))
	}
	rev, err := builder.build(c.store.nextSeq())
	if err != nil {
		return newModuleError(ErrorInvalid, "update", m, err)
	}

	if err := c.store.nameLocks.Lock(rev.symbolicName); err != nil {
		return newModuleError(ErrorTransient, "update", m, err)
	}
	var wasActive, wasResolved bool
	err = c.withModuleLocks([]*Module{m}, EventModuleUpdated, func(batch *eventBatch) error {
		state := m.State()
		if state == StateUninstalled {
			return newModuleError(ErrorInvalid, "update", m, ErrModuleUninstalled)
		}
		wasActive = state == StateActive
		if wasActive {
			if err := c.stopLocked(ctx, m, batch, false); err != nil {
				c.logger.Warn("Module failed to stop for update", "module", m.String(), "error", err)
			}
		}

		if err := c.checkCollisions(CollisionUpdating, m, rev, m); err != nil {
			if wasActive {
				if err := c.startLocked(ctx, m, batch); err != nil {
					c.logger.Warn("Module failed to restart after rejected update", "module", m.String(), "error", err)
				}
			}
			return newModuleError(ErrorInvalid, "update", m, err)
		}

		c.store.lockWrite()
		old := m.currentRevisionLocked()
		wasResolved = c.store.wirings[old] != nil
		c.store.replaceRevisionLocked(m, rev)
		next := c.store.wiringsCopyLocked()
		if detached := c.store.pruneUnreferencedLocked(next, []*Revision{old}); len(detached) > 0 {
			c.store.setWiringLocked(next)
		}
		m.setState(StateInstalled)
		if wasResolved && next[old] == nil {
			batch.add(newModuleEvent(EventModuleUnresolved, m, old, nil))
		}
		batch.add(newModuleEvent(EventModuleUpdated, m, rev, nil))
		c.store.unlockWrite()
		return nil
	})
	c.store.nameLocks.Unlock(rev.symbolicName)
	if err != nil {
		return err
	}

	c.logger.Info("Module updated", "module", m.String(), "revision", rev.String())
	c.updateGauges()

	if wasResolved || wasActive {
		if err := c.Resolve([]*Module{m}, false); err != nil {
			c.logger.Warn("Updated module did not resolve", "module", m.String(), "error", err)
		}
	}
	if wasActive {
		if err := c.activate(ctx, m); err != nil {
			c.logger.Warn("Updated module did not restart", "module", m.String(), "error", err)
		}
	}
	return nil
}

// Uninstall stops and removes m. Revisions other modules are still wired to
// stay removal pending until the next refresh.
func (c *Container) Uninstall(ctx context.Context, m *Module) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.owns(m) {
		return fmt.Errorf("%w: %v", ErrUnknownModule, m)
	}
	if m.id == 0 {
		return newModuleError(ErrorInvalid, "uninstall", m, ErrSystemModule)
	}
	err := c.withModuleLocks([]*Module{m}, EventModuleUninstalled, func(batch *eventBatch) error {
		if m.State() == StateUninstalled {
			return newModuleError(ErrorInvalid, "uninstall", m, ErrModuleUninstalled)
		}
		if m.State() == StateActive {
			if err := c.stopLocked(ctx, m, batch, true); err != nil {
				c.logger.Warn("Module failed to stop for uninstall", "module", m.String(), "error", err)
			}
		}
		m.persistentlyStarted.Store(false)

		c.store.lockWrite()
		current := m.currentRevisionLocked()
		wasResolved := c.store.wirings[current] != nil
		c.store.removeModuleLocked(m)
		m.setState(StateUninstalled)
		next := c.store.wiringsCopyLocked()
		if detached := c.store.pruneUnreferencedLocked(next, append([]*Revision(nil), m.revisions...)); len(detached) > 0 {
			c.store.setWiringLocked(next)
		}
		if wasResolved && next[current] == nil {
			batch.add(newModuleEvent(EventModuleUnresolved, m, current, nil))
		}
		batch.add(newModuleEvent(EventModuleUninstalled, m, current, nil))
		c.store.unlockWrite()
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("Module uninstalled", "module", m.String())
	c.updateGauges()
	return nil
}

// Start marks m persistently started and activates it when its start level
// is within the active container start level, resolving it first if needed.
func (c *Container) Start(ctx context.Context, m *Module) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.owns(m) {
		return fmt.Errorf("%w: %v", ErrUnknownModule, m)
	}
	if m.IsFragment() {
		return newModuleError(ErrorInvalid, "start", m, ErrFragmentLifecycle)
	}
	if m.id == 0 {
		return nil
	}
	if m.State() == StateUninstalled {
		return newModuleError(ErrorInvalid, "start", m, ErrModuleUninstalled)
	}
	m.persistentlyStarted.Store(true)
	if m.StartLevel() > c.StartLevel() {
		c.logger.Debug("Module start deferred until its start level is reached", "module", m.String(), "moduleStartLevel", m.StartLevel(), "startLevel", c.StartLevel())
		return nil
	}
	return c.activate(ctx, m)
}

// Stop clears the persistent start mark of m and stops it if it is active.
func (c *Container) Stop(ctx context.Context, m *Module) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.owns(m) {
		return fmt.Errorf("%w: %v", ErrUnknownModule, m)
	}
	if m.IsFragment() {
		return newModuleError(ErrorInvalid, "stop", m, ErrFragmentLifecycle)
	}
	if m.id == 0 {
		return newModuleError(ErrorInvalid, "stop", m, ErrSystemModule)
	}
	return c.withModuleLocks([]*Module{m}, EventModuleStopping, func(batch *eventBatch) error {
		if m.State() == StateUninstalled {
			return newModuleError(ErrorInvalid, "stop", m, ErrModuleUninstalled)
		}
		return c.stopLocked(ctx, m, batch, true)
	})
}

// activate resolves m if needed and starts it, without touching the
// persistent start mark.
func (c *Container) activate(ctx context.Context, m *Module) error {
	if m.State() == StateInstalled {
		if err := c.Resolve([]*Module{m}, true); err != nil {
			c.events.emit(newModuleEvent(EventModuleFailed, m, m.CurrentRevision(), err))
			return err
		}
	}
	return c.withModuleLocks([]*Module{m}, EventModuleStarting, func(batch *eventBatch) error {
		return c.startLocked(ctx, m, batch)
	})
}

// startLocked runs the activator of a resolved module. The caller holds the
// module's state-change lock.
func (c *Container) startLocked(ctx context.Context, m *Module, batch *eventBatch) error {
	switch m.State() {
	case StateActive:
		return nil
	case StateUninstalled:
		return newModuleError(ErrorInvalid, "start", m, ErrModuleUninstalled)
	case StateInstalled:
		return newModuleError(ErrorTransient, "start", m, ErrModuleNotResolved)
	}
	rev := m.CurrentRevision()
	if rev == nil || c.store.wiring(rev) == nil {
		return newModuleError(ErrorTransient, "start", m, ErrModuleNotResolved)
	}

	m.setState(StateStarting)
	batch.add(newModuleEvent(EventModuleStarting, m, rev, nil))
	if err := callActivator(ctx, rev.activator, true); err != nil {
		m.setState(StateResolved)
		err = newModuleError(ErrorTransient, "start", m, fmt.Errorf("%w: %w", ErrActivatorFailed, err))
		batch.add(newModuleEvent(EventModuleFailed, m, rev, err))
		batch.add(newModuleEvent(EventModuleStopped, m, rev, nil))
		c.logger.Error("Module failed to start", "module", m.String(), "error", err)
		return err
	}
	m.setState(StateActive)
	batch.add(newModuleEvent(EventModuleStarted, m, rev, nil))
	c.logger.Info("Module started", "module", m.String())
	return nil
}

// stopLocked stops an active module. With persistent set the persistent
// start mark is cleared as well. The caller holds the module's state-change
// lock.
func (c *Container) stopLocked(ctx context.Context, m *Module, batch *eventBatch, persistent bool) error {
	if persistent {
		m.persistentlyStarted.Store(false)
	}
	if m.State() != StateActive {
		return nil
	}
	rev := m.CurrentRevision()
	m.setState(StateStopping)
	batch.add(newModuleEvent(EventModuleStopping, m, rev, nil))
	stopCtx, cancel := context.WithTimeout(ctx, c.config.StopTimeout)
	err := callActivator(stopCtx, rev.activator, false)
	cancel()
	m.setState(StateResolved)
	if err != nil {
		err = newModuleError(ErrorTransient, "stop", m, fmt.Errorf("%w: %w", ErrActivatorFailed, err))
		batch.add(newModuleEvent(EventModuleFailed, m, rev, err))
		c.logger.Error("Module failed to stop cleanly", "module", m.String(), "error", err)
	}
	batch.add(newModuleEvent(EventModuleStopped, m, rev, nil))
	c.logger.Info("Module stopped", "module", m.String())
	return err
}

// callActivator runs the start or stop half of a, turning panics into
// errors.
func callActivator(ctx context.Context, a Activator, start bool) (err error) {
	if a == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activator panicked: %v", r)
		}
	}()
	if start {
		return a.Start(ctx)
	}
	return a.Stop(ctx)
}

// startAll activates modules in order, reporting failures as events and in
// the log without stopping at the first one.
func (c *Container) startAll(ctx context.Context, mods []*Module) error {
	var errs []error
	for _, m := range mods {
		if err := c.activate(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stopAll stops modules in order without clearing their persistent start
// marks.
func (c *Container) stopAll(ctx context.Context, mods []*Module) error {
	var errs []error
	for _, m := range mods {
		err := c.withModuleLocks([]*Module{m}, EventModuleStopping, func(batch *eventBatch) error {
			return c.stopLocked(ctx, m, batch, false)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
