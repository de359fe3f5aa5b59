package modwire

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// dependencyClosure returns seeds plus every module that transitively
// depends on them in wirings: requirers reached through provided wires and,
// for fragments, the hosts they are attached to. The result is ordered by
// module id.
func dependencyClosure(wirings map[*Revision]*Wiring, seeds []*Module) []*Module {
	byModule := make(map[*Module][]*Wiring)
	for rev, w := range wirings {
		byModule[rev.module] = append(byModule[rev.module], w)
	}

	visited := make(map[*Module]bool)
	var visit func(m *Module)
	visit = func(m *Module) {
		if m == nil || visited[m] {
			return
		}
		visited[m] = true
		for _, w := range byModule[m] {
			for _, wire := range w.provided {
				visit(wire.requirer.module)
			}
			if w.revision.fragment {
				for _, wire := range w.required {
					if wire.capability.namespace == NamespaceHost {
						visit(wire.provider.module)
					}
				}
			}
		}
	}
	for _, m := range sortedModules(seeds) {
		visit(m)
	}

	out := make([]*Module, 0, len(visited))
	for m := range visited {
		out = append(out, m)
	}
	return sortedModules(out)
}

// DependencyClosure returns the modules that would be affected by
// refreshing modules. With no modules the closure starts from the modules
// owning removal pending revisions.
func (c *Container) DependencyClosure(modules ...*Module) []*Module {
	c.store.lockRead()
	wirings := c.store.wiringsCloneLocked()
	seeds := modules
	if len(seeds) == 0 {
		seeds = modulesOf(c.store.removalPendingLocked())
	}
	c.store.unlockRead()
	return dependencyClosure(wirings, seeds)
}

func modulesOf(revs []*Revision) []*Module {
	mods := make([]*Module, 0, len(revs))
	for _, rev := range revs {
		mods = append(mods, rev.module)
	}
	return sortedModules(mods)
}

// Refresh unresolves the dependency closure of modules, releasing removal
// pending revisions, then resolves it again and restarts the modules that
// were active. It runs on the container job queue and waits for the result.
func (c *Container) Refresh(ctx context.Context, modules ...*Module) error {
	done, err := c.RefreshAsync(modules...)
	if err != nil {
		return err
	}
	return await(ctx, done)
}

// RefreshAsync queues a refresh and returns the channel its result is sent
// on.
func (c *Container) RefreshAsync(modules ...*Module) (<-chan error, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	for _, m := range modules {
		if !c.owns(m) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownModule, m)
		}
		if m.id == 0 {
			return nil, newModuleError(ErrorInvalid, "refresh", m, ErrSystemModule)
		}
	}
	seeds := append([]*Module(nil), modules...)
	return c.jobs.submit(func(ctx context.Context) error {
		return c.refresh(ctx, seeds)
	})
}

func (c *Container) refresh(ctx context.Context, seeds []*Module) error {
	closure, restart, err := c.unresolve(ctx, seeds)
	if err != nil {
		return err
	}
	if len(closure) == 0 {
		return nil
	}

	var live []*Module
	for _, m := range closure {
		if m.State() != StateUninstalled {
			live = append(live, m)
		}
	}
	resolveErr := c.Resolve(live, false)
	if resolveErr != nil {
		c.logger.Warn("Refreshed modules did not all resolve", "error", resolveErr)
	}

	var errs []error
	if resolveErr != nil {
		errs = append(errs, resolveErr)
	}
	level := c.StartLevel()
	var toStart []*Module
	for _, m := range restart {
		if m.State() != StateUninstalled && m.IsPersistentlyStarted() && m.StartLevel() <= level {
			toStart = append(toStart, m)
		}
	}
	sortForStart(toStart)
	if err := c.startAll(ctx, toStart); err != nil {
		c.logger.Warn("Refreshed modules did not all restart", "error", err)
	}

	ids := make([]uint64, len(closure))
	for i, m := range closure {
		ids[i] = m.id
	}
	c.metrics.refreshed()
	c.events.emit(NewCloudEvent(EventTypeRefreshed, eventSource, map[string]any{"modules": ids}, nil))
	c.logger.Info("Modules refreshed", "modules", ids)
	c.updateGauges()
	return errors.Join(errs...)
}

// unresolve stops the dependency closure of seeds and removes its wirings in
// one commit, retrying when the store changes concurrently. It returns the
// closure and the modules that were active before.
func (c *Container) unresolve(ctx context.Context, seeds []*Module) ([]*Module, []*Module, error) {
	wasActive := make(map[*Module]bool)
	for {
		c.store.lockRead()
		timestamp := c.store.timestamp
		wirings := c.store.wiringsCloneLocked()
		start := seeds
		if len(start) == 0 {
			start = modulesOf(c.store.removalPendingLocked())
		}
		c.store.unlockRead()

		closure := dependencyClosure(wirings, start)
		if len(closure) == 0 {
			return nil, nil, nil
		}

		var active []*Module
		for _, m := range closure {
			if m.State() == StateActive && m.id != 0 {
				wasActive[m] = true
				active = append(active, m)
			}
		}
		sortForStop(active)
		if err := c.stopAll(ctx, active); err != nil {
			c.logger.Warn("Modules did not all stop cleanly for refresh", "error", err)
		}

		conflict := false
		err := c.withModuleLocks(closure, EventModuleUnresolved, func(batch *eventBatch) error {
			c.store.lockWrite()
			defer c.store.unlockWrite()
			if c.store.timestamp != timestamp {
				conflict = true
				return nil
			}
			for _, m := range closure {
				if m.id != 0 && m.State() == StateActive {
					// Started again after the stop above.
					conflict = true
					return nil
				}
			}
			next := c.store.wiringsCopyLocked()
			var candidates []*Revision
			for _, m := range closure {
				if m.id == 0 {
					continue
				}
				current := m.currentRevisionLocked()
				for _, rev := range m.revisions {
					if rev != current {
						candidates = append(candidates, rev)
					}
					if removeWiring(next, rev) != nil && rev == current {
						batch.add(newModuleEvent(EventModuleUnresolved, m, rev, nil))
					}
				}
			}
			c.store.pruneUnreferencedLocked(next, candidates)
			for _, m := range closure {
				if m.id != 0 && m.State() == StateResolved {
					m.setState(StateInstalled)
				}
			}
			c.store.setWiringLocked(next)
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		if conflict {
			c.metrics.resolveConflict()
			c.logger.Debug("Refresh snapshot is stale, retrying", "timestamp", timestamp)
			continue
		}

		restart := make([]*Module, 0, len(wasActive))
		for m := range wasActive {
			restart = append(restart, m)
		}
		return closure, sortedModules(restart), nil
	}
}

// sortForStart orders modules by start level, eager before lazy, then id.
func sortForStart(mods []*Module) {
	sort.SliceStable(mods, func(i, j int) bool {
		a, b := mods[i], mods[j]
		if a.StartLevel() != b.StartLevel() {
			return a.StartLevel() < b.StartLevel()
		}
		la, lb := isLazy(a), isLazy(b)
		if la != lb {
			return !la
		}
		return a.id < b.id
	})
}

// sortForStop is the reverse of sortForStart.
func sortForStop(mods []*Module) {
	sortForStart(mods)
	for i, j := 0, len(mods)-1; i < j; i, j = i+1, j-1 {
		mods[i], mods[j] = mods[j], mods[i]
	}
}

func isLazy(m *Module) bool {
	rev := m.CurrentRevision()
	return rev != nil && rev.lazy
}
