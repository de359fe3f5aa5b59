package modwire

import (
	"context"
	"errors"
	"fmt"
)

// StartLevelData is the payload of start level change events.
type StartLevelData struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// SetStartLevel queues a change of the active start level. Raising it
// starts persistently started modules level by level; lowering it stops
// active modules above the new level, highest level first. The returned
// channel receives the job result.
func (c *Container) SetStartLevel(level int) (<-chan error, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if level < 0 {
		return nil, fmt.Errorf("%w: start level %d", ErrConfigValidationFailed, level)
	}
	return c.jobs.submit(func(ctx context.Context) error {
		return c.changeStartLevel(ctx, level)
	})
}

// SetModuleStartLevel queues a change of the start level of m. The module is
// stopped or started when the new level moves it across the active start
// level.
func (c *Container) SetModuleStartLevel(m *Module, level int) (<-chan error, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !c.owns(m) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownModule, m)
	}
	if m.id == 0 {
		return nil, newModuleError(ErrorInvalid, "start level", m, ErrSystemModule)
	}
	if level < 1 {
		return nil, newModuleError(ErrorInvalid, "start level", m, fmt.Errorf("%w: start level %d", ErrConfigValidationFailed, level))
	}
	return c.jobs.submit(func(ctx context.Context) error {
		m.startLevel.Store(int32(level))
		active := c.StartLevel()
		switch {
		case level > active && m.State() == StateActive:
			return c.stopAll(ctx, []*Module{m})
		case level <= active && m.IsPersistentlyStarted() && !m.IsFragment() && m.State() != StateActive:
			return c.activate(ctx, m)
		}
		return nil
	})
}

func (c *Container) changeStartLevel(ctx context.Context, level int) error {
	from := c.StartLevel()
	if from == level {
		return nil
	}
	var errs []error
	if level > from {
		for l := from + 1; l <= level; l++ {
			c.activeStartLevel.Store(int32(l))
			if err := c.startLevelModules(ctx, l); err != nil {
				errs = append(errs, err)
			}
		}
	} else {
		for l := from; l > level; l-- {
			if err := c.stopLevelModules(ctx, l, level); err != nil {
				errs = append(errs, err)
			}
			c.activeStartLevel.Store(int32(l - 1))
		}
	}
	c.events.emit(NewCloudEvent(EventTypeStartLevelChanged, eventSource, StartLevelData{From: from, To: level}, nil))
	c.logger.Info("Start level changed", "from", from, "to", level)
	c.updateGauges()
	return errors.Join(errs...)
}

// startLevelModules resolves and starts the persistently started modules of
// one start level.
func (c *Container) startLevelModules(ctx context.Context, level int) error {
	var mods []*Module
	for _, m := range c.Modules() {
		if m.id != 0 && m.StartLevel() == level && m.IsPersistentlyStarted() &&
			!m.IsFragment() && m.State() != StateActive && m.State() != StateUninstalled {
			mods = append(mods, m)
		}
	}
	if len(mods) == 0 {
		return nil
	}
	if err := c.Resolve(mods, false); err != nil {
		c.logger.Warn("Start level modules did not all resolve", "startLevel", level, "error", err)
	}
	sortForStart(mods)
	return c.startAll(ctx, mods)
}

// stopLevelModules stops the active modules whose start level is at least
// level and above floor.
func (c *Container) stopLevelModules(ctx context.Context, level, floor int) error {
	var mods []*Module
	for _, m := range c.Modules() {
		sl := m.StartLevel()
		if m.id != 0 && sl >= level && sl > floor && m.State() == StateActive {
			mods = append(mods, m)
		}
	}
	sortForStop(mods)
	return c.stopAll(ctx, mods)
}
