package modwire

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Option represents a functional option for configuring containers
type Option func(*containerBuilder) error

type containerBuilder struct {
	config         *Config
	logger         Logger
	hookFactories  []ResolverHookFactory
	collisionHooks []CollisionHook
	registerer     prometheus.Registerer
	observers      []observerSpec
}

type observerSpec struct {
	observer   Observer
	eventTypes []string
}

// WithLogger sets the logger for the container
func WithLogger(logger Logger) Option {
	return func(b *containerBuilder) error {
		if logger == nil {
			return fmt.Errorf("%w: logger", ErrConfigNil)
		}
		b.logger = logger
		return nil
	}
}

// WithConfig sets the container configuration. Unset fields receive their
// defaults.
func WithConfig(cfg *Config) Option {
	return func(b *containerBuilder) error {
		if cfg == nil {
			return ErrConfigNil
		}
		copied := *cfg
		b.config = &copied
		return nil
	}
}

// WithResolverHook adds a hook shared by every resolution attempt.
func WithResolverHook(hook ResolverHook) Option {
	return func(b *containerBuilder) error {
		b.hookFactories = append(b.hookFactories, func() ResolverHook { return hook })
		return nil
	}
}

// WithResolverHookFactory adds a hook created afresh for every attempt.
func WithResolverHookFactory(factory ResolverHookFactory) Option {
	return func(b *containerBuilder) error {
		b.hookFactories = append(b.hookFactories, factory)
		return nil
	}
}

// WithCollisionHook adds a hook consulted when installs and updates collide
// on symbolic name and version.
func WithCollisionHook(hook CollisionHook) Option {
	return func(b *containerBuilder) error {
		b.collisionHooks = append(b.collisionHooks, hook)
		return nil
	}
}

// WithMetrics registers the container metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *containerBuilder) error {
		b.registerer = reg
		return nil
	}
}

// WithObserver registers an observer before the system module is installed,
// so it sees every event.
func WithObserver(observer Observer, eventTypes ...string) Option {
	return func(b *containerBuilder) error {
		if observer == nil {
			return ErrObserverNil
		}
		b.observers = append(b.observers, observerSpec{observer: observer, eventTypes: eventTypes})
		return nil
	}
}

// NewContainer creates a container using solver for capability selection.
// The system module (id 0) is installed, resolved and active when it
// returns.
func NewContainer(solver Resolver, opts ...Option) (*Container, error) {
	if solver == nil {
		return nil, fmt.Errorf("%w: resolver", ErrConfigNil)
	}
	b := &containerBuilder{logger: nopLogger{}}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.config == nil {
		b.config = &Config{}
	}
	if err := ProcessConfigDefaults(b.config); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := ValidateConfigRequired(b.config); err != nil {
		return nil, err
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config:         b.config,
		logger:         b.logger,
		store:          newStore(b.config.LockTimeout),
		solver:         solver,
		hookFactories:  b.hookFactories,
		collisionHooks: b.collisionHooks,
	}
	c.observers = newObserverRegistry(c.logger)
	c.events = newEventQueue(b.config.EventBufferSize, c.observers.deliver)
	c.jobs = newJobQueue(b.config.JobQueueSize, c.logger)

	if b.registerer != nil {
		metrics, err := NewMetrics(b.registerer)
		if err != nil {
			return nil, err
		}
		c.metrics = metrics
	}

	for _, spec := range b.observers {
		if err := c.RegisterObserver(spec.observer, spec.eventTypes...); err != nil {
			return nil, err
		}
	}

	if err := c.installSystemModule(); err != nil {
		return nil, err
	}
	c.activeStartLevel.Store(int32(b.config.BeginningStartLevel))

	if b.config.AutoRefreshSchedule != "" {
		scheduler, err := NewRefreshScheduler(c, b.config.AutoRefreshSchedule)
		if err != nil {
			return nil, err
		}
		c.scheduler = scheduler
		scheduler.Start()
	}

	c.logger.Info("Container created", "startLevel", b.config.BeginningStartLevel, "systemModule", b.config.SystemModule.SymbolicName)
	return c, nil
}

// installSystemModule installs module 0 exporting the configured system
// packages and wires it directly: it has no requirements to resolve.
func (c *Container) installSystemModule() error {
	cfg := c.config.SystemModule
	builder := NewRevisionBuilder().
		SymbolicName(cfg.SymbolicName).
		Version(cfg.Version).
		Singleton()
	for _, pkg := range cfg.Packages {
		builder.ExportPackage(pkg, cfg.Version)
	}
	rev, err := builder.build(c.store.nextSeq())
	if err != nil {
		return fmt.Errorf("system module: %w", err)
	}

	c.store.lockWrite()
	m := c.store.insertSystemLocked(cfg.Location, rev)
	c.store.mergeWiringLocked(map[*Revision]*Wiring{rev: newWiring(rev, nil, nil)})
	m.persistentlyStarted.Store(true)
	m.setState(StateActive)
	tickets := []*eventTicket{
		c.events.reserve(newModuleEvent(EventModuleInstalled, m, rev, nil)),
		c.events.reserve(newModuleEvent(EventModuleResolved, m, rev, nil)),
		c.events.reserve(newModuleEvent(EventModuleStarted, m, rev, nil)),
	}
	c.store.unlockWrite()
	c.events.publish(tickets...)

	c.system = m
	c.updateGauges()
	return nil
}
