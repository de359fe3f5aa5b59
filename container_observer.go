package modwire

import (
	"context"
	"sort"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// observerRegistration holds information about a registered observer
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // set of event types this observer is interested in
	registeredAt time.Time
	order        int
}

type observerRegistry struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration // key is observer ID
	next      int
	logger    Logger
}

func newObserverRegistry(logger Logger) *observerRegistry {
	return &observerRegistry{
		observers: make(map[string]*observerRegistration),
		logger:    logger,
	}
}

// RegisterObserver adds an observer to receive container events.
// If eventTypes is empty, the observer receives all events.
func (c *Container) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}
	r := c.observers
	r.mu.Lock()
	defer r.mu.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	order := r.next
	if existing, ok := r.observers[observer.ObserverID()]; ok {
		order = existing.order
	} else {
		r.next++
	}
	r.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
		order:        order,
	}

	c.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer from receiving notifications.
// This method is idempotent and won't error if the observer wasn't registered.
func (c *Container) UnregisterObserver(observer Observer) error {
	r := c.observers
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.observers[observer.ObserverID()]; exists {
		delete(r.observers, observer.ObserverID())
		c.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

// NotifyObservers queues an externally produced event behind the container's
// own events.
func (c *Container) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		c.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}
	c.events.emit(event)
	return nil
}

// GetObservers returns information about currently registered observers.
func (c *Container) GetObservers() []ObserverInfo {
	r := c.observers
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.sortedLocked()
	info := make([]ObserverInfo, 0, len(regs))
	for _, registration := range regs {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)

		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

func (r *observerRegistry) sortedLocked() []*observerRegistration {
	regs := make([]*observerRegistration, 0, len(r.observers))
	for _, reg := range r.observers {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].order < regs[j].order })
	return regs
}

// deliver runs on the event dispatcher goroutine. Observers are called in
// registration order; errors and panics are logged and never propagated.
func (r *observerRegistry) deliver(ctx context.Context, event cloudevents.Event) {
	r.mu.RLock()
	regs := r.sortedLocked()
	r.mu.RUnlock()

	for _, registration := range regs {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}
		r.notifyOne(ctx, registration.observer, event)
	}
}

func (r *observerRegistry) notifyOne(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", rec)
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		r.logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}
