// Package modwire provides Observer pattern interfaces for module lifecycle
// events. Events use the CloudEvents specification for a standardized format
// and interoperability with external systems.
package modwire

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of container events. OnEvent is called from the
// container's single dispatcher goroutine, so observers should return
// quickly; a slow observer delays every later event.
type Observer interface {
	// OnEvent is called when an event occurs that the observer is interested in.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	// This ID is used for registration tracking and debugging.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed.
type Subject interface {
	// RegisterObserver adds an observer to receive notifications.
	// If eventTypes is empty, the observer receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers queues an event for delivery to registered observers.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about currently registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	// ID is the unique identifier of the observer
	ID string `json:"id"`

	// EventTypes are the event types this observer is subscribed to.
	// Empty slice means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered
	RegisteredAt time.Time `json:"registeredAt"`
}

// ModuleEventType identifies a module lifecycle transition. The values are
// CloudEvent types in reverse domain notation.
type ModuleEventType string

// Module lifecycle events
const (
	EventModuleInstalled   ModuleEventType = "com.modwire.module.installed"
	EventModuleResolved    ModuleEventType = "com.modwire.module.resolved"
	EventModuleUnresolved  ModuleEventType = "com.modwire.module.unresolved"
	EventModuleStarting    ModuleEventType = "com.modwire.module.starting"
	EventModuleStarted     ModuleEventType = "com.modwire.module.started"
	EventModuleStopping    ModuleEventType = "com.modwire.module.stopping"
	EventModuleStopped     ModuleEventType = "com.modwire.module.stopped"
	EventModuleUpdated     ModuleEventType = "com.modwire.module.updated"
	EventModuleUninstalled ModuleEventType = "com.modwire.module.uninstalled"
	EventModuleFailed      ModuleEventType = "com.modwire.module.failed"
)

// Container events
const (
	EventTypeStartLevelChanged = "com.modwire.container.startlevel"
	EventTypeRefreshed         = "com.modwire.container.refreshed"
)

// ModuleEventData is the payload of module lifecycle events.
type ModuleEventData struct {
	ModuleID     uint64 `json:"moduleId"`
	Location     string `json:"location"`
	SymbolicName string `json:"symbolicName,omitempty"`
	Version      string `json:"version,omitempty"`
	State        string `json:"state"`
	Error        string `json:"error,omitempty"`
}

// FunctionalObserver provides a simple way to create observers using functions.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates a new observer that uses the provided function
// to handle events.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements the Observer interface by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements the Observer interface by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
