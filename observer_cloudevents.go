package modwire

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience
type CloudEvent = cloudevents.Event

// eventSource is the CloudEvents source of everything the container emits.
const eventSource = "modwire/container"

// NewCloudEvent creates a new CloudEvent with the specified parameters.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// newModuleEvent builds the event for a module transition. The subject is the
// module id so consumers can partition by module.
func newModuleEvent(eventType ModuleEventType, m *Module, rev *Revision, cause error) cloudevents.Event {
	data := ModuleEventData{
		ModuleID: m.id,
		Location: m.location,
		State:    m.State().String(),
	}
	if rev != nil {
		data.SymbolicName = rev.symbolicName
		data.Version = rev.version.String()
	}
	if cause != nil {
		data.Error = cause.Error()
	}
	event := NewCloudEvent(string(eventType), eventSource, data, nil)
	event.SetSubject(fmt.Sprint(m.id))
	return event
}

// generateEventID generates a time-ordered UUIDv7, used for CloudEvent ids
// and resolution correlation ids.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates that a CloudEvent conforms to the CloudEvents specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}
