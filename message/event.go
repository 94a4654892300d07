package message

import (
	"maps"
	"time"

	"github.com/nats-io/nats.go"
)

// Properties is the application property set carried with an event.
// Keys are unique and unordered.
type Properties map[string]string

// Clone returns a deep copy of the property set. A nil set clones to an empty one.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	maps.Copy(out, p)
	return out
}

// Size returns the number of bytes held by keys and values.
func (p Properties) Size() int {
	n := 0
	for k, v := range p {
		n += len(k) + len(v)
	}
	return n
}

// InboundEvent is a handle to a received message.
type InboundEvent interface {
	// Payload returns the raw message body. Callers must not modify it.
	Payload() []byte

	// Properties returns the event's property set.
	Properties() Properties
}

// Event is the in-memory InboundEvent implementation
type Event struct {
	subject    string
	payload    []byte
	properties Properties
	receivedAt time.Time
}

// NewEvent creates an event with the given payload and properties
func NewEvent(payload []byte, properties Properties) *Event {
	if properties == nil {
		properties = Properties{}
	}
	return &Event{
		payload:    payload,
		properties: properties,
		receivedAt: time.Now(),
	}
}

// FromNATS wraps a NATS message as an event. Headers become properties, keeping
// the first value of multi-valued headers. The payload is referenced, not copied.
func FromNATS(msg *nats.Msg) *Event {
	props := make(Properties, len(msg.Header))
	for k, v := range msg.Header {
		if len(v) > 0 {
			props[k] = v[0]
		}
	}
	ev := NewEvent(msg.Data, props)
	ev.subject = msg.Subject
	return ev
}

// Payload implements InboundEvent
func (e *Event) Payload() []byte { return e.payload }

// Properties implements InboundEvent
func (e *Event) Properties() Properties { return e.properties }

// Subject returns the subject the event arrived on, if any
func (e *Event) Subject() string { return e.subject }

// ReceivedAt returns when the event was wrapped
func (e *Event) ReceivedAt() time.Time { return e.receivedAt }
