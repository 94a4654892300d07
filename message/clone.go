package message

import (
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// Clone is an owned, forwardable copy of an event.
type Clone struct {
	payload    []byte
	properties Properties
	size       int64

	released  atomic.Bool
	onRelease func()
}

// CloneSize returns the number of bytes a clone of ev with the given extra
// properties would hold. It may over-count when extra overwrites a key.
func CloneSize(ev InboundEvent, extra Properties) int64 {
	return int64(len(ev.Payload()) + ev.Properties().Size() + extra.Size())
}

// NewClone deep copies the payload and properties of ev, then sets every key
// of extra on the copy, adding or overwriting. onRelease may be nil.
func NewClone(ev InboundEvent, extra Properties, onRelease func()) *Clone {
	payload := make([]byte, len(ev.Payload()))
	copy(payload, ev.Payload())

	props := ev.Properties().Clone()
	for k, v := range extra {
		props[k] = v
	}

	return &Clone{
		payload:    payload,
		properties: props,
		size:       CloneSize(ev, extra),
		onRelease:  onRelease,
	}
}

// Payload returns the copied payload
func (c *Clone) Payload() []byte { return c.payload }

// Properties returns the copied property set
func (c *Clone) Properties() Properties { return c.properties }

// Size returns the number of bytes charged for this clone
func (c *Clone) Size() int64 { return c.size }

// Release returns the clone's storage. Only the first call has any effect and
// reports true.
func (c *Clone) Release() bool {
	if !c.released.CompareAndSwap(false, true) {
		return false
	}
	if c.onRelease != nil {
		c.onRelease()
	}
	return true
}

// Released reports whether Release has run
func (c *Clone) Released() bool { return c.released.Load() }

// ToNATS builds an outbound NATS message carrying the clone's payload and
// properties as headers. The message references the clone's payload.
func (c *Clone) ToNATS(subject string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = c.payload
	for k, v := range c.properties {
		msg.Header[k] = []string{v}
	}
	return msg
}
