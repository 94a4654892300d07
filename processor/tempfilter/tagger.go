package tempfilter

import (
	"fmt"

	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
	"github.com/c360/edgefilter/pkg/budget"
)

// Alert classification added to every forwarded copy
const (
	MessageTypeProperty = "MessageType"
	MessageTypeAlert    = "Alert"
)

// Tagger produces owned, tagged copies of accepted events. Each copy is
// charged to a byte budget until it is released.
type Tagger struct {
	budget budget.Allocator
	extra  message.Properties
}

// NewTagger creates a tagger charging alloc
func NewTagger(alloc budget.Allocator) *Tagger {
	return &Tagger{
		budget: alloc,
		extra:  message.Properties{MessageTypeProperty: MessageTypeAlert},
	}
}

// Tag deep copies ev and sets MessageType=Alert on the copy. When the
// budget cannot cover the copy nothing is allocated and the error wraps
// ErrResourceExhausted.
func (t *Tagger) Tag(ev message.InboundEvent) (*message.Clone, error) {
	size := message.CloneSize(ev, t.extra)
	if !t.budget.TryAcquire(size) {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: clone of %d bytes", errors.ErrResourceExhausted, size),
			"Tagger", "Tag", "reserve clone budget")
	}
	return message.NewClone(ev, t.extra, func() { t.budget.Release(size) }), nil
}
