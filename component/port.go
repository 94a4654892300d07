package component

import (
	"encoding/json"
	"fmt"

	"github.com/c360/edgefilter/errors"
)

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes any I/O interface
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      Portable  `json:"config"`
}

// Portable is the transport-specific half of a Port
type Portable interface {
	ResourceID() string // Unique identifier for conflict detection
	IsExclusive() bool  // Whether multiple components can share
	Type() string       // Port type identifier
}

// MarshalJSON tags the port config with its type so readers can tell the
// transports apart
func (p Port) MarshalJSON() ([]byte, error) {
	type portAlias Port

	wrapper := struct {
		portAlias
		Config json.RawMessage `json:"config"`
	}{
		portAlias: portAlias(p),
	}

	if p.Config != nil {
		configBytes, err := json.Marshal(struct {
			Type string `json:"type"`
			Data any    `json:"data"`
		}{
			Type: p.Config.Type(),
			Data: p.Config,
		})
		if err != nil {
			return nil, errors.Wrap(err, "Port", "MarshalJSON", "config marshaling")
		}
		wrapper.Config = configBytes
	}

	return json.Marshal(wrapper)
}

// NATSPort is a core NATS subject
type NATSPort struct {
	Subject string `json:"subject"`
	Queue   string `json:"queue,omitempty"`
}

// ResourceID returns unique identifier for NATS ports
func (n NATSPort) ResourceID() string { return fmt.Sprintf("nats:%s", n.Subject) }

// IsExclusive returns false as multiple components can subscribe
func (n NATSPort) IsExclusive() bool { return false }

// Type returns the port type identifier
func (n NATSPort) Type() string { return "nats" }

// JetStreamPort is a JetStream stream, consumed durably on input
type JetStreamPort struct {
	StreamName    string   `json:"stream_name"`
	Subjects      []string `json:"subjects"`
	ConsumerName  string   `json:"consumer_name,omitempty"`
	AckPolicy     string   `json:"ack_policy,omitempty"`
	MaxAckPending int      `json:"max_ack_pending,omitempty"`
}

// ResourceID returns unique identifier for JetStream ports
func (j JetStreamPort) ResourceID() string {
	switch {
	case j.StreamName != "":
		return fmt.Sprintf("jetstream:%s", j.StreamName)
	case len(j.Subjects) > 0:
		return fmt.Sprintf("jetstream:%s", j.Subjects[0])
	default:
		return "jetstream:unknown"
	}
}

// IsExclusive returns false as JetStream manages consumer coordination
func (j JetStreamPort) IsExclusive() bool { return false }

// Type returns the port type identifier
func (j JetStreamPort) Type() string { return "jetstream" }

// KVWatchPort is a watched key in a NATS KV bucket
type KVWatchPort struct {
	Bucket string   `json:"bucket"`
	Keys   []string `json:"keys,omitempty"`
}

// ResourceID returns unique identifier for KV watch ports
func (k KVWatchPort) ResourceID() string { return fmt.Sprintf("kvwatch:%s", k.Bucket) }

// IsExclusive returns false as multiple watchers are allowed
func (k KVWatchPort) IsExclusive() bool { return false }

// Type returns the port type identifier
func (k KVWatchPort) Type() string { return "kvwatch" }
