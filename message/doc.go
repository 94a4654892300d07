// Package message provides the event types that flow through the filter stage.
//
// # Events
//
// An InboundEvent is a handle to a received message: a raw byte payload and a
// set of string properties. The ingress mechanism owns it for the duration of
// the handler call, so anything needed afterwards must be copied.
//
//	ev := message.FromNATS(msg)
//	value, ok := message.Lookup(doc, "machine.temperature")
//
// # Clones
//
// A Clone is an independently owned deep copy of an event, created when the
// event is forwarded. Its storage is returned through Release, which runs
// exactly once no matter how many times it is called:
//
//	c := message.NewClone(ev, message.Properties{"MessageType": "Alert"}, onRelease)
//	defer c.Release()
//
// Ownership of a Clone moves with it. After handing it to another component the
// caller must not touch it again.
//
// # Documents
//
// ParseDocument decodes a JSON object using json.Number for numeric values, and
// Lookup walks a dot-separated path through nested objects. Float converts a
// looked-up value to float64 and rejects anything that is not a JSON number.
package message
