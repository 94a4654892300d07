// Package tempfilter implements the temperature threshold filter stage.
//
// Each ingress event is parsed as JSON and the number at a dot-separated
// field path (machine.temperature by default) is compared against a live
// threshold. Events strictly above the threshold are copied, tagged with
// MessageType=Alert and published asynchronously to the output subject.
// Every other event is accepted and dropped.
//
// # Outcomes
//
// Stage.Process reports one Outcome per event:
//
//	AcceptedNotForwarded  predicate rejected, or no usable value in the payload
//	AcceptedForwarded     a tagged copy was submitted to the Tracker
//	Abandoned             the copy could not be allocated or submitted
//
// Outcome.Disposition collapses these to Accepted or Abandoned. With a
// JetStream ingress the Processor acks accepted events and naks abandoned
// ones.
//
// # Forward tracking
//
// A submitted copy becomes a ForwardRecord in state Submitted. The Tracker
// watches the JetStream PubAckFuture and posts a Confirmation carrying the
// record id; the confirmation moves the record to Confirmed or Failed.
// Records that wait longer than the confirmation timeout are failed by
// Expire, and Close fails whatever is left. Each copy is charged to a byte
// budget and released exactly once, on whichever of these happens first.
//
// # Configuration
//
// The threshold lives in FilterState and is written only by ConfigChannel.
// A document may set desired.TemperatureThreshold and TemperatureThreshold;
// both are applied in that order, so the top-level key wins. Documents come
// from a watched KV key (full desired state), a patch subject, or
// Processor.ApplyConfig.
//
// # Execution
//
// NATS callbacks only queue work. One goroutine per Processor handles
// events in arrival order, applies confirmations and runs expiry sweeps,
// so the stage itself needs no locking beyond FilterState's atomics.
package tempfilter
