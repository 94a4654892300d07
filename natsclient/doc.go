// Package natsclient provides a NATS client with a circuit breaker, JetStream
// helpers and testcontainers-based test infrastructure.
//
// # Connection Management
//
// Client wraps a *nats.Conn and its JetStream context. Connect fails fast while
// the circuit breaker is open; the breaker opens after a configurable number of
// failures and half-opens again after an exponential backoff:
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithName("edgefilter"),
//	    natsclient.WithMaxReconnects(-1),
//	    natsclient.WithPublishAsyncMaxPending(1024),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Status transitions: Disconnected → Connecting → Connected, with
// Reconnecting on transport loss and CircuitOpen after repeated failures.
//
// # JetStream
//
// ConsumeStream creates a durable consumer with explicit acknowledgement and
// hands every jetstream.Msg to the caller, who decides between Ack and Nak.
// PublishMsgAsync returns a jetstream.PubAckFuture that resolves when the
// server stores or rejects the message. Client satisfies the publisher
// interface used by the filter stage's dispatch tracker.
//
// # Key-Value
//
// OpenDocStore returns a DocStore over a bucket of desired-state documents.
// Reads and writes carry a timeout and a size cap. Watch delivers the
// current value first, then a nil marker, then live updates.
//
// # Metrics
//
// WithMetrics polls streams and consumers created through the client and
// exports message counts, pending and ack-pending gauges.
//
// # Testing
//
// NewSharedTestClient starts a NATS container for TestMain; NewTestClient
// does the same per test and registers cleanup with t.Cleanup.
package natsclient
