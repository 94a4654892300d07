// Package edgefilter is an edge telemetry stage that forwards temperature
// readings above a configurable threshold as alerts.
//
// # Architecture
//
//	  input subject / stream
//	           │
//	           ▼
//	┌─────────────────────────┐      twin KV bucket
//	│   processor/tempfilter  │◀──── patch subject
//	│ extract → compare → tag │      (TemperatureThreshold)
//	└───────────┬─────────────┘
//	            │ tagged copy, MessageType=Alert
//	            ▼
//	  output subject (JetStream, acked)
//
// Every inbound event is accepted exactly once. Events whose
// machine.temperature exceeds the threshold are copied, tagged as alerts and
// published asynchronously; each forwarded copy is tracked until the broker
// confirms or rejects it, or until it times out. The threshold starts at its
// configured default and follows the twin document stored in a NATS KV
// bucket plus any patches published to the patch subject.
//
// # Packages
//
//   - processor/tempfilter: the filter stage, its configuration channel and
//     forward tracking
//   - message: inbound events and owned payload copies
//   - natsclient: NATS connection management, JetStream and KV helpers
//   - config: layered JSON/YAML configuration with environment overrides
//   - component: lifecycle, discovery and health contracts
//   - metric, health: Prometheus registry, /metrics and /health endpoints
//   - errors: classified errors (transient, invalid, fatal)
//   - pkg/budget, pkg/retry: byte budget for copies and backoff helpers
//
// The cmd/edgefilter binary wires these together.
package edgefilter
