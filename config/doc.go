// Package config loads and validates edgefilter configuration.
//
// Configuration is assembled in layers:
//
//  1. Defaults() supplies a runnable baseline (NATS on localhost, threshold 25,
//     input1 to output1, field path machine.temperature).
//  2. Each file passed to Loader.AddLayer is read as JSON or YAML (by
//     extension) and deep-merged into the result as a map, so a layer only
//     overrides the keys it names.
//  3. EDGEFILTER_* environment variables are applied last through cleanenv.
//
// Durations may be written as strings ("30s", "2d") or nanosecond integers.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/edgefilter.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// # Connection strings
//
// nats.connection_string (or EDGEFILTER_NATS_CONNECTION_STRING, or the
// EdgeHubConnectionString variable) holds an opaque startup credential. It is
// either a plain server URL or a key/value list such as
// "HostName=hub.local;SharedAccessKey=secret"; see ParseConnectionString.
//
// # Map helpers
//
// LookupFloat64, LookupNestedFloat64 and HasNestedKey read
// values out of decoded documents without panicking on unexpected types.
package config
