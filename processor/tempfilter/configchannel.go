package tempfilter

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgefilter/config"
	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
)

// Configuration document sources
const (
	SourceKV     = "kv"
	SourcePatch  = "patch"
	SourceDirect = "direct"
)

// ThresholdKey is the document key carrying the threshold
const ThresholdKey = "TemperatureThreshold"

var desiredThresholdPath = []string{"desired", ThresholdKey}

// ConfigResult describes the effect of one configuration document
type ConfigResult struct {
	Applied   bool    // a threshold key was present and numeric
	Previous  float64 // threshold before the document
	Threshold float64 // threshold after the document
	Key       string  // key that set the final value, empty when unchanged
}

// ConfigChannel merges configuration documents into FilterState.
//
// A document may carry the threshold as desired.TemperatureThreshold (full
// desired-state sync) and as a top-level TemperatureThreshold (patch). Both
// are applied in that order, so the top-level value wins when a document
// carries both. Keys that are absent or not numeric leave the threshold
// unchanged.
type ConfigChannel struct {
	state   *FilterState
	logger  *slog.Logger
	metrics *stageMetrics
}

// NewConfigChannel creates a configuration channel writing to state
func NewConfigChannel(state *FilterState, logger *slog.Logger, metrics *stageMetrics) *ConfigChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigChannel{
		state:   state,
		logger:  logger,
		metrics: metrics,
	}
}

// Apply merges one document. A malformed document returns an error and
// leaves the threshold unchanged.
func (c *ConfigChannel) Apply(doc []byte, source string) (ConfigResult, error) {
	parsed, err := message.ParseDocument(doc)
	if err != nil {
		c.metrics.recordConfigUpdate(source, false)
		return ConfigResult{Previous: c.state.Threshold(), Threshold: c.state.Threshold()},
			errors.WrapInvalid(err, "ConfigChannel", "Apply", "parse "+source+" document")
	}

	result := ConfigResult{Previous: c.state.Threshold()}

	steps := []struct {
		name string
		path []string
	}{
		{"desired." + ThresholdKey, desiredThresholdPath},
		{ThresholdKey, []string{ThresholdKey}},
	}
	for _, step := range steps {
		if !config.HasNestedKey(parsed, step.path) {
			continue
		}
		value, ok := config.LookupNestedFloat64(parsed, step.path)
		if !ok {
			c.logger.Warn("Ignoring non-numeric threshold",
				"source", source,
				"key", step.name)
			continue
		}
		c.state.SetThreshold(value)
		result.Applied = true
		result.Key = step.name
	}

	result.Threshold = c.state.Threshold()
	c.metrics.recordConfigUpdate(source, result.Applied)
	if result.Applied {
		c.metrics.setThreshold(result.Threshold)
		c.logger.Info("Temperature threshold updated",
			"source", source,
			"key", result.Key,
			"previous", result.Previous,
			"threshold", result.Threshold)
	} else {
		c.logger.Debug("Configuration document carried no threshold", "source", source)
	}

	return result, nil
}

// HandlePatch applies a patch document received on a core NATS subject
func (c *ConfigChannel) HandlePatch(_ context.Context, msg *nats.Msg) {
	if _, err := c.Apply(msg.Data, SourcePatch); err != nil {
		c.logger.Warn("Rejected configuration patch",
			"subject", msg.Subject,
			"error", err)
	}
}

// RunKVWatch applies every value delivered by watcher until ctx is done or
// the watcher closes. The initial value acts as the full sync; deletes and
// purges leave the threshold as it is.
func (c *ConfigChannel) RunKVWatch(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer func() {
		if err := watcher.Stop(); err != nil {
			c.logger.Debug("Stopping KV watcher failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			c.handleEntry(entry)
		}
	}
}

func (c *ConfigChannel) handleEntry(entry jetstream.KeyValueEntry) {
	if entry == nil {
		c.logger.Debug("Desired-state initial sync complete")
		return
	}

	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		c.logger.Info("Desired-state document removed, keeping threshold",
			"key", entry.Key(),
			"threshold", c.state.Threshold())
		return
	}

	if _, err := c.Apply(entry.Value(), SourceKV); err != nil {
		c.logger.Warn("Rejected desired-state document",
			"key", entry.Key(),
			"revision", entry.Revision(),
			"error", err)
	}
}
