package tempfilter

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
)

// Outcome is the result of handling one ingress event
type Outcome int

// Ingress outcomes
const (
	// AcceptedNotForwarded covers predicate rejects and payloads without a value
	AcceptedNotForwarded Outcome = iota
	// AcceptedForwarded means a tagged copy was submitted
	AcceptedForwarded
	// Abandoned means the copy could not be allocated or submitted
	Abandoned
)

// String returns the outcome name used in logs and metric labels
func (o Outcome) String() string {
	switch o {
	case AcceptedNotForwarded:
		return "accepted_not_forwarded"
	case AcceptedForwarded:
		return "accepted_forwarded"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Disposition is what the ingress caller is told about an event
type Disposition int

// Dispositions
const (
	DispositionAccepted Disposition = iota
	DispositionAbandoned
)

// String returns the disposition name
func (d Disposition) String() string {
	if d == DispositionAbandoned {
		return "abandoned"
	}
	return "accepted"
}

// Disposition collapses the outcome to the value reported to the caller
func (o Outcome) Disposition() Disposition {
	if o == Abandoned {
		return DispositionAbandoned
	}
	return DispositionAccepted
}

// Result describes how one event was handled
type Result struct {
	Seq       uint64
	Outcome   Outcome
	Value     float64
	HasValue  bool
	Threshold float64
	Record    *ForwardRecord // set for AcceptedForwarded
	Err       error          // extraction failure or the reason for Abandoned
}

// Stage runs the ingress decision: extract, compare, tag and submit. It
// also settles confirmations and expires stale records. Stage methods are
// meant to be driven from one goroutine.
type Stage struct {
	state     *FilterState
	extractor Extractor
	predicate Predicate
	tagger    *Tagger
	tracker   *Tracker

	logger    *slog.Logger
	metrics   *stageMetrics
	warnLimit *rate.Limiter
}

// StageOption configures a Stage
type StageOption func(*Stage)

// WithStageLogger sets the stage logger
func WithStageLogger(logger *slog.Logger) StageOption {
	return func(s *Stage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithParseLogRate limits parse failure warnings to perSec lines per
// second. Suppressed failures are logged at debug level.
func WithParseLogRate(perSec float64) StageOption {
	return func(s *Stage) {
		if perSec > 0 {
			s.warnLimit = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

func withStageMetrics(m *stageMetrics) StageOption {
	return func(s *Stage) {
		s.metrics = m
	}
}

// NewStage assembles a stage around shared state and a tracker
func NewStage(state *FilterState, extractor Extractor, tagger *Tagger, tracker *Tracker, opts ...StageOption) *Stage {
	s := &Stage{
		state:     state,
		extractor: extractor,
		predicate: NewPredicate(state),
		tagger:    tagger,
		tracker:   tracker,
		logger:    slog.Default(),
		warnLimit: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle processes ev and returns its outcome
func (s *Stage) Handle(ev message.InboundEvent) Outcome {
	return s.Process(ev).Outcome
}

// Process handles one ingress event. The sequence counter advances exactly
// once per call whatever the outcome. ev is not retained.
func (s *Stage) Process(ev message.InboundEvent) Result {
	res := Result{Seq: s.state.NextSequence()}

	var payload []byte
	if ev != nil {
		payload = ev.Payload()
	}
	value, ok, err := s.extractor.Extract(payload)
	if err != nil {
		res.Err = err
		s.reportParseFailure(res.Seq, err)
	}
	res.Value, res.HasValue = value, ok

	accepted, threshold := s.predicate.Evaluate(value, ok)
	res.Threshold = threshold
	if !accepted {
		res.Outcome = AcceptedNotForwarded
		if ok {
			s.logger.Debug("Temperature within threshold",
				"seq", res.Seq,
				"temperature", value,
				"threshold", threshold)
		}
		s.finish(res)
		return res
	}

	s.logger.Debug("Temperature exceeds threshold",
		"seq", res.Seq,
		"temperature", value,
		"threshold", threshold)

	clone, err := s.tagger.Tag(ev)
	if err != nil {
		res.Outcome = Abandoned
		res.Err = err
		s.logger.Warn("Abandoned event, copy not allocated",
			"seq", res.Seq,
			"error", err)
		s.finish(res)
		return res
	}

	record, err := s.tracker.Submit(clone, res.Seq)
	if err != nil {
		res.Outcome = Abandoned
		res.Err = err
		s.metrics.recordForward(resultSubmitError)
		s.logger.Warn("Abandoned event, submission failed",
			"seq", res.Seq,
			"error", err)
		s.finish(res)
		return res
	}

	res.Outcome = AcceptedForwarded
	res.Record = record
	s.logger.Debug("Forwarded alert",
		"seq", res.Seq,
		"subject", record.Subject(),
		"size_bytes", record.Size())
	s.finish(res)
	return res
}

// Settle applies a delivery confirmation. Unknown ids are logged and
// otherwise ignored.
func (s *Stage) Settle(c Confirmation) *ForwardRecord {
	record, err := s.tracker.Confirm(c)
	if err != nil {
		s.logger.Debug("Ignoring confirmation",
			"seq", c.ID,
			"error", err)
		return nil
	}

	switch record.State() {
	case StateConfirmed:
		s.metrics.recordForward(resultConfirmed)
		s.metrics.recordConfirmLatency(record.Latency())
		s.logger.Debug("Delivery confirmed",
			"seq", record.ID(),
			"latency", record.Latency())
	default:
		s.metrics.recordForward(resultFailed)
		s.logger.Warn("Delivery failed",
			"seq", record.ID(),
			"subject", record.Subject(),
			"error", record.Err())
	}
	s.updateGauges()
	return record
}

// Sweep fails records whose confirmation is overdue at now
func (s *Stage) Sweep(now time.Time) []*ForwardRecord {
	expired := s.tracker.Expire(now)
	for _, record := range expired {
		s.metrics.recordForward(resultExpired)
		s.logger.Warn("Delivery confirmation timed out",
			"seq", record.ID(),
			"subject", record.Subject(),
			"waited", record.Latency())
	}
	if len(expired) > 0 {
		s.updateGauges()
	}
	return expired
}

// Close fails every outstanding record and stops confirmation watchers
func (s *Stage) Close() []*ForwardRecord {
	failed := s.tracker.Close()
	for range failed {
		s.metrics.recordForward(resultFailed)
	}
	if len(failed) > 0 {
		s.logger.Warn("Abandoned unconfirmed forwards at shutdown", "count", len(failed))
	}
	s.updateGauges()
	return failed
}

// Confirmations exposes the tracker's confirmation stream
func (s *Stage) Confirmations() <-chan Confirmation {
	return s.tracker.Confirmations()
}

// Stats returns the tracker counters
func (s *Stage) Stats() TrackerStats {
	return s.tracker.Stats()
}

func (s *Stage) reportParseFailure(seq uint64, err error) {
	reason := parseFailureReason(err)
	s.metrics.recordParseError(reason)

	// A missing field is routine; only unusable payloads warrant a warning.
	level := slog.LevelDebug
	if !stderrors.Is(err, errors.ErrFieldAbsent) && s.warnLimit.Allow() {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "Payload carries no usable temperature",
		"seq", seq,
		"reason", reason,
		"error", err)
}

func (s *Stage) finish(res Result) {
	s.metrics.recordOutcome(res.Outcome)
	s.updateGauges()
}

func (s *Stage) updateGauges() {
	if s.metrics == nil {
		return
	}
	stats := s.tracker.Stats()
	s.metrics.setInFlight(stats.InFlight, stats.InFlightSize)
}
