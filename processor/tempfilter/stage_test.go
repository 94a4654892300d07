package tempfilter

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
	"github.com/c360/edgefilter/metric"
	"github.com/c360/edgefilter/pkg/budget"
)

type stageFixture struct {
	state     *FilterState
	stage     *Stage
	publisher *fakePublisher
	budget    *budget.Budget
	metrics   *stageMetrics
}

func newStageFixture(t *testing.T, threshold float64, budgetBytes int64) *stageFixture {
	t.Helper()

	b, err := budget.New(budgetBytes)
	require.NoError(t, err)

	metrics, err := newStageMetrics(metric.NewMetricsRegistry())
	require.NoError(t, err)

	pub := &fakePublisher{}
	tracker, err := NewTracker(pub, TrackerConfig{
		Subject:        "output1",
		MaxInFlight:    16,
		ConfirmTimeout: time.Minute,
	})
	require.NoError(t, err)

	state := NewFilterState(threshold)
	f := &stageFixture{
		state:     state,
		publisher: pub,
		budget:    b,
		metrics:   metrics,
		stage: NewStage(state, Extractor{Path: "machine.temperature"}, NewTagger(b), tracker,
			WithStageLogger(slog.New(slog.DiscardHandler)),
			WithParseLogRate(1),
			withStageMetrics(metrics)),
	}
	t.Cleanup(func() { f.stage.Close() })
	return f
}

func temperatureEvent(temp any) *message.Event {
	return message.NewEvent(
		[]byte(fmt.Sprintf(`{"machine":{"temperature":%v},"timeCreated":"2026-01-01T00:00:00Z"}`, temp)),
		message.Properties{"sensor": "machine-1"})
}

func (f *stageFixture) assertNoLeaks(t *testing.T) {
	t.Helper()
	stats := f.budget.Stats()
	assert.Equal(t, int64(0), stats.InUse, "budget leak")
	assert.Equal(t, int64(0), stats.Outstanding(), "unreleased clones")
	assert.Equal(t, int64(0), stats.OverReleases, "double release")
}

func TestStage_ForwardsAboveThreshold(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	for _, temp := range []any{25.01, 26, 100, 1e3} {
		ev := temperatureEvent(temp)
		res := f.stage.Process(ev)

		assert.Equal(t, AcceptedForwarded, res.Outcome, "temperature %v", temp)
		assert.Equal(t, DispositionAccepted, res.Outcome.Disposition())
		require.NotNil(t, res.Record)
		assert.Equal(t, StateSubmitted, res.Record.State())
	}

	msgs := f.publisher.published()
	require.Len(t, msgs, 4)
	for _, msg := range msgs {
		assert.Equal(t, "output1", msg.Subject)
		assert.Equal(t, MessageTypeAlert, msg.Header.Get(MessageTypeProperty))
		assert.Equal(t, "machine-1", msg.Header.Get("sensor"))
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.events.WithLabelValues("accepted_forwarded")))
}

func TestStage_DropsAtOrBelowThreshold(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	for _, temp := range []any{25, 25.0, 24.99, -40} {
		res := f.stage.Process(temperatureEvent(temp))
		assert.Equal(t, AcceptedNotForwarded, res.Outcome, "temperature %v", temp)
		assert.Equal(t, DispositionAccepted, res.Outcome.Disposition())
		assert.True(t, res.HasValue)
		assert.Nil(t, res.Record)
	}

	assert.Zero(t, f.publisher.count())
	assert.Zero(t, f.budget.Stats().Acquisitions)
}

func TestStage_UnusablePayloads(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	payloads := map[string]string{
		reasonMalformed: `{"machine":{"temperature":30`,
		reasonAbsent:    `{"machine":{"humidity":30}}`,
		reasonNotNumber: `{"machine":{"temperature":"hot"}}`,
	}
	for reason, payload := range payloads {
		res := f.stage.Process(message.NewEvent([]byte(payload), nil))
		assert.Equal(t, AcceptedNotForwarded, res.Outcome, reason)
		assert.False(t, res.HasValue)
		assert.Error(t, res.Err)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.parseErrors.WithLabelValues(reason)), reason)
	}

	assert.Zero(t, f.publisher.count())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.events.WithLabelValues("accepted_not_forwarded")))
}

func TestStage_NilEventIsNotForwarded(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	res := f.stage.Process(nil)
	assert.Equal(t, AcceptedNotForwarded, res.Outcome)
	assert.False(t, res.HasValue)
	assert.Error(t, res.Err)
	assert.Equal(t, uint64(1), f.state.Sequence())
	assert.Zero(t, f.publisher.count())
}

func TestStage_SequencePerEvent(t *testing.T) {
	f := newStageFixture(t, 25, 64)
	assert.Equal(t, uint64(0), f.state.Sequence())

	// Rejected, unparseable, abandoned (copy exceeds the budget), forwarded
	events := []message.InboundEvent{
		temperatureEvent(10),
		message.NewEvent([]byte(`not json`), nil),
		temperatureEvent(30),
		message.NewEvent([]byte(`{"machine":{"temperature":31}}`), nil),
	}
	for i, ev := range events {
		res := f.stage.Process(ev)
		assert.Equal(t, uint64(i), res.Seq)
		assert.Equal(t, uint64(i+1), f.state.Sequence())
	}

	assert.Equal(t, 1, f.publisher.count())
}

func TestStage_ForwardedPayloadIsByteIdentical(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	original := []byte("{ \"machine\" : { \"temperature\" : 30.000 }, \"ambient\": {\"temperature\": 20} }")
	ev := message.NewEvent(append([]byte(nil), original...), message.Properties{MessageTypeProperty: "Telemetry"})

	res := f.stage.Process(ev)
	require.Equal(t, AcceptedForwarded, res.Outcome)

	msgs := f.publisher.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, original, msgs[0].Data)
	assert.Equal(t, MessageTypeAlert, msgs[0].Header.Get(MessageTypeProperty))
	assert.Equal(t, "Telemetry", ev.Properties()[MessageTypeProperty])
}

func TestStage_AbandonedOnBudgetExhaustion(t *testing.T) {
	f := newStageFixture(t, 25, 16)

	res := f.stage.Process(temperatureEvent(30))
	assert.Equal(t, Abandoned, res.Outcome)
	assert.Equal(t, DispositionAbandoned, res.Outcome.Disposition())
	assert.True(t, stderrors.Is(res.Err, errors.ErrResourceExhausted))
	assert.Nil(t, res.Record)
	assert.Zero(t, f.publisher.count())
	assert.Equal(t, 0, f.stage.Stats().InFlight)
	f.assertNoLeaks(t)
}

func TestStage_AbandonedOnSubmitError(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)
	f.publisher.setFailure(fmt.Errorf("%w: nats: timeout", errors.ErrPublishFailed))

	res := f.stage.Process(temperatureEvent(30))
	assert.Equal(t, Abandoned, res.Outcome)
	assert.Nil(t, res.Record)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.forwards.WithLabelValues(resultSubmitError)))
	f.assertNoLeaks(t)
}

func TestStage_EveryRecordSettlesOnce(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	for i := 0; i < 4; i++ {
		require.Equal(t, AcceptedForwarded, f.stage.Process(temperatureEvent(30+i)).Outcome)
	}

	f.publisher.future(1).ack()
	f.publisher.future(0).nak(fmt.Errorf("stream not found"))

	settled := map[uint64]RecordState{}
	for len(settled) < 2 {
		select {
		case c := <-f.stage.Confirmations():
			record := f.stage.Settle(c)
			require.NotNil(t, record)
			settled[record.ID()] = record.State()
		case <-time.After(2 * time.Second):
			t.Fatal("confirmations not delivered")
		}
	}
	assert.Equal(t, StateConfirmed, settled[1])
	assert.Equal(t, StateFailed, settled[0])

	expired := f.stage.Sweep(time.Now().Add(2 * time.Minute))
	assert.Len(t, expired, 2)

	// Late results for expired records are ignored
	f.publisher.future(2).ack()
	select {
	case c := <-f.stage.Confirmations():
		assert.Nil(t, f.stage.Settle(c))
	case <-time.After(2 * time.Second):
		t.Fatal("late confirmation not delivered")
	}

	assert.Empty(t, f.stage.Close())
	f.assertNoLeaks(t)

	stats := f.stage.Stats()
	assert.Equal(t, uint64(4), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Confirmed)
	assert.Equal(t, uint64(3), stats.Failed)
	assert.Equal(t, uint64(2), stats.Expired)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.forwards.WithLabelValues(resultConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.forwards.WithLabelValues(resultFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.forwards.WithLabelValues(resultExpired)))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.inFlight))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.budgetInUse))
}

func TestStage_ThresholdChangeAppliesToNextEvent(t *testing.T) {
	f := newStageFixture(t, 25, 1<<20)

	assert.Equal(t, AcceptedForwarded, f.stage.Handle(temperatureEvent(28)))
	f.state.SetThreshold(30)
	assert.Equal(t, AcceptedNotForwarded, f.stage.Handle(temperatureEvent(28)))
}

func TestOutcome_Strings(t *testing.T) {
	assert.Equal(t, "accepted_not_forwarded", AcceptedNotForwarded.String())
	assert.Equal(t, "accepted_forwarded", AcceptedForwarded.String())
	assert.Equal(t, "abandoned", Abandoned.String())
	assert.Equal(t, "unknown", Outcome(9).String())
	assert.Equal(t, "accepted", DispositionAccepted.String())
	assert.Equal(t, "abandoned", DispositionAbandoned.String())
}
