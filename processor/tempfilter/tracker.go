package tempfilter

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
)

// Publisher hands a message to JetStream and returns a future for its ack.
// *natsclient.Client and jetstream.JetStream both satisfy it.
type Publisher interface {
	PublishMsgAsync(msg *nats.Msg, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
}

// RecordState is the lifecycle state of a ForwardRecord
type RecordState int

// Record states. Submitted is the only non-terminal state.
const (
	StateSubmitted RecordState = iota
	StateConfirmed
	StateFailed
)

// String returns the state name
func (s RecordState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ForwardRecord tracks one forwarded copy from submission to its terminal
// state. Records handed out by Confirm, Expire and Close are terminal and
// no longer change.
type ForwardRecord struct {
	id          uint64
	subject     string
	state       RecordState
	err         error
	clone       *message.Clone
	submittedAt time.Time
	settledAt   time.Time
}

// ID returns the sequence id assigned to the event at ingress
func (r *ForwardRecord) ID() uint64 { return r.id }

// Subject returns the subject the copy was published to
func (r *ForwardRecord) Subject() string { return r.subject }

// State returns the record state
func (r *ForwardRecord) State() RecordState { return r.state }

// Err returns the delivery failure for Failed records
func (r *ForwardRecord) Err() error { return r.err }

// Size returns the bytes charged for the record's copy
func (r *ForwardRecord) Size() int64 { return r.clone.Size() }

// SubmittedAt returns when the copy was handed to the publisher
func (r *ForwardRecord) SubmittedAt() time.Time { return r.submittedAt }

// Latency returns the time from submission to settlement, or zero while
// the record is still Submitted
func (r *ForwardRecord) Latency() time.Duration {
	if r.settledAt.IsZero() {
		return 0
	}
	return r.settledAt.Sub(r.submittedAt)
}

// Confirmation is the delivery result for one record, matched by ID
type Confirmation struct {
	ID  uint64
	Err error
}

// TrackerStats is a snapshot of tracker counters
type TrackerStats struct {
	Submitted    uint64
	Confirmed    uint64
	Failed       uint64
	Expired      uint64
	SubmitErrors uint64
	Unknown      uint64
	InFlight     int
	InFlightSize int64
}

// TrackerConfig configures a Tracker
type TrackerConfig struct {
	Subject        string
	MaxInFlight    int
	ConfirmTimeout time.Duration
}

// Tracker submits copies asynchronously and settles each one exactly once.
//
// Ownership of a clone passes to the tracker on Submit. The clone is
// released on synchronous submission failure, on confirmation, on expiry
// and on Close, whichever comes first.
type Tracker struct {
	publisher Publisher
	cfg       TrackerConfig

	mu       sync.Mutex
	records  map[uint64]*ForwardRecord
	reserved int
	closed   bool
	bytes    int64
	stats    TrackerStats

	confirmations chan Confirmation
	done          chan struct{}
	wg            sync.WaitGroup

	now func() time.Time
}

// NewTracker creates a tracker publishing through publisher
func NewTracker(publisher Publisher, cfg TrackerConfig) (*Tracker, error) {
	if publisher == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Tracker", "NewTracker", "publisher required")
	}
	if cfg.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Tracker", "NewTracker", "subject required")
	}
	if cfg.MaxInFlight <= 0 || cfg.ConfirmTimeout <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: max in-flight %d, confirm timeout %s",
				errors.ErrInvalidConfig, cfg.MaxInFlight, cfg.ConfirmTimeout),
			"Tracker", "NewTracker", "validate limits")
	}

	return &Tracker{
		publisher:     publisher,
		cfg:           cfg,
		records:       make(map[uint64]*ForwardRecord),
		confirmations: make(chan Confirmation, cfg.MaxInFlight),
		done:          make(chan struct{}),
		now:           time.Now,
	}, nil
}

// Confirmations delivers one result per successfully submitted record
func (t *Tracker) Confirmations() <-chan Confirmation {
	return t.confirmations
}

// Submit publishes clone asynchronously under id. On error no record is
// kept and the clone has already been released.
func (t *Tracker) Submit(clone *message.Clone, id uint64) (*ForwardRecord, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.stats.SubmitErrors++
		t.mu.Unlock()
		clone.Release()
		return nil, errors.WrapTransient(errors.ErrShuttingDown, "Tracker", "Submit", "check tracker state")
	case len(t.records)+t.reserved >= t.cfg.MaxInFlight:
		t.stats.SubmitErrors++
		t.mu.Unlock()
		clone.Release()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %d records awaiting confirmation", errors.ErrInFlightLimit, t.cfg.MaxInFlight),
			"Tracker", "Submit", "reserve slot")
	case t.records[id] != nil:
		t.stats.SubmitErrors++
		t.mu.Unlock()
		clone.Release()
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: record %d already submitted", errors.ErrInvalidData, id),
			"Tracker", "Submit", "register record")
	}
	t.reserved++
	t.mu.Unlock()

	submittedAt := t.now()
	future, err := t.publisher.PublishMsgAsync(clone.ToNATS(t.cfg.Subject))

	t.mu.Lock()
	t.reserved--
	if err == nil && t.closed {
		err = errors.ErrShuttingDown
	}
	if err != nil {
		t.stats.SubmitErrors++
		t.mu.Unlock()
		clone.Release()
		return nil, errors.WrapTransient(err, "Tracker", "Submit", "publish to "+t.cfg.Subject)
	}

	record := &ForwardRecord{
		id:          id,
		subject:     t.cfg.Subject,
		state:       StateSubmitted,
		clone:       clone,
		submittedAt: submittedAt,
	}
	t.records[id] = record
	t.bytes += clone.Size()
	t.stats.Submitted++
	t.wg.Add(1)
	t.mu.Unlock()

	go t.watch(id, future)

	return record, nil
}

// watch waits for the publish future and posts its result
func (t *Tracker) watch(id uint64, future jetstream.PubAckFuture) {
	defer t.wg.Done()

	var result Confirmation
	select {
	case <-future.Ok():
		result = Confirmation{ID: id}
	case err := <-future.Err():
		result = Confirmation{ID: id, Err: err}
	case <-t.done:
		return
	}

	select {
	case t.confirmations <- result:
	case <-t.done:
	}
}

// Confirm settles the record named by c: Confirmed when c.Err is nil,
// Failed otherwise. A confirmation for a record that is unknown or already
// settled changes nothing and returns ErrUnknownRecord.
func (t *Tracker) Confirm(c Confirmation) (*ForwardRecord, error) {
	t.mu.Lock()
	record, ok := t.records[c.ID]
	if !ok {
		t.stats.Unknown++
		t.mu.Unlock()
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: id %d", errors.ErrUnknownRecord, c.ID),
			"Tracker", "Confirm", "match confirmation")
	}
	delete(t.records, c.ID)
	t.bytes -= record.Size()

	if c.Err == nil {
		record.state = StateConfirmed
		t.stats.Confirmed++
	} else {
		record.state = StateFailed
		record.err = fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, c.Err)
		t.stats.Failed++
	}
	record.settledAt = t.now()
	t.mu.Unlock()

	record.clone.Release()
	return record, nil
}

// Expire fails every record submitted at least ConfirmTimeout before now.
// A confirmation arriving later for an expired record is reported as
// unknown.
func (t *Tracker) Expire(now time.Time) []*ForwardRecord {
	t.mu.Lock()
	var expired []*ForwardRecord
	for id, record := range t.records {
		if now.Sub(record.submittedAt) < t.cfg.ConfirmTimeout {
			continue
		}
		delete(t.records, id)
		t.bytes -= record.Size()
		record.state = StateFailed
		record.err = errors.ErrConfirmTimeout
		record.settledAt = now
		t.stats.Failed++
		t.stats.Expired++
		expired = append(expired, record)
	}
	t.mu.Unlock()

	for _, record := range expired {
		record.clone.Release()
	}
	return expired
}

// Close fails every outstanding record with ErrShuttingDown and stops the
// watchers. Later Submit calls fail. Close is safe to call more than once.
func (t *Tracker) Close() []*ForwardRecord {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)

	now := t.now()
	failed := make([]*ForwardRecord, 0, len(t.records))
	for id, record := range t.records {
		delete(t.records, id)
		t.bytes -= record.Size()
		record.state = StateFailed
		record.err = errors.ErrShuttingDown
		record.settledAt = now
		t.stats.Failed++
		failed = append(failed, record)
	}
	t.mu.Unlock()

	for _, record := range failed {
		record.clone.Release()
	}

	t.wg.Wait()
	return failed
}

// InFlight returns the number of Submitted records
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Stats returns a snapshot of the tracker counters
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.stats
	stats.InFlight = len(t.records)
	stats.InFlightSize = t.bytes
	return stats
}
