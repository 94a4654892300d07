package tempfilter

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// fakeFuture is a PubAckFuture resolved by the test
type fakeFuture struct {
	msg *nats.Msg
	ok  chan *jetstream.PubAck
	err chan error
}

func newFakeFuture(msg *nats.Msg) *fakeFuture {
	return &fakeFuture{
		msg: msg,
		ok:  make(chan *jetstream.PubAck, 1),
		err: make(chan error, 1),
	}
}

func (f *fakeFuture) Ok() <-chan *jetstream.PubAck { return f.ok }
func (f *fakeFuture) Err() <-chan error            { return f.err }
func (f *fakeFuture) Msg() *nats.Msg               { return f.msg }

func (f *fakeFuture) ack()          { f.ok <- &jetstream.PubAck{Stream: "ALERTS"} }
func (f *fakeFuture) nak(err error) { f.err <- err }

// fakePublisher records published messages and hands out fake futures.
// delay and gate, when set before use, hold each publish in the caller.
type fakePublisher struct {
	mu      sync.Mutex
	msgs    []*nats.Msg
	futures []*fakeFuture
	failErr error

	delay   time.Duration
	gate    chan struct{}
	entered chan struct{}
}

func (p *fakePublisher) PublishMsgAsync(msg *nats.Msg, _ ...jetstream.PublishOpt) (jetstream.PubAckFuture, error) {
	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		<-p.gate
	}
	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failErr != nil {
		return nil, p.failErr
	}
	f := newFakeFuture(msg)
	p.msgs = append(p.msgs, msg)
	p.futures = append(p.futures, f)
	return f, nil
}

func (p *fakePublisher) setFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
}

func (p *fakePublisher) published() []*nats.Msg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*nats.Msg(nil), p.msgs...)
}

func (p *fakePublisher) future(i int) *fakeFuture {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.futures[i]
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// fakeEntry is a KV entry delivered by fakeWatcher
type fakeEntry struct {
	key      string
	value    []byte
	revision uint64
	op       jetstream.KeyValueOp
}

func (e *fakeEntry) Bucket() string                  { return "twin" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return e.revision }
func (e *fakeEntry) Created() time.Time              { return time.Time{} }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

// fakeWatcher is a KeyWatcher fed by the test
type fakeWatcher struct {
	updates chan jetstream.KeyValueEntry
	stopped chan struct{}
	once    sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		updates: make(chan jetstream.KeyValueEntry, 8),
		stopped: make(chan struct{}),
	}
}

func (w *fakeWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.updates }

func (w *fakeWatcher) Stop() error {
	w.once.Do(func() { close(w.stopped) })
	return nil
}
