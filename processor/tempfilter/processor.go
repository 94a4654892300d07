package tempfilter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/edgefilter/component"
	"github.com/c360/edgefilter/config"
	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
	"github.com/c360/edgefilter/natsclient"
	"github.com/c360/edgefilter/pkg/budget"
)

const (
	componentName = "tempfilter"
	// durablePrefix names the ingress consumer when none is configured
	durablePrefix = "tempfilter"
)

// AckFunc reports the disposition of a delivered event back to its source
type AckFunc func(Disposition)

type ingressItem struct {
	ev  message.InboundEvent
	ack AckFunc
}

// runCycle is what one Start owns until its halt completes. A later Start
// gets a fresh cycle, so a run loop still draining never sees the new
// queue.
type runCycle struct {
	stage    *Stage
	ingress  chan ingressItem
	shutdown chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	halted   chan struct{}
}

func (c *runCycle) halting() bool {
	select {
	case <-c.halted:
		return false
	default:
		return true
	}
}

// Option configures a Processor
type Option func(*Processor)

// WithPublisher replaces the NATS client as the egress publisher
func WithPublisher(p Publisher) Option {
	return func(proc *Processor) {
		proc.publisher = p
	}
}

// Processor drives the filter stage from NATS. Ingress callbacks only
// enqueue work; one goroutine handles events, confirmations and expiry
// sweeps in turn.
type Processor struct {
	name       string
	cfg        config.FilterConfig
	platform   component.PlatformMeta
	natsClient *natsclient.Client
	publisher  Publisher
	logger     *slog.Logger
	metrics    *stageMetrics

	state    *FilterState
	budget   *budget.Budget
	configCh *ConfigChannel
	stage    *Stage

	// Lifecycle management
	cycle       *runCycle
	ingressMu   sync.RWMutex
	accepting   bool
	consumer    jetstream.ConsumeContext
	subs        []*nats.Subscription
	lifecycle   component.State
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	// Counters for Health and DataFlow
	received  atomic.Int64
	forwarded atomic.Int64
	abandoned atomic.Int64
	failed    atomic.Int64
	lastError atomic.Value // string
	lastSeen  atomic.Int64 // unix nanos
}

// NewProcessor creates the filter processor from its configuration
func NewProcessor(cfg config.FilterConfig, deps component.Dependencies, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "TempFilterProcessor", "NewProcessor", "validate config")
	}

	b, err := budget.New(cfg.CloneBudgetBytes)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TempFilterProcessor", "NewProcessor", "create clone budget")
	}

	logger := deps.GetLoggerWithComponent(componentName)

	metrics, err := newStageMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize tempfilter metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	state := NewFilterState(cfg.DefaultThreshold)
	metrics.setThreshold(state.Threshold())

	p := &Processor{
		name:       componentName,
		cfg:        cfg,
		platform:   deps.Platform,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    metrics,
		state:      state,
		budget:     b,
		configCh:   NewConfigChannel(state, logger, metrics),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.publisher == nil && p.natsClient != nil {
		p.publisher = p.natsClient
	}

	return p, nil
}

var _ component.LifecycleComponent = (*Processor)(nil)

// Initialize checks that an egress publisher is available
func (p *Processor) Initialize() error {
	if p.publisher == nil {
		p.setLifecycle(component.StateFailed)
		return errors.WrapFatal(errors.ErrMissingConfig, "TempFilterProcessor", "Initialize", "NATS client or publisher required")
	}
	if p.State() != component.StateStarted {
		p.setLifecycle(component.StateInitialized)
	}
	return nil
}

// State returns the lifecycle state
func (p *Processor) State() component.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lifecycle
}

func (p *Processor) setLifecycle(s component.State) {
	p.mu.Lock()
	p.lifecycle = s
	p.mu.Unlock()
}

// Start provisions streams, starts the configuration sources and the
// ingress consumer, then begins processing
func (p *Processor) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.State() == component.StateStarted {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "TempFilterProcessor", "Start", "check running state")
	}
	if p.cycle != nil && p.cycle.halting() {
		return errors.WrapTransient(errors.ErrShuttingDown, "TempFilterProcessor", "Start", "wait for previous run to drain")
	}
	if err := p.Initialize(); err != nil {
		return err
	}

	tracker, err := NewTracker(p.publisher, TrackerConfig{
		Subject:        p.cfg.Output.Subject,
		MaxInFlight:    p.cfg.MaxInFlight,
		ConfirmTimeout: p.cfg.ConfirmTimeout,
	})
	if err != nil {
		p.setLifecycle(component.StateFailed)
		return err
	}
	stage := NewStage(p.state, Extractor{Path: p.cfg.FieldPath}, NewTagger(p.budget), tracker,
		WithStageLogger(p.logger),
		WithParseLogRate(p.cfg.LogRatePerSec),
		withStageMetrics(p.metrics))
	p.mu.Lock()
	p.stage = stage
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	cycle := &runCycle{
		stage:    stage,
		ingress:  make(chan ingressItem, p.cfg.MaxInFlight),
		shutdown: make(chan struct{}),
		cancel:   cancel,
		halted:   make(chan struct{}),
	}
	p.subs = nil
	p.consumer = nil

	p.ingressMu.Lock()
	p.cycle = cycle
	p.accepting = true
	p.ingressMu.Unlock()

	cycle.wg.Add(1)
	go p.run(cycle)

	if p.natsClient != nil {
		if err := p.startSources(ctx, runCtx, cycle); err != nil {
			p.stopSources(cycle)
			p.halt(cycle)
			p.setLifecycle(component.StateFailed)
			return err
		}
	}

	p.mu.Lock()
	p.lifecycle = component.StateStarted
	p.startTime = time.Now()
	p.mu.Unlock()

	p.logger.Info("Temperature filter started",
		"input_subject", p.cfg.Input.Subject,
		"input_stream", p.cfg.Input.Stream,
		"output_subject", p.cfg.Output.Subject,
		"threshold", p.state.Threshold(),
		"field_path", p.cfg.FieldPath)

	return nil
}

// startSources wires the NATS side: output stream, configuration sources
// and ingress, in that order
func (p *Processor) startSources(ctx, runCtx context.Context, cycle *runCycle) error {
	if p.cfg.Output.Stream != "" {
		if err := p.ensureStream(ctx, p.cfg.Output.Stream, p.cfg.Output.Subject); err != nil {
			return err
		}
	}

	if p.cfg.Twin.Bucket != "" {
		store, err := p.natsClient.OpenDocStore(ctx, natsclient.DocStoreConfig{
			Bucket:      p.cfg.Twin.Bucket,
			Description: "Desired-state documents for the temperature filter",
		})
		if err != nil {
			return errors.WrapTransient(err, "TempFilterProcessor", "Start", "open twin bucket")
		}
		watcher, err := store.Watch(runCtx, p.cfg.Twin.Key)
		if err != nil {
			return errors.WrapTransient(err, "TempFilterProcessor", "Start", "watch "+p.cfg.Twin.Key)
		}
		cycle.wg.Add(1)
		go func() {
			defer cycle.wg.Done()
			p.configCh.RunKVWatch(runCtx, watcher)
		}()
	}

	if p.cfg.Twin.PatchSubject != "" {
		sub, err := p.natsClient.Subscribe(runCtx, p.cfg.Twin.PatchSubject, p.configCh.HandlePatch)
		if err != nil {
			return errors.WrapTransient(err, "TempFilterProcessor", "Start", "subscribe "+p.cfg.Twin.PatchSubject)
		}
		p.subs = append(p.subs, sub)
	}

	if p.cfg.Input.Stream == "" {
		sub, err := p.natsClient.Subscribe(runCtx, p.cfg.Input.Subject, p.handleCore)
		if err != nil {
			return errors.WrapTransient(err, "TempFilterProcessor", "Start", "subscribe "+p.cfg.Input.Subject)
		}
		p.subs = append(p.subs, sub)
		return nil
	}

	if err := p.ensureStream(ctx, p.cfg.Input.Stream, p.cfg.Input.Subject); err != nil {
		return err
	}
	consumer, err := p.natsClient.ConsumeStream(ctx, natsclient.ConsumerSpec{
		Stream:        p.cfg.Input.Stream,
		Durable:       p.durableName(),
		FilterSubject: p.cfg.Input.Subject,
		AckWait:       p.cfg.Input.AckWait,
		MaxAckPending: p.cfg.MaxInFlight,
		MaxDeliver:    p.cfg.Input.MaxDeliver,
	}, p.handleJetStream)
	if err != nil {
		return errors.WrapTransient(err, "TempFilterProcessor", "Start", "consume "+p.cfg.Input.Stream)
	}
	p.consumer = consumer
	return nil
}

// ensureStream creates the stream when it does not exist yet. An existing
// stream is left as configured.
func (p *Processor) ensureStream(ctx context.Context, name, subject string) error {
	if _, err := p.natsClient.GetStream(ctx, name); err == nil {
		return nil
	}
	_, err := p.natsClient.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return errors.WrapTransient(err, "TempFilterProcessor", "Start", "create stream "+name)
	}
	p.logger.Debug("Created stream", "stream", name, "subject", subject)
	return nil
}

func (p *Processor) durableName() string {
	if p.cfg.Input.Durable != "" {
		return p.cfg.Input.Durable
	}
	if p.platform.Platform != "" {
		return durablePrefix + "-" + p.platform.Platform
	}
	return durablePrefix
}

// Stop stops ingress, abandons queued events, settles what has already
// been confirmed and fails the rest
func (p *Processor) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.State() != component.StateStarted {
		return nil
	}

	cycle := p.cycle
	p.stopSources(cycle)
	go p.halt(cycle)

	select {
	case <-cycle.halted:
		// Clean shutdown
	case <-time.After(timeout):
		p.setLifecycle(component.StateFailed)
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"TempFilterProcessor", "Stop", "graceful shutdown")
	}

	p.setLifecycle(component.StateStopped)

	stats := cycle.stage.Stats()
	p.logger.Info("Temperature filter stopped",
		"events", p.state.Sequence(),
		"confirmed", stats.Confirmed,
		"failed", stats.Failed,
		"expired", stats.Expired)

	return nil
}

func (p *Processor) stopSources(cycle *runCycle) {
	if p.consumer != nil {
		p.consumer.Stop()
	}
	for _, sub := range p.subs {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Debug("Unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	cycle.cancel()
}

// halt closes the cycle's ingress and waits for its run loop and watchers
func (p *Processor) halt(cycle *runCycle) {
	close(cycle.shutdown)

	p.ingressMu.Lock()
	if p.cycle == cycle {
		p.accepting = false
	}
	close(cycle.ingress)
	p.ingressMu.Unlock()

	cycle.wg.Wait()
	close(cycle.halted)
}

// Deliver queues ev for the run loop. ack is called once with the event's
// disposition. On error ack is not called and the caller keeps the event.
func (p *Processor) Deliver(ctx context.Context, ev message.InboundEvent, ack AckFunc) error {
	if ev == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "TempFilterProcessor", "Deliver", "check event")
	}

	p.ingressMu.RLock()
	defer p.ingressMu.RUnlock()

	if !p.accepting {
		return errors.WrapTransient(errors.ErrNotStarted, "TempFilterProcessor", "Deliver", "check running state")
	}

	cycle := p.cycle
	select {
	case cycle.ingress <- ingressItem{ev: ev, ack: ack}:
		return nil
	case <-cycle.shutdown:
		return errors.WrapTransient(errors.ErrShuttingDown, "TempFilterProcessor", "Deliver", "queue event")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "TempFilterProcessor", "Deliver", "queue event")
	}
}

// ApplyConfig merges a configuration document handed in directly
func (p *Processor) ApplyConfig(doc []byte) (ConfigResult, error) {
	return p.configCh.Apply(doc, SourceDirect)
}

// Threshold returns the live threshold
func (p *Processor) Threshold() float64 {
	return p.state.Threshold()
}

// Sequence returns the number of events handled so far
func (p *Processor) Sequence() uint64 {
	return p.state.Sequence()
}

// Stats returns the forward tracking counters, zero before Start
func (p *Processor) Stats() TrackerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stage == nil {
		return TrackerStats{}
	}
	return p.stage.Stats()
}

// BudgetStats returns the clone budget accounting
func (p *Processor) BudgetStats() budget.Stats {
	return p.budget.Stats()
}

func (p *Processor) handleCore(ctx context.Context, msg *nats.Msg) {
	ev := message.FromNATS(msg)
	err := p.Deliver(ctx, ev, func(d Disposition) {
		p.logger.Debug("Event handled", "subject", msg.Subject, "disposition", d.String())
	})
	if err != nil {
		p.logger.Warn("Dropped event", "subject", msg.Subject, "error", err)
	}
}

func (p *Processor) handleJetStream(msg jetstream.Msg) {
	ev := message.FromNATS(&nats.Msg{
		Subject: msg.Subject(),
		Data:    msg.Data(),
		Header:  msg.Headers(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := p.Deliver(ctx, ev, func(d Disposition) { p.settleIngress(msg, d) })
	if err != nil {
		p.settleIngress(msg, DispositionAbandoned)
	}
}

// settleIngress acknowledges a JetStream delivery: accepted events are
// acked, abandoned ones are nak'd for redelivery
func (p *Processor) settleIngress(msg jetstream.Msg, d Disposition) {
	var err error
	if d == DispositionAbandoned {
		err = msg.Nak()
	} else {
		err = msg.Ack()
	}
	if err != nil {
		p.logger.Debug("Ingress acknowledgement failed",
			"subject", msg.Subject(),
			"disposition", d.String(),
			"error", err)
	}
}

// run is the single execution context for the cycle's stage
func (p *Processor) run(cycle *runCycle) {
	defer cycle.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	stage := cycle.stage
	confirmations := stage.Confirmations()
	for {
		select {
		case <-cycle.shutdown:
			p.drain(cycle)
			return
		case item, ok := <-cycle.ingress:
			if !ok {
				p.drain(cycle)
				return
			}
			p.handle(stage, item)
		case c := <-confirmations:
			p.settle(stage, c)
		case now := <-ticker.C:
			p.failed.Add(int64(len(stage.Sweep(now))))
		}
	}
}

func (p *Processor) handle(stage *Stage, item ingressItem) {
	p.received.Add(1)
	p.lastSeen.Store(time.Now().UnixNano())

	res := stage.Process(item.ev)
	switch res.Outcome {
	case AcceptedForwarded:
		p.forwarded.Add(1)
	case Abandoned:
		p.abandoned.Add(1)
		p.lastError.Store(res.Err.Error())
	}

	if item.ack != nil {
		item.ack(res.Outcome.Disposition())
	}
}

func (p *Processor) settle(stage *Stage, c Confirmation) {
	record := stage.Settle(c)
	if record != nil && record.State() == StateFailed {
		p.failed.Add(1)
		p.lastError.Store(record.Err().Error())
	}
}

// drain abandons queued events until Stop closes ingress, applies the
// confirmations that already arrived, then fails what is left
func (p *Processor) drain(cycle *runCycle) {
	abandoned := 0
	for item := range cycle.ingress {
		if item.ack != nil {
			item.ack(DispositionAbandoned)
		}
		abandoned++
	}
	if abandoned > 0 {
		p.logger.Info("Abandoned queued events at shutdown", "count", abandoned)
	}

	confirmations := cycle.stage.Confirmations()
	for {
		select {
		case c := <-confirmations:
			p.settle(cycle.stage, c)
		default:
			p.failed.Add(int64(len(cycle.stage.Close())))
			return
		}
	}
}

// Meta returns component metadata
func (p *Processor) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "processor",
		Description: "Forwards events whose temperature exceeds a live threshold, tagged as alerts",
		Version:     "1.0.0",
	}
}

// InputPorts returns the ingress port and the configuration sources
func (p *Processor) InputPorts() []component.Port {
	ports := make([]component.Port, 0, 3)

	var ingress component.Portable = component.NATSPort{Subject: p.cfg.Input.Subject}
	if p.cfg.Input.Stream != "" {
		ingress = component.JetStreamPort{
			StreamName:    p.cfg.Input.Stream,
			Subjects:      []string{p.cfg.Input.Subject},
			ConsumerName:  p.durableName(),
			AckPolicy:     "explicit",
			MaxAckPending: p.cfg.MaxInFlight,
		}
	}
	ports = append(ports, component.Port{
		Name:        "telemetry",
		Direction:   component.DirectionInput,
		Required:    true,
		Description: "Telemetry events carrying " + p.cfg.FieldPath,
		Config:      ingress,
	})

	if p.cfg.Twin.Bucket != "" {
		ports = append(ports, component.Port{
			Name:        "desired_state",
			Direction:   component.DirectionInput,
			Description: "Full desired-state documents",
			Config:      component.KVWatchPort{Bucket: p.cfg.Twin.Bucket, Keys: []string{p.cfg.Twin.Key}},
		})
	}
	if p.cfg.Twin.PatchSubject != "" {
		ports = append(ports, component.Port{
			Name:        "config_patch",
			Direction:   component.DirectionInput,
			Description: "Partial configuration documents",
			Config:      component.NATSPort{Subject: p.cfg.Twin.PatchSubject},
		})
	}

	return ports
}

// OutputPorts returns the alert egress port
func (p *Processor) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "alerts",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Tagged copies of events above the threshold",
			Config: component.JetStreamPort{
				StreamName: p.cfg.Output.Stream,
				Subjects:   []string{p.cfg.Output.Subject},
			},
		},
	}
}

// ConfigSchema returns the configuration schema
func (p *Processor) ConfigSchema() component.ConfigSchema {
	return Schema()
}

// Schema describes the filter section of the configuration
func Schema() component.ConfigSchema {
	one := 1
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"input.subject": {
				Type: "string", Description: "Ingress subject",
				Default: config.DefaultInputSubject, Category: "basic",
			},
			"output.subject": {
				Type: "string", Description: "Egress subject for alerts",
				Default: config.DefaultOutputSubject, Category: "basic",
			},
			"default_threshold": {
				Type: "float", Description: "Threshold used until a configuration document sets one",
				Default: config.DefaultThreshold, Category: "basic",
			},
			"field_path": {
				Type: "string", Description: "Dot-separated path of the measured value",
				Default: config.DefaultFieldPath, Category: "basic",
			},
			"twin.bucket": {
				Type: "string", Description: "KV bucket holding the desired-state document", Category: "basic",
			},
			"twin.key": {
				Type: "string", Description: "Key of the desired-state document", Category: "basic",
			},
			"twin.patch_subject": {
				Type: "string", Description: "Subject carrying partial configuration documents", Category: "basic",
			},
			"clone_budget_bytes": {
				Type: "int", Description: "Bytes available to copies awaiting confirmation",
				Default: config.DefaultCloneBudgetBytes, Minimum: &one, Category: "advanced",
			},
			"max_in_flight": {
				Type: "int", Description: "Copies allowed to await confirmation",
				Default: config.DefaultMaxInFlight, Minimum: &one, Category: "advanced",
			},
			"confirm_timeout": {
				Type: "duration", Description: "Time after which an unconfirmed copy fails",
				Default: config.DefaultConfirmTimeout.String(), Category: "advanced",
			},
			"sweep_interval": {
				Type: "duration", Description: "Interval between confirmation timeout sweeps",
				Default: config.DefaultSweepInterval.String(), Category: "advanced",
			},
		},
		Required: []string{"input.subject", "output.subject"},
	}
}

// Health returns the current health status
func (p *Processor) Health() component.HealthStatus {
	p.mu.RLock()
	running := p.lifecycle == component.StateStarted
	startTime := p.startTime
	p.mu.RUnlock()

	healthy := running
	if p.natsClient != nil && !p.natsClient.IsHealthy() {
		healthy = false
	}

	status := component.HealthStatus{
		Healthy:           healthy,
		LastCheck:         time.Now(),
		ErrorCount:        int(p.abandoned.Load() + p.failed.Load()),
		MessagesProcessed: p.received.Load(),
	}
	if running {
		status.Uptime = time.Since(startTime)
	}
	if last, ok := p.lastError.Load().(string); ok {
		status.LastError = last
	}
	return status
}

// DataFlow returns current data flow metrics
func (p *Processor) DataFlow() component.FlowMetrics {
	p.mu.RLock()
	startTime := p.startTime
	p.mu.RUnlock()

	received := p.received.Load()
	flow := component.FlowMetrics{}
	if received > 0 {
		flow.ErrorRate = float64(p.abandoned.Load()) / float64(received)
	}
	if !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			flow.MessagesPerSecond = float64(received) / elapsed
		}
	}
	if seen := p.lastSeen.Load(); seen > 0 {
		flow.LastActivity = time.Unix(0, seen)
	}
	return flow
}
