// Package main implements the entry point for the edge temperature filter.
// The process connects to NATS, runs one filter stage and serves Prometheus
// metrics and an aggregate health report until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/edgefilter/component"
	"github.com/c360/edgefilter/config"
	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/health"
	"github.com/c360/edgefilter/metric"
	"github.com/c360/edgefilter/natsclient"
	"github.com/c360/edgefilter/pkg/retry"
	"github.com/c360/edgefilter/processor/tempfilter"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "edgefilter"
)

const (
	connectTimeout       = 10 * time.Second
	healthSampleInterval = 5 * time.Second
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	if cliCfg.Describe {
		return describe(os.Stdout)
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instanceID := cfg.Platform.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	metricsRegistry := metric.NewMetricsRegistry()
	metricsRegistry.CoreMetrics().RecordBuildInfo(Version, BuildTime)
	natsClient, err := createNATSClient(cfg, instanceID, metricsRegistry, logger)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	defer closeNATS(natsClient, cliCfg.ShutdownTimeout)

	if err := connectToNATS(ctx, natsClient); err != nil {
		return err
	}

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		Platform: component.PlatformMeta{
			Org:        cfg.GetOrg(),
			Platform:   cfg.Platform.ID,
			InstanceID: instanceID,
		},
	}

	slog.Info("Platform identity configured",
		"org", deps.Platform.Org,
		"platform", deps.Platform.Platform,
		"instance_id", instanceID,
		"environment", cfg.Platform.Environment)

	filter, err := tempfilter.NewProcessor(cfg.Filter, deps)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	return runWithSignalHandling(ctx, cfg, filter, natsClient, metricsRegistry, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp(cliCfg)
		return nil, nil, true, nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting edge temperature filter",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := tempfilter.Schema().ValidateValue(cfg.Filter); err != nil {
		return nil, fmt.Errorf("filter configuration does not match schema: %w", err)
	}

	return cfg, nil
}

// createNATSClient builds the client from the connection settings
func createNATSClient(
	cfg *config.Config,
	instanceID string,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	core := registry.CoreMetrics()

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + instanceID),
		natsclient.WithLogger(newNATSLogger(logger)),
		natsclient.WithMetrics(registry),
		natsclient.WithPublishAsyncMaxPending(cfg.Filter.PublishAsyncMaxPending),
		natsclient.WithPublishAsyncTimeout(cfg.Filter.ConfirmTimeout),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout),
		natsclient.WithCircuitBreakerThreshold(int32(cfg.NATS.CircuitThreshold)),
		natsclient.WithMetricsInterval(cfg.Metrics.PollInterval),
		natsclient.WithReconnectCallback(core.RecordNATSReconnect),
		natsclient.WithHealthChangeCallback(core.RecordNATSStatus),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}

	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	token := cfg.NATS.Token
	if cfg.NATS.ConnectionString != "" {
		cs, err := config.ParseConnectionString(cfg.NATS.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("connection string: %w", err)
		}
		if cs.Token != "" {
			token = cs.Token
		}
	}
	if token != "" {
		opts = append(opts, natsclient.WithToken(token))
	}

	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	return natsclient.NewClient(cfg.NATSURLs()[0], opts...)
}

// connectToNATS establishes the NATS connection, retrying while the broker
// comes up, and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS", "url", config.MaskConnectionString(natsClient.URL()))

	policy := retry.Startup()
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		slog.Warn("NATS connection attempt failed", "attempt", attempt, "retry_in", delay, "error", err)
	}

	err := retry.Do(ctx, policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return natsClient.Connect(attemptCtx)
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// runWithSignalHandling starts the filter and the metrics endpoint, then
// blocks until ctx is cancelled by a signal
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	filter *tempfilter.Processor,
	natsClient *natsclient.Client,
	registry *metric.MetricsRegistry,
	shutdownTimeout time.Duration,
) error {
	core := registry.CoreMetrics()
	name := filter.Meta().Name
	record := func(err error) {
		core.RecordServiceStatus(name, int(filter.State()))
		if err != nil {
			core.RecordError(name, errors.Classify(err).String())
		}
	}

	err := filter.Initialize()
	record(err)
	if err != nil {
		return fmt.Errorf("initialize filter: %w", err)
	}

	err = filter.Start(ctx)
	record(err)
	if err != nil {
		return fmt.Errorf("start filter: %w", err)
	}
	slog.Info("Edge temperature filter started",
		"input", cfg.Filter.Input.Subject,
		"output", cfg.Filter.Output.Subject,
		"threshold", filter.Threshold())

	reporter := newHealthReporter(health.NewMonitor(3*healthSampleInterval), core, natsClient)
	reporter.track(filter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reporter.run(gctx, healthSampleInterval)
		return nil
	})

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, reporter.report)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		slog.Info("Metrics server listening", "address", server.Address())
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	stopErr := filter.Stop(shutdownTimeout)
	record(stopErr)

	stats := filter.Stats()
	slog.Info("Filter stopped",
		"events", filter.Sequence(),
		"forwarded", stats.Submitted,
		"confirmed", stats.Confirmed,
		"failed", stats.Failed)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", stopErr)
	}

	slog.Info("Edge temperature filter shutdown complete")
	return nil
}

func closeNATS(natsClient *natsclient.Client, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := natsClient.Close(ctx); err != nil {
		slog.Warn("Closing NATS client failed", "error", err)
	}
}

// printHelp prints help information
func printHelp(cliCfg *CLIConfig) {
	printDetailedHelp(cliCfg.flags)
}

// loadConfig loads configuration from path, or from defaults and the
// environment when path is empty
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// describe writes the filter's self-description with its configuration
// JSON Schema, built from the default configuration
func describe(w io.Writer) error {
	filter, err := tempfilter.NewProcessor(config.DefaultFilterConfig(), component.Dependencies{
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	out := struct {
		component.Description
		JSONSchema map[string]any `json:"json_schema"`
	}{
		Description: component.Describe(filter),
		JSONSchema:  filter.ConfigSchema().JSONSchema(),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
