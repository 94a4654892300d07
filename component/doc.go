// Package component defines the contracts shared by edgefilter components:
// self-description (Discoverable), lifecycle management (LifecycleComponent),
// the ports a component reads and writes, and the Dependencies handed to it at
// construction.
//
// A component is created from raw JSON configuration plus Dependencies, then
// driven through Initialize, Start and Stop:
//
//	proc, err := tempfilter.NewProcessor(rawConfig, component.Dependencies{
//	    NATSClient:      client,
//	    MetricsRegistry: registry,
//	    Logger:          logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := proc.Initialize(); err != nil {
//	    return err
//	}
//	if err := proc.Start(ctx); err != nil {
//	    return err
//	}
//	defer proc.Stop(5 * time.Second)
//
// Components never store the context passed to Start beyond deriving their
// own cancellable child from it.
package component
