package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/yume/backend"
	"github.com/teranos/yume/config"
	"github.com/teranos/yume/dream"
	"github.com/teranos/yume/engine"
	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/modes"
	"github.com/teranos/yume/server"
	"github.com/teranos/yume/store"
	"github.com/teranos/yume/sym"
	"github.com/teranos/yume/version"
)

// ServeCmd starts the yume daemon
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the yume daemon",
	Long:    `Launch the render daemon: worker pool, WebSocket session hub, HTTP bridge, and dream controller. Connect a client to /v1/ws to submit jobs and stream progress.`,
	RunE:    runServe,
}

var (
	serveHost      string
	servePort      int
	serveModesPath string
	serveFlowsPath string
)

func init() {
	ServeCmd.Flags().StringVar(&serveHost, "host", "", "Bind address (overrides server.host)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	ServeCmd.Flags().StringVar(&serveModesPath, "modes", "", "Mode catalog path (overrides modes.path)")
	ServeCmd.Flags().StringVar(&serveFlowsPath, "workflows", "", "Workflow catalog path (overrides workflows.path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	applyServeFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	manager, err := modes.NewManager(cfg.Modes.Path)
	if err != nil {
		return errors.Wrap(err, "failed to load mode catalog")
	}
	flows, err := modes.NewWorkflowManager(cfg.Workflows.Path)
	if err != nil {
		return errors.Wrap(err, "failed to load workflow catalog")
	}

	registry := backend.NewModelRegistry(backend.HostMemory)
	factory := backend.NewFactory(manager, registry, backend.FactoryOptions{
		StepDelay: cfg.Worker.StepDelay(),
	})

	outputs := store.NewOutputStore()
	pool, err := engine.NewPool(factory, manager, registry, outputs, engine.Options{
		QueueMax:    cfg.Queue.Max,
		JobTimeout:  cfg.Pool.JobTimeout(),
		StopTimeout: cfg.Pool.StopTimeout(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create worker pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	refs := store.NewRefStore(cfg.FileRef.TTL())
	go refs.Run(ctx, cfg.FileRef.Sweep())

	ctrl := dream.NewController(pool, manager, dream.Options{
		Interval: cfg.Dream.Interval(),
		Keep:     cfg.Dream.Keep,
	})

	srv := server.New(*cfg, pool, manager, flows, refs, outputs, ctrl)

	printStartupBanner(cfg, manager)

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan struct{})
		go func() {
			srv.Stop()
			close(shutdownDone)
		}()

		// Wait for either shutdown completion or second Ctrl+C
		select {
		case <-shutdownDone:
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// applyServeFlags lets command-line flags win over file and env config.
func applyServeFlags(cfg *config.Config) {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort > 0 {
		cfg.Server.Port = &servePort
	}
	if serveModesPath != "" {
		cfg.Modes.Path = serveModesPath
	}
	if serveFlowsPath != "" {
		cfg.Workflows.Path = serveFlowsPath
	}
}

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *config.Config, manager *modes.Manager) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	magenta := "\033[35m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔══════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                          ║\n")
	fmt.Printf("   ║   ██    ██ ██    ██ ███    ███ ██████    ║\n")
	fmt.Printf("   ║    ██  ██  ██    ██ ████  ████ ██        ║\n")
	fmt.Printf("   ║     ████   ██    ██ ██ ████ ██ █████     ║\n")
	fmt.Printf("   ║      ██    ██    ██ ██  ██  ██ ██        ║\n")
	fmt.Printf("   ║      ██     ██████  ██      ██ ██████    ║\n")
	fmt.Printf("   ║                                          ║\n")
	fmt.Printf("   ║   %s%s%s Render  %s%s%s Dream  %s%s%s Sessions  %s%s%s Store ║\n",
		green, sym.Render, reset+cyan+bold,
		magenta, sym.Dream, reset+cyan+bold,
		blue, sym.WS, reset+cyan+bold,
		yellow, sym.Store, reset+cyan+bold)
	fmt.Printf("   ║                                          ║\n")
	fmt.Printf("   ╚══════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ yume ──────────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Modes:     %s (%d modes, default %s)\n", green, reset, cfg.Modes.Path, len(manager.List()), manager.Default())
	fmt.Printf("%s│%s Workflows: %s\n", green, reset, cfg.Workflows.Path)
	fmt.Printf("%s│%s Backend:   %s\n", green, reset, backend.BackendName)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Connect a client to ws://%s/v1/ws%s\n", yellow, bold, cfg.Server.Addr(), reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
