package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/maestros/internal/config"
	"github.com/mtzanidakis/maestros/internal/llm"
	"github.com/mtzanidakis/maestros/internal/natsbus"
	"github.com/mtzanidakis/maestros/internal/peers"
	"github.com/mtzanidakis/maestros/internal/remote"
	"github.com/mtzanidakis/maestros/internal/router"
	"github.com/mtzanidakis/maestros/internal/runtime"
	"github.com/mtzanidakis/maestros/internal/scheduler"
	"github.com/mtzanidakis/maestros/internal/specialist"
	"github.com/mtzanidakis/maestros/internal/store"
	"github.com/mtzanidakis/maestros/internal/tracker"
	"github.com/mtzanidakis/maestros/internal/vault"
	"github.com/mtzanidakis/maestros/internal/web"
	"github.com/mtzanidakis/maestros/internal/workflow"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("maestros %s\n", version)
	case "gateway":
		err = runGateway()
	case "submit":
		err = runSubmit(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: maestros <command>

Commands:
  gateway    Start the maestros gateway service
  submit     Submit a workflow to a running gateway
  status     Show gateway status or one execution
  backup     Archive the data directory
  restore    Restore a data directory archive
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting maestros gateway", "version", version, "workspace", cfg.Workspace.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()

	busClient, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer busClient.Close()

	// Secrets vault, enabled when a passphrase is set
	var secrets *vault.Manager
	if pass := os.Getenv("MAESTROS_VAULT_PASSPHRASE"); pass != "" {
		secrets = vault.NewManager(vault.NewCipher(pass), db)
		slog.Info("vault unlocked")
	} else {
		slog.Warn("vault passphrase not set, secrets disabled")
	}

	// Specialist registry and peer directory
	reg := specialist.New(db)
	dir := peers.New("", cfg.Workspace.BasePort)

	for _, def := range cfg.Specialists {
		handle := buildInvoker(cfg, def, busClient)
		if _, err := reg.Add(def.Name, def.Role, def.Capabilities, handle, specialist.ModelConfig{
			Model:        def.Model,
			Temperature:  def.Temperature,
			SystemPrompt: def.SystemPrompt,
		}); err != nil {
			return fmt.Errorf("register specialist %s: %w", def.Name, err)
		}
		dir.Assign(def.Name)
	}

	names := make([]string, 0, len(cfg.Specialists))
	for _, def := range cfg.Specialists {
		names = append(names, def.Name)
	}
	if err := dir.LinkAll(names); err != nil {
		return fmt.Errorf("link peers: %w", err)
	}
	slog.Info("peer directory built", "agents", len(names))

	if failures := reg.InitializeAll(ctx); failures != nil {
		for name, err := range failures {
			slog.Warn("specialist failed to initialize", "specialist", name, "error", err)
		}
	}
	defer reg.ShutdownAll(context.Background())

	// Routing and workflow execution
	rtr := router.New(nil, cfg.Router.DefaultRole)
	events := natsbus.NewEvents(busClient)
	engine := workflow.NewEngine(reg, rtr, db, events, cfg.Engine.StepTimeout)
	trk := tracker.New(engine, db, cfg.Engine.MaxRetained)

	// Container runtime; optional, the gateway runs fine without Docker
	var runMgr *runtime.Manager
	if mgr, err := runtime.NewManager(cfg.Runtime); err != nil {
		slog.Warn("container runtime unavailable", "error", err)
	} else {
		runMgr = mgr
		if err := runMgr.CleanupStale(ctx); err != nil {
			slog.Warn("stale container cleanup failed", "error", err)
		}
		defer runMgr.StopAll(context.Background())
	}

	// Scheduler
	sched := scheduler.New(db, trk, cfg.Scheduler)
	go sched.Start(ctx)

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(web.Deps{
			Store:       db,
			Bus:         bus,
			Registry:    reg,
			Tracker:     trk,
			Peers:       dir,
			Runtime:     runMgr,
			Secrets:     secrets,
			Definitions: cfg.Specialists,
			Version:     version,
		}, cfg.Web)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}

// buildInvoker picks the handle for a specialist: a bus-backed invoker for
// remote definitions, an in-process LLM client otherwise.
func buildInvoker(cfg *config.Config, def config.SpecialistDefinition, busClient *natsbus.Client) specialist.Invoker {
	if def.Remote {
		return remote.NewInvoker(busClient, def.Name)
	}
	return llm.New(cfg.Anthropic.APIKey, cfg.Anthropic.MaxTokens, specialist.ModelConfig{
		Model:        def.Model,
		Temperature:  def.Temperature,
		SystemPrompt: def.SystemPrompt,
	})
}
