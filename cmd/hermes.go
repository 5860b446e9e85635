package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/galaxyproto/caduceus/internal/agent"
	"github.com/galaxyproto/caduceus/internal/hermes"
	"github.com/galaxyproto/caduceus/internal/machines"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

func hermesCmd() *cobra.Command {
	var (
		machineName string
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "hermes",
		Short: "Run the order-processing daemon on this machine",
		Run: func(cmd *cobra.Command, args []string) {
			runHermes(machineName, interval)
		},
	}
	cmd.Flags().StringVar(&machineName, "machine", "", "machine name from config (default: the default machine)")
	cmd.Flags().DurationVar(&interval, "interval", hermes.DefaultInterval, "poll interval for pending orders")
	return cmd
}

func runHermes(machineName string, interval time.Duration) {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	registry := machines.NewRegistry(cfg)
	machine, ok := registry.Resolve(machineName)
	if !ok {
		slog.Error("unknown machine", "machine", machineName, "known", registry.Names())
		os.Exit(1)
	}

	root := machine.RepoPath
	store := orders.NewStore(root)
	events := sessions.NewEventLog(root)
	tracker := sessions.NewTracker(root, sessions.RoleHermes)
	runner := agent.NewRunner(root, "hermes", tracker, events)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon := hermes.New(store, runner, events, machine.Name, interval)
	if err := daemon.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("hermes exited", "error", err)
		os.Exit(1)
	}
}
