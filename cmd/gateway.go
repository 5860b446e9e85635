package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/galaxyproto/caduceus/internal/gateway"
)

func gatewayCmd() *cobra.Command {
	var testMode bool

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway daemon (channels, executor, pollers)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway(testMode)
		},
	}
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "validate config and wiring, print a summary, and exit")
	return cmd
}

func runGateway(testMode bool) {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	g, err := gateway.New(cfg)
	if err != nil {
		slog.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}

	if testMode {
		fmt.Print(g.Summary())
		fmt.Println("Config OK")
		g.Close()
		return
	}

	if err := g.Run(context.Background()); err != nil && err != context.Canceled {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}
