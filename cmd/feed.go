package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/galaxyproto/caduceus/internal/feed"
	"github.com/galaxyproto/caduceus/internal/machines"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

func feedCmd() *cobra.Command {
	var (
		note   string
		enrich bool
	)

	cmd := &cobra.Command{
		Use:   "feed <url> [note...]",
		Short: "Capture a URL as a reference in the default machine's checkout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry := machines.NewRegistry(cfg)
			machine, ok := registry.Resolve("")
			if !ok {
				return fmt.Errorf("default machine %q is not registered", registry.DefaultName())
			}
			root := machine.RepoPath

			if note == "" && len(args) > 1 {
				note = strings.Join(args[1:], " ")
			}

			var enricher *feed.Enricher
			if enrich {
				store := orders.NewStore(root)
				enricher = feed.NewEnricher(root, store, sessions.NewEventLog(root))
			}
			processor := feed.NewProcessor(root, feed.URLExtractor{}, enricher)

			result, err := processor.Process(context.Background(), args[0], note, "cli", "")
			if err != nil {
				return err
			}
			if enricher != nil {
				slog.Info("waiting for enrichment")
				enricher.Wait()
			}

			verb := "saved"
			if result.UpdatedExisting {
				verb = "updated"
			}
			fmt.Printf("✓ Reference %s: %s (%s)\n", verb, result.Slug, result.Type)
			fmt.Printf("  file: %s\n", result.FilePath)
			fmt.Printf("  tags: %s\n", strings.Join(result.Tags, ", "))
			if result.Warning != "" {
				fmt.Printf("  ⚠️ %s\n", result.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note to attach to the reference")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "run repository enrichment and wait for it")
	return cmd
}
