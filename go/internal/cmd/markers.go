package main

import (
	"fmt"
	"time"

	"github.com/mcdev12/rendezvous/go/internal/markers"
	"github.com/spf13/cobra"
)

func newMarkersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Maintain idempotency and notification markers",
	}
	cmd.AddCommand(newMarkersSweepCommand(opts))
	return cmd
}

func newMarkersSweepCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evict markers older than the retention",
		Long: `Evict markers older than --older-than (default MARKER_RETENTION).
Evicting a matched marker lets its redirect fire again, so keep the retention
longer than any round.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention := olderThan
			if retention == 0 {
				retention = opts.cfg.MarkerRetention
			}
			if retention <= 0 {
				return fmt.Errorf("no retention configured: pass --older-than or set MARKER_RETENTION")
			}

			store, err := setupMarkerStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer store.close()

			n, err := markers.Evict(cmd.Context(), store, time.Now(), retention)
			if err != nil {
				return fmt.Errorf("failed to evict markers: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "evicted %d markers older than %s\n", n, retention)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "evict markers set before now minus this duration")
	return cmd
}
