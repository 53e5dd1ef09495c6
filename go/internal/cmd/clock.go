package main

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/spf13/cobra"
)

func newClockCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clock",
		Short: "Inspect or move the simulated clock",
		Long: `Manage the persisted clock offset. A running engine picks the offset up on
restart; use PUT /clock on the gateway to move a live engine.`,
	}
	cmd.AddCommand(newClockSetCommand(opts), newClockClearCommand(opts), newClockShowCommand(opts))
	return cmd
}

func openClock(opts *rootOptions) (*clock.Simulated, error) {
	base := clockwork.NewRealClock()
	sim, err := clock.NewSimulated(base, clock.NewFileOffsetStore(opts.cfg.ClockStateFile, base))
	if err != nil {
		return nil, fmt.Errorf("failed to open clock state %s: %w", opts.cfg.ClockStateFile, err)
	}
	return sim, nil
}

func newClockSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <RFC3339 time>",
		Short:   "Simulate the given time",
		Example: `  roundsync clock set 2024-06-01T18:30:00+02:00`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("invalid time %q: %w", args[0], err)
			}
			sim, err := openClock(opts)
			if err != nil {
				return err
			}
			if err := sim.Set(target); err != nil {
				return err
			}
			return printClock(cmd, sim, opts)
		},
	}
}

func newClockClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Return to real time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := openClock(opts)
			if err != nil {
				return err
			}
			if err := sim.Clear(); err != nil {
				return err
			}
			return printClock(cmd, sim, opts)
		},
	}
}

func newClockShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := openClock(opts)
			if err != nil {
				return err
			}
			return printClock(cmd, sim, opts)
		},
	}
}

func printClock(cmd *cobra.Command, sim *clock.Simulated, opts *rootOptions) error {
	loc, err := opts.cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	out := cmd.OutOrStdout()
	now := sim.Now().In(loc)
	if offset, ok := sim.Offset(); ok {
		_, err = fmt.Fprintf(out, "simulated: %s (offset %s)\n", now.Format(time.RFC3339), offset.Round(time.Second))
		return err
	}
	_, err = fmt.Fprintf(out, "real: %s\n", now.Format(time.RFC3339))
	return err
}
