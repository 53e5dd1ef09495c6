package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rendezvous/go/internal/gateway"
	"github.com/mcdev12/rendezvous/go/internal/markers"
	"github.com/mcdev12/rendezvous/go/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const evictInterval = time.Hour

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the reconciliation engine and the viewer gateway",
		Long: `Start the engine: the reconciliation loop, the session sweeper, the
next-round highlighter and the viewer gateway (WebSocket + REST).

Example:
  roundsync run
  PARTICIPANT_TOKEN=abc MARKER_BACKEND=redis roundsync run -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), opts)
		},
	}
}

func runEngine(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := opts.cfg

	shutdownTracing, err := telemetry.Setup(ctx, "roundsync", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	if cfg.ParticipantToken == "" {
		log.Warn().Msg("PARTICIPANT_TOKEN is empty; the backend will reject dashboard requests")
	}

	srv := setupServer(cfg, services)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return services.Engine.Run(ctx) })
	g.Go(func() error { return gateway.Serve(ctx, srv, services.Hub) })
	if cfg.MarkerRetention > 0 {
		g.Go(func() error {
			evictLoop(ctx, services.Markers, cfg.MarkerRetention)
			return nil
		})
	}

	log.Info().
		Str("backend", cfg.BackendURL).
		Str("gateway", cfg.GatewayAddr).
		Str("markers", cfg.MarkerBackend).
		Msg("roundsync started")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("roundsync stopped")
	return nil
}

// evictLoop drops markers older than retention once an hour, by wall-clock age.
func evictLoop(ctx context.Context, store markers.Store, retention time.Duration) {
	clk := clockwork.NewRealClock()
	ticker := clk.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		if _, err := markers.Evict(ctx, store, clk.Now(), retention); err != nil {
			log.Warn().Err(err).Msg("marker eviction failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}
