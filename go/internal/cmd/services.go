package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rendezvous/go/internal/backend"
	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/config"
	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/mcdev12/rendezvous/go/internal/engine"
	"github.com/mcdev12/rendezvous/go/internal/events"
	"github.com/mcdev12/rendezvous/go/internal/gateway"
	"github.com/mcdev12/rendezvous/go/internal/lifecycle"
	"github.com/mcdev12/rendezvous/go/internal/markers"
	"github.com/mcdev12/rendezvous/go/internal/mutation"
	"github.com/mcdev12/rendezvous/go/internal/syncloop"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Engine      *engine.Engine
	Coordinator *mutation.Coordinator
	Hub         *gateway.Hub
	Publisher   events.Publisher
	Markers     *markerStore
}

func (s *Services) Close() {
	if err := s.Publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event publisher")
	}
	s.Markers.close()
}

func setupPublisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.NewLogPublisher(), nil
	}
	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	jsCfg.StreamName = cfg.NATSStream
	jsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
	return events.NewJetStreamPublisher(ctx, jsCfg)
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Clock → Store → Lifecycle → Engine → Mutations → Gateway
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	base := clockwork.NewRealClock()
	clk, err := clock.NewSimulated(base, clock.NewFileOffsetStore(cfg.ClockStateFile, base))
	if err != nil {
		return nil, fmt.Errorf("failed to restore clock: %w", err)
	}

	ms, err := setupMarkerStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, cfg)
	if err != nil {
		ms.close()
		return nil, err
	}

	var collector syncloop.MetricsCollector = syncloop.NoOpMetricsCollector{}
	if metrics, err := syncloop.NewOTelMetrics(nil); err != nil {
		log.Warn().Err(err).Msg("metrics unavailable")
	} else {
		collector = metrics
	}

	client := backend.NewClient(cfg.BackendURL, cfg.ParticipantToken, cfg.BackendBearer)
	store := dashboard.NewStore(dashboard.WithClock(clk))

	sweeper := lifecycle.NewSweeper(store, client, clk, loc, lifecycle.SweeperConfig{
		Interval:       cfg.SweepInterval,
		PersistTimeout: cfg.RequestTimeout,
	})
	highlighter := lifecycle.NewHighlighter(store, clk, loc, cfg.SimulatedTick)

	eng := engine.New(engine.Deps{
		Store:       store,
		Clock:       clk,
		Location:    loc,
		Sweeper:     sweeper,
		Highlighter: highlighter,
		Gate:        markers.NewGate(ms, clk),
		Publisher:   publisher,
		Metrics:     collector,
	})

	loop := syncloop.NewLoop(client, eng, clk, syncloop.Config{
		Interval: cfg.PollInterval,
		Timeout:  cfg.FetchTimeout,
		Visible:  cfg.PollWithoutViewers,
	}, collector)
	eng.SetLoop(loop)

	coordinator := mutation.NewCoordinator(store, client, ms, clk, publisher, mutation.Config{
		ConfirmWindow:    cfg.ConfirmSuppression,
		RegisterWindow:   cfg.RegisterSuppression,
		UnregisterWindow: cfg.UnregisterSuppression,
		RequestTimeout:   cfg.RequestTimeout,
		Location:         loc,
	})
	coordinator.SetRefresher(eng)
	coordinator.SetSweepTrigger(sweeper)

	hubCfg := gateway.DefaultHubConfig()
	hubCfg.PollWithoutViewers = cfg.PollWithoutViewers
	hub := gateway.NewHub(hubCfg, eng)
	hub.SetInitial(func() []gateway.Envelope {
		view := eng.View()
		envs := []gateway.Envelope{
			{Type: engine.MessageSnapshot, Data: view},
			{Type: engine.MessageNextRound, Data: view.NextRound},
		}
		for _, r := range eng.TakeRedirects() {
			envs = append(envs, gateway.Envelope{Type: engine.MessageRedirect, Data: r})
		}
		return envs
	})
	eng.SetBroadcaster(hub)

	return &Services{
		Engine:      eng,
		Coordinator: coordinator,
		Hub:         hub,
		Publisher:   publisher,
		Markers:     ms,
	}, nil
}
