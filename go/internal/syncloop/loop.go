// Package syncloop polls the backend for the participant dashboard and hands each
// snapshot to the engine for merging.
package syncloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/mcdev12/rendezvous/go/internal/syncloop")

type Fetcher interface {
	Dashboard(ctx context.Context) (dashboard.Snapshot, error)
}

// Sink receives fetch results.
type Sink interface {
	// Loaded reports whether any snapshot has been applied yet.
	Loaded() bool
	Reconcile(ctx context.Context, snap dashboard.Snapshot)
	// LoadFailed is only called while nothing has been loaded.
	LoadFailed(err error)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Visible is the initial visibility.
	Visible bool
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  15 * time.Second,
		Visible:  true,
	}
}

type Loop struct {
	fetcher Fetcher
	sink    Sink
	clock   clock.Source
	config  Config
	metrics MetricsCollector

	visCh    chan bool
	pollCh   chan struct{}
	inFlight atomic.Bool
	again    atomic.Bool
	visible  atomic.Bool
	wg       sync.WaitGroup
}

func NewLoop(fetcher Fetcher, sink Sink, clk clock.Source, cfg Config, metrics MetricsCollector) *Loop {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	l := &Loop{
		fetcher: fetcher,
		sink:    sink,
		clock:   clk,
		config:  cfg,
		metrics: metrics,
		visCh:   make(chan bool, 1),
		pollCh:  make(chan struct{}, 1),
	}
	l.visible.Store(cfg.Visible)
	return l
}

// SetVisible pauses or resumes polling. Becoming visible fetches immediately.
func (l *Loop) SetVisible(visible bool) {
	for {
		select {
		case l.visCh <- visible:
			return
		default:
		}
		// Drop a stale, unconsumed value; only the latest matters.
		select {
		case <-l.visCh:
		default:
		}
	}
}

func (l *Loop) Visible() bool {
	return l.visible.Load()
}

// PollNow requests an immediate fetch, visible or not. A request made while a
// fetch is in flight runs once that fetch completes.
func (l *Loop) PollNow() {
	select {
	case l.pollCh <- struct{}{}:
	default:
	}
}

func (l *Loop) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", l.config.Interval).
		Dur("timeout", l.config.Timeout).
		Bool("visible", l.visible.Load()).
		Msg("reconciliation loop started")

	var (
		ticker clockwork.Ticker
		tickCh <-chan time.Time
	)
	startTicker := func() {
		ticker = l.clock.NewTicker(l.config.Interval)
		tickCh = ticker.Chan()
	}
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickCh = nil, nil
		}
	}
	defer stopTicker()

	if l.visible.Load() {
		startTicker()
		l.cycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			log.Info().Msg("reconciliation loop stopped")
			return nil
		case v := <-l.visCh:
			if v == l.visible.Load() {
				continue
			}
			l.visible.Store(v)
			if v {
				log.Info().Msg("view visible, resuming reconciliation")
				startTicker()
				l.cycle(ctx)
			} else {
				log.Info().Msg("view hidden, pausing reconciliation")
				stopTicker()
			}
		case <-tickCh:
			l.cycle(ctx)
		case <-l.pollCh:
			l.requestPoll(ctx)
		}
	}
}

// cycle starts a fetch unless one is in flight.
func (l *Loop) cycle(ctx context.Context) bool {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.metrics.RecordSkipped()
		log.Debug().Msg("fetch in flight, skipping cycle")
		return false
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.fetch(ctx)
		l.finish()
	}()
	return true
}

// requestPoll runs a cycle now, or after the in-flight fetch completes. The
// flag is raised before the in-flight check so a fetch finishing between the
// two still sees it.
func (l *Loop) requestPoll(ctx context.Context) {
	l.again.Store(true)
	if l.cycle(ctx) {
		l.again.Store(false)
	}
}

func (l *Loop) finish() {
	l.inFlight.Store(false)
	if l.again.Swap(false) {
		l.PollNow()
	}
}

func (l *Loop) fetch(ctx context.Context) {
	issued := l.clock.Now()
	fctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()
	fctx, span := tracer.Start(fctx, "syncloop.fetch")
	defer span.End()

	snap, err := l.fetcher.Dashboard(fctx)
	elapsed := l.clock.Now().Sub(issued)
	if err != nil {
		l.metrics.RecordFetch(false, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("timeout", l.config.Timeout).Msg("dashboard fetch timed out")
		}
		if !l.sink.Loaded() {
			log.Error().Err(err).Msg("initial dashboard load failed")
			l.sink.LoadFailed(err)
			return
		}
		log.Warn().Err(err).Msg("dashboard fetch failed, keeping cached state")
		return
	}

	l.metrics.RecordFetch(true, elapsed)
	snap.IssuedAt = issued
	l.sink.Reconcile(ctx, snap)
}
