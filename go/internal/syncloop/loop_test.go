package syncloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rendezvous/go/internal/clock"
	"github.com/mcdev12/rendezvous/go/internal/dashboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	calls atomic.Int32
	err   atomic.Value
	gate  chan struct{}
}

func (f *fakeFetcher) Dashboard(ctx context.Context) (dashboard.Snapshot, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return dashboard.Snapshot{}, ctx.Err()
		}
	}
	if err, ok := f.err.Load().(error); ok && err != nil {
		return dashboard.Snapshot{}, err
	}
	return dashboard.Snapshot{Participant: dashboard.Participant{ID: "p1"}}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	loaded   bool
	snaps    []dashboard.Snapshot
	failures []error
}

func (s *fakeSink) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *fakeSink) Reconcile(_ context.Context, snap dashboard.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.snaps = append(s.snaps, snap)
}

func (s *fakeSink) LoadFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *fakeSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps), len(s.failures)
}

type harness struct {
	fake    *clockwork.FakeClock
	fetcher *fakeFetcher
	sink    *fakeSink
	loop    *Loop
	cancel  context.CancelFunc
	done    chan struct{}
}

func start(t *testing.T, visible bool, fetcher *fakeFetcher) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Visible = visible
	return startWithConfig(t, cfg, fetcher)
}

func startWithConfig(t *testing.T, cfg Config, fetcher *fakeFetcher) *harness {
	t.Helper()
	h := &harness{
		fake:    clockwork.NewFakeClockAt(t0),
		fetcher: fetcher,
		sink:    &fakeSink{},
		done:    make(chan struct{}),
	}
	h.loop = NewLoop(fetcher, h.sink, clock.NewReal(h.fake), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.loop.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) waitForTicker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.fake.BlockUntilContext(ctx, 1))
}

func (h *harness) snapshots() int {
	n, _ := h.sink.counts()
	return n
}

func TestLoopFetchesImmediatelyAndOnTick(t *testing.T) {
	h := start(t, true, &fakeFetcher{})
	require.Eventually(t, func() bool { return h.snapshots() == 1 }, time.Second, 5*time.Millisecond)

	h.waitForTicker(t)
	h.fake.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return h.snapshots() == 2 }, time.Second, 5*time.Millisecond)

	h.sink.mu.Lock()
	assert.Equal(t, t0, h.sink.snaps[0].IssuedAt)
	h.sink.mu.Unlock()
}

func TestLoopPausesWhileHidden(t *testing.T) {
	h := start(t, false, &fakeFetcher{})

	h.fake.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.fetcher.calls.Load())

	h.loop.SetVisible(true)
	require.Eventually(t, func() bool { return h.snapshots() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.loop.Visible())

	h.loop.SetVisible(false)
	require.Eventually(t, func() bool { return !h.loop.Visible() }, time.Second, 5*time.Millisecond)
	h.fake.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.snapshots())
}

func TestLoopPollNowWhileHidden(t *testing.T) {
	h := start(t, false, &fakeFetcher{})
	h.loop.PollNow()
	require.Eventually(t, func() bool { return h.snapshots() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoopSkipsWhileInFlightAndReruns(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	h := start(t, true, fetcher)
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A tick during the in-flight fetch is skipped; a poll request is queued.
	h.waitForTicker(t)
	h.fake.Advance(5 * time.Second)
	h.loop.PollNow()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	fetcher.gate <- struct{}{}
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	fetcher.gate <- struct{}{}
	require.Eventually(t, func() bool { return h.snapshots() == 2 }, time.Second, 5*time.Millisecond)
}

func TestLoopFirstLoadFailureIsReported(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.err.Store(errors.New("connection refused"))
	h := start(t, true, fetcher)

	require.Eventually(t, func() bool {
		_, failures := h.sink.counts()
		return failures == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLoopLaterFailureKeepsState(t *testing.T) {
	fetcher := &fakeFetcher{}
	h := start(t, true, fetcher)
	require.Eventually(t, func() bool { return h.snapshots() == 1 }, time.Second, 5*time.Millisecond)

	fetcher.err.Store(errors.New("timeout"))
	h.waitForTicker(t)
	h.fake.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	snaps, failures := h.sink.counts()
	assert.Equal(t, 1, snaps)
	assert.Zero(t, failures)
}

func TestLoopFetchTimeout(t *testing.T) {
	// The gate is never fed, so every fetch blocks until its deadline.
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Millisecond
	h := startWithConfig(t, cfg, fetcher)

	require.Eventually(t, func() bool {
		_, failures := h.sink.counts()
		return failures == 1
	}, time.Second, 5*time.Millisecond)
	h.sink.mu.Lock()
	assert.ErrorIs(t, h.sink.failures[0], context.DeadlineExceeded)
	h.sink.mu.Unlock()
	require.Eventually(t, func() bool { return !h.loop.inFlight.Load() }, time.Second, 5*time.Millisecond)

	// Once loaded, a timed out fetch keeps the cached state.
	h.sink.mu.Lock()
	h.sink.loaded = true
	h.sink.mu.Unlock()
	h.waitForTicker(t)
	h.fake.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !h.loop.inFlight.Load() }, time.Second, 5*time.Millisecond)
	snaps, failures := h.sink.counts()
	assert.Zero(t, snaps)
	assert.Equal(t, 1, failures)
	assert.True(t, h.sink.Loaded())

	// The next tick fetches again.
	close(fetcher.gate)
	h.fake.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return h.snapshots() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), fetcher.calls.Load())
}

func TestLoopPollRequestedDuringFetchIsQueued(t *testing.T) {
	l := NewLoop(&fakeFetcher{}, &fakeSink{}, clock.NewReal(clockwork.NewFakeClockAt(t0)), DefaultConfig(), nil)
	l.inFlight.Store(true)

	l.requestPoll(context.Background())
	assert.True(t, l.again.Load())
	assert.Empty(t, l.pollCh)

	l.finish()
	assert.False(t, l.inFlight.Load())
	assert.False(t, l.again.Load())
	assert.Len(t, l.pollCh, 1)
}

func TestLoopPollRequestedWhileIdleFetches(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	sink := &fakeSink{}
	l := NewLoop(fetcher, sink, clock.NewReal(clockwork.NewFakeClockAt(t0)), DefaultConfig(), nil)

	l.requestPoll(context.Background())
	assert.True(t, l.inFlight.Load())
	fetcher.gate <- struct{}{}
	l.wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.False(t, l.again.Load())
	assert.Empty(t, l.pollCh)
	n, _ := sink.counts()
	assert.Equal(t, 1, n)
}
