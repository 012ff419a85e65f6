// Package poller fetches incremental updates on an adaptive interval and
// backs off exponentially after failures.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"eventnet/internal/backend"
	"eventnet/internal/config"
	"eventnet/internal/events"
	"eventnet/internal/logging"
	"eventnet/internal/metrics"
	"eventnet/internal/models"
	"eventnet/internal/state"
	"eventnet/internal/storage"
	"eventnet/internal/worker"

	"github.com/rs/zerolog"
)

// Fetcher is satisfied by backend.Client.
type Fetcher interface {
	FetchUpdates(ctx context.Context, since string) (*models.UpdatesResponse, error)
}

// SessionChecker gates Start.
type SessionChecker interface {
	IsAuthenticated() bool
}

// AuthErrorHandler receives 401/403 failures.
type AuthErrorHandler interface {
	HandleAuthError(ctx context.Context)
}

// OnlineChecker reports connectivity.
type OnlineChecker interface {
	IsOnline() bool
}

type Poller struct {
	cfg     config.PollerConfig
	policy  worker.RetryPolicy
	fetcher Fetcher
	session SessionChecker
	network OnlineChecker
	auth    AuthErrorHandler
	bus     *events.Bus
	kv      storage.KV
	logger  *zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	st         models.PollingState
	visible    bool
	cursor     string
	generation uint64
	lastPoll   time.Time
	nextAt     time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	wake  chan struct{}
	state *state.Container[models.PollingState]
}

func New(cfg config.PollerConfig, fetcher Fetcher, session SessionChecker, network OnlineChecker, bus *events.Bus, kv storage.KV, logger *zerolog.Logger) *Poller {
	initial := models.PollingState{Phase: models.PhaseIdle}
	return &Poller{
		cfg:     cfg,
		policy:  worker.PollerRetryPolicy(cfg),
		fetcher: fetcher,
		session: session,
		network: network,
		bus:     bus,
		kv:      kv,
		logger:  logging.Component(logger, "poller"),
		now:     time.Now,
		st:      initial,
		visible: true,
		wake:    make(chan struct{}, 1),
		state:   state.New(initial, nil),
	}
}

// SetAuthHandler installs the receiver of auth failures.
func (p *Poller) SetAuthHandler(h AuthErrorHandler) {
	p.mu.Lock()
	p.auth = h
	p.mu.Unlock()
}

// Start begins polling when a session is present. It reports whether the
// poller is running afterwards; calling it while running is a no-op.
func (p *Poller) Start(ctx context.Context) bool {
	if p.session != nil && !p.session.IsAuthenticated() {
		p.logger.Debug().Msg("not authenticated, poller stays idle")
		return false
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return true
	}
	needCursor := p.cursor == ""
	p.mu.Unlock()

	var cursor string
	if needCursor && p.kv != nil {
		if _, err := storage.GetJSON(ctx, p.kv, models.KeyPollerCursor, &cursor); err != nil {
			p.logger.Warn().Err(err).Msg("failed to load poll cursor")
		}
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return true
	}
	if needCursor && p.cursor == "" {
		p.cursor = cursor
	}
	p.generation++
	gen := p.generation
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.st.Phase = models.PhasePolling
	p.st.IsPolling = true
	p.st.RetryCount = 0
	p.st.Err = nil
	p.st.CurrentInterval = 0
	p.st.QueuedUpdatesCount = 0
	p.st.LastUpdate = nil
	p.lastPoll = time.Time{}
	p.mu.Unlock()

	p.publishState()
	p.logger.Info().Uint64("generation", gen).Msg("poller started")

	go func() {
		defer close(done)
		p.loop(loopCtx, gen)
	}()
	return true
}

// Stop cancels the pending timer and any in-flight poll, and blocks until
// the loop has exited. Results of a poll already in flight are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.generation++
	wasRunning := p.st.Phase != models.PhaseIdle && p.st.Phase != models.PhaseStopped
	p.st.Phase = models.PhaseStopped
	p.st.IsPolling = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.publishState()
	if wasRunning {
		p.logger.Info().Msg("poller stopped")
	}
}

// State returns a snapshot of the polling state.
func (p *Poller) State() models.PollingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

// Subscribe registers fn for state changes and returns its release function.
func (p *Poller) Subscribe(fn func(models.PollingState)) func() {
	return p.state.Subscribe(fn)
}

// SetVisible records visibility. Becoming visible clears the queued update
// count and reschedules the pending poll on the active interval.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	if p.visible == visible {
		p.mu.Unlock()
		return
	}
	p.visible = visible
	if visible {
		p.st.QueuedUpdatesCount = 0
	}
	p.mu.Unlock()

	p.publishState()
	p.Wake()
}

func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// AcknowledgeQueued resets the hidden-update counter and returns its old value.
func (p *Poller) AcknowledgeQueued() int {
	p.mu.Lock()
	n := p.st.QueuedUpdatesCount
	p.st.QueuedUpdatesCount = 0
	p.mu.Unlock()

	if n > 0 {
		p.publishState()
	}
	return n
}

// Wake asks the loop to re-evaluate its interval.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ResetCursor forgets the incremental cursor, e.g. when the user changes.
func (p *Poller) ResetCursor(ctx context.Context) {
	p.mu.Lock()
	p.cursor = ""
	p.mu.Unlock()

	if p.kv == nil {
		return
	}
	if err := p.kv.Delete(context.WithoutCancel(ctx), models.KeyPollerCursor); err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn().Err(err).Msg("failed to delete poll cursor")
	}
}

// Bind subscribes the poller to visibility and network changes.
func (p *Poller) Bind(bus *events.Bus) (release func()) {
	releases := []func(){
		events.On(bus, events.TopicVisibility, func(v events.VisibilityPayload) error {
			p.SetVisible(v.Visible)
			return nil
		}),
		bus.Subscribe(events.TopicNetworkOnline, func(*events.Event) error { p.Wake(); return nil }),
		bus.Subscribe(events.TopicNetworkOffline, func(*events.Event) error { p.Wake(); return nil }),
	}
	return func() {
		for _, r := range releases {
			r()
		}
	}
}

func (p *Poller) loop(ctx context.Context, gen uint64) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			timer.Reset(p.reschedule(gen))
			continue
		case <-timer.C:
		}

		p.mu.Lock()
		cursor := p.cursor
		p.mu.Unlock()

		resp, err := p.fetcher.FetchUpdates(ctx, cursor)
		next, ok := p.apply(ctx, gen, resp, err)
		if !ok {
			return
		}
		timer.Reset(next)
	}
}

// interval picks the polling period for the current visibility and network.
func (p *Poller) intervalLocked() time.Duration {
	online := p.network == nil || p.network.IsOnline()
	if p.visible && online {
		return p.cfg.ActiveInterval
	}
	return p.cfg.InactiveInterval
}

// reschedule recomputes the wait after a visibility or network change. A
// backoff delay is kept as is.
func (p *Poller) reschedule(gen uint64) time.Duration {
	p.mu.Lock()
	if gen != p.generation || p.lastPoll.IsZero() {
		p.mu.Unlock()
		return 0
	}
	if p.st.Phase == models.PhasePolling && p.st.RetryCount == 0 {
		interval := p.intervalLocked()
		if interval != p.st.CurrentInterval {
			p.st.CurrentInterval = interval
			p.nextAt = p.lastPoll.Add(interval)
		}
	}
	wait := p.nextAt.Sub(p.now())
	interval := p.st.CurrentInterval
	p.mu.Unlock()

	p.publishState()
	metrics.SetPollInterval(interval.Seconds())
	if wait < 0 {
		return 0
	}
	return wait
}

// apply folds a poll result into the state. It returns the delay before the
// next poll and false when the loop must exit.
func (p *Poller) apply(ctx context.Context, gen uint64, resp *models.UpdatesResponse, err error) (time.Duration, bool) {
	p.mu.Lock()
	if gen != p.generation || p.st.Phase == models.PhaseStopped || (err != nil && ctx.Err() != nil) {
		p.mu.Unlock()
		metrics.IncPoll("discarded")
		return 0, false
	}

	now := p.now()
	p.lastPoll = now

	if err == nil {
		return p.applySuccess(ctx, now, resp), true
	}

	if backend.IsUnauthorized(err) {
		cancel := p.cancel
		p.cancel, p.done = nil, nil
		p.generation++
		p.st.Phase = models.PhaseStopped
		p.st.IsPolling = false
		p.st.Err = err
		h := p.auth
		p.mu.Unlock()

		metrics.IncPoll("unauthorized")
		p.publishState()
		p.logger.Warn().Err(err).Msg("poll rejected, session is no longer valid")
		if cancel != nil {
			cancel()
		}
		if h != nil {
			h.HandleAuthError(context.WithoutCancel(ctx))
		}
		return 0, false
	}

	p.st.RetryCount++
	p.st.Err = err
	var delay time.Duration
	if !p.policy.Exhausted(p.st.RetryCount) {
		p.st.Phase = models.PhaseBackoff
		delay = p.policy.NextDelay(p.st.RetryCount)
	} else {
		p.st.Phase = models.PhasePolling
		delay = p.cfg.InactiveInterval
	}
	p.st.CurrentInterval = delay
	p.nextAt = now.Add(delay)
	retries := p.st.RetryCount
	phase := p.st.Phase
	p.mu.Unlock()

	metrics.IncPoll("failure")
	metrics.SetPollInterval(delay.Seconds())
	p.publishState()
	p.logger.Warn().Err(err).Int("retry_count", retries).Str("phase", phase).Dur("next_in", delay).Msg("poll failed")
	return delay, true
}

// applySuccess is called with p.mu held and releases it.
func (p *Poller) applySuccess(ctx context.Context, now time.Time, resp *models.UpdatesResponse) time.Duration {
	if resp == nil {
		resp = &models.UpdatesResponse{}
	}

	p.st.Phase = models.PhasePolling
	p.st.RetryCount = 0
	p.st.Err = nil
	p.st.LastUpdate = &now
	hidden := !p.visible
	if hidden {
		p.st.QueuedUpdatesCount += len(resp.Updates)
	}
	cursorChanged := resp.Cursor != "" && resp.Cursor != p.cursor
	if cursorChanged {
		p.cursor = resp.Cursor
	}
	interval := p.intervalLocked()
	p.st.CurrentInterval = interval
	p.nextAt = now.Add(interval)
	p.mu.Unlock()

	metrics.IncPoll("success")
	metrics.SetPollInterval(interval.Seconds())
	p.publishState()

	if cursorChanged && p.kv != nil {
		if err := storage.SetJSON(context.WithoutCancel(ctx), p.kv, models.KeyPollerCursor, resp.Cursor); err != nil {
			p.logger.Warn().Err(err).Msg("failed to persist poll cursor")
		}
	}
	p.dispatch(resp, hidden)
	return interval
}

func (p *Poller) dispatch(resp *models.UpdatesResponse, hidden bool) {
	if len(resp.Updates) == 0 {
		return
	}
	p.logger.Debug().Int("count", len(resp.Updates)).Bool("hidden", hidden).Msg("updates received")

	if err := p.bus.PublishJSON(events.TopicUpdatesReceived, events.UpdatesPayload{
		Updates: resp.Updates,
		Cursor:  resp.Cursor,
		Hidden:  hidden,
	}); err != nil {
		p.logger.Error().Err(err).Msg("failed to publish updates")
	}

	for _, u := range resp.Updates {
		if u.Kind != models.UpdateKindAppUpdate {
			continue
		}
		if err := p.bus.PublishJSON(events.TopicAppUpdate, events.AppPayload{Version: u.GetString("version")}); err != nil {
			p.logger.Error().Err(err).Msg("failed to publish app update")
		}
	}
}

func (p *Poller) publishState() {
	p.state.Update(func(models.PollingState) models.PollingState {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.st
	})
}
