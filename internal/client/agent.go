// Package client wires the sync agent's components and owns their lifecycles.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventnet/internal/auth"
	"eventnet/internal/backend"
	"eventnet/internal/config"
	"eventnet/internal/events"
	"eventnet/internal/logging"
	"eventnet/internal/models"
	"eventnet/internal/network"
	"eventnet/internal/notification"
	"eventnet/internal/poller"
	"eventnet/internal/queue"
	"eventnet/internal/storage"
	"eventnet/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend is what the agent needs from the remote API.
type Backend interface {
	queue.Deliverer
	poller.Fetcher
	auth.Remote
	network.HealthChecker
}

// Deps lets callers supply prebuilt infrastructure. Nil fields are built
// from the config.
type Deps struct {
	KV        storage.KV
	Backend   Backend
	Redis     *redis.Client
	Presenter notification.Presenter
}

// Snapshot is the combined state reported by the control API.
type Snapshot struct {
	Sync        models.SyncState      `json:"sync"`
	Polling     PollingView           `json:"polling"`
	Session     models.AuthSession    `json:"session"`
	UnreadCount int                   `json:"unread_count"`
	DeadLetter  []models.QueuedAction `json:"dead_letter,omitempty"`
}

// PollingView is PollingState with the error flattened for JSON.
type PollingView struct {
	models.PollingState
	Error string `json:"error,omitempty"`
}

type Agent struct {
	cfg    *config.Config
	logger *zerolog.Logger

	Bus           *events.Bus
	KV            storage.KV
	Redis         *redis.Client
	Network       *network.Monitor
	Prober        *network.Prober
	Queue         *queue.Queue
	Sync          *worker.SyncTrigger
	Poller        *poller.Poller
	Notifications *notification.Store
	Auth          *auth.Store

	// backend is nil when Deps supplied the remote.
	backend *backend.Client

	mu      sync.Mutex
	runCtx  context.Context
	running bool
	stops   []func()
	closers []func() error
}

// New builds every component from cfg. Infrastructure in deps is reused.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *zerolog.Logger) (*Agent, error) {
	log := logging.Component(logger, "agent")
	a := &Agent{cfg: cfg, logger: log, Bus: events.NewBus(logger)}

	a.Redis = deps.Redis
	if a.Redis == nil && cfg.Redis.Address != "" {
		client := storage.NewRedisClient(cfg.Redis)
		if err := storage.Ping(ctx, client); err != nil {
			client.Close()
			if cfg.Storage.Driver == "redis" {
				return nil, fmt.Errorf("redis: %w", err)
			}
			log.Warn().Err(err).Msg("redis unavailable, continuing without cache")
		} else {
			a.Redis = client
			a.closers = append(a.closers, func() error { return storage.CloseRedis(client) })
		}
	}

	a.KV = deps.KV
	if a.KV == nil {
		kv, err := storage.Open(ctx, cfg.Storage, cfg.Redis, a.Redis, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.KV = kv
		a.closers = append(a.closers, kv.Close)
	}

	remote := deps.Backend
	var httpClient *backend.Client
	if remote == nil {
		httpClient = backend.NewClient(cfg.Backend, logger)
		if a.Redis != nil && cfg.Backend.CacheTTL > 0 {
			httpClient.UseRedisCache(a.Redis, cfg.Redis.KeyPrefix, cfg.Backend.CacheTTL)
		}
		remote = httpClient
		a.backend = httpClient
	}

	a.Network = network.NewMonitor(false, a.Bus, logger)
	a.Prober = network.NewProber(remote, a.Network, cfg.Monitoring.ProbeInterval, logger)
	a.Auth = auth.NewStore(a.KV, remote, a.Bus, logger)
	if httpClient != nil {
		httpClient.SetTokenSource(a.Auth)
	}

	a.Queue = queue.New(a.KV, remote, a.Network, cfg.Queue, logger)
	a.Queue.SetAuthHandler(a.Auth)
	a.Sync = worker.NewSyncTrigger(cfg.Sync, a.Queue, a.Network, a.Bus, logger)

	a.Poller = poller.New(cfg.Poller, remote, a.Auth, a.Network, a.Bus, a.KV, logger)
	a.Poller.SetAuthHandler(a.Auth)

	a.Notifications = notification.NewStore(a.KV, cfg.Notifications, logger)
	presenter, err := buildPresenter(cfg, deps.Presenter, logger)
	if err != nil {
		log.Warn().Err(err).Msg("telegram presenter unavailable, falling back to log presenter")
		presenter = notification.NewLogPresenter(logger)
	}
	a.Notifications.SetPresenter(presenter)

	return a, nil
}

func buildPresenter(cfg *config.Config, given notification.Presenter, logger *zerolog.Logger) (notification.Presenter, error) {
	if given != nil {
		return given, nil
	}
	if cfg.Telegram.BotToken == "" {
		return notification.NewLogPresenter(logger), nil
	}
	bot, err := notification.NewTelegramBot(cfg.Telegram)
	if err != nil {
		return nil, err
	}
	return notification.NewTelegramPresenter(bot, cfg.Telegram.ChatID, logger), nil
}

// Start loads persisted state and starts the background components. The
// poller follows the session: it starts on sign-in and stops on sign-out.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("agent already started")
	}
	a.running = true
	a.runCtx = ctx
	a.mu.Unlock()

	if err := a.Queue.Load(ctx); err != nil {
		a.logger.Error().Err(err).Msg("failed to load offline queue")
	}
	if err := a.Notifications.Load(ctx); err != nil {
		a.logger.Error().Err(err).Msg("failed to load notifications")
	}

	a.addStop(a.Notifications.Bind(ctx, a.Bus))
	a.addStop(a.Poller.Bind(a.Bus))
	a.addStop(a.bindSession())

	a.Auth.Initialize(ctx)

	a.addStop(a.Prober.Start(ctx))
	a.addStop(a.Sync.Start(ctx))
	a.addStop(a.Notifications.StartCleanup(ctx, a.cfg.Notifications.CleanupInterval))
	a.addStop(a.Poller.Stop)

	if err := a.Bus.PublishJSON(events.TopicAppOfflineReady, events.AppPayload{}); err != nil {
		a.logger.Error().Err(err).Msg("failed to publish offline-ready")
	}
	a.logger.Info().Int("pending_actions", a.Queue.Len()).Bool("authenticated", a.Auth.IsAuthenticated()).Msg("agent started")
	return nil
}

func (a *Agent) bindSession() func() {
	releases := []func(){
		a.Bus.Subscribe(events.TopicSessionStarted, func(*events.Event) error {
			a.startPoller()
			return nil
		}),
		a.Bus.Subscribe(events.TopicSessionEnded, func(*events.Event) error {
			ctx := a.context()
			a.Poller.Stop()
			a.Poller.ResetCursor(ctx)
			a.dropUpdatesCache(ctx)
			a.Queue.Clear(ctx)
			a.Notifications.ClearAll(ctx)
			return nil
		}),
		a.Bus.Subscribe(events.TopicSessionExpired, func(*events.Event) error {
			a.Poller.Stop()
			a.dropUpdatesCache(a.context())
			return nil
		}),
	}
	return func() {
		for _, r := range releases {
			r()
		}
	}
}

func (a *Agent) dropUpdatesCache(ctx context.Context) {
	if a.backend != nil {
		a.backend.DropUpdatesCache(ctx)
	}
}

func (a *Agent) startPoller() {
	if !a.cfg.Poller.Enabled {
		return
	}
	a.mu.Lock()
	ctx, running := a.runCtx, a.running
	a.mu.Unlock()
	if !running {
		return
	}
	a.Poller.Start(ctx)
}

// Stop releases background components in reverse start order.
func (a *Agent) Stop() {
	a.mu.Lock()
	stops := a.stops
	a.stops = nil
	a.running = false
	a.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	a.logger.Info().Msg("agent stopped")
}

// Close releases storage and connections opened by New.
func (a *Agent) Close() error {
	a.Notifications.Flush()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SetOnline overrides connectivity until the next probe.
func (a *Agent) SetOnline(online bool) bool {
	return a.Network.SetOnline(online)
}

// SetVisible announces a visibility change on the bus.
func (a *Agent) SetVisible(visible bool) error {
	return a.Bus.PublishJSON(events.TopicVisibility, events.VisibilityPayload{Visible: visible})
}

// Focus announces that the user returned to the agent.
func (a *Agent) Focus() error {
	return a.Bus.PublishJSON(events.TopicFocus, nil)
}

// ProcessQueue runs a drain pass immediately.
func (a *Agent) ProcessQueue(ctx context.Context) queue.PassResult {
	return a.Queue.Process(ctx)
}

// State combines the component snapshots. The bearer token is omitted.
func (a *Agent) State() Snapshot {
	ps := a.Poller.State()
	view := PollingView{PollingState: ps}
	if ps.Err != nil {
		view.Error = ps.Err.Error()
	}
	sess := a.Auth.Session()
	sess.Token = ""
	return Snapshot{
		Sync:        a.Queue.State(),
		Polling:     view,
		Session:     sess,
		UnreadCount: a.Notifications.UnreadCount(),
		DeadLetter:  a.Queue.DeadLetters(),
	}
}

func (a *Agent) addStop(fn func()) {
	a.mu.Lock()
	a.stops = append(a.stops, fn)
	a.mu.Unlock()
}

func (a *Agent) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx == nil {
		return context.Background()
	}
	return context.WithoutCancel(a.runCtx)
}
