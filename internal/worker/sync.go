package worker

import (
	"context"
	"sync"
	"time"

	"eventnet/internal/config"
	"eventnet/internal/events"
	"eventnet/internal/logging"
	"eventnet/internal/metrics"
	"eventnet/internal/queue"

	"github.com/rs/zerolog"
)

// Trigger sources, also used as metric labels.
const (
	TriggerStartup  = "startup"
	TriggerOnline   = "online"
	TriggerFocus    = "focus"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

// Processor runs a drain pass. *queue.Queue satisfies it.
type Processor interface {
	Process(ctx context.Context) queue.PassResult
}

// OnlineChecker reports connectivity.
type OnlineChecker interface {
	IsOnline() bool
}

// SyncTrigger decides when the offline queue is drained. Bus events only
// signal the loop goroutine, so publishers never wait on network calls.
type SyncTrigger struct {
	cfg     config.SyncConfig
	queue   Processor
	network OnlineChecker
	bus     *events.Bus
	logger  *zerolog.Logger

	kick chan string
}

func NewSyncTrigger(cfg config.SyncConfig, q Processor, network OnlineChecker, bus *events.Bus, logger *zerolog.Logger) *SyncTrigger {
	return &SyncTrigger{
		cfg:     cfg,
		queue:   q,
		network: network,
		bus:     bus,
		logger:  logging.Component(logger, "sync-trigger"),
		kick:    make(chan string, 1),
	}
}

// Start wires the enabled trigger sources and runs the loop. stop releases
// every registration and blocks until the loop has exited.
func (s *SyncTrigger) Start(ctx context.Context) (stop func()) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("background sync disabled")
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var releases []func()
	if s.cfg.OnOnline && s.bus != nil {
		releases = append(releases, s.bus.Subscribe(events.TopicNetworkOnline, func(*events.Event) error {
			s.Kick(TriggerOnline)
			return nil
		}))
	}
	if s.cfg.OnFocus && s.bus != nil {
		releases = append(releases, s.bus.Subscribe(events.TopicFocus, func(*events.Event) error {
			s.Kick(TriggerFocus)
			return nil
		}))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx)
	}()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Bool("on_online", s.cfg.OnOnline).
		Bool("on_focus", s.cfg.OnFocus).
		Msg("background sync started")

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, release := range releases {
				release()
			}
			cancel()
			wg.Wait()
		})
	}
}

// Kick requests a drain pass without blocking. Requests made while one is
// pending collapse into it.
func (s *SyncTrigger) Kick(source string) {
	select {
	case s.kick <- source:
	default:
	}
}

func (s *SyncTrigger) loop(ctx context.Context) {
	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if s.online() {
		s.run(ctx, TriggerStartup)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case source := <-s.kick:
			s.run(ctx, source)
		case <-tick:
			if s.online() {
				s.run(ctx, TriggerInterval)
			}
		}
	}
}

func (s *SyncTrigger) run(ctx context.Context, source string) {
	metrics.IncDrainPass(source)
	res := s.queue.Process(ctx)
	if res.Skipped {
		s.logger.Debug().Str("trigger", source).Msg("drain pass skipped")
		return
	}
	s.logger.Debug().
		Str("trigger", source).
		Int("delivered", res.Delivered).
		Int("remaining", res.Remaining).
		Msg("drain pass completed")
}

func (s *SyncTrigger) online() bool {
	return s.network == nil || s.network.IsOnline()
}
