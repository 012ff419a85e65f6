package network

import (
	"context"
	"sync"
	"time"

	"eventnet/internal/backend"
	"eventnet/internal/logging"

	"github.com/rs/zerolog"
)

// HealthChecker is satisfied by backend.Client.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober periodically checks the backend and feeds the Monitor.
type Prober struct {
	checker  HealthChecker
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	logger   *zerolog.Logger
}

func NewProber(checker HealthChecker, monitor *Monitor, interval time.Duration, logger *zerolog.Logger) *Prober {
	timeout := interval / 2
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Prober{
		checker:  checker,
		monitor:  monitor,
		interval: interval,
		timeout:  timeout,
		logger:   logging.Component(logger, "network-prober"),
	}
}

// ProbeOnce runs a single health check and updates the monitor. An auth
// rejection still proves the backend is reachable.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Health(ctx)
	online := err == nil || backend.IsUnauthorized(err)
	if err != nil && !online {
		p.logger.Debug().Err(err).Msg("health probe failed")
	}
	p.monitor.SetOnline(online)
	return online
}

// Start probes immediately and then every interval until stop is called or
// ctx is done. stop blocks until the probe goroutine has exited.
func (p *Prober) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		p.ProbeOnce(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeOnce(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
