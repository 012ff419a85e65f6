package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"eventnet/internal/logging"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverKV serves from primary and falls back to an in-memory store while the
// primary is unavailable. Writes made during an outage stay in the fallback.
type FailoverKV struct {
	primary  KV
	fallback KV
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverKV(primary, fallback KV, logger *zerolog.Logger) *FailoverKV {
	return &FailoverKV{
		primary:  primary,
		fallback: fallback,
		logger:   logging.Component(logger, "storage-failover"),
	}
}

func (r *FailoverKV) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary storage failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// shouldRetryPrimary reports whether enough time passed to probe the primary again.
func (r *FailoverKV) shouldRetryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverKV) Get(ctx context.Context, key string) ([]byte, error) {
	if !r.isDown.Load() {
		val, err := r.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrNotFound) {
			return val, err
		}
		r.markDown(err)
	} else if r.shouldRetryPrimary() {
		val, err := r.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrNotFound) {
			r.isDown.Store(false)
			r.logger.Info().Msg("Primary storage recovered")
			return val, err
		}
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverKV) Set(ctx context.Context, key string, value []byte) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, key, value)
}

func (r *FailoverKV) Delete(ctx context.Context, key string) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Delete(ctx, key)
}

func (r *FailoverKV) Close() error {
	return errors.Join(r.primary.Close(), r.fallback.Close())
}
