// Package queue holds user actions that could not be delivered and replays
// them against the backend in enqueue order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"eventnet/internal/backend"
	"eventnet/internal/config"
	"eventnet/internal/logging"
	"eventnet/internal/metrics"
	"eventnet/internal/models"
	"eventnet/internal/state"
	"eventnet/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidAction is returned by Add for a payload without method or target.
var ErrInvalidAction = errors.New("queue: action needs method and target")

// Deliverer applies a queued action to the remote system.
type Deliverer interface {
	Deliver(ctx context.Context, action models.QueuedAction) error
}

// OnlineChecker reports connectivity.
type OnlineChecker interface {
	IsOnline() bool
}

// AuthErrorHandler receives 401/403 failures raised during delivery.
type AuthErrorHandler interface {
	HandleAuthError(ctx context.Context)
}

// PassResult summarizes one drain pass.
type PassResult struct {
	Skipped      bool
	Delivered    int
	Remaining    int
	DeadLettered int
	Err          error
}

// Queue is the durable FIFO of pending actions.
type Queue struct {
	mu         sync.Mutex
	actions    []models.QueuedAction
	deadLetter []models.QueuedAction
	processing bool

	persistMu sync.Mutex
	kv        storage.KV

	deliverer   Deliverer
	network     OnlineChecker
	authHandler AuthErrorHandler
	maxAttempts int

	state  *state.Container[models.SyncState]
	logger *zerolog.Logger
	now    func() time.Time
}

func New(kv storage.KV, deliverer Deliverer, network OnlineChecker, cfg config.QueueConfig, logger *zerolog.Logger) *Queue {
	return &Queue{
		actions:     []models.QueuedAction{},
		kv:          kv,
		deliverer:   deliverer,
		network:     network,
		maxAttempts: cfg.MaxAttempts,
		state:       state.New(models.SyncState{Queue: []models.QueuedAction{}}, cloneSyncState),
		logger:      logging.Component(logger, "offline-queue"),
		now:         time.Now,
	}
}

// SetAuthHandler installs the receiver of auth failures.
func (q *Queue) SetAuthHandler(h AuthErrorHandler) {
	q.mu.Lock()
	q.authHandler = h
	q.mu.Unlock()
}

// Load reads the persisted queue. Persisted actions go ahead of anything added
// since startup because they were enqueued before it.
func (q *Queue) Load(ctx context.Context) error {
	var persisted, dead []models.QueuedAction
	if _, err := storage.GetJSON(ctx, q.kv, models.KeyOfflineQueue, &persisted); err != nil {
		return fmt.Errorf("load offline queue: %w", err)
	}
	if _, err := storage.GetJSON(ctx, q.kv, models.KeyDeadLetterQueue, &dead); err != nil {
		return fmt.Errorf("load dead-letter queue: %w", err)
	}

	q.mu.Lock()
	seen := make(map[string]struct{}, len(q.actions))
	for _, a := range q.actions {
		seen[a.ID] = struct{}{}
	}
	merged := make([]models.QueuedAction, 0, len(persisted)+len(q.actions))
	for _, a := range persisted {
		if _, dup := seen[a.ID]; !dup {
			merged = append(merged, a)
		}
	}
	q.actions = append(merged, q.actions...)
	q.deadLetter = append(dead, q.deadLetter...)
	n := len(q.actions)
	q.mu.Unlock()

	q.logger.Info().Int("pending", n).Int("dead_letter", len(dead)).Msg("offline queue loaded")
	q.changed(ctx)
	return nil
}

// Add appends an action to the tail and returns its id. It never attempts
// delivery.
func (q *Queue) Add(ctx context.Context, payload models.ActionPayload) (string, error) {
	payload.Method = strings.ToUpper(strings.TrimSpace(payload.Method))
	payload.Target = strings.TrimSpace(payload.Target)
	if payload.Method == "" || payload.Target == "" {
		return "", ErrInvalidAction
	}

	action := models.QueuedAction{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: q.now(),
	}

	q.mu.Lock()
	q.actions = append(q.actions, action)
	q.mu.Unlock()

	metrics.IncQueueAction("enqueued")
	q.logger.Debug().Str("action_id", action.ID).Str("method", payload.Method).Str("target", payload.Target).Msg("action enqueued")
	q.changed(ctx)
	return action.ID, nil
}

// Process runs one drain pass. It returns immediately when a pass is already
// running or the network is offline. Actions are delivered strictly in order
// and the pass halts at the first failure.
func (q *Queue) Process(ctx context.Context) PassResult {
	if q.network != nil && !q.network.IsOnline() {
		return PassResult{Skipped: true, Remaining: q.Len()}
	}

	q.mu.Lock()
	if q.processing {
		n := len(q.actions)
		q.mu.Unlock()
		return PassResult{Skipped: true, Remaining: n}
	}
	q.processing = true
	q.mu.Unlock()
	q.publishState()

	res := q.drain(ctx)

	q.mu.Lock()
	q.processing = false
	res.Remaining = len(q.actions)
	q.mu.Unlock()
	q.publishState()

	if res.Delivered > 0 || res.Err != nil {
		q.logger.Info().
			Int("delivered", res.Delivered).
			Int("remaining", res.Remaining).
			AnErr("halted_by", res.Err).
			Msg("drain pass finished")
	}
	return res
}

func (q *Queue) drain(ctx context.Context) PassResult {
	var res PassResult
	for {
		q.mu.Lock()
		if len(q.actions) == 0 {
			q.mu.Unlock()
			return res
		}
		head := q.actions[0]
		q.mu.Unlock()

		err := q.deliverer.Deliver(ctx, head)
		if err == nil {
			q.remove(head.ID)
			res.Delivered++
			metrics.IncQueueAction("delivered")
			q.changed(ctx)
			continue
		}

		res.Err = err
		if ctx.Err() != nil {
			// Cancelled by the caller; the action was not rejected.
			return res
		}

		metrics.IncQueueAction("failed")
		unauthorized := backend.IsUnauthorized(err)
		if q.recordFailure(head.ID, err, !unauthorized) {
			res.DeadLettered++
			metrics.IncQueueAction("dead_lettered")
			q.logger.Warn().Str("action_id", head.ID).Err(err).Msg("action moved to dead-letter list")
		} else {
			q.logger.Warn().Str("action_id", head.ID).Err(err).Msg("delivery failed, halting pass")
		}
		q.changed(ctx)

		if unauthorized {
			q.mu.Lock()
			h := q.authHandler
			q.mu.Unlock()
			if h != nil {
				h.HandleAuthError(ctx)
			}
		}
		return res
	}
}

// recordFailure bumps the attempt counter. It reports whether the action was
// moved to the dead-letter list.
func (q *Queue) recordFailure(id string, err error, mayEvict bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.actions {
		if q.actions[i].ID != id {
			continue
		}
		q.actions[i].Attempts++
		q.actions[i].LastError = err.Error()
		if mayEvict && q.maxAttempts > 0 && q.actions[i].Attempts >= q.maxAttempts {
			q.deadLetter = append(q.deadLetter, q.actions[i])
			q.actions = append(q.actions[:i:i], q.actions[i+1:]...)
			return true
		}
		return false
	}
	return false
}

func (q *Queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions = append(q.actions[:i:i], q.actions[i+1:]...)
			return true
		}
	}
	return false
}

// Discard drops a single action. It reports whether the id was queued.
func (q *Queue) Discard(ctx context.Context, id string) bool {
	if !q.remove(id) {
		return false
	}
	metrics.IncQueueAction("discarded")
	q.logger.Info().Str("action_id", id).Msg("action discarded")
	q.changed(ctx)
	return true
}

// Clear empties the queue and the dead-letter list unconditionally.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	n := len(q.actions)
	dead := len(q.deadLetter)
	q.actions = []models.QueuedAction{}
	q.deadLetter = nil
	q.mu.Unlock()

	q.logger.Info().Int("discarded", n).Int("dead_letter_discarded", dead).Msg("offline queue cleared")
	q.changed(ctx)
}

// State returns a snapshot of the queue.
func (q *Queue) State() models.SyncState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// DeadLetters returns actions evicted after too many failed attempts.
func (q *Queue) DeadLetters() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.CloneActions(q.deadLetter)
}

// Subscribe registers fn for state changes and returns its release function.
func (q *Queue) Subscribe(fn func(models.SyncState)) func() {
	return q.state.Subscribe(fn)
}

func (q *Queue) snapshotLocked() models.SyncState {
	online := true
	if q.network != nil {
		online = q.network.IsOnline()
	}
	return models.SyncState{
		IsOnline:     online,
		IsProcessing: q.processing,
		Queue:        models.CloneActions(q.actions),
	}
}

func (q *Queue) changed(ctx context.Context) {
	q.persist(ctx)
	q.publishState()
}

func (q *Queue) publishState() {
	snap := q.state.Update(func(models.SyncState) models.SyncState {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.snapshotLocked()
	})
	metrics.SetQueueLength(len(snap.Queue))
}

// persist writes the latest queue. Failures are logged; memory stays authoritative.
func (q *Queue) persist(ctx context.Context) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	actions := models.CloneActions(q.actions)
	dead := models.CloneActions(q.deadLetter)
	q.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := storage.SetJSON(ctx, q.kv, models.KeyOfflineQueue, actions); err != nil {
		q.logger.Error().Err(err).Msg("failed to persist offline queue")
	}
	if err := storage.SetJSON(ctx, q.kv, models.KeyDeadLetterQueue, dead); err != nil {
		q.logger.Error().Err(err).Msg("failed to persist dead-letter queue")
	}
}

func cloneSyncState(s models.SyncState) models.SyncState {
	s.Queue = models.CloneActions(s.Queue)
	return s
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, action models.QueuedAction) error

func (f DelivererFunc) Deliver(ctx context.Context, action models.QueuedAction) error {
	return f(ctx, action)
}
