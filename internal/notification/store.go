// Package notification keeps the user-facing notification list and shows new
// entries through a Presenter.
package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"eventnet/internal/config"
	"eventnet/internal/logging"
	"eventnet/internal/metrics"
	"eventnet/internal/models"
	"eventnet/internal/state"
	"eventnet/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const presentTimeout = 10 * time.Second

// Snapshot is the persisted and published view of the store.
type Snapshot struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

type Store struct {
	mu    sync.Mutex
	items []models.Notification

	persistMu     sync.Mutex
	persistQueued atomic.Bool
	persistWG     sync.WaitGroup
	kv            storage.KV

	maxItems  int
	present   bool
	presenter Presenter

	state  *state.Container[Snapshot]
	logger *zerolog.Logger
	now    func() time.Time
}

func NewStore(kv storage.KV, cfg config.NotificationConfig, logger *zerolog.Logger) *Store {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = models.DefaultMaxNotifications
	}
	return &Store{
		items:    []models.Notification{},
		kv:       kv,
		maxItems: maxItems,
		present:  cfg.Present,
		state:    state.New(Snapshot{Notifications: []models.Notification{}}, cloneSnapshot),
		logger:   logging.Component(logger, "notifications"),
		now:      time.Now,
	}
}

// SetPresenter installs the presenter used for new notifications.
func (s *Store) SetPresenter(p Presenter) {
	s.mu.Lock()
	s.presenter = p
	s.mu.Unlock()
}

// Load restores the persisted list. The unread count is recomputed rather
// than trusted.
func (s *Store) Load(ctx context.Context) error {
	var snap Snapshot
	if _, err := storage.GetJSON(ctx, s.kv, models.KeyNotifications, &snap); err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	s.mu.Lock()
	s.items = append(s.items, snap.Notifications...)
	s.trimLocked()
	n := len(s.items)
	s.mu.Unlock()

	s.logger.Info().Int("count", n).Msg("notifications loaded")
	s.changed(ctx)
	return nil
}

// Add stores a new notification at the head of the list. An unread entry
// with the same non-empty DedupKey is refreshed and moved to the head
// instead of duplicated.
func (s *Store) Add(ctx context.Context, in models.NotificationInput) models.Notification {
	if !models.ValidNotificationType(in.Type) {
		in.Type = models.NotificationSystem
	}
	now := s.now()

	s.mu.Lock()
	n := models.Notification{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Timestamp: now,
		ExpiresAt: in.ExpiresAt,
		DedupKey:  in.DedupKey,
		Data:      in.Data,
	}
	refreshed := false
	if in.DedupKey != "" {
		for i, existing := range s.items {
			if existing.DedupKey == in.DedupKey && !existing.Read {
				n.ID = existing.ID
				s.items = append(s.items[:i:i], s.items[i+1:]...)
				refreshed = true
				break
			}
		}
	}
	s.items = append([]models.Notification{n}, s.items...)
	s.trimLocked()
	presenter := s.presenter
	s.mu.Unlock()

	s.logger.Debug().Str("id", n.ID).Str("type", n.Type).Bool("refreshed", refreshed).Msg("notification added")
	s.changed(ctx)

	if s.present && presenter != nil && !refreshed {
		go s.show(context.WithoutCancel(ctx), presenter, n)
	}
	return n
}

func (s *Store) show(ctx context.Context, p Presenter, n models.Notification) {
	if p.RequestPermission(ctx) != PermissionGranted {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, presentTimeout)
	defer cancel()
	if _, err := p.Show(ctx, n.Title, ShowOptions{Body: n.Message, Tag: n.ID, Type: n.Type}); err != nil {
		s.logger.Warn().Err(err).Str("id", n.ID).Msg("failed to present notification")
	}
}

// MarkAsRead marks one notification. Unknown or already-read ids are a no-op.
func (s *Store) MarkAsRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	changed := false
	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].Read {
			s.items[i].Read = true
			changed = true
			break
		}
	}
	s.mu.Unlock()

	if changed {
		s.changed(ctx)
	}
	return changed
}

// Get returns the notification with the given id.
func (s *Store) Get(id string) (models.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id {
			return n, true
		}
	}
	return models.Notification{}, false
}

// MarkAllAsRead returns the number of notifications it changed.
func (s *Store) MarkAllAsRead(ctx context.Context) int {
	s.mu.Lock()
	n := 0
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.changed(ctx)
	}
	return n
}

func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		s.changed(ctx)
	}
	return removed
}

func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	s.items = []models.Notification{}
	s.mu.Unlock()

	s.changed(ctx)
}

// ClearExpired removes exactly the notifications whose ExpiresAt is strictly
// before now, and returns how many were removed.
func (s *Store) ClearExpired(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	kept := s.items[:0:0]
	for _, n := range s.items {
		if !n.Expired(now) {
			kept = append(kept, n)
		}
	}
	removed := len(s.items) - len(kept)
	s.items = kept
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("expired notifications cleared")
		s.changed(ctx)
	}
	return removed
}

// StartCleanup runs ClearExpired every interval. stop blocks until the
// cleanup goroutine has exited.
func (s *Store) StartCleanup(ctx context.Context, every time.Duration) (stop func()) {
	if every <= 0 {
		every = models.DefaultCleanupInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ClearExpired(ctx, s.now())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// List returns notifications most recent first.
func (s *Store) List() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// UnreadCount is derived from the list on every call.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unread(s.items)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for changes and returns its release function.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.state.Subscribe(fn)
}

func (s *Store) trimLocked() {
	if len(s.items) > s.maxItems {
		s.items = s.items[:s.maxItems]
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Notifications: cloneItems(s.items), UnreadCount: unread(s.items)}
}

func (s *Store) changed(ctx context.Context) {
	snap := s.state.Update(func(Snapshot) Snapshot {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.snapshotLocked()
	})
	metrics.SetUnread(snap.UnreadCount)
	s.schedulePersist(ctx)
}

// schedulePersist writes the list in the background. At most one write is
// queued behind the running one; the queued write reads the snapshot when it
// starts, so it covers every mutation made before it.
func (s *Store) schedulePersist(ctx context.Context) {
	if !s.persistQueued.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
		s.persistQueued.Store(false)
		s.persist(ctx)
	}()
}

// persist is best effort; the in-memory list stays authoritative.
func (s *Store) persist(ctx context.Context) {
	snap := s.Snapshot()
	if err := storage.SetJSON(ctx, s.kv, models.KeyNotifications, snap); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist notifications")
	}
}

// Flush waits for pending background writes.
func (s *Store) Flush() {
	s.persistWG.Wait()
}

func unread(items []models.Notification) int {
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n
}

func cloneItems(items []models.Notification) []models.Notification {
	dup := make([]models.Notification, len(items))
	copy(dup, items)
	return dup
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Notifications = cloneItems(s.Notifications)
	return s
}
