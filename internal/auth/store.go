// Package auth is the single source of truth for the signed-in session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"eventnet/internal/events"
	"eventnet/internal/logging"
	"eventnet/internal/models"
	"eventnet/internal/state"
	"eventnet/internal/storage"

	"github.com/rs/zerolog"
)

// Remote is the backend side of the session. backend.Client satisfies it.
type Remote interface {
	Login(ctx context.Context, creds models.Credentials) (*models.LoginResponse, error)
	Logout(ctx context.Context) error
}

type Store struct {
	initMu sync.Mutex

	mu      sync.RWMutex
	session models.AuthSession

	kv     storage.KV
	remote Remote
	bus    *events.Bus
	state  *state.Container[models.AuthSession]
	logger *zerolog.Logger
}

func NewStore(kv storage.KV, remote Remote, bus *events.Bus, logger *zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		remote: remote,
		bus:    bus,
		state:  state.New(models.AuthSession{}, cloneSession),
		logger: logging.Component(logger, "auth"),
	}
}

// Initialize reads the persisted session once. Later calls are no-ops.
// IsInitialized is set even when nothing was stored or the read failed.
func (s *Store) Initialize(ctx context.Context) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.Session().IsInitialized {
		return
	}

	var persisted models.PersistedSession
	found, err := storage.GetJSON(ctx, s.kv, models.KeyAuthSession, &persisted)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read persisted session")
	}
	restored := found && err == nil && persisted.Token != ""

	s.mu.Lock()
	if restored {
		s.session.User = persisted.User
		s.session.Token = persisted.Token
		s.session.IsAuthenticated = true
	}
	s.session.IsInitialized = true
	s.mu.Unlock()
	s.publishState()

	if restored {
		s.logger.Info().Str("user_id", userID(persisted.User)).Msg("session restored")
		s.publish(events.TopicSessionStarted, events.SessionPayload{UserID: userID(persisted.User)})
	}
}

// Login exchanges credentials for a session and persists it.
func (s *Store) Login(ctx context.Context, creds models.Credentials) error {
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return errors.New("email and password are required")
	}
	if s.remote == nil {
		return errors.New("auth: no remote configured")
	}

	resp, err := s.remote.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.SetSession(ctx, resp.User, resp.Token)
	return nil
}

// SetSession installs a session directly.
func (s *Store) SetSession(ctx context.Context, user *models.User, token string) {
	s.mu.Lock()
	s.session = models.AuthSession{
		User:            user,
		Token:           token,
		IsAuthenticated: token != "",
		IsInitialized:   true,
	}
	s.mu.Unlock()
	s.publishState()

	if err := storage.SetJSON(context.WithoutCancel(ctx), s.kv, models.KeyAuthSession, models.PersistedSession{User: user, Token: token}); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist session")
	}
	s.logger.Info().Str("user_id", userID(user)).Msg("session started")
	s.publish(events.TopicSessionStarted, events.SessionPayload{UserID: userID(user)})
}

// Logout invalidates the session remotely on a best-effort basis and then
// always clears it locally.
func (s *Store) Logout(ctx context.Context) {
	sess := s.Session()
	if sess.IsAuthenticated && s.remote != nil {
		if err := s.remote.Logout(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("remote logout failed")
		}
	}

	s.clear(ctx, "", false)
	s.logger.Info().Str("user_id", userID(sess.User)).Msg("signed out")
	s.publish(events.TopicSessionEnded, events.SessionPayload{UserID: userID(sess.User)})
}

// HandleAuthError force-clears the session after a 401/403 without calling
// the backend. Only the first call for a session has an effect.
func (s *Store) HandleAuthError(ctx context.Context) {
	prev, ok := s.clear(ctx, models.SessionExpiredNotice, true)
	if !ok {
		return
	}

	s.logger.Warn().Str("user_id", userID(prev.User)).Msg("session expired")
	s.publish(events.TopicSessionExpired, events.SessionPayload{
		UserID:  userID(prev.User),
		Message: models.SessionExpiredNotice,
	})
}

// clear swaps in an empty session and returns the previous one. With
// onlyAuthenticated set nothing happens unless a session was present.
func (s *Store) clear(ctx context.Context, message string, onlyAuthenticated bool) (models.AuthSession, bool) {
	s.mu.Lock()
	prev := s.session
	if onlyAuthenticated && !prev.IsAuthenticated {
		s.mu.Unlock()
		return prev, false
	}
	s.session = models.AuthSession{IsInitialized: true, Message: message}
	s.mu.Unlock()
	s.publishState()

	if err := s.kv.Delete(context.WithoutCancel(ctx), models.KeyAuthSession); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Msg("failed to delete persisted session")
	}
	return prev, true
}

// Token returns the bearer token or an empty string.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.IsAuthenticated
}

func (s *Store) Session() models.AuthSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSession(s.session)
}

// Subscribe registers fn for session changes and returns its release function.
func (s *Store) Subscribe(fn func(models.AuthSession)) func() {
	return s.state.Subscribe(fn)
}

func (s *Store) publishState() {
	s.state.Update(func(models.AuthSession) models.AuthSession {
		return s.Session()
	})
}

func (s *Store) publish(topic events.Topic, payload events.SessionPayload) {
	if err := s.bus.PublishJSON(topic, payload); err != nil {
		s.logger.Error().Err(err).Str("topic", string(topic)).Msg("failed to publish session event")
	}
}

func cloneSession(sess models.AuthSession) models.AuthSession {
	if sess.User != nil {
		u := *sess.User
		sess.User = &u
	}
	return sess
}

func userID(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
