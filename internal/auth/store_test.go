package auth

import (
	"context"
	"errors"
	"testing"

	"eventnet/internal/events"
	"eventnet/internal/models"
	"eventnet/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Login(ctx context.Context, creds models.Credentials) (*models.LoginResponse, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LoginResponse), args.Error(1)
}

func (m *mockRemote) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type brokenKV struct {
	storage.KV
}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("io error") }

func topicRecorder(bus *events.Bus, topics ...events.Topic) *[]events.Topic {
	var seen []events.Topic
	for _, topic := range topics {
		bus.Subscribe(topic, func(e *events.Event) error {
			seen = append(seen, e.Topic)
			return nil
		})
	}
	return &seen
}

func TestInitialize_Empty(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(), nil, events.NewBus(nil), nil)
	assert.False(t, s.Session().IsInitialized)

	s.Initialize(context.Background())

	sess := s.Session()
	assert.True(t, sess.IsInitialized)
	assert.False(t, sess.IsAuthenticated)
}

func TestInitialize_RestoresPersistedSession(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, storage.SetJSON(ctx, kv, models.KeyAuthSession, models.PersistedSession{
		User:  &models.User{ID: "u1", Email: "a@b.c"},
		Token: "tok",
	}))

	bus := events.NewBus(nil)
	seen := topicRecorder(bus, events.TopicSessionStarted)
	s := NewStore(kv, nil, bus, nil)
	s.Initialize(ctx)

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "tok", s.Token())
	assert.Equal(t, "u1", s.Session().User.ID)
	assert.Equal(t, []events.Topic{events.TopicSessionStarted}, *seen)
}

func TestInitialize_SecondCallIsNoop(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()
	bus := events.NewBus(nil)
	seen := topicRecorder(bus, events.TopicSessionStarted)
	s := NewStore(kv, nil, bus, nil)

	s.Initialize(ctx)
	require.True(t, s.Session().IsInitialized)

	// a session written after initialization must not be picked up
	require.NoError(t, storage.SetJSON(ctx, kv, models.KeyAuthSession, models.PersistedSession{Token: "late"}))
	s.Initialize(ctx)

	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, *seen)
}

func TestInitialize_ReadFailureStillInitializes(t *testing.T) {
	s := NewStore(brokenKV{KV: storage.NewMemoryKV()}, nil, events.NewBus(nil), nil)
	s.Initialize(context.Background())

	assert.True(t, s.Session().IsInitialized)
	assert.False(t, s.IsAuthenticated())
}

func TestLogin(t *testing.T) {
	kv := storage.NewMemoryKV()
	remote := new(mockRemote)
	ctx := context.Background()
	creds := models.Credentials{Email: "a@b.c", Password: "pw"}
	remote.On("Login", ctx, creds).Return(&models.LoginResponse{User: &models.User{ID: "u1"}, Token: "tok"}, nil).Once()

	bus := events.NewBus(nil)
	seen := topicRecorder(bus, events.TopicSessionStarted)
	s := NewStore(kv, remote, bus, nil)

	require.NoError(t, s.Login(ctx, creds))
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, []events.Topic{events.TopicSessionStarted}, *seen)

	var persisted models.PersistedSession
	found, err := storage.GetJSON(ctx, kv, models.KeyAuthSession, &persisted)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok", persisted.Token)
	remote.AssertExpectations(t)
}

func TestLogin_Failure(t *testing.T) {
	remote := new(mockRemote)
	remote.On("Login", mock.Anything, mock.Anything).Return(nil, errors.New("invalid credentials")).Once()
	s := NewStore(storage.NewMemoryKV(), remote, events.NewBus(nil), nil)

	err := s.Login(context.Background(), models.Credentials{Email: "a@b.c", Password: "bad"})
	assert.Error(t, err)
	assert.False(t, s.IsAuthenticated())

	assert.Error(t, s.Login(context.Background(), models.Credentials{}))
	remote.AssertExpectations(t)
}

func TestLogout_RemoteFailureStillClears(t *testing.T) {
	kv := storage.NewMemoryKV()
	remote := new(mockRemote)
	remote.On("Logout", mock.Anything).Return(errors.New("network down")).Once()
	bus := events.NewBus(nil)
	seen := topicRecorder(bus, events.TopicSessionEnded)
	s := NewStore(kv, remote, bus, nil)
	ctx := context.Background()

	s.SetSession(ctx, &models.User{ID: "u1"}, "tok")
	s.Logout(ctx)

	sess := s.Session()
	assert.False(t, sess.IsAuthenticated)
	assert.True(t, sess.IsInitialized)
	assert.Empty(t, sess.Token)
	assert.Nil(t, sess.User)
	assert.Empty(t, sess.Message)
	assert.Equal(t, []events.Topic{events.TopicSessionEnded}, *seen)

	_, err := kv.Get(ctx, models.KeyAuthSession)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	remote.AssertExpectations(t)
}

func TestHandleAuthError(t *testing.T) {
	remote := new(mockRemote)
	bus := events.NewBus(nil)
	seen := topicRecorder(bus, events.TopicSessionExpired, events.TopicSessionEnded)
	s := NewStore(storage.NewMemoryKV(), remote, bus, nil)
	ctx := context.Background()

	s.SetSession(ctx, &models.User{ID: "u1"}, "tok")
	s.HandleAuthError(ctx)
	s.HandleAuthError(ctx)

	sess := s.Session()
	assert.False(t, sess.IsAuthenticated)
	assert.Equal(t, models.SessionExpiredNotice, sess.Message)
	assert.Equal(t, []events.Topic{events.TopicSessionExpired}, *seen)
	// no remote logout on a forced clear
	remote.AssertNotCalled(t, "Logout", mock.Anything)
}

func TestSubscribe(t *testing.T) {
	s := NewStore(storage.NewMemoryKV(), nil, events.NewBus(nil), nil)
	var states []bool
	unsub := s.Subscribe(func(sess models.AuthSession) { states = append(states, sess.IsAuthenticated) })
	defer unsub()

	s.SetSession(context.Background(), &models.User{ID: "u1"}, "tok")
	s.HandleAuthError(context.Background())

	assert.Equal(t, []bool{true, false}, states)
}
