package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockKV struct {
	mock.Mock
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *mockKV) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockKV) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestFailoverKV(t *testing.T) {
	primary := new(mockKV)
	fallback := new(mockKV)
	logger := zerolog.New(io.Discard)
	kv := NewFailoverKV(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "a").Return([]byte("1"), nil).Once()

		got, err := kv.Get(ctx, "a")
		assert.NoError(t, err)
		assert.Equal(t, []byte("1"), got)
		primary.AssertExpectations(t)
	})

	t.Run("NotFoundDoesNotFailOver", func(t *testing.T) {
		primary.On("Get", ctx, "none").Return(nil, ErrNotFound).Once()

		_, err := kv.Get(ctx, "none")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, kv.isDown.Load())
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Get", ctx, "b").Return(nil, errors.New("disk full")).Once()
		fallback.On("Get", ctx, "b").Return([]byte("2"), nil).Once()

		got, err := kv.Get(ctx, "b")
		assert.NoError(t, err)
		assert.Equal(t, []byte("2"), got)
		assert.True(t, kv.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetAlreadyDown", func(t *testing.T) {
		kv.isDown.Store(true)
		fallback.On("Set", ctx, "c", []byte("3")).Return(nil).Once()

		assert.NoError(t, kv.Set(ctx, "c", []byte("3")))
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		kv.isDown.Store(true)
		kv.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Get", ctx, "d").Return([]byte("4"), nil).Once()

		got, err := kv.Get(ctx, "d")
		assert.NoError(t, err)
		assert.Equal(t, []byte("4"), got)
		assert.False(t, kv.isDown.Load())
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		kv.isDown.Store(true)
		kv.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Get", ctx, "e").Return(nil, errors.New("still down")).Once()
		fallback.On("Get", ctx, "e").Return(nil, ErrNotFound).Once()

		_, err := kv.Get(ctx, "e")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, kv.isDown.Load())
	})

	t.Run("SetFailover", func(t *testing.T) {
		kv.isDown.Store(false)
		primary.On("Set", ctx, "f", []byte("5")).Return(errors.New("fail")).Once()
		fallback.On("Set", ctx, "f", []byte("5")).Return(nil).Once()

		assert.NoError(t, kv.Set(ctx, "f", []byte("5")))
		assert.True(t, kv.isDown.Load())
	})

	t.Run("DeleteFailover", func(t *testing.T) {
		kv.isDown.Store(false)
		primary.On("Delete", ctx, "g").Return(errors.New("fail")).Once()
		fallback.On("Delete", ctx, "g").Return(nil).Once()

		assert.NoError(t, kv.Delete(ctx, "g"))
		assert.True(t, kv.isDown.Load())
	})

	t.Run("Close", func(t *testing.T) {
		primary.On("Close").Return(nil).Once()
		fallback.On("Close").Return(nil).Once()
		assert.NoError(t, kv.Close())
	})
}
