package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"eventnet/internal/config"
	"eventnet/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.BackendConfig{BaseURL: srv.URL + "/", Timeout: time.Second}, nil)
}

func TestClient_Deliver(t *testing.T) {
	var gotMethod, gotPath, gotKey, gotAuth, gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusNoContent)
	})
	c.SetTokenSource(staticTokens("session-token"))

	action := models.QueuedAction{
		ID:      "a-1",
		Payload: models.ActionPayload{Method: "post", Target: "api/v1/polls/7/votes", Body: json.RawMessage(`{"option":2}`)},
	}
	require.NoError(t, c.Deliver(context.Background(), action))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/polls/7/votes", gotPath)
	assert.Equal(t, "a-1", gotKey)
	assert.Equal(t, "Bearer session-token", gotAuth)
	assert.JSONEq(t, `{"option":2}`, gotBody)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantAuth  bool
		wantHTTP  bool
		temporary bool
	}{
		{name: "Unauthorized", status: http.StatusUnauthorized, wantAuth: true},
		{name: "Forbidden", status: http.StatusForbidden, wantAuth: true},
		{name: "ServerError", status: http.StatusBadGateway, wantHTTP: true, temporary: true},
		{name: "TooManyRequests", status: http.StatusTooManyRequests, wantHTTP: true, temporary: true},
		{name: "Conflict", status: http.StatusConflict, wantHTTP: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})

			err := c.Health(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantAuth, IsUnauthorized(err))

			var httpErr *HTTPError
			assert.Equal(t, tt.wantHTTP, errors.As(err, &httpErr))
			if tt.wantHTTP {
				assert.Equal(t, tt.status, httpErr.StatusCode)
				assert.Equal(t, tt.temporary, httpErr.Temporary())
				assert.Contains(t, httpErr.Error(), "nope")
			}
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(config.BackendConfig{BaseURL: srv.URL}, nil)
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))
}

func TestClient_FetchUpdates(t *testing.T) {
	var since string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		since = r.URL.Query().Get("since")
		_ = json.NewEncoder(w).Encode(models.UpdatesResponse{
			Updates: []models.Update{{ID: "u1", Kind: "poll", Title: "Vote now"}},
			Cursor:  "c2",
		})
	})

	resp, err := c.FetchUpdates(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", since)
	assert.Equal(t, "c2", resp.Cursor)
	require.Len(t, resp.Updates, 1)
	assert.Equal(t, "poll", resp.Updates[0].Kind)
}

func TestClient_LoginLogout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var creds models.Credentials
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds.Password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(models.LoginResponse{User: &models.User{ID: "u1", Email: creds.Email}, Token: "tok"})
		case "/api/v1/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	resp, err := c.Login(ctx, models.Credentials{Email: "a@b.c", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)
	assert.Equal(t, "a@b.c", resp.User.Email)

	_, err = c.Login(ctx, models.Credentials{Email: "a@b.c", Password: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.NoError(t, c.Logout(ctx))
}

func TestClient_RedisCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/api/v1/updates" {
			_ = json.NewEncoder(w).Encode(models.UpdatesResponse{Cursor: "next"})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	c.UseRedisCache(rdb, "eventnet:", time.Minute)
	c.SetTokenSource(staticTokens("session-token"))
	ctx := context.Background()

	t.Run("UpdatesServedFromCache", func(t *testing.T) {
		_, err := c.FetchUpdates(ctx, "c1")
		require.NoError(t, err)
		resp, err := c.FetchUpdates(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "next", resp.Cursor)
		assert.Equal(t, int32(1), hits.Load())

		s.FastForward(2 * time.Minute)
		_, err = c.FetchUpdates(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("DeliveredActionNotResent", func(t *testing.T) {
		hits.Store(0)
		action := models.QueuedAction{ID: "dup", Payload: models.ActionPayload{Method: "DELETE", Target: "/api/v1/connections/3"}}

		require.NoError(t, c.Deliver(ctx, action))
		require.NoError(t, c.Deliver(ctx, action))
		assert.Equal(t, int32(1), hits.Load())
		assert.True(t, s.Exists("eventnet:delivered:dup"))
	})
}

func TestClient_UpdatesCacheScopedBySession(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		user := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_ = json.NewEncoder(w).Encode(models.UpdatesResponse{
			Updates: []models.Update{{ID: "for-" + user}},
			Cursor:  "next",
		})
	})
	c.UseRedisCache(rdb, "eventnet:", time.Minute)
	ctx := context.Background()

	c.SetTokenSource(staticTokens("alice"))
	first, err := c.FetchUpdates(ctx, "c1")
	require.NoError(t, err)

	c.SetTokenSource(staticTokens("bob"))
	second, err := c.FetchUpdates(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, "for-alice", first.Updates[0].ID)
	assert.Equal(t, "for-bob", second.Updates[0].ID)
	assert.Equal(t, int32(2), hits.Load())
	for _, key := range s.Keys() {
		assert.True(t, strings.HasPrefix(key, "eventnet:updates:"), key)
	}

	c.DropUpdatesCache(ctx)
	_, err = c.FetchUpdates(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, s.Keys(), 2)
}

func TestClient_IdleCursorIsNotCached(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(models.UpdatesResponse{Cursor: r.URL.Query().Get("since")})
	})
	c.UseRedisCache(rdb, "eventnet:", time.Minute)
	c.SetTokenSource(staticTokens("alice"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.FetchUpdates(ctx, "c1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
	assert.Empty(t, s.Keys())
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(config.BackendConfig{BaseURL: srv.URL, RateLimit: config.RateLimit{RPS: 0.001, Burst: 1}}, nil)
	require.NoError(t, c.Health(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Health(ctx))
}
