package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"eventnet/internal/config"
	"eventnet/internal/logging"
	"eventnet/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxErrorBody         = 512
	deliveredMarkerTTL   = 24 * time.Hour
)

// TokenSource supplies the bearer token of the current session.
type TokenSource interface {
	Token() string
}

// Client talks JSON over HTTPS to the event-networking backend.
type Client struct {
	baseURL     string
	staticToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	tokens      TokenSource
	logger      *zerolog.Logger

	redis     *redis.Client
	keyPrefix string
	cacheTTL  time.Duration
	scopeMu   sync.Mutex
	lastScope string
}

// NewClient constructs a client from the backend config section.
func NewClient(cfg config.BackendConfig, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		staticToken: cfg.Token,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     limiter,
		logger:      logging.Component(logger, "backend"),
	}
}

// SetTokenSource installs the session token provider used for the bearer header.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// UseRedisCache configures optional Redis caching for update polls and
// delivered-action markers. Keys start with prefix.
func (c *Client) UseRedisCache(redisClient *redis.Client, prefix string, ttl time.Duration) {
	c.redis = redisClient
	c.keyPrefix = prefix
	c.cacheTTL = ttl
}

// Deliver replays a queued action. The action id is sent as Idempotency-Key
// so the backend can drop duplicates of a retried request.
func (c *Client) Deliver(ctx context.Context, action models.QueuedAction) error {
	markerKey := c.keyPrefix + "delivered:" + action.ID
	if c.hasMarker(ctx, markerKey) {
		c.logger.Debug().Str("action_id", action.ID).Msg("action already delivered, skipping request")
		return nil
	}

	method := strings.ToUpper(action.Payload.Method)
	var body io.Reader
	if len(action.Payload.Body) > 0 {
		body = bytes.NewReader(action.Payload.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(action.Payload.Target), body)
	if err != nil {
		return fmt.Errorf("build request for action %s: %w", action.ID, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerIdempotencyKey, action.ID)
	c.addHeaders(req)

	if err := c.do(req, nil); err != nil {
		return err
	}
	c.setMarker(ctx, markerKey)
	return nil
}

// FetchUpdates returns updates newer than the since cursor.
func (c *Client) FetchUpdates(ctx context.Context, since string) (*models.UpdatesResponse, error) {
	endpoint := c.baseURL + "/api/v1/updates"
	if since != "" {
		endpoint += "?since=" + url.QueryEscape(since)
	}

	// Cache entries are scoped to the session token. Only closed windows
	// (the cursor moved) are cached, so an idle cursor always reaches the
	// backend and new updates are not held back.
	scope := c.cacheScope()
	cacheable := since != "" && scope != ""
	cacheKey := c.updatesKeyPrefix(scope) + since

	var resp models.UpdatesResponse
	if cacheable && c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}

	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if cacheable && resp.Cursor != "" && resp.Cursor != since {
		c.writeCache(ctx, cacheKey, resp)
	}
	return &resp, nil
}

// DropUpdatesCache deletes the cached update windows of the last session
// that polled. Call it when the session ends or changes.
func (c *Client) DropUpdatesCache(ctx context.Context) {
	c.scopeMu.Lock()
	scope := c.lastScope
	c.lastScope = ""
	c.scopeMu.Unlock()

	if c.redis == nil || scope == "" {
		return
	}

	iter := c.redis.Scan(ctx, 0, c.updatesKeyPrefix(scope)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to scan updates cache")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to drop updates cache")
	}
}

func (c *Client) updatesKeyPrefix(scope string) string {
	return c.keyPrefix + "updates:" + scope + ":"
}

// cacheScope hashes the current bearer token and remembers it for
// DropUpdatesCache. An empty scope disables caching.
func (c *Client) cacheScope() string {
	if c.redis == nil || c.cacheTTL <= 0 {
		return ""
	}
	token := c.bearer()
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	scope := hex.EncodeToString(sum[:8])

	c.scopeMu.Lock()
	c.lastScope = scope
	c.scopeMu.Unlock()
	return scope
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	if err := c.doPost(ctx, c.baseURL+"/api/v1/auth/login", creds, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("login response has no token")
	}
	return &resp, nil
}

// Logout invalidates the current session on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.doPost(ctx, c.baseURL+"/api/v1/auth/logout", struct{}{}, nil)
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.doGet(ctx, c.baseURL+"/api/v1/health", nil)
}

func (c *Client) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return c.baseURL + target
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *Client) hasMarker(ctx context.Context, key string) bool {
	if c.redis == nil {
		return false
	}
	n, err := c.redis.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (c *Client) setMarker(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, key, "1", deliveredMarkerTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("delivered marker write failed")
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrUnauthorized)
	case resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     req.Method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")

	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) bearer() string {
	if c.tokens != nil {
		if t := c.tokens.Token(); t != "" {
			return t
		}
	}
	return c.staticToken
}
