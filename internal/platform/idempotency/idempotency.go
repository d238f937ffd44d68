// Package idempotency replays the first successful response of a write
// request when the client retries it with the same Idempotency-Key header.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long a completed response is replayable.
const DefaultTTL = 24 * time.Hour

// lockTTL bounds how long an in-flight marker survives a crashed request.
const lockTTL = 30 * time.Second

const HeaderKey = "Idempotency-Key"

// Entry is a cached response.
type Entry struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Store persists entries and in-flight markers. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	// Lock marks key as in flight; false means another request holds it.
	Lock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// MemoryStore is a single-process Store with TTL expiry on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]time.Time
	ttl     time.Duration
	nowFunc func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.nowFunc().After(me.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	cp := me.entry
	cp.Headers = me.entry.Headers.Clone()
	cp.Body = append([]byte(nil), me.entry.Body...)
	return &cp, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	cp.Headers = entry.Headers.Clone()
	cp.Body = append([]byte(nil), entry.Body...)
	s.entries[key] = memoryEntry{entry: cp, expiresAt: s.nowFunc().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if exp, ok := s.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.locks[key] = now.Add(lockTTL)
	return true, nil
}

func (s *MemoryStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

// RedisStore shares entries across replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.client.Get(ctx, "idem:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return &e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, "idem:"+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Lock(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, "idem-lock:"+key, 1, lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("lock idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Unlock(ctx context.Context, key string) error {
	return s.client.Del(ctx, "idem-lock:"+key).Err()
}

// Middleware replays cached responses for requests carrying an
// Idempotency-Key. Keys are scoped to the authenticated user. Only 2xx
// responses are cached so a rejected request can be retried after the
// client fixes it.
func Middleware(store Store, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost && req.Method != http.MethodPut && req.Method != http.MethodPatch {
				return next(c)
			}
			clientKey := req.Header.Get(HeaderKey)
			if clientKey == "" {
				return next(c)
			}
			if len(clientKey) > 255 {
				return echo.NewHTTPError(http.StatusBadRequest, "idempotency key too long")
			}

			uid, _ := c.Get("user_id").(string)
			key := uid + ":" + clientKey
			ctx := req.Context()
			path := req.URL.Path

			cached, ok, err := store.Get(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency store unavailable")
				return next(c)
			}
			if ok {
				if cached.Method != req.Method || cached.Path != path {
					return echo.NewHTTPError(http.StatusUnprocessableEntity,
						"idempotency key was already used for a different operation")
				}
				return replay(c, cached)
			}

			locked, err := store.Lock(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency lock unavailable")
				return next(c)
			}
			if !locked {
				return echo.NewHTTPError(http.StatusConflict,
					"a request with this idempotency key is already in progress")
			}
			defer func() {
				if err := store.Unlock(context.WithoutCancel(ctx), key); err != nil {
					logger.Warn().Err(err).Msg("idempotency unlock failed")
				}
			}()

			origWriter := c.Response().Writer
			rec := &recorder{
				ResponseWriter: origWriter,
				body:           &bytes.Buffer{},
				statusCode:     http.StatusOK,
				headers:        make(http.Header),
			}
			c.Response().Writer = rec

			handlerErr := next(c)
			c.Response().Writer = origWriter
			if handlerErr != nil {
				// Nothing was committed; the error handler writes the response.
				c.Response().Committed = false
				return handlerErr
			}

			if rec.statusCode >= 200 && rec.statusCode < 300 {
				entry := &Entry{
					Method:     req.Method,
					Path:       path,
					StatusCode: rec.statusCode,
					Headers:    rec.headers.Clone(),
					Body:       rec.body.Bytes(),
					CreatedAt:  time.Now().UTC(),
				}
				if err := store.Set(context.WithoutCancel(ctx), key, entry); err != nil {
					logger.Warn().Err(err).Msg("idempotency store write failed")
				}
			}

			for k, vals := range rec.headers {
				for _, v := range vals {
					origWriter.Header().Add(k, v)
				}
			}
			origWriter.WriteHeader(rec.statusCode)
			_, err = origWriter.Write(rec.body.Bytes())
			return err
		}
	}
}

func replay(c echo.Context, cached *Entry) error {
	resp := c.Response()
	for k, vals := range cached.Headers {
		for _, v := range vals {
			resp.Header().Set(k, v)
		}
	}
	resp.Header().Set("X-Idempotency-Replayed", "true")
	resp.WriteHeader(cached.StatusCode)
	_, err := resp.Write(cached.Body)
	return err
}

// recorder buffers the status code, headers and body written downstream.
type recorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	headers    http.Header
	wroteHead  bool
}

func (r *recorder) Header() http.Header {
	return r.headers
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.statusCode = code
	r.wroteHead = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.statusCode = http.StatusOK
		r.wroteHead = true
	}
	return r.body.Write(b)
}
