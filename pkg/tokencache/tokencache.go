// Package tokencache holds one expiring credential and refreshes it on
// demand. Each Cache is owned by whoever constructs it; there is no
// package-level state.
package tokencache

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Token struct {
	Value     string
	ExpiresAt time.Time
}

// FetchFunc obtains a fresh token.
type FetchFunc func(ctx context.Context) (Token, error)

type Option func(*Cache)

// WithSkew refreshes tokens this long before they expire.
func WithSkew(d time.Duration) Option { return func(c *Cache) { c.skew = d } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

type Cache struct {
	fetch FetchFunc
	skew  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	tok      Token
	inflight chan struct{} // closed when the current refresh ends
	lastErr  error
}

func New(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{fetch: fetch, skew: 30 * time.Second, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a valid token, refreshing it if needed. Concurrent callers
// share a single refresh.
func (c *Cache) Get(ctx context.Context) (string, error) {
	if c.fetch == nil {
		return "", errors.New("tokencache: no fetch func")
	}
	for {
		c.mu.Lock()
		if c.valid() {
			v := c.tok.Value
			c.mu.Unlock()
			return v, nil
		}
		if wait := c.inflight; wait != nil {
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-wait:
			}
			c.mu.Lock()
			if c.valid() {
				v := c.tok.Value
				c.mu.Unlock()
				return v, nil
			}
			err := c.lastErr
			c.mu.Unlock()
			if err != nil {
				return "", err
			}
			continue
		}
		done := make(chan struct{})
		c.inflight = done
		c.mu.Unlock()

		tok, err := c.fetch(ctx)

		c.mu.Lock()
		c.inflight = nil
		c.lastErr = err
		if err == nil {
			c.tok = tok
		}
		c.mu.Unlock()
		close(done)

		if err != nil {
			return "", err
		}
		return tok.Value, nil
	}
}

// Invalidate drops the cached token, e.g. after the server rejected it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.tok = Token{}
	c.mu.Unlock()
}

func (c *Cache) valid() bool {
	if c.tok.Value == "" {
		return false
	}
	if c.tok.ExpiresAt.IsZero() {
		return true
	}
	return c.now().Add(c.skew).Before(c.tok.ExpiresAt)
}
