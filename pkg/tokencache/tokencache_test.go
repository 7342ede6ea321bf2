package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetCachesUntilExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	c := New(func(ctx context.Context) (Token, error) {
		n := calls.Add(1)
		return Token{Value: fmt.Sprintf("tok-%d", n), ExpiresAt: now.Add(time.Hour)}, nil
	}, WithSkew(time.Minute), WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background())
		if err != nil || got != "tok-1" {
			t.Fatalf("Get() = %q, %v; want tok-1", got, err)
		}
	}

	now = now.Add(59*time.Minute + time.Second)
	got, err := c.Get(context.Background())
	if err != nil || got != "tok-2" {
		t.Fatalf("Get() inside skew = %q, %v; want tok-2", got, err)
	}

	c.Invalidate()
	got, _ = c.Get(context.Background())
	if got != "tok-3" {
		t.Fatalf("Get() after Invalidate = %q, want tok-3", got)
	}
}

func TestGetSharesRefresh(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	c := New(func(ctx context.Context) (Token, error) {
		calls.Add(1)
		<-release
		return Token{Value: "shared"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := c.Get(context.Background()); err != nil || got != "shared" {
				t.Errorf("Get() = %q, %v", got, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
}

func TestGetReturnsFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("auth down")
	c := New(func(ctx context.Context) (Token, error) { return Token{}, boom })
	if _, err := c.Get(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want %v", err, boom)
	}
}
