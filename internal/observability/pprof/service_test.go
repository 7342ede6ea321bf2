package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "upwatch/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{":6060", false},
		{"0.0.0.0:6060", false},
		{"10.0.0.5:6060", false},
		{"nonsense", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			if got := isLoopbackAddr(tt.addr); got != tt.want {
				t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"":           "/debug/pprof/",
		"prof":       "/prof/",
		"/x/pprof":   "/x/pprof/",
		"/debug/p/ ": "/debug/p/",
	} {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	s := New(Config{Token: "s3cret"}, logx.Nop(), func(context.Context) (any, error) {
		return map[string]int{"pending": 3}, nil
	})
	srv := httptest.NewServer(s.handler(s.cfg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + StatusPath)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+StatusPath, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var doc map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if doc["pending"] != 3 {
		t.Fatalf("doc = %v", doc)
	}
}

func TestStatusEndpointError(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), func(context.Context) (any, error) {
		return nil, errors.New("store closed")
	})
	rec := httptest.NewRecorder()
	s.handler(s.cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/upwatch?token=x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), nil)
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatalf("serveOnce on public addr without token error = nil")
	}
}

func TestReconfigureStartsAndStops(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	if s.Supervisor() == nil {
		t.Fatalf("Supervisor() = nil after enabling")
	}
	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Supervisor() != nil {
		t.Fatalf("Supervisor() != nil after disabling")
	}
}
