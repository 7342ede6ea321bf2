package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Kind
	}{
		{200, Success},
		{204, Success},
		{404, ClientError},
		{429, ClientError},
		{500, Transient},
		{503, Transient},
		{302, Unexpected},
		{101, Unexpected},
		{600, Unexpected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.status)
			if got.Kind != tt.want || got.Status != tt.status {
				t.Fatalf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestHTTPProbe(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "upwatch-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("up"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/ok", http.StatusFound) })
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTP(WithUserAgent("upwatch-test"))
	tests := []struct {
		path string
		want Kind
	}{
		{"/ok", Success},
		{"/moved", Success},
		{"/gone", ClientError},
		{"/down", Transient},
		{"/slow", Transient},
	}
	for _, tt := range tests {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		got := p.Probe(ctx, srv.URL+tt.path)
		cancel()
		if got.Kind != tt.want {
			t.Fatalf("Probe(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHTTPProbeConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	got := NewHTTP().Probe(context.Background(), url)
	if got.Kind != Transient || got.Reason == "" {
		t.Fatalf("Probe(closed) = %+v, want transient with reason", got)
	}
}

func TestHTTPProbeNonRetryable(t *testing.T) {
	t.Parallel()

	var hops atomic.Int32
	loop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer loop.Close()

	p := NewHTTP()
	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"redirect loop", loop.URL + "/loop", http.StatusFound},
		{"no scheme", "notaurl", 0},
		{"ftp scheme", "ftp://example.com/x", 0},
	}
	for _, tt := range tests {
		got := p.Probe(context.Background(), tt.url)
		if got.Kind != Unexpected || got.Status != tt.wantStatus {
			t.Fatalf("%s: Probe(%q) = %v, want unexpected with status %d", tt.name, tt.url, got, tt.wantStatus)
		}
	}
	if n := hops.Load(); n != maxRedirects+1 {
		t.Fatalf("redirect loop requests = %d, want %d", n, maxRedirects+1)
	}
}

func TestErrorOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", &url.Error{Op: "Get", URL: "http://a", Err: context.DeadlineExceeded}, Transient},
		{"refused", &url.Error{Op: "Get", URL: "http://a", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, Transient},
		{"dns", &url.Error{Op: "Get", URL: "http://a", Err: &net.DNSError{Err: "no such host", Name: "a"}}, Transient},
		{"eof", &url.Error{Op: "Get", URL: "http://a", Err: io.EOF}, Transient},
		{"scheme", &url.Error{Op: "Get", URL: "ftp://a", Err: errors.New(`unsupported protocol scheme "ftp"`)}, Unexpected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ErrorOutcome(tt.err)
			if got.Kind != tt.want || got.Reason == "" {
				t.Fatalf("ErrorOutcome(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
