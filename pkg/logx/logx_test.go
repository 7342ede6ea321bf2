package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(Job("j1"))
	log.Info("job finished", String("kind", "success"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["job_id"] != "j1" || m["kind"] != "success" || m["message"] != "job finished" {
		t.Fatalf("record = %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger IsZero = false")
	}
	l.Error("dropped")
}

func TestRenderRecord(t *testing.T) {
	t.Parallel()

	got := renderRecord([]byte(`{"level":"warn","message":"probe failed","url":"http://x","job_id":"a"}`))
	want := "[WARN] probe failed\n- job_id=a\n- url=http://x"
	if got != want {
		t.Fatalf("renderRecord = %q, want %q", got, want)
	}

	if raw := renderRecord([]byte("not json\n")); raw != "not json" {
		t.Fatalf("raw = %q", raw)
	}
	if long := clip(strings.Repeat("x", 50), 20); len(long) != 20 || !strings.HasSuffix(long, "...") {
		t.Fatalf("clip = %q", long)
	}
}

type chatRecorder struct{ got chan string }

func (r *chatRecorder) SendText(_ context.Context, chatID int64, threadID int, text string) error {
	r.got <- fmt.Sprintf("%d/%d %s", chatID, threadID, text)
	return nil
}

func TestServiceForwardsWarningsAfterSetSender(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "upwatch.log")},
		Telegram: TelegramConfig{Enabled: true, ChatID: 42, ThreadID: 7, RatePerSec: 100},
	})
	defer svc.Close()

	rec := &chatRecorder{got: make(chan string, 4)}
	svc.SetSender(rec)

	log.Info("routine")
	log.Warn("notice queue full", String("target", "ops@example.com"))

	select {
	case got := <-rec.got:
		if !strings.HasPrefix(got, "42/7 [WARN] notice queue full\n") ||
			!strings.Contains(got, "\n- caller=logx_test.go:") ||
			!strings.HasSuffix(got, "\n- target=ops@example.com") {
			t.Fatalf("sent %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("warning not forwarded")
	}
	select {
	case got := <-rec.got:
		t.Fatalf("unexpected second message %q", got)
	case <-time.After(20 * time.Millisecond):
	}
}
