package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Publish(b, JobFinished, "j1", map[string]any{"kind": "success"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != JobFinished || e.JobID != "j1" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	Publish(b, JobEnqueued, "a", nil)
	Publish(b, JobEnqueued, "b", nil)
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	Publish(b, JobEnqueued, "x", nil)
	Publish(nil, JobEnqueued, "x", nil)
}
