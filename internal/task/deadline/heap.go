package deadline

import (
	"context"
	"time"
)

type action struct {
	deadline time.Time
	seq      uint64
	name     string
	priority int
	fn       func(ctx context.Context) error
}

// actionHeap orders by deadline, then insertion order.
type actionHeap []*action

func (h actionHeap) Len() int { return len(h) }

func (h actionHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h actionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *actionHeap) Push(x any) { *h = append(*h, x.(*action)) }

func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func (h actionHeap) peek() *action {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
