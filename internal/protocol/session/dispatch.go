package session

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/rconsole/internal/observability"
	"github.com/rs/zerolog/log"
)

// Queue serializes work items from I/O goroutines onto a single consumer.
// Items run in FIFO order; only one Pump runs at a time.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	pumpMu sync.Mutex
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pump runs queued items until the queue is empty, including items enqueued
// while pumping, and returns how many ran.
func (q *Queue) Pump() int {
	q.pumpMu.Lock()
	defer q.pumpMu.Unlock()

	ran := 0
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			runItem(fn)
			ran++
		}
	}
}

// Run pumps whenever work arrives and at least every interval until ctx ends.
func (q *Queue) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Pump()
			return ctx.Err()
		case <-q.notify:
		case <-ticker.C:
		}
		q.Pump()
	}
}

func runItem(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerFailure("dispatch", "panic")
			log.Error().Interface("panic", r).Msg("session.queue work item panicked")
		}
	}()
	fn()
}
