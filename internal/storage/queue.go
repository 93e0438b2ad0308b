package storage

import (
	"log/slog"
	"sync"
)

// task is one pending storage action.
type task struct {
	collection string
	action     Action
	data       any
	fut        *Future
	// auto marks an automatically requested compaction, which may be
	// coalesced with a later one for the same collection.
	auto bool
}

// Queue is the strict FIFO of pending storage actions for one adapter. A
// single worker goroutine drains it one task at a time, so no two actions
// ever run concurrently and submission order is execution order.
type Queue struct {
	mu     sync.Mutex
	tasks  []*task
	closed bool

	wake chan struct{}
	wg   sync.WaitGroup
	exec func(collection string, action Action, data any) (any, error)
}

// NewQueue starts the worker draining tasks through exec.
func NewQueue(exec func(collection string, action Action, data any) (any, error)) *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		exec: exec,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue appends an action and returns its future.
func (q *Queue) Enqueue(collection string, action Action, data any) *Future {
	return q.enqueue(collection, action, data, false)
}

// EnqueueAutoCompact appends an automatic compaction request, dropping any
// still-pending automatic compaction for the same collection first so queued
// duplicates coalesce into the newest request.
func (q *Queue) EnqueueAutoCompact(collection string) *Future {
	return q.enqueue(collection, ActionCompact, nil, true)
}

func (q *Queue) enqueue(collection string, action Action, data any, auto bool) *Future {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return resolvedFuture(nil, ErrAdapterClosed)
	}

	if auto && action == ActionCompact {
		kept := q.tasks[:0]
		for _, t := range q.tasks {
			if t.auto && t.action == ActionCompact && t.collection == collection {
				// Superseded by the request being enqueued now.
				t.fut.resolve(nil, nil)
				continue
			}
			kept = append(kept, t)
		}
		q.tasks = kept
	}

	t := &task{collection: collection, action: action, data: data, fut: newFuture(), auto: auto}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return t.fut
}

// Close stops accepting new actions, drains everything already queued and
// waits for the worker to finish. An enqueued action always runs to
// completion once accepted.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				slog.Debug("Storage queue drained, worker stopping")
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		value, err := q.exec(t.collection, t.action, t.data)
		if err != nil {
			slog.Error("Storage action failed", "collection", t.collection, "action", t.action, "error", err)
		}
		t.fut.resolve(value, err)
	}
}
