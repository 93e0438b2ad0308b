package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueStrictFIFO(t *testing.T) {
	var (
		mu  sync.Mutex
		ran []string
	)
	block := make(chan struct{})
	q := NewQueue(func(collection string, action Action, data any) (any, error) {
		<-block
		mu.Lock()
		ran = append(ran, data.(string))
		mu.Unlock()
		return nil, nil
	})

	// All three are queued before the worker may run any of them.
	futs := []*Future{
		q.Enqueue("c", ActionInsert, "w1"),
		q.Enqueue("c", ActionInsert, "w2"),
		q.Enqueue("c", ActionInsert, "w3"),
	}
	close(block)
	for _, fut := range futs {
		_, err := fut.Wait()
		require.NoError(t, err)
	}
	q.Close()

	assert.Equal(t, []string{"w1", "w2", "w3"}, ran)
}

func TestQueueResolvesAfterExecution(t *testing.T) {
	executed := false
	q := NewQueue(func(string, Action, any) (any, error) {
		executed = true
		return "result", nil
	})
	defer q.Close()

	value, err := q.Enqueue("c", ActionInsert, nil).Wait()
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, "result", value)
}

func TestQueueCoalescesAutoCompaction(t *testing.T) {
	var (
		mu       sync.Mutex
		compacts int
	)
	block := make(chan struct{})
	q := NewQueue(func(collection string, action Action, data any) (any, error) {
		if action == ActionInsert {
			<-block
		}
		if action == ActionCompact {
			mu.Lock()
			compacts++
			mu.Unlock()
		}
		return nil, nil
	})

	// Hold the worker on a sentinel so the compaction requests pile up
	// behind it. A burst for the same collection collapses to one pending
	// compaction; another collection's request is untouched.
	gate := q.Enqueue("c", ActionInsert, nil)
	first := q.EnqueueAutoCompact("c")
	q.EnqueueAutoCompact("c")
	last := q.EnqueueAutoCompact("c")
	other := q.EnqueueAutoCompact("d")

	close(block)
	_, err := gate.Wait()
	require.NoError(t, err)
	_, err = last.Wait()
	require.NoError(t, err)
	_, err = other.Wait()
	require.NoError(t, err)
	_, err = first.Wait() // superseded requests settle too
	require.NoError(t, err)
	q.Close()

	assert.Equal(t, 2, compacts)
}

func TestQueueCloseDrainsPendingTasks(t *testing.T) {
	var (
		mu  sync.Mutex
		ran int
	)
	block := make(chan struct{})
	q := NewQueue(func(string, Action, any) (any, error) {
		<-block
		mu.Lock()
		ran++
		mu.Unlock()
		return nil, nil
	})

	for i := 0; i < 5; i++ {
		q.Enqueue("c", ActionInsert, nil)
	}
	close(block)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, ran)
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(func(string, Action, any) (any, error) { return nil, nil })
	q.Close()

	_, err := q.Enqueue("c", ActionInsert, nil).Wait()
	assert.ErrorIs(t, err, ErrAdapterClosed)
}
