package storage

import "sync"

// MemoryAdapter satisfies the adapter contract with no persistence at all.
// Collections behave identically; durability writes settle immediately.
type MemoryAdapter struct {
	mu     sync.Mutex
	names  map[string]struct{}
	closed bool
}

// NewMemoryAdapter creates an adapter that never touches disk.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{names: make(map[string]struct{})}
}

func (a *MemoryAdapter) OpenDB() error { return nil }

func (a *MemoryAdapter) CloseDB() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

func (a *MemoryAdapter) DropDB() error {
	a.mu.Lock()
	a.names = make(map[string]struct{})
	a.closed = true
	a.mu.Unlock()
	return nil
}

func (a *MemoryAdapter) List() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.names))
	for name := range a.names {
		names = append(names, name)
	}
	return names, nil
}

func (a *MemoryAdapter) Action(collection string, action Action, data any) *Future {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return resolvedFuture(nil, ErrAdapterClosed)
	}

	switch action {
	case ActionOpen:
		a.names[collection] = struct{}{}
		return resolvedFuture(&OpenResult{Docs: map[string]map[string]any{}}, nil)
	case ActionDrop:
		delete(a.names, collection)
	}
	return resolvedFuture(nil, nil)
}
