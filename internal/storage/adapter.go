// Package storage provides the per-collection append-only log, the write
// queue that serializes all disk actions of one adapter, and the adapter
// contract the collection engine consumes.
package storage

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"docbase/internal/document"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrAdapterClosed reports an action issued after the adapter shut down.
var ErrAdapterClosed = errors.New("storage adapter is closed")

// Action names the storage operations a collection can request.
type Action string

const (
	ActionOpen    Action = "open"
	ActionClose   Action = "close"
	ActionDrop    Action = "drop"
	ActionCompact Action = "compact"
	ActionInsert  Action = "insert"
	ActionUpdate  Action = "update"
	ActionRemove  Action = "remove"
)

// OpenResult carries the state replayed from a collection's log.
type OpenResult struct {
	// Docs maps identifier to the last surviving version of each document.
	Docs map[string]document.Document
	// Order lists identifiers in first-write order, the iteration order the
	// collection index preserves.
	Order []string
	// MaxNumericID is the high-water mark of numeric identifiers seen in
	// tombstone or $$id records.
	MaxNumericID int64
}

// Adapter is the storage boundary the collection engine depends on. A no-op
// adapter (no persistence) must be substitutable without changing collection
// semantics.
type Adapter interface {
	OpenDB() error
	CloseDB() error
	DropDB() error
	List() ([]string, error)
	Action(collection string, action Action, data any) *Future
}

// Future is the handle for an enqueued storage action. It resolves only after
// the action ran, which for writes means durably appended.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(value any, err error) *Future {
	f := newFuture()
	f.resolve(value, err)
	return f
}

func (f *Future) resolve(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Wait blocks until the action settled and returns its result.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.value, f.err
}
