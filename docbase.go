// Package docbase is an embedded, single-process document database: an
// in-memory indexed document store backed by a per-collection append-only
// log, exposing a MongoDB-style query and update language.
package docbase

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"docbase/internal/collection"
	"docbase/internal/document"
	"docbase/internal/query"
	"docbase/internal/storage"
)

// Errors surfaced by the engine, re-exported for callers.
var (
	ErrDuplicateID          = collection.ErrDuplicateID
	ErrReplaceIDMismatch    = collection.ErrReplaceIDMismatch
	ErrInvalidOperatorUsage = query.ErrInvalidOperatorUsage
	ErrUnsupportedOperator  = query.ErrUnsupportedOperator
	ErrTypeMismatch         = query.ErrTypeMismatch
	ErrUnknownTaggedType    = document.ErrUnknownTaggedType
)

// Document is a JSON-like record with a unique _id within its collection.
type Document = document.Document

// Options tunes a find call; see collection.Options.
type Options = collection.Options

// FindAndModifyOptions drives Collection.FindAndModify.
type FindAndModifyOptions = collection.FindAndModifyOptions

// DB is the top-level handle over one storage location.
type DB struct {
	location string
	adapter  storage.Adapter
	ids      *document.Generator

	mu          sync.RWMutex
	collections map[string]*collection.Collection
	closed      bool
}

// memoryScheme selects the no-op adapter: no persistence, same semantics.
const memoryScheme = "memory://"

// Option tunes how a database opens.
type Option func(*openOptions)

type openOptions struct {
	syncWrites bool
}

// WithSyncWrites controls whether every appended record is fsynced. On by
// default; turning it off trades durability for write throughput.
func WithSyncWrites(enabled bool) Option {
	return func(o *openOptions) { o.syncWrites = enabled }
}

// Open prepares a database at the given storage location. A plain path or
// file:// URL selects the file adapter and creates the directory; the
// location "memory://" keeps everything in memory.
func Open(location string, opts ...Option) (*DB, error) {
	o := openOptions{syncWrites: true}
	for _, opt := range opts {
		opt(&o)
	}

	var adapter storage.Adapter
	if strings.HasPrefix(location, memoryScheme) {
		adapter = storage.NewMemoryAdapter()
	} else {
		adapter = storage.NewFileAdapter(strings.TrimPrefix(location, "file://"), o.syncWrites)
	}

	if err := adapter.OpenDB(); err != nil {
		return nil, err
	}
	ids, err := document.NewGenerator()
	if err != nil {
		adapter.CloseDB()
		return nil, err
	}

	slog.Info("Database opened", "location", location)
	return &DB{
		location:    location,
		adapter:     adapter,
		ids:         ids,
		collections: make(map[string]*collection.Collection),
	}, nil
}

// Collection returns the named collection, constructing it on first use.
// Construction is eager; the collection loads its log on the first data
// operation.
func (db *DB) Collection(name string) *collection.Collection {
	db.mu.RLock()
	col, found := db.collections[name]
	db.mu.RUnlock()
	if found {
		return col
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	// Double-check in case another goroutine created it while we waited.
	if col, found = db.collections[name]; found {
		return col
	}

	col = collection.New(name, db.adapter, db.ids)
	db.collections[name] = col
	slog.Debug("Collection handle created", "name", name)
	return col
}

// Collections lists every known collection: live handles plus names present
// at the storage location.
func (db *DB) Collections() ([]string, error) {
	onDisk, err := db.adapter.List()
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	names := make(map[string]struct{}, len(db.collections)+len(onDisk))
	for name := range db.collections {
		names[name] = struct{}{}
	}
	db.mu.RUnlock()
	for _, name := range onDisk {
		names[name] = struct{}{}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// DropCollection drops the named collection and forgets its handle.
func (db *DB) DropCollection(name string) error {
	db.mu.Lock()
	col, found := db.collections[name]
	delete(db.collections, name)
	db.mu.Unlock()

	if !found {
		col = collection.New(name, db.adapter, db.ids)
	}
	return col.Drop()
}

// Close settles every collection's in-flight writes and releases the storage
// adapter.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	cols := make([]*collection.Collection, 0, len(db.collections))
	for _, col := range db.collections {
		cols = append(cols, col)
	}
	db.collections = make(map[string]*collection.Collection)
	db.mu.Unlock()

	var firstErr error
	for _, col := range cols {
		if err := col.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.adapter.CloseDB(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("failed to close database: %w", firstErr)
	}
	slog.Info("Database closed", "location", db.location)
	return nil
}

// Drop deletes the whole storage location.
func (db *DB) Drop() error {
	db.mu.Lock()
	db.closed = true
	db.collections = make(map[string]*collection.Collection)
	db.mu.Unlock()
	return db.adapter.DropDB()
}
