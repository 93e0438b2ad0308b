package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docbase/internal/document"
)

// LogFileExtension is the suffix of per-collection log files.
const LogFileExtension = ".dblog"

// FileAdapter persists each collection as one append-only log file under a
// storage directory. Every action, across all collections, funnels through
// one write queue, so at most one disk operation is ever in flight.
type FileAdapter struct {
	dir        string
	syncWrites bool
	queue      *Queue

	mu   sync.Mutex
	logs map[string]*Log
}

// NewFileAdapter creates the adapter for a storage directory.
func NewFileAdapter(dir string, syncWrites bool) *FileAdapter {
	a := &FileAdapter{
		dir:        dir,
		syncWrites: syncWrites,
		logs:       make(map[string]*Log),
	}
	a.queue = NewQueue(a.execute)
	return a
}

// OpenDB creates the storage directory.
func (a *FileAdapter) OpenDB() error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %q: %w", a.dir, err)
	}
	return nil
}

// CloseDB drains the queue and closes every open log.
func (a *FileAdapter) CloseDB() error {
	a.queue.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for name, l := range a.logs {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.logs, name)
	}
	return firstErr
}

// DropDB drains the queue and deletes the storage directory.
func (a *FileAdapter) DropDB() error {
	if err := a.CloseDB(); err != nil {
		return err
	}
	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("failed to remove storage directory %q: %w", a.dir, err)
	}
	slog.Info("Storage location deleted", "dir", a.dir)
	return nil
}

// List enumerates the collection names present on disk.
func (a *FileAdapter) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read storage directory %q: %w", a.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), LogFileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), LogFileExtension))
	}
	return names, nil
}

// Action enqueues one storage operation for a collection.
func (a *FileAdapter) Action(collection string, action Action, data any) *Future {
	return a.queue.Enqueue(collection, action, data)
}

func (a *FileAdapter) logPath(collection string) string {
	return filepath.Join(a.dir, collection+LogFileExtension)
}

// execute runs on the queue worker, one action at a time.
func (a *FileAdapter) execute(collection string, action Action, data any) (any, error) {
	switch action {
	case ActionOpen:
		l, result, err := OpenLog(a.logPath(collection), a.syncWrites)
		if err != nil {
			return nil, err
		}
		a.setLog(collection, l)
		return result, nil

	case ActionInsert, ActionUpdate:
		doc, ok := data.(document.Document)
		if !ok {
			return nil, fmt.Errorf("%s action requires a document, got %T", action, data)
		}
		l, err := a.log(collection)
		if err != nil {
			return nil, err
		}
		if err := l.Append(doc); err != nil {
			return nil, err
		}
		a.maybeCompact(collection, l)
		return nil, nil

	case ActionRemove:
		id, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("remove action requires an identifier, got %T", data)
		}
		l, err := a.log(collection)
		if err != nil {
			return nil, err
		}
		if err := l.AppendTombstone(id); err != nil {
			return nil, err
		}
		a.maybeCompact(collection, l)
		return nil, nil

	case ActionCompact:
		l, err := a.log(collection)
		if err != nil {
			return nil, err
		}
		return nil, l.Compact()

	case ActionDrop:
		a.mu.Lock()
		l, open := a.logs[collection]
		delete(a.logs, collection)
		a.mu.Unlock()
		if open {
			if err := l.Close(); err != nil {
				return nil, err
			}
		}
		if err := os.Remove(a.logPath(collection)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to delete collection log: %w", err)
		}
		slog.Info("Collection log deleted", "collection", collection)
		return nil, nil

	case ActionClose:
		a.mu.Lock()
		l, open := a.logs[collection]
		delete(a.logs, collection)
		a.mu.Unlock()
		if open {
			return nil, l.Close()
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown storage action %q", action)
	}
}

// log fetches the open log for a collection, opening it on demand for writes
// issued against a collection whose open result was never consumed.
func (a *FileAdapter) log(collection string) (*Log, error) {
	a.mu.Lock()
	l, open := a.logs[collection]
	a.mu.Unlock()
	if open {
		return l, nil
	}

	l, _, err := OpenLog(a.logPath(collection), a.syncWrites)
	if err != nil {
		return nil, err
	}
	a.setLog(collection, l)
	return l, nil
}

func (a *FileAdapter) setLog(collection string, l *Log) {
	a.mu.Lock()
	a.logs[collection] = l
	a.mu.Unlock()
}

// maybeCompact schedules an automatic compaction once stale records dominate
// the file. Duplicate pending requests for the collection coalesce.
func (a *FileAdapter) maybeCompact(collection string, l *Log) {
	if !l.NeedsCompaction() {
		return
	}
	slog.Debug("Scheduling automatic compaction", "collection", collection)
	a.queue.EnqueueAutoCompact(collection)
}
