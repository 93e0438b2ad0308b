// Package collection implements the in-memory document index: the unit of
// query, update and delete, backed by an append-only storage log.
package collection

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/btree"

	"docbase/internal/document"
	"docbase/internal/query"
	"docbase/internal/storage"
)

type state int

const (
	stateConstructed state = iota
	stateLoading
	stateReady
)

const btreeDegree = 32

// entry holds one live document together with its insertion sequence, which
// drives deterministic scan order.
type entry struct {
	seq uint64
	doc document.Document
}

func entryLess(a, b *entry) bool { return a.seq < b.seq }

// Collection is a named document store: a map from identifier to document
// plus a handle to its backing log. It is constructed eagerly but loads
// lazily; the first data operation replays the log into memory.
type Collection struct {
	name    string
	adapter storage.Adapter
	ids     *document.Generator

	mu            sync.RWMutex
	state         state
	docs          map[string]*entry
	tree          *btree.BTreeG[*entry]
	seq           uint64
	lastNumericID int64
}

// New constructs a collection without loading it.
func New(name string, adapter storage.Adapter, ids *document.Generator) *Collection {
	return &Collection{
		name:    name,
		adapter: adapter,
		ids:     ids,
		docs:    make(map[string]*entry),
		tree:    btree.NewG(btreeDegree, entryLess),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// ensureReady performs the Constructed -> Loading -> Ready transition on the
// first operation. Operations arriving during the load queue behind the lock
// and observe Ready once replay finished.
func (c *Collection) ensureReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateReady {
		return nil
	}

	c.state = stateLoading
	value, err := c.adapter.Action(c.name, storage.ActionOpen, nil).Wait()
	if err != nil {
		c.state = stateConstructed
		return fmt.Errorf("failed to open collection %q: %w", c.name, err)
	}

	if result, ok := value.(*storage.OpenResult); ok {
		for _, id := range result.Order {
			c.seq++
			e := &entry{seq: c.seq, doc: result.Docs[id]}
			c.docs[id] = e
			c.tree.ReplaceOrInsert(e)
		}
		c.lastNumericID = result.MaxNumericID
	}
	c.state = stateReady
	slog.Debug("Collection ready", "name", c.name, "documents", len(c.docs))
	return nil
}

// InsertOne stores a single document, assigning an identifier when missing,
// and returns once the durability record is appended.
func (c *Collection) InsertOne(doc document.Document) (string, error) {
	ids, futs, err := c.insert([]document.Document{doc})
	if err != nil {
		return "", err
	}
	if err := waitAll(futs); err != nil {
		return ids[0], err
	}
	return ids[0], nil
}

// InsertMany stores documents in order. A duplicate identifier fails the
// whole call before any of the remaining documents is inserted; documents
// already inserted stand.
func (c *Collection) InsertMany(docs []document.Document) ([]string, error) {
	ids, futs, err := c.insert(docs)
	if waitErr := waitAll(futs); waitErr != nil && err == nil {
		err = waitErr
	}
	return ids, err
}

func (c *Collection) insert(docs []document.Document) ([]string, []*storage.Future, error) {
	if err := c.ensureReady(); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		ids  []string
		futs []*storage.Future
	)
	for _, doc := range docs {
		clone := document.Clone(doc)
		id := document.ID(clone)
		if id == "" {
			id = c.ids.Next()
			clone[document.FieldID] = id
		}
		if _, exists := c.docs[id]; exists {
			return ids, futs, fmt.Errorf("%w: %q in collection %q", ErrDuplicateID, id, c.name)
		}

		c.seq++
		e := &entry{seq: c.seq, doc: clone}
		c.docs[id] = e
		c.tree.ReplaceOrInsert(e)

		ids = append(ids, id)
		futs = append(futs, c.adapter.Action(c.name, storage.ActionInsert, document.Clone(clone)))
	}
	return ids, futs, nil
}

// Find compiles the filter and returns a cursor over the matches.
func (c *Collection) Find(filter map[string]any, opts ...*Options) (*Cursor, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	f, err := query.Compile(filter)
	if err != nil {
		return nil, err
	}
	o := mergeOptions(opts)
	return newCursor(c.scan(f, o.Skip, o.Limit, o.Fields)), nil
}

// FindOne returns the first match, or nil when nothing matches.
func (c *Collection) FindOne(filter map[string]any, opts ...*Options) (document.Document, error) {
	o := mergeOptions(opts)
	o.Limit = 1
	cur, err := c.Find(filter, o)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	doc, _ := cur.Next()
	return doc, nil
}

// CountDocuments counts the matches without materializing them.
func (c *Collection) CountDocuments(filter map[string]any) (int, error) {
	if err := c.ensureReady(); err != nil {
		return 0, err
	}
	f, err := query.Compile(filter)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if id, ok := f.IDEquality(); ok {
		if e, found := c.docs[id]; found && document.ID(e.doc) == id {
			return 1, nil
		}
		return 0, nil
	}

	count := 0
	c.tree.Ascend(func(e *entry) bool {
		if f.Match(e.doc) {
			count++
		}
		return true
	})
	return count, nil
}

// scan walks the index in insertion order, applying skip and limit during
// iteration so a small limit over a large collection stays cheap. Every
// result is cloned (and projected when fields are set) before release.
func (c *Collection) scan(f *query.Filter, skip, limit int, fields []string) []document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Identifier-equality queries bypass the predicate entirely.
	if id, ok := f.IDEquality(); ok {
		e, found := c.docs[id]
		if !found || document.ID(e.doc) != id || skip > 0 {
			return nil
		}
		return []document.Document{document.Project(e.doc, fields)}
	}

	var results []document.Document
	c.tree.Ascend(func(e *entry) bool {
		if !f.Match(e.doc) {
			return true
		}
		if skip > 0 {
			skip--
			return true
		}
		results = append(results, document.Project(e.doc, fields))
		return limit <= 0 || len(results) < limit
	})
	return results
}

// UpdateOne applies an update expression to the first match. Returns the
// number of documents modified.
func (c *Collection) UpdateOne(filter, update map[string]any) (int, error) {
	return c.applyUpdate(filter, update, 1)
}

// UpdateMany applies an update expression to every match.
func (c *Collection) UpdateMany(filter, update map[string]any) (int, error) {
	return c.applyUpdate(filter, update, 0)
}

func (c *Collection) applyUpdate(filter, update map[string]any, limit int) (int, error) {
	if err := c.ensureReady(); err != nil {
		return 0, err
	}
	f, err := query.Compile(filter)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	modified := 0
	var futs []*storage.Future
	for _, e := range c.matchEntries(f, limit) {
		// Structural errors must abort before any mutation, so the update
		// runs against a clone and only commits on success.
		work := document.Clone(e.doc)
		changed, applyErr := query.Apply(work, update, false)
		if applyErr != nil {
			c.mu.Unlock()
			return modified, applyErr
		}
		if !changed {
			continue
		}
		e.doc = work
		modified++
		futs = append(futs, c.adapter.Action(c.name, storage.ActionUpdate, document.Clone(work)))
	}
	c.mu.Unlock()

	return modified, waitAll(futs)
}

// ReplaceOne swaps the first match for the replacement document. The
// replacement's _id, when present, must equal the matched document's.
func (c *Collection) ReplaceOne(filter map[string]any, replacement document.Document) (int, error) {
	if err := c.ensureReady(); err != nil {
		return 0, err
	}
	f, err := query.Compile(filter)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	matches := c.matchEntries(f, 1)
	if len(matches) == 0 {
		c.mu.Unlock()
		return 0, nil
	}
	e := matches[0]
	currentID := document.ID(e.doc)

	if suppliedID, present := replacement[document.FieldID]; present {
		if s, _ := suppliedID.(string); s != currentID {
			c.mu.Unlock()
			return 0, fmt.Errorf("%w: %v does not match %q", ErrReplaceIDMismatch, suppliedID, currentID)
		}
	}

	next := document.Clone(replacement)
	next[document.FieldID] = currentID
	if documentsEqual(e.doc, next) {
		c.mu.Unlock()
		return 0, nil
	}
	e.doc = next
	fut := c.adapter.Action(c.name, storage.ActionUpdate, document.Clone(next))
	c.mu.Unlock()

	_, err = fut.Wait()
	return 1, err
}

// DeleteOne removes the first match and writes its tombstone.
func (c *Collection) DeleteOne(filter map[string]any) (int, error) {
	return c.delete(filter, 1)
}

// DeleteMany removes every match.
func (c *Collection) DeleteMany(filter map[string]any) (int, error) {
	return c.delete(filter, 0)
}

func (c *Collection) delete(filter map[string]any, limit int) (int, error) {
	if err := c.ensureReady(); err != nil {
		return 0, err
	}
	f, err := query.Compile(filter)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	var futs []*storage.Future
	for _, e := range c.matchEntries(f, limit) {
		id := document.ID(e.doc)
		delete(c.docs, id)
		c.tree.Delete(e)
		futs = append(futs, c.adapter.Action(c.name, storage.ActionRemove, id))
	}
	deleted := len(futs)
	c.mu.Unlock()

	return deleted, waitAll(futs)
}

// matchEntries collects matching entries in insertion order. Callers hold the
// write lock.
func (c *Collection) matchEntries(f *query.Filter, limit int) []*entry {
	if id, ok := f.IDEquality(); ok {
		if e, found := c.docs[id]; found && document.ID(e.doc) == id {
			return []*entry{e}
		}
		return nil
	}

	var matches []*entry
	c.tree.Ascend(func(e *entry) bool {
		if f.Match(e.doc) {
			matches = append(matches, e)
		}
		return limit <= 0 || len(matches) < limit
	})
	return matches
}

// Drop clears the in-memory map and deletes the backing log file.
func (c *Collection) Drop() error {
	c.mu.Lock()
	c.docs = make(map[string]*entry)
	c.tree = btree.NewG(btreeDegree, entryLess)
	c.seq = 0
	c.state = stateReady
	fut := c.adapter.Action(c.name, storage.ActionDrop, nil)
	c.mu.Unlock()

	_, err := fut.Wait()
	if err != nil {
		return err
	}
	slog.Info("Collection dropped", "name", c.name)
	return nil
}

// Compact rewrites the backing log to live documents only.
func (c *Collection) Compact() error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	_, err := c.adapter.Action(c.name, storage.ActionCompact, nil).Wait()
	return err
}

// Close settles every in-flight queue entry for this collection before
// releasing its log. The in-memory state survives; a later operation reloads.
func (c *Collection) Close() error {
	c.mu.Lock()
	if c.state != stateReady {
		c.mu.Unlock()
		return nil
	}
	c.state = stateConstructed
	c.docs = make(map[string]*entry)
	c.tree = btree.NewG(btreeDegree, entryLess)
	c.seq = 0
	fut := c.adapter.Action(c.name, storage.ActionClose, nil)
	c.mu.Unlock()

	_, err := fut.Wait()
	return err
}

// Len reports the number of live documents; zero before the first load.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func waitAll(futs []*storage.Future) error {
	var firstErr error
	for _, fut := range futs {
		if _, err := fut.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// documentsEqual compares two documents through their canonical serialized
// form; map key order is insignificant.
func documentsEqual(a, b document.Document) bool {
	da, errA := document.Serialize(a)
	db, errB := document.Serialize(b)
	return errA == nil && errB == nil && string(da) == string(db)
}

// equalitySeed extracts the equality-only parts of a query: top-level field
// literals and $eq operands. findAndModify upserts start from it.
func equalitySeed(filter map[string]any) document.Document {
	seed := make(document.Document)
	for field, value := range filter {
		if strings.HasPrefix(field, "$") {
			continue
		}
		if ops, ok := value.(map[string]any); ok {
			if eq, has := ops["$eq"]; has {
				seed[field] = document.CloneValue(eq)
			}
			continue
		}
		seed[field] = document.CloneValue(value)
	}
	return seed
}
