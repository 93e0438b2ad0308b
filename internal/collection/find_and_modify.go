package collection

import (
	"docbase/internal/document"
	"docbase/internal/query"
	"docbase/internal/storage"
)

// FindAndModifyOptions drives a combined match+apply operation.
type FindAndModifyOptions struct {
	Query  map[string]any
	Update map[string]any
	// Remove deletes the matched document instead of updating it.
	Remove bool
	// Upsert inserts a new document, seeded from the equality-only parts of
	// the query, when nothing matched.
	Upsert bool
	// ReturnNew selects the post-image; default is the pre-image.
	ReturnNew bool
	Fields    []string
}

// FindAndModify matches a single document and updates, replaces-on-upsert or
// removes it, returning the pre- or post-image per options. A nil document
// with a nil error means nothing matched and no upsert was requested.
func (c *Collection) FindAndModify(opts FindAndModifyOptions) (document.Document, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	f, err := query.Compile(opts.Query)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	matches := c.matchEntries(f, 1)

	if len(matches) == 0 {
		if !opts.Upsert || opts.Remove {
			c.mu.Unlock()
			return nil, nil
		}
		return c.upsertLocked(opts)
	}

	e := matches[0]
	pre := document.Project(e.doc, opts.Fields)

	if opts.Remove {
		id := document.ID(e.doc)
		delete(c.docs, id)
		c.tree.Delete(e)
		fut := c.adapter.Action(c.name, storage.ActionRemove, id)
		c.mu.Unlock()
		if _, err := fut.Wait(); err != nil {
			return pre, err
		}
		return pre, nil
	}

	work := document.Clone(e.doc)
	changed, err := query.Apply(work, opts.Update, false)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	var fut *storage.Future
	if changed {
		e.doc = work
		fut = c.adapter.Action(c.name, storage.ActionUpdate, document.Clone(work))
	}
	post := document.Project(work, opts.Fields)
	c.mu.Unlock()

	if fut != nil {
		if _, err := fut.Wait(); err != nil {
			return nil, err
		}
	}
	if opts.ReturnNew {
		return post, nil
	}
	return pre, nil
}

// upsertLocked constructs and inserts the upsert document. The caller holds
// the write lock; it is released here.
func (c *Collection) upsertLocked(opts FindAndModifyOptions) (document.Document, error) {
	doc := equalitySeed(opts.Query)
	if uid, ok := opts.Update[document.FieldID].(string); ok && document.ID(doc) == "" {
		doc[document.FieldID] = uid
	}
	if _, err := query.Apply(doc, opts.Update, true); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	id := document.ID(doc)
	if id == "" {
		id = c.ids.Next()
		doc[document.FieldID] = id
	}
	if _, exists := c.docs[id]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateID
	}

	c.seq++
	e := &entry{seq: c.seq, doc: doc}
	c.docs[id] = e
	c.tree.ReplaceOrInsert(e)
	fut := c.adapter.Action(c.name, storage.ActionInsert, document.Clone(doc))
	post := document.Project(doc, opts.Fields)
	c.mu.Unlock()

	if _, err := fut.Wait(); err != nil {
		return nil, err
	}
	if opts.ReturnNew {
		return post, nil
	}
	return nil, nil
}
