package collection

import "docbase/internal/document"

// Options tunes how a cursor presents matches. Sort is accepted for caller
// compatibility but is not applied: results come back in insertion order
// regardless of the requested order.
type Options struct {
	Skip   int
	Limit  int
	Sort   map[string]int
	Fields []string
}

func mergeOptions(opts []*Options) *Options {
	if len(opts) > 0 && opts[0] != nil {
		return opts[0]
	}
	return &Options{}
}

// Cursor is a forward-only view over the result of a filter. Every document
// it yields was deep-cloned (and field-filtered when requested) when the
// cursor was built, so callers never touch the engine's internal instances.
type Cursor struct {
	docs   []document.Document
	pos    int
	closed bool
}

func newCursor(docs []document.Document) *Cursor {
	return &Cursor{docs: docs}
}

// All materializes every remaining result.
func (c *Cursor) All() []document.Document {
	if c.closed {
		return nil
	}
	rest := c.docs[c.pos:]
	c.pos = len(c.docs)
	return rest
}

// Next pulls the next result; ok is false once the cursor is exhausted or
// closed.
func (c *Cursor) Next() (document.Document, bool) {
	if c.closed || c.pos >= len(c.docs) {
		return nil, false
	}
	doc := c.docs[c.pos]
	c.pos++
	return doc, true
}

// ForEach traverses the remaining results once, invoking fn per document.
// An error from the callback stops the traversal and is returned as is.
func (c *Cursor) ForEach(fn func(document.Document) error) error {
	for {
		doc, ok := c.Next()
		if !ok {
			return nil
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}

// Count reports how many results the cursor holds in total.
func (c *Cursor) Count() int {
	return len(c.docs)
}

// Close detaches the cursor from its results without affecting the
// collection.
func (c *Cursor) Close() {
	c.closed = true
	c.docs = nil
}
