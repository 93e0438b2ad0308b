// Package document defines the in-memory document representation and its
// line-oriented on-disk codec.
package document

import "time"

// FieldID is the primary-key field every stored document carries.
const FieldID = "_id"

// Document is a JSON-like record: field name to value. Values are one of
// nil, bool, float64, string, []any, Document (as map[string]any) or time.Time.
type Document = map[string]any

// ID returns the document's identifier, or "" when absent or not a string.
func ID(doc Document) string {
	id, _ := doc[FieldID].(string)
	return id
}

// Clone deep-copies a document so callers can never observe or mutate the
// engine's internal instances.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single document value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case time.Time:
		return val
	default:
		// Remaining kinds (nil, bool, float64, string) are immutable values.
		return val
	}
}

// Project copies only the requested top-level fields out of a document.
// Values are still deep-cloned. A nil or empty field list clones everything.
func Project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return Clone(doc)
	}
	out := make(Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = CloneValue(v)
		}
	}
	return out
}
