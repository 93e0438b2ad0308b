package collection

import "errors"

var (
	// ErrDuplicateID reports an insert whose supplied identifier already
	// exists in the collection.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrReplaceIDMismatch reports a replacement document whose _id differs
	// from the matched document's.
	ErrReplaceIDMismatch = errors.New("replacement identifier mismatch")
)
