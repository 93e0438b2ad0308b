package query

import "errors"

var (
	// ErrInvalidOperatorUsage reports an operator applied to an operand of
	// the wrong shape, e.g. $in with a non-sequence value.
	ErrInvalidOperatorUsage = errors.New("invalid operator usage")

	// ErrUnsupportedOperator reports an unrecognized $-prefixed update key.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrTypeMismatch reports an array operator applied to a field that
	// holds a non-sequence value.
	ErrTypeMismatch = errors.New("type mismatch")
)
