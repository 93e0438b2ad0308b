package query

import (
	"fmt"
	"strings"

	"docbase/internal/document"
)

// Apply executes an update expression against a document in place and reports
// whether anything changed. isInsert gates $setOnInsert. Bare top-level keys
// assign fields directly (full-document-merge semantics); $-prefixed keys are
// interpreted as operators. The _id field is never reassigned.
func Apply(doc document.Document, update map[string]any, isInsert bool) (bool, error) {
	changed := false

	for _, key := range sortedKeys(update) {
		operand := update[key]

		if !strings.HasPrefix(key, "$") {
			if assignField(doc, key, operand) {
				changed = true
			}
			continue
		}

		fields, ok := operand.(map[string]any)
		if !ok {
			return changed, fmt.Errorf("%w: %s requires a field-to-operand object", ErrInvalidOperatorUsage, key)
		}

		opChanged, err := applyOperator(doc, key, fields, isInsert)
		if err != nil {
			return changed, err
		}
		if opChanged {
			changed = true
		}
	}
	return changed, nil
}

func applyOperator(doc document.Document, op string, fields map[string]any, isInsert bool) (bool, error) {
	changed := false

	switch op {
	case "$set":
		for _, field := range sortedKeys(fields) {
			if assignField(doc, field, fields[field]) {
				changed = true
			}
		}

	case "$setOnInsert":
		if !isInsert {
			return false, nil
		}
		for _, field := range sortedKeys(fields) {
			if assignField(doc, field, fields[field]) {
				changed = true
			}
		}

	case "$unset":
		for field := range fields {
			if _, exists := doc[field]; exists {
				delete(doc, field)
				changed = true
			}
		}

	case "$inc":
		// The increment amount in the operand is not honored; the field
		// always advances by exactly 1. Kept for compatibility with
		// existing callers of the original engine.
		for field := range fields {
			current, exists := doc[field]
			if !exists {
				doc[field] = float64(1)
				changed = true
				continue
			}
			num, ok := toFloat64(current)
			if !ok {
				return changed, fmt.Errorf("%w: $inc on non-numeric field %q", ErrTypeMismatch, field)
			}
			doc[field] = num + 1
			changed = true
		}

	case "$push":
		for _, field := range sortedKeys(fields) {
			_, existed := doc[field]
			arr, err := arrayField(doc, field, true)
			if err != nil {
				return changed, err
			}
			appended := appendElements(arr, fields[field])
			if !existed || len(appended) != len(arr) {
				changed = true
			}
			doc[field] = appended
		}

	case "$addToSet":
		for _, field := range sortedKeys(fields) {
			arr, err := arrayField(doc, field, true)
			if err != nil {
				return changed, err
			}
			result := arr
			for _, elem := range operandElements(fields[field]) {
				if !containsEqual(result, elem) {
					result = append(result, document.CloneValue(elem))
					changed = true
				}
			}
			doc[field] = result
		}

	case "$pop":
		for _, field := range sortedKeys(fields) {
			arr, err := arrayField(doc, field, false)
			if err != nil {
				return changed, err
			}
			if len(arr) == 0 {
				continue
			}
			if first, _ := toFloat64(fields[field]); first == -1 {
				doc[field] = arr[1:]
			} else {
				doc[field] = arr[:len(arr)-1]
			}
			changed = true
		}

	case "$pullAll":
		// Clears the whole array rather than filtering by the given
		// values; kept for compatibility with existing callers.
		for _, field := range sortedKeys(fields) {
			arr, err := arrayField(doc, field, false)
			if err != nil {
				return changed, err
			}
			if len(arr) > 0 {
				doc[field] = []any{}
				changed = true
			}
		}

	case "$pull":
		for _, field := range sortedKeys(fields) {
			arr, err := arrayField(doc, field, false)
			if err != nil {
				return changed, err
			}
			cond := fields[field]
			kept := make([]any, 0, len(arr))
			for _, elem := range arr {
				if !matchCondition(elem, cond) {
					kept = append(kept, elem)
				}
			}
			if len(kept) != len(arr) {
				doc[field] = kept
				changed = true
			}
		}

	default:
		return changed, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}

	return changed, nil
}

// assignField sets doc[field] when the value actually differs. _id is
// immutable after insertion.
func assignField(doc document.Document, field string, value any) bool {
	if field == document.FieldID {
		return false
	}
	current, exists := doc[field]
	if exists && valueEqual(current, value) {
		return false
	}
	doc[field] = document.CloneValue(value)
	return true
}

// arrayField fetches an array-valued field. A missing field is created empty
// when create is set; a present non-sequence value is a type error.
func arrayField(doc document.Document, field string, create bool) ([]any, error) {
	current, exists := doc[field]
	if !exists {
		if create {
			return []any{}, nil
		}
		return nil, nil
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not a sequence", ErrTypeMismatch, field)
	}
	return arr, nil
}

// operandElements yields the elements a push-style operand contributes: each
// element when the operand is a sequence, the operand itself otherwise.
func operandElements(operand any) []any {
	if list, ok := operand.([]any); ok {
		return list
	}
	return []any{operand}
}

func appendElements(arr []any, operand any) []any {
	for _, elem := range operandElements(operand) {
		arr = append(arr, document.CloneValue(elem))
	}
	return arr
}
