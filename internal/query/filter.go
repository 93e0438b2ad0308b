// Package query translates MongoDB-style query and update expressions into
// matchers and in-place document mutations.
package query

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"docbase/internal/document"
)

// Filter is a compiled, reusable matcher derived from a query tree. Compiled
// filters are cached by the canonical JSON form of the query, so semantically
// identical queries with differing key order share one instance.
type Filter struct {
	root node
	idEq string
	// idOnly marks a query of exactly {_id: <string>}, which resolves via
	// direct map lookup instead of a scan.
	idOnly bool
}

// Match evaluates the filter against one document.
func (f *Filter) Match(doc document.Document) bool {
	if f.root == nil {
		return true
	}
	return f.root.match(doc)
}

// IDEquality reports whether this filter is a plain identifier-equality query
// and, if so, which identifier it targets.
func (f *Filter) IDEquality() (string, bool) {
	return f.idEq, f.idOnly
}

var (
	cacheMu     sync.RWMutex
	filterCache = make(map[string]*Filter)
)

// Compile parses a query tree into a Filter, consulting the cache first.
// Structural errors ($in with a non-sequence operand, invalid $regex) surface
// before any document is scanned.
func Compile(q map[string]any) (*Filter, error) {
	sig, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize query: %w", err)
	}
	key := string(sig)

	cacheMu.RLock()
	cached, found := filterCache[key]
	cacheMu.RUnlock()
	if found {
		return cached, nil
	}

	root, err := parseQuery(q)
	if err != nil {
		return nil, err
	}

	f := &Filter{root: root}
	if len(q) == 1 {
		if id, ok := q[document.FieldID].(string); ok {
			f.idEq = id
			f.idOnly = true
		}
	}

	cacheMu.Lock()
	filterCache[key] = f
	cacheMu.Unlock()
	return f, nil
}

type node interface {
	match(doc document.Document) bool
}

type andNode []node

func (n andNode) match(doc document.Document) bool {
	for _, sub := range n {
		if !sub.match(doc) {
			return false
		}
	}
	return true
}

type orNode []node

func (n orNode) match(doc document.Document) bool {
	for _, sub := range n {
		if sub.match(doc) {
			return true
		}
	}
	return false
}

type notNode struct {
	inner node
}

func (n notNode) match(doc document.Document) bool {
	return !n.inner.match(doc)
}

// fieldTest checks a single field value; exists distinguishes a present null
// from an absent field.
type fieldTest func(value any, exists bool) bool

type fieldNode struct {
	field string
	tests []fieldTest
}

func (n fieldNode) match(doc document.Document) bool {
	value, exists := doc[n.field]
	for _, test := range n.tests {
		if !test(value, exists) {
			return false
		}
	}
	return true
}

// parseQuery builds the filter tree. Keys are walked in sorted order so the
// tree shape is deterministic for a given query.
func parseQuery(q map[string]any) (node, error) {
	terms := make([]node, 0, len(q))

	for _, key := range sortedKeys(q) {
		value := q[key]
		switch key {
		case "$and":
			subs, err := parseQueryList(key, value)
			if err != nil {
				return nil, err
			}
			terms = append(terms, andNode(subs))
		case "$or":
			subs, err := parseQueryList(key, value)
			if err != nil {
				return nil, err
			}
			terms = append(terms, orNode(subs))
		case "$not":
			sub, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: $not requires a query object", ErrInvalidOperatorUsage)
			}
			inner, err := parseQuery(sub)
			if err != nil {
				return nil, err
			}
			terms = append(terms, notNode{inner: inner})
		default:
			term, err := parseFieldTerm(key, value)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		}
	}

	if len(terms) == 1 {
		return terms[0], nil
	}
	return andNode(terms), nil
}

// parseQueryList accepts a single query or a sequence of queries, the two
// operand shapes $and/$or admit.
func parseQueryList(op string, value any) ([]node, error) {
	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case map[string]any:
		raw = []any{v}
	default:
		return nil, fmt.Errorf("%w: %s requires a query or sequence of queries", ErrInvalidOperatorUsage, op)
	}

	subs := make([]node, 0, len(raw))
	for _, entry := range raw {
		sub, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s contains a non-query entry", ErrInvalidOperatorUsage, op)
		}
		n, err := parseQuery(sub)
		if err != nil {
			return nil, err
		}
		subs = append(subs, n)
	}
	return subs, nil
}

func parseFieldTerm(field string, value any) (node, error) {
	if ops, ok := value.(map[string]any); ok && hasOperatorKey(ops) {
		tests, err := buildFieldTests(ops)
		if err != nil {
			return nil, err
		}
		return fieldNode{field: field, tests: tests}, nil
	}

	// Bare literal means equality. A nil literal matches only documents
	// where the field is present and explicitly null.
	literal := value
	return fieldNode{field: field, tests: []fieldTest{
		func(v any, exists bool) bool { return exists && valueEqual(v, literal) },
	}}, nil
}

func hasOperatorKey(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// buildFieldTests compiles an operator document into the conjunction of its
// per-operator tests. Unrecognized operators are ignored with a diagnostic so
// queries degrade gracefully.
func buildFieldTests(ops map[string]any) ([]fieldTest, error) {
	tests := make([]fieldTest, 0, len(ops))

	for _, op := range sortedKeys(ops) {
		operand := ops[op]
		test, err := buildOperatorTest(op, operand)
		if err != nil {
			return nil, err
		}
		if test == nil {
			slog.Warn("Ignoring unrecognized query operator", "operator", op)
			continue
		}
		tests = append(tests, test)
	}
	return tests, nil
}

func buildOperatorTest(op string, operand any) (fieldTest, error) {
	switch op {
	case "$eq":
		return func(v any, exists bool) bool { return exists && valueEqual(v, operand) }, nil
	case "$ne":
		return func(v any, exists bool) bool { return !exists || !valueEqual(v, operand) }, nil
	case "$in":
		list, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: $in requires a sequence operand", ErrInvalidOperatorUsage)
		}
		return func(v any, exists bool) bool { return exists && containsEqual(list, v) }, nil
	case "$nin":
		list, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: $nin requires a sequence operand", ErrInvalidOperatorUsage)
		}
		return func(v any, exists bool) bool { return !exists || !containsEqual(list, v) }, nil
	case "$gt":
		return func(v any, exists bool) bool { return exists && compare(v, operand) > 0 }, nil
	case "$gte":
		return func(v any, exists bool) bool { return exists && compare(v, operand) >= 0 }, nil
	case "$lt":
		return func(v any, exists bool) bool { return exists && compare(v, operand) < 0 }, nil
	case "$lte":
		return func(v any, exists bool) bool { return exists && compare(v, operand) <= 0 }, nil
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $regex requires a string pattern", ErrInvalidOperatorUsage)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid $regex pattern %q: %v", ErrInvalidOperatorUsage, pattern, err)
		}
		return func(v any, exists bool) bool {
			s, isStr := v.(string)
			return exists && isStr && re.MatchString(s)
		}, nil
	case "$like":
		needle, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $like requires a string operand", ErrInvalidOperatorUsage)
		}
		return func(v any, exists bool) bool {
			s, isStr := v.(string)
			return exists && isStr && strings.Contains(s, needle)
		}, nil
	case "$nlike":
		needle, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $nlike requires a string operand", ErrInvalidOperatorUsage)
		}
		return func(v any, exists bool) bool {
			s, isStr := v.(string)
			return !exists || !isStr || !strings.Contains(s, needle)
		}, nil
	case "$exists":
		want := operand != nil && operand != false
		return func(_ any, exists bool) bool { return exists == want }, nil
	default:
		if strings.HasPrefix(op, "$") {
			// Unknown operators are reported by the caller and skipped.
			return nil, nil
		}
		return nil, nil
	}
}

// matchCondition evaluates a non-compiled per-field condition against a bare
// value; $pull reuses it for element matching.
func matchCondition(value any, cond any) bool {
	if ops, ok := cond.(map[string]any); ok && hasOperatorKey(ops) {
		tests, err := buildFieldTests(ops)
		if err != nil {
			return false
		}
		for _, test := range tests {
			if !test(value, true) {
				return false
			}
		}
		return true
	}
	return valueEqual(value, cond)
}

func containsEqual(list []any, v any) bool {
	for _, entry := range list {
		if valueEqual(entry, v) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
