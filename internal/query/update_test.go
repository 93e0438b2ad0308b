package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbase/internal/document"
)

func TestApplySet(t *testing.T) {
	doc := document.Document{"_id": "1", "a": 1.0}

	changed, err := Apply(doc, map[string]any{"$set": map[string]any{"a": 2.0, "b": "x"}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, document.Document{"_id": "1", "a": 2.0, "b": "x"}, doc)

	// Setting the same values again changes nothing.
	changed, err = Apply(doc, map[string]any{"$set": map[string]any{"a": 2.0}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplySetOnInsert(t *testing.T) {
	doc := document.Document{"_id": "1"}

	changed, err := Apply(doc, map[string]any{"$setOnInsert": map[string]any{"created": true}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NotContains(t, doc, "created")

	changed, err = Apply(doc, map[string]any{"$setOnInsert": map[string]any{"created": true}}, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, true, doc["created"])
}

func TestApplyUnset(t *testing.T) {
	doc := document.Document{"_id": "1", "a": 1.0}

	changed, err := Apply(doc, map[string]any{"$unset": map[string]any{"a": "", "missing": ""}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotContains(t, doc, "a")

	changed, err = Apply(doc, map[string]any{"$unset": map[string]any{"a": ""}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyIncAlwaysAddsOne(t *testing.T) {
	doc := document.Document{"_id": "1", "n": 5.0}

	// The operand amount is not honored; the field advances by exactly 1.
	changed, err := Apply(doc, map[string]any{"$inc": map[string]any{"n": 10.0}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 6.0, doc["n"])

	changed, err = Apply(doc, map[string]any{"$inc": map[string]any{"fresh": 3.0}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1.0, doc["fresh"])

	_, err = Apply(doc, map[string]any{"$inc": map[string]any{"_id": 1.0}}, false)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestApplyPush(t *testing.T) {
	doc := document.Document{"_id": "1"}

	// Pushing onto a missing field creates it.
	changed, err := Apply(doc, map[string]any{"$push": map[string]any{"tags": "x"}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{"x"}, doc["tags"])

	// A sequence operand appends each element.
	changed, err = Apply(doc, map[string]any{"$push": map[string]any{"tags": []any{"y", "z"}}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{"x", "y", "z"}, doc["tags"])

	_, err = Apply(doc, map[string]any{"$push": map[string]any{"_id": "v"}}, false)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestApplyAddToSet(t *testing.T) {
	doc := document.Document{"_id": "1", "tags": []any{"x"}}

	changed, err := Apply(doc, map[string]any{"$addToSet": map[string]any{"tags": "x"}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []any{"x"}, doc["tags"])

	changed, err = Apply(doc, map[string]any{"$addToSet": map[string]any{"tags": []any{"x", "y"}}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{"x", "y"}, doc["tags"])
}

func TestApplyPop(t *testing.T) {
	doc := document.Document{"_id": "1", "tags": []any{"a", "b", "c"}}

	changed, err := Apply(doc, map[string]any{"$pop": map[string]any{"tags": 1.0}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{"a", "b"}, doc["tags"])

	changed, err = Apply(doc, map[string]any{"$pop": map[string]any{"tags": -1.0}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{"b"}, doc["tags"])

	doc["tags"] = []any{}
	changed, err = Apply(doc, map[string]any{"$pop": map[string]any{"tags": 1.0}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyPullAllClears(t *testing.T) {
	doc := document.Document{"_id": "1", "tags": []any{"a", "b"}}

	// The whole array clears regardless of the listed values.
	changed, err := Apply(doc, map[string]any{"$pullAll": map[string]any{"tags": []any{"a"}}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{}, doc["tags"])

	changed, err = Apply(doc, map[string]any{"$pullAll": map[string]any{"tags": []any{"a"}}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyPull(t *testing.T) {
	doc := document.Document{"_id": "1", "scores": []any{1.0, 5.0, 9.0}}

	changed, err := Apply(doc, map[string]any{"$pull": map[string]any{"scores": map[string]any{"$gt": 4.0}}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{1.0}, doc["scores"])

	// Literal condition removes equal elements.
	doc["scores"] = []any{1.0, 2.0, 1.0}
	changed, err = Apply(doc, map[string]any{"$pull": map[string]any{"scores": 1.0}}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{2.0}, doc["scores"])
}

func TestApplyBareKeysMerge(t *testing.T) {
	doc := document.Document{"_id": "1", "test": "test"}

	changed, err := Apply(doc, map[string]any{"test": "test2", "extra": true}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "test2", doc["test"])
	assert.Equal(t, true, doc["extra"])

	// _id is immutable.
	changed, err = Apply(doc, map[string]any{"_id": "other"}, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "1", doc["_id"])
}

func TestApplyUnsupportedOperator(t *testing.T) {
	doc := document.Document{"_id": "1"}
	_, err := Apply(doc, map[string]any{"$rename": map[string]any{"a": "b"}}, false)
	require.ErrorIs(t, err, ErrUnsupportedOperator)
}
