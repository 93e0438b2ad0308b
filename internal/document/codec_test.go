package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	when := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	doc := Document{
		"_id":    "abc123",
		"name":   "order-1",
		"amount": 42.5,
		"open":   true,
		"note":   nil,
		"placed": when,
		"tags":   []any{"a", "b", 3.0},
		"nested": map[string]any{
			"level": 2.0,
			"dates": []any{when, when.Add(time.Hour)},
		},
	}

	data, err := Serialize(doc)
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func TestSerializeSingleLine(t *testing.T) {
	data, err := Serialize(Document{"_id": "1", "test": "test"})
	require.NoError(t, err)
	assert.Equal(t, `{"_id":"1","test":"test"}`, string(data))
}

func TestDeserializeDateTag(t *testing.T) {
	doc, err := Deserialize([]byte(`{"_id":"x","at":{"@type":"date","v":"2024-05-17T10:30:00Z"}}`))
	require.NoError(t, err)

	at, ok := doc["at"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC), at)
}

func TestDeserializeUnknownTag(t *testing.T) {
	_, err := Deserialize([]byte(`{"_id":"x","v":{"@type":"decimal","v":"1.5"}}`))
	require.ErrorIs(t, err, ErrUnknownTaggedType)
}

func TestCloneIsolation(t *testing.T) {
	doc := Document{
		"_id":  "1",
		"tags": []any{"a"},
		"sub":  map[string]any{"k": "v"},
	}
	clone := Clone(doc)

	clone["tags"].([]any)[0] = "changed"
	clone["sub"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", doc["tags"].([]any)[0])
	assert.Equal(t, "v", doc["sub"].(map[string]any)["k"])
}

func TestProject(t *testing.T) {
	doc := Document{"_id": "1", "a": 1.0, "b": 2.0, "c": 3.0}

	projected := Project(doc, []string{"_id", "b"})
	assert.Equal(t, Document{"_id": "1", "b": 2.0}, projected)

	full := Project(doc, nil)
	assert.Equal(t, doc, full)
}
