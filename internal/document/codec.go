package document

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownTaggedType is returned when a record carries an "@type" tag the
// codec does not recognize.
var ErrUnknownTaggedType = errors.New("unknown tagged type")

const (
	typeTag  = "@type"
	valueTag = "v"
	typeDate = "date"
)

// Serialize renders a document as a single JSON line. Non-primitive value
// kinds are tagged; a time.Time becomes {"@type":"date","v":"<RFC3339Nano>"}.
func Serialize(doc Document) ([]byte, error) {
	data, err := json.Marshal(encodeValue(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return data, nil
}

// Deserialize parses one serialized line back into a document, restoring
// tagged values. Unrecognized tags fail with ErrUnknownTaggedType.
func Deserialize(data []byte) (Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	decoded, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	return decoded.(map[string]any), nil
}

func encodeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{typeTag: typeDate, valueTag: val.Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = encodeValue(e)
		}
		return out
	default:
		return val
	}
}

func decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if tag, ok := val[typeTag].(string); ok {
			return decodeTagged(tag, val[valueTag])
		}
		out := make(map[string]any, len(val))
		for k, e := range val {
			decoded, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			decoded, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return val, nil
	}
}

func decodeTagged(tag string, raw any) (any, error) {
	switch tag {
	case typeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: date value is not a string", ErrUnknownTaggedType)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tagged date %q: %w", s, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaggedType, tag)
	}
}
