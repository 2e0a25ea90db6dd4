package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ClampLimit bounds a requested result size. Zero or negative means
// "as many as allowed" and yields the cap; anything above the cap is
// lowered to it.
func ClampLimit(requested, limit int) int {
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// ParseFilter parses a filter or sort document written as (relaxed)
// extended JSON. Key order is preserved, and $oid and $date wrappers
// decode to their BSON types. Empty input yields an empty document.
func ParseFilter(raw []byte) (bson.D, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return bson.D{}, nil
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &d); err != nil {
		return nil, fmt.Errorf("%w: filter is not a valid JSON document: %v", ErrInvalidArgument, err)
	}
	return d, nil
}

// ParsePipeline parses an extended JSON array of stages.
func ParsePipeline(raw []byte) ([]bson.D, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("%w: pipeline is required", ErrInvalidArgument)
	}
	var wrapper struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	doc := append(append([]byte(`{"pipeline":`), raw...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: pipeline is not a valid JSON array of stages: %v", ErrInvalidArgument, err)
	}
	return wrapper.Pipeline, nil
}

// ToJSON renders a value from the tool layer (already-decoded JSON or a
// raw JSON string) back to bytes for ParseFilter and ParsePipeline.
func ToJSON(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(x), nil
	case json.RawMessage:
		return x, nil
	default:
		return json.Marshal(x)
	}
}

// describe renders a pipeline as compact extended JSON for audit trails.
func describe(pipeline []bson.D) string {
	parts := make([]string, 0, len(pipeline))
	for _, stage := range pipeline {
		b, err := bson.MarshalExtJSON(stage, false, false)
		if err != nil {
			parts = append(parts, fmt.Sprintf("%v", stage))
			continue
		}
		parts = append(parts, string(b))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// plain converts driver values into JSON-friendly Go values: object ids
// become hex strings, dates become RFC 3339 and documents become maps.
func plain(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	case bson.ObjectID:
		return x.Hex()
	case bson.DateTime:
		return x.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case bson.Decimal128:
		return x.String()
	case bson.Regex:
		return "/" + x.Pattern + "/" + x.Options
	default:
		return v
	}
}

func plainDocs(docs []bson.M) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = plain(d).(map[string]any)
	}
	return out
}
