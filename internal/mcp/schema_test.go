package mcp

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestTranslateSchema_NilAndEmpty(t *testing.T) {
	params, err := TranslateSchema(nil)
	if err != nil {
		t.Fatalf("TranslateSchema(nil) error: %v", err)
	}
	if len(params) != 0 {
		t.Fatalf("expected empty params for nil schema, got %+v", params)
	}

	params, err = TranslateSchema(map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("TranslateSchema() error: %v", err)
	}
	if len(params) != 0 {
		t.Fatalf("expected empty params for object without properties, got %+v", params)
	}
}

func TestTranslateSchema_RejectsNonObjectTopLevel(t *testing.T) {
	_, err := TranslateSchema(map[string]any{"type": "string"})
	if err == nil {
		t.Fatal("expected error for non-object top-level schema")
	}
}

func TestTranslateSchema_FlatProperties(t *testing.T) {
	raw := mustParseSchema(t, `{
		"type": "object",
		"properties": {
			"location": {"type": "string", "description": "City name"},
			"days": {"type": "integer"},
			"detailed": {"type": "boolean"}
		},
		"required": ["location"]
	}`)

	params, err := TranslateSchema(raw)
	if err != nil {
		t.Fatalf("TranslateSchema() error: %v", err)
	}

	loc := params["location"]
	if loc == nil || loc.Type != schema.String || !loc.Required || loc.Desc != "City name" {
		t.Fatalf("unexpected location param: %+v", loc)
	}
	if days := params["days"]; days == nil || days.Type != schema.Number || days.Required {
		t.Fatalf("expected integer to map to optional number, got %+v", days)
	}
	if det := params["detailed"]; det == nil || det.Type != schema.Boolean {
		t.Fatalf("unexpected detailed param: %+v", det)
	}
}

func TestTranslateSchema_NestedObjectAndArray(t *testing.T) {
	raw := mustParseSchema(t, `{
		"type": "object",
		"properties": {
			"filter": {
				"type": "object",
				"properties": {
					"tags": {"type": "array", "items": {"type": "string"}},
					"limit": {"type": "number"}
				},
				"required": ["tags"]
			}
		}
	}`)

	params, err := TranslateSchema(raw)
	if err != nil {
		t.Fatalf("TranslateSchema() error: %v", err)
	}

	filter := params["filter"]
	if filter == nil || filter.Type != schema.Object {
		t.Fatalf("unexpected filter param: %+v", filter)
	}
	tags := filter.SubParams["tags"]
	if tags == nil || tags.Type != schema.Array || !tags.Required {
		t.Fatalf("unexpected tags param: %+v", tags)
	}
	if tags.ElemInfo == nil || tags.ElemInfo.Type != schema.String {
		t.Fatalf("unexpected tags element info: %+v", tags.ElemInfo)
	}
}

func TestTranslateSchema_StringEnum(t *testing.T) {
	raw := mustParseSchema(t, `{
		"type": "object",
		"properties": {
			"unit": {"type": "string", "enum": ["celsius", "fahrenheit"]}
		}
	}`)

	params, err := TranslateSchema(raw)
	if err != nil {
		t.Fatalf("TranslateSchema() error: %v", err)
	}
	unit := params["unit"]
	if unit == nil || !reflect.DeepEqual(unit.Enum, []string{"celsius", "fahrenheit"}) {
		t.Fatalf("unexpected enum translation: %+v", unit)
	}
}

func TestTranslateSchema_Failures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing fragment type", `{"type":"object","properties":{"x":{"description":"no type"}}}`},
		{"unsupported type", `{"type":"object","properties":{"x":{"type":"null"}}}`},
		{"array without items", `{"type":"object","properties":{"x":{"type":"array"}}}`},
		{"non-string enum", `{"type":"object","properties":{"x":{"type":"string","enum":[1,2]}}}`},
		{"non-object property", `{"type":"object","properties":{"x":"string"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := TranslateSchema(mustParseSchema(t, tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestTranslateSchema_RequiredNameWithoutProperty(t *testing.T) {
	raw := mustParseSchema(t, `{
		"type": "object",
		"properties": {"x": {"type": "string"}},
		"required": ["x", "ghost"]
	}`)

	params, err := TranslateSchema(raw)
	if err != nil {
		t.Fatalf("TranslateSchema() error: %v", err)
	}
	if !params["x"].Required {
		t.Fatal("expected x to be required")
	}
	if _, ok := params["ghost"]; ok {
		t.Fatal("required name without a property must not invent a param")
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	original := mustParseSchema(t, `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search text"},
			"limit": {"type": "number"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"scope": {
				"type": "object",
				"properties": {
					"project": {"type": "string"}
				},
				"required": ["project"]
			}
		},
		"required": ["query"]
	}`)

	params, err := TranslateSchema(original)
	if err != nil {
		t.Fatalf("TranslateSchema() error: %v", err)
	}
	back := SchemaFromParams(params)

	if !reflect.DeepEqual(normalizeJSON(t, back), normalizeJSON(t, original)) {
		t.Fatalf("round trip mismatch:\n  original: %#v\n  back:     %#v", original, back)
	}
}

func mustParseSchema(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("invalid test schema: %v", err)
	}
	return out
}

// normalizeJSON round-trips a value through encoding/json so numeric and
// slice representations compare equal.
func normalizeJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}
