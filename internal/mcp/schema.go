package mcp

import (
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// TranslateSchema converts an MCP tool input schema (a JSON-Schema object
// description) into the model-facing parameter map. The translation is pure:
// it either returns a complete map or an error, and a failed tool is skipped
// by the caller without affecting other tools.
//
// A nil schema or an object with no properties is accepted and yields an
// empty map, so zero-parameter tools stay callable.
func TranslateSchema(raw map[string]any) (map[string]*schema.ParameterInfo, error) {
	if raw == nil {
		return map[string]*schema.ParameterInfo{}, nil
	}
	if typ := stringField(raw, "type"); typ != "" && typ != "object" {
		return nil, fmt.Errorf("top-level schema type must be object, got %q", typ)
	}
	return translateProperties(raw)
}

func translateProperties(raw map[string]any) (map[string]*schema.ParameterInfo, error) {
	params := map[string]*schema.ParameterInfo{}

	props, ok := raw["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return params, nil
	}

	for name, value := range props {
		propSchema, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %q is not an object description", name)
		}
		info, err := translateFragment(propSchema)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		params[name] = info
	}

	for _, name := range requiredNames(raw) {
		if info, ok := params[name]; ok {
			info.Required = true
		}
	}
	return params, nil
}

func translateFragment(raw map[string]any) (*schema.ParameterInfo, error) {
	typ := stringField(raw, "type")
	if typ == "" {
		return nil, fmt.Errorf("schema fragment has no type")
	}

	info := &schema.ParameterInfo{
		Desc: stringField(raw, "description"),
	}

	switch typ {
	case "object":
		sub, err := translateProperties(raw)
		if err != nil {
			return nil, err
		}
		info.Type = schema.Object
		info.SubParams = sub
	case "string":
		info.Type = schema.String
		enum, err := enumValues(raw)
		if err != nil {
			return nil, err
		}
		info.Enum = enum
	case "number", "integer":
		// The model-facing form has a single numeric kind; the
		// integer/float distinction is dropped here.
		info.Type = schema.Number
	case "boolean":
		info.Type = schema.Boolean
	case "array":
		items, ok := raw["items"].(map[string]any)
		if !ok || items == nil {
			return nil, fmt.Errorf("array schema has no items")
		}
		elem, err := translateFragment(items)
		if err != nil {
			return nil, fmt.Errorf("array items: %w", err)
		}
		info.Type = schema.Array
		info.ElemInfo = elem
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typ)
	}

	return info, nil
}

func requiredNames(raw map[string]any) []string {
	items, ok := raw["required"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name, ok := item.(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

func enumValues(raw map[string]any) ([]string, error) {
	value, present := raw["enum"]
	if !present {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("enum is not a list")
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("enum value %v is not a string", item)
		}
		values = append(values, s)
	}
	return values, nil
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// SchemaFromParams is the inverse of TranslateSchema. It reconstructs a
// JSON-Schema object description from a translated parameter map; numeric
// parameters come back as "number" regardless of their original kind.
func SchemaFromParams(params map[string]*schema.ParameterInfo) map[string]any {
	out := map[string]any{"type": "object"}
	if len(params) == 0 {
		return out
	}

	props := make(map[string]any, len(params))
	var required []string
	for name, info := range params {
		props[name] = fragmentFromParam(info)
		if info.Required {
			required = append(required, name)
		}
	}
	out["properties"] = props
	if len(required) > 0 {
		sort.Strings(required)
		out["required"] = required
	}
	return out
}

func fragmentFromParam(info *schema.ParameterInfo) map[string]any {
	frag := map[string]any{}
	if info.Desc != "" {
		frag["description"] = info.Desc
	}

	switch info.Type {
	case schema.Object:
		frag["type"] = "object"
		if len(info.SubParams) > 0 {
			props := make(map[string]any, len(info.SubParams))
			var required []string
			for name, sub := range info.SubParams {
				props[name] = fragmentFromParam(sub)
				if sub.Required {
					required = append(required, name)
				}
			}
			frag["properties"] = props
			if len(required) > 0 {
				sort.Strings(required)
				frag["required"] = required
			}
		}
	case schema.Array:
		frag["type"] = "array"
		if info.ElemInfo != nil {
			frag["items"] = fragmentFromParam(info.ElemInfo)
		}
	case schema.String:
		frag["type"] = "string"
		if len(info.Enum) > 0 {
			enum := make([]any, 0, len(info.Enum))
			for _, v := range info.Enum {
				enum = append(enum, v)
			}
			frag["enum"] = enum
		}
	case schema.Boolean:
		frag["type"] = "boolean"
	default:
		frag["type"] = "number"
	}
	return frag
}
