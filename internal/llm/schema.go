package llm

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema names the expected output and describes it as a JSON Schema document.
type Schema struct {
	Name string
	JSON map[string]any
}

// SchemaFor infers the schema of T from its JSON field tags. The result is made
// strict: every object lists all its properties as required and forbids extra ones.
func SchemaFor[T any](name string) (Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to infer schema %s: %w", name, err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to encode schema %s: %w", name, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Schema{}, fmt.Errorf("failed to decode schema %s: %w", name, err)
	}
	strictify(m)
	return Schema{Name: name, JSON: m}, nil
}

func strictify(node map[string]any) {
	if props, ok := node["properties"].(map[string]any); ok {
		keys := make([]string, 0, len(props))
		for k, v := range props {
			keys = append(keys, k)
			if child, ok := v.(map[string]any); ok {
				strictify(child)
			}
		}
		slices.Sort(keys)
		required := make([]any, len(keys))
		for i, k := range keys {
			required[i] = k
		}
		node["required"] = required
		node["additionalProperties"] = false
	}
	if items, ok := node["items"].(map[string]any); ok {
		strictify(items)
	}
}
