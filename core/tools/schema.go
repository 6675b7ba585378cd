package tools

import (
	"encoding/json"
	"fmt"
	"reflect"

	google "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"
)

// reflectSchema declares the argument schema of T from its struct tags, e.g.
// `json:"symbol" jsonschema:"description=Ticker symbol"`.
func reflectSchema[T any]() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.ReflectFromType(reflect.TypeFor[T]())
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return raw, nil
}

// resolveSchema compiles a declared schema for argument validation.
func resolveSchema(raw json.RawMessage) (*google.Resolved, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	var schema google.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema: %w", err)
	}
	return resolved, nil
}
