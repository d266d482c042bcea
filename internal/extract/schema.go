package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldKeys are the response keys read into a Result, in column order.
var fieldKeys = []string{"product_name", "product_function", "product_location", "product_qual"}

func responseSchema() map[string]any {
	anyJSON := map[string]any{
		"type": []string{"string", "number", "integer", "boolean", "null", "array", "object"},
	}
	props := make(map[string]any, len(fieldKeys))
	// At least one field key must be present, even if its value is null.
	oneKey := make([]any, 0, len(fieldKeys))
	for _, k := range fieldKeys {
		props[k] = anyJSON
		oneKey = append(oneKey, map[string]any{"required": []string{k}})
	}
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
		"anyOf":      oneKey,
	}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
