package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// divisionSchema constrains the divider's structured output. The same map is
// shown to the model and used locally to validate what came back.
func divisionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"num_parts": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			"rationale": map[string]any{"type": "string"},
			"parts": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"number":        map[string]any{"type": "integer", "minimum": 1},
						"title":         map[string]any{"type": "string", "minLength": 1},
						"content_start": map[string]any{"type": "string"},
						"content_end":   map[string]any{"type": "string"},
					},
					"required": []string{"number", "title", "content_start", "content_end"},
				},
			},
		},
		"required": []string{"num_parts", "parts"},
	}
}

// verdictSchema constrains the reviewer's structured output.
func verdictSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"approved": map[string]any{"type": "boolean"},
			"score":    map[string]any{"type": "number", "minimum": 0, "maximum": 10},
			"problems": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"category":    map[string]any{"type": "string", "enum": []string{"syntax", "hallucination", "coverage", "accuracy", "language"}},
						"severity":    map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
						"description": map[string]any{"type": "string"},
						"location":    map[string]any{"type": "string"},
					},
					"required": []string{"category", "severity", "description"},
				},
			},
			"suggestions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"rationale":   map[string]any{"type": "string"},
		},
		"required": []string{"approved", "score", "problems", "rationale"},
	}
}

// validateAgainstSchema validates data against a schema expressed as a
// generic map, compiling it on the fly.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}
