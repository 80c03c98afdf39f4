// Package validation guards the boundary between the untrusted language-model
// output and the closed Decision shape the engine consumes.
package validation

import (
	"bytes"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// decisionSchemaJSON is the JSON Schema for the raw decision object a model
// must emit. Embedded as a constant to avoid filesystem dependencies.
const decisionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://arbor.dev/schemas/decision.json",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {
      "type": "string",
      "enum": ["tool", "branch", "end"]
    },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "inputs": {
      "type": "object"
    },
    "guidance": { "type": "string" },
    "reasoning": { "type": "string" },
    "summary": { "type": "string" }
  },
  "additionalProperties": false,
  "allOf": [
    {
      "if": { "properties": { "action": { "const": "tool" } } },
      "then": { "required": ["name"] }
    },
    {
      "if": { "properties": { "action": { "const": "branch" } } },
      "then": { "required": ["name"] }
    },
    {
      "if": { "properties": { "action": { "const": "end" } } },
      "then": { "required": ["summary"] }
    }
  ]
}`

// DecisionValidator validates raw model output against the decision JSON
// Schema. Safe for concurrent use.
type DecisionValidator struct {
	compiled *jsonschema.Schema
}

// NewDecisionValidator compiles the embedded decision schema.
func NewDecisionValidator() (*DecisionValidator, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(decisionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal decision schema: %w", err)
	}
	if err := c.AddResource("https://arbor.dev/schemas/decision.json", doc); err != nil {
		return nil, fmt.Errorf("add decision schema resource: %w", err)
	}
	compiled, err := c.Compile("https://arbor.dev/schemas/decision.json")
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}
	return &DecisionValidator{compiled: compiled}, nil
}

// Validate checks a raw decision document. Any failure is a DECISION_PARSE
// error; the caller decides whether to retry the model.
func (v *DecisionValidator) Validate(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDecisionParse, "decision is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeDecisionParse, "decision failed schema validation: %s", err.Error()).WithCause(err)
	}
	return nil
}
