package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/agentgraph/pkg/schema"
)

// documentSchemaJSON is the JSON Schema for FlowDocument validation.
// Embedded as a constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentgraph.dev/schemas/flow-document.json",
  "type": "object",
  "required": ["flows"],
  "properties": {
    "version": { "type": "string" },
    "metadata": {
      "type": "object",
      "properties": {
        "name": { "type": "string" },
        "description": { "type": "string" },
        "tags": { "type": "array", "items": { "type": "string" } }
      },
      "additionalProperties": false
    },
    "agents": {
      "type": "array",
      "items": { "$ref": "#/$defs/agent" }
    },
    "tools": {
      "type": "array",
      "items": { "$ref": "#/$defs/tool" }
    },
    "prompts": {
      "type": "array",
      "items": { "$ref": "#/$defs/prompt" }
    },
    "flows": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/flow" }
    },
    "settings": {
      "type": "object",
      "properties": {
        "expressions": { "type": "string", "enum": ["expr", "cel"] }
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "oneOf": [
        { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" },
        { "type": "number", "minimum": 0 }
      ]
    },
    "call_settings": {
      "type": "object",
      "properties": {
        "model": { "type": "string" },
        "temperature": { "type": "number", "minimum": 0, "maximum": 2 },
        "top_p": { "type": "number", "minimum": 0, "maximum": 1 },
        "max_tokens": { "type": "integer", "minimum": 0 },
        "timeout": { "$ref": "#/$defs/duration" },
        "retry": { "$ref": "#/$defs/retry" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": { "type": "string", "enum": ["constant", "linear", "exponential"] },
        "delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "agent": {
      "type": "object",
      "required": ["id", "model"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "model": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "system_prompt": { "type": "string" },
        "tools": { "type": "array", "items": { "type": "string" } },
        "defaults": { "$ref": "#/$defs/call_settings" }
      },
      "additionalProperties": false
    },
    "tool": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": { "type": "string", "enum": ["function", "http", "jq"] },
        "description": { "type": "string" },
        "spec": { "type": "string" },
        "function": { "type": "string" },
        "retry": { "$ref": "#/$defs/retry" }
      },
      "additionalProperties": false
    },
    "prompt": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "file": { "type": "string" },
        "text": { "type": "string" },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    },
    "flow": {
      "type": "object",
      "required": ["id", "entry", "nodes"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "entry": { "type": "string", "minLength": 1 },
        "nodes": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/node" }
        },
        "edges": {
          "type": "array",
          "items": { "$ref": "#/$defs/edge" }
        },
        "strategy": {
          "type": "string",
          "enum": ["sequential", "concurrent", "handoff", "group_chat", "magentic"]
        },
        "group_chat": {
          "type": "object",
          "properties": {
            "maximum_rounds": { "type": "integer", "minimum": 1 },
            "user_prompt_frequency": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        },
        "handoff": { "$ref": "#/$defs/handoff_options" }
      },
      "additionalProperties": false
    },
    "handoff_options": {
      "type": "object",
      "properties": {
        "max_handoffs": { "type": "integer", "minimum": 1 },
        "max_rounds": { "type": "integer", "minimum": 1 },
        "force_handoff_tool": { "type": "boolean" },
        "aliases": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["alias", "target"],
            "properties": {
              "alias": { "type": "string", "minLength": 1 },
              "target": { "type": "string", "minLength": 1 }
            },
            "additionalProperties": false
          }
        },
        "rules": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["target", "matcher"],
            "properties": {
              "id": { "type": "string" },
              "target": { "type": "string", "minLength": 1 },
              "message": { "type": "string" },
              "matcher": {
                "type": "object",
                "required": ["kind"],
                "properties": {
                  "kind": { "type": "string", "enum": ["keywords_any", "keywords_all", "regex"] },
                  "keywords": { "type": "array", "items": { "type": "string" } },
                  "pattern": { "type": "string" }
                },
                "additionalProperties": false
              }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["input", "output", "agent", "decision", "tool", "merge", "parallel", "loop", "subflow"]
        },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "inputs": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "name": { "type": "string" },
              "from": { "type": "string" }
            },
            "additionalProperties": false
          }
        },
        "outputs": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["label"],
            "properties": {
              "label": { "type": "string", "minLength": 1 },
              "condition": { "type": "string" }
            },
            "additionalProperties": false
          }
        },
        "layout": {
          "type": "object",
          "required": ["x", "y"],
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        },
        "agent": { "type": "string" },
        "prompt": { "type": "string" },
        "tools": { "type": "array", "items": { "type": "string" } },
        "strategy": {
          "type": "string",
          "enum": ["sequential", "concurrent", "handoff", "group_chat", "magentic"]
        },
        "participants": { "type": "array", "items": { "type": "string" } },
        "parameters": { "$ref": "#/$defs/call_settings" },
        "decision": { "type": "string", "enum": ["rules", "llm"] },
        "tool": { "type": "string" },
        "arguments": { "type": "object" },
        "converge": { "type": "boolean" },
        "max_iterations": { "type": "integer", "minimum": 1 },
        "condition": { "type": "string" },
        "flow": { "type": "string" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "condition": { "type": "string" },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates flow documents against the embedded JSON
// Schema. It is safe for concurrent use after construction.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the document schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource("https://agentgraph.dev/schemas/flow-document.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}

	compiled, err := c.Compile("https://agentgraph.dev/schemas/flow-document.json")
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	return &JSONSchemaValidator{documentSchema: compiled}, nil
}

// ValidateDocument validates a FlowDocument against the document JSON Schema.
func (v *JSONSchemaValidator) ValidateDocument(doc *schema.FlowDocument) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "flow document is nil")
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize flow document").WithCause(err)
	}

	if err := v.documentSchema.Validate(value); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// one message per leaf violation.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
