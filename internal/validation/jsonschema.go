package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/autopilot/pkg/schema"
)

const documentSchemaURL = "https://autopilot.dev/schemas/script.json"

// documentSchemaJSON is the JSON Schema for script documents.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://autopilot.dev/schemas/script.json",
  "type": "object",
  "required": ["context", "steps"],
  "properties": {
    "name": { "type": "string" },
    "description": { "type": "string" },
    "context": { "$ref": "#/$defs/context" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "expect": { "type": "object" },
    "fixture": { "$ref": "#/$defs/fixture" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "oneOf": [
        { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" },
        { "type": "integer", "minimum": 0 }
      ]
    },
    "context": {
      "type": "object",
      "properties": {
        "target_url": { "type": "string", "format": "uri" },
        "domain": { "type": "string" },
        "security_level": { "type": "string", "enum": ["public", "cautious", "restricted"] },
        "has_user_gesture": { "type": "boolean" },
        "permissions": { "$ref": "#/$defs/permissions" }
      },
      "anyOf": [
        { "required": ["target_url"] },
        { "required": ["domain"] }
      ],
      "additionalProperties": false
    },
    "permissions": {
      "type": "object",
      "properties": {
        "allow_target_mutation": { "type": "boolean" },
        "allow_form_interaction": { "type": "boolean" },
        "allow_navigation_wait": { "type": "boolean" },
        "allow_data_extraction": { "type": "boolean" },
        "restricted_domains": { "type": "array", "items": { "type": "string" } },
        "max_execution_time": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": { "type": "string", "minLength": 1 },
        "selector": { "type": "string" },
        "value": { "type": ["string", "number", "boolean"] },
        "description": { "type": "string" },
        "wait_condition": { "$ref": "#/$defs/wait_condition" }
      },
      "additionalProperties": false
    },
    "wait_condition": {
      "type": "object",
      "required": ["kind", "value"],
      "properties": {
        "kind": { "type": "string", "enum": ["element_present", "timeout", "external_state_changed"] },
        "value": { "type": ["string", "integer"] }
      },
      "additionalProperties": false
    },
    "fixture": {
      "type": "object",
      "properties": {
        "state": { "type": "string" },
        "elements": { "type": "array", "items": { "$ref": "#/$defs/element" } }
      },
      "additionalProperties": false
    },
    "element": {
      "type": "object",
      "required": ["selector"],
      "properties": {
        "selector": { "type": "string", "minLength": 1 },
        "tag": { "type": "string" },
        "value": { "type": "string" },
        "text": { "type": "string" },
        "hidden": { "type": "boolean" },
        "options": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["value"],
            "properties": {
              "value": { "type": "string" },
              "label": { "type": "string" }
            },
            "additionalProperties": false
          }
        },
        "appear_after": { "$ref": "#/$defs/duration" },
        "navigates_to": { "type": "string" },
        "reveal_on_scroll": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates script documents and extracted data against JSON Schemas.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema

	// mu guards the cache of caller-provided schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the document schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}
	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	return &JSONSchemaValidator{
		documentSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a decoded script document (the generic value
// produced by a YAML or JSON decoder) against the document schema.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "document is empty")
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}
	if err := v.documentSchema.Validate(value); err != nil {
		return toAutopilotError(err)
	}
	return nil
}

// ValidateData validates data (typically AutomationResult.ExtractedData)
// against a caller-provided JSON Schema. Compiled schemas are cached.
func (v *JSONSchemaValidator) ValidateData(data map[string]any, dataSchema []byte) error {
	if len(dataSchema) == 0 {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}

	compiled, err := v.getOrCompile(dataSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid data schema").WithCause(err)
	}
	value, err := toJSONValue(data)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize data").WithCause(err)
	}
	if err := compiled.Validate(value); err != nil {
		return toAutopilotError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler and URL per schema to avoid resource collisions.
	url := fmt.Sprintf("autopilot://data-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become json.Number,
// as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAutopilotError flattens a jsonschema.ValidationError into one AutopilotError
// listing every leaf violation.
func toAutopilotError(err error) *schema.AutopilotError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

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
