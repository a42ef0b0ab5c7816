package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/rendis/autopilot/internal/validation"
	"github.com/rendis/autopilot/pkg/schema"
)

// Format is the encoding of a script document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension. Anything that is not
// .json is read as YAML, which also accepts JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Loader parses and validates script documents.
type Loader struct {
	schemas *validation.JSONSchemaValidator
}

// NewLoader creates a Loader.
func NewLoader() (*Loader, error) {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{schemas: v}, nil
}

// Schemas returns the validator used for documents, for reuse on extracted data.
func (l *Loader) Schemas() *validation.JSONSchemaValidator {
	return l.schemas
}

// Load reads and parses the document at path.
func (l *Loader) Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	doc, err := l.Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes data, validates it against the document schema and decodes
// it into a Document. Scalar step values are accepted and read as strings.
func (l *Loader) Parse(data []byte, format Format) (*Document, error) {
	var raw any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %s", err.Error()).WithCause(err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid YAML: %s", err.Error()).WithCause(err)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported format %q", format)
	}

	if err := l.schemas.ValidateDocument(raw); err != nil {
		return nil, err
	}
	stringifyValues(raw)

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode document: %s", err.Error()).WithCause(err)
	}
	doc.Context = doc.Context.Normalize()
	return &doc, nil
}

// stringifyValues rewrites numeric and boolean step and wait values as strings.
func stringifyValues(raw any) {
	root, ok := raw.(map[string]any)
	if !ok {
		return
	}
	steps, _ := root["steps"].([]any)
	for _, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		stringify(step, "value")
		if wc, ok := step["wait_condition"].(map[string]any); ok {
			stringify(wc, "value")
		}
	}
}

func stringify(m map[string]any, key string) {
	v, ok := m[key]
	if !ok || v == nil {
		return
	}
	if _, isString := v.(string); !isString {
		m[key] = fmt.Sprint(v)
	}
}
