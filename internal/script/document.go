// Package script loads script documents: the steps, execution context and
// optional in-memory fixture for one run, written in YAML or JSON.
package script

import (
	"github.com/goccy/go-json"

	"github.com/rendis/autopilot/internal/backend"
	"github.com/rendis/autopilot/pkg/schema"
)

// Document is a decoded script document.
type Document struct {
	Name        string                  `json:"name,omitempty"`
	Description string                  `json:"description,omitempty"`
	Context     schema.ExecutionContext `json:"context"`
	Steps       []schema.Step           `json:"steps"`
	// Expect is a JSON Schema the run's extracted data must satisfy.
	Expect  map[string]any `json:"expect,omitempty"`
	Fixture *Fixture       `json:"fixture,omitempty"`
}

// Fixture describes the page the in-memory backend serves.
type Fixture struct {
	State    string                `json:"state,omitempty"`
	Elements []backend.ElementSpec `json:"elements,omitempty"`
}

// MemoryBackend builds a backend from the fixture. A document without a
// fixture gets an empty page whose state is the target URL.
func (d *Document) MemoryBackend() *backend.MemoryBackend {
	if d.Fixture == nil {
		return backend.NewMemoryBackend(d.Context.TargetURL)
	}
	state := d.Fixture.State
	if state == "" {
		state = d.Context.TargetURL
	}
	return backend.NewMemoryBackend(state, d.Fixture.Elements...)
}

// ExpectSchema returns the encoded Expect schema, or nil when there is none.
func (d *Document) ExpectSchema() ([]byte, error) {
	if len(d.Expect) == 0 {
		return nil, nil
	}
	return json.Marshal(d.Expect)
}
