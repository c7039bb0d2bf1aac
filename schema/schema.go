// Package schema validates OCPP payloads against the JSON schemas published
// with OCPP-J. Actions without a schema are treated as opaque and accepted.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/juju/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidPayload wraps every schema violation.
const ErrInvalidPayload = errors.ConstError("payload violates schema")

const (
	baseURL        = "https://ocpp.local/schemas/"
	responseSuffix = "Response"
)

//go:embed v16/*.json
var v16Files embed.FS

// Registry holds the compiled request and response schemas of one protocol
// version, keyed by action name.
type Registry struct {
	requests  map[string]*jsonschema.Schema
	responses map[string]*jsonschema.Schema
}

// NewV16 compiles the embedded OCPP 1.6 schemas.
func NewV16() (*Registry, error) {
	return compile(v16Files, "v16")
}

func compile(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}

	r := &Registry{
		requests:  map[string]*jsonschema.Schema{},
		responses: map[string]*jsonschema.Schema{},
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft4
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".json" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		url := baseURL + dir + "/" + name
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}

		action := strings.TrimSuffix(name, ".json")
		if strings.HasSuffix(action, responseSuffix) {
			r.responses[strings.TrimSuffix(action, responseSuffix)] = compiled
		} else {
			r.requests[action] = compiled
		}
	}
	return r, nil
}

// Knows reports whether a request schema exists for the action.
func (r *Registry) Knows(action string) bool {
	_, ok := r.requests[action]
	return ok
}

// ValidateRequest checks the payload of a Call for the given action.
func (r *Registry) ValidateRequest(action string, payload []byte) error {
	return validate(r.requests[action], action+" request", payload)
}

// ValidateResponse checks the payload of a CallResult answering the action.
func (r *Registry) ValidateResponse(action string, payload []byte) error {
	return validate(r.responses[action], action+" response", payload)
}

func validate(s *jsonschema.Schema, what string, payload []byte) error {
	if s == nil {
		return nil
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", ErrInvalidPayload, what, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, what, err)
	}
	return nil
}
