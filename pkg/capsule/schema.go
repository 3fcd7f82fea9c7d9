package capsule

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry holds compiled JSON Schemas keyed by URI, for opt-in
// publisher-side payload validation. The sealing protocol itself never
// consults the registry.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles schemaJSON under the given URI, replacing any prior
// registration for the same URI.
func (r *SchemaRegistry) Register(uri string, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(uri, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("capsule: schema load failed: %w", err)
	}
	compiled, err := c.Compile(uri)
	if err != nil {
		return fmt.Errorf("capsule: schema compile failed: %w", err)
	}

	r.mu.Lock()
	r.schemas[uri] = compiled
	r.mu.Unlock()
	return nil
}

// ValidatePayload validates the capsule payload against the schema named by
// c.Schema. A capsule with no schema URI passes trivially; a URI with no
// registration is an error (fail-closed rather than silently unchecked).
func (r *SchemaRegistry) ValidatePayload(c *Capsule) error {
	if c.Schema == "" {
		return nil
	}

	r.mu.RLock()
	schema, ok := r.schemas[c.Schema]
	r.mu.RUnlock()

	if !ok {
		return ValidationError{
			Field:   "schema",
			Code:    "UNKNOWN_SCHEMA",
			Message: fmt.Sprintf("no schema registered for %q", c.Schema),
		}
	}

	// jsonschema validates generic JSON values; the payload is already
	// map[string]any so no re-decode is needed.
	if err := schema.Validate(toJSONValue(c.Payload)); err != nil {
		return ValidationError{
			Field:   "payload",
			Code:    "SCHEMA_VIOLATION",
			Message: err.Error(),
		}
	}
	return nil
}

// toJSONValue rewrites the payload with int values widened to float64 so the
// validator sees the same types a JSON decode would produce.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toJSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJSONValue(e)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
