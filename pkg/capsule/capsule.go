// Package capsule defines the versioned state container that publishers seal
// and consumers recover.
//
// A capsule is schema-agnostic: the sealing protocol never inspects the
// payload. Validation here covers shape only (non-empty version, non-null
// object payload); deeper payload validation is an opt-in publisher-side
// concern handled by the SchemaRegistry.
package capsule

import (
	"fmt"
	"strings"
)

// Capsule is an immutable, versioned state container. Construct with New;
// treat as read-only downstream.
type Capsule struct {
	Version string         `json:"version"`
	Schema  string         `json:"schema,omitempty"`
	Payload map[string]any `json:"payload"`
}

// Option configures a capsule at construction time.
type Option func(*Capsule)

// WithSchema attaches a schema URI to the capsule. The URI is carried as
// metadata and resolved only by an explicit SchemaRegistry validation call.
func WithSchema(uri string) Option {
	return func(c *Capsule) {
		c.Schema = uri
	}
}

// New constructs a capsule and validates its shape.
func New(version string, payload map[string]any, opts ...Option) (*Capsule, error) {
	c := &Capsule{
		Version: version,
		Payload: payload,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks structural correctness. Fail-closed: any shape issue is an
// error; the payload contents are never inspected.
func (c *Capsule) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, ValidationError{
			Field:   "version",
			Code:    "REQUIRED",
			Message: "version is required",
		})
	}
	if c.Payload == nil {
		errs = append(errs, ValidationError{
			Field:   "payload",
			Code:    "REQUIRED",
			Message: "payload must be a non-null object",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidationError represents a specific validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// ValidationErrors aggregates every failure found in one validation pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}
