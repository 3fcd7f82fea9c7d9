package capsule

import (
	"testing"
)

const stateSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"count": {"type": "integer", "minimum": 0}
	},
	"required": ["name"]
}`

func TestSchemaRegistry_ValidPayload(t *testing.T) {
	reg := NewSchemaRegistry()
	uri := "https://schemas.example/state.json"
	if err := reg.Register(uri, stateSchema); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	c, err := New("1.0.0", map[string]any{"name": "alpha", "count": 3}, WithSchema(uri))
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.ValidatePayload(c); err != nil {
		t.Errorf("ValidatePayload failed: %v", err)
	}
}

func TestSchemaRegistry_InvalidPayload(t *testing.T) {
	reg := NewSchemaRegistry()
	uri := "https://schemas.example/state.json"
	if err := reg.Register(uri, stateSchema); err != nil {
		t.Fatal(err)
	}

	c, err := New("1.0.0", map[string]any{"count": -1}, WithSchema(uri))
	if err != nil {
		t.Fatal(err)
	}

	err = reg.ValidatePayload(c)
	if err == nil {
		t.Fatal("expected schema violation")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Code != "SCHEMA_VIOLATION" {
		t.Errorf("code = %q, want SCHEMA_VIOLATION", ve.Code)
	}
}

func TestSchemaRegistry_NoSchemaURI(t *testing.T) {
	reg := NewSchemaRegistry()
	c, err := New("1.0.0", map[string]any{"anything": true})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.ValidatePayload(c); err != nil {
		t.Errorf("capsule without schema URI must pass: %v", err)
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	reg := NewSchemaRegistry()
	c, err := New("1.0.0", map[string]any{}, WithSchema("https://nowhere.example/missing.json"))
	if err != nil {
		t.Fatal(err)
	}

	err = reg.ValidatePayload(c)
	if err == nil {
		t.Fatal("expected error for unregistered schema URI")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Code != "UNKNOWN_SCHEMA" {
		t.Errorf("code = %q, want UNKNOWN_SCHEMA", ve.Code)
	}
}

func TestSchemaRegistry_BadSchemaJSON(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Register("https://schemas.example/bad.json", `{"type": 42}`); err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
}
