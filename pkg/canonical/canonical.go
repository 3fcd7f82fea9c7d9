// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing and sealing of capsule state.
//
// Canonical bytes are the sole input to commitments and to the content cipher:
// the same logical value always yields byte-identical output regardless of key
// insertion order or object identity. Never hash or encrypt an incidental
// json.Marshal rendering of a value — always go through Canonicalize.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// SerializationError reports a value with no canonical representation:
// non-finite numbers, cyclic references, channels, functions, or bytes that
// do not parse as JSON on the decode path.
type SerializationError struct {
	Cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("canonical: no canonical representation: %v", e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// Canonicalize returns the RFC 8785 canonical form of v.
//
// v is first marshaled with encoding/json so struct tags are honored, then the
// intermediate JSON is transformed to canonical shape: object keys sorted,
// minimal number formatting, no insignificant whitespace, no HTML escaping.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Cause: fmt.Errorf("pre-marshal: %w", err)}
	}

	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, &SerializationError{Cause: fmt.Errorf("transform: %w", err)}
	}
	return out, nil
}

// Decode parses canonical bytes back into v. It accepts any valid JSON, not
// only canonical form, so re-serialization is never required for reads.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &SerializationError{Cause: err}
	}
	return nil
}

// MustCanonicalize is Canonicalize for values statically known to be
// encodable. It panics on error; intended for fixtures and tests.
func MustCanonicalize(v any) []byte {
	b, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return b
}
