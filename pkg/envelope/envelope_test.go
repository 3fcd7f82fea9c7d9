package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func sampleEnvelope() *KeyEnvelope {
	return &KeyEnvelope{
		CheckpointID:    "0xabc123",
		WrappedKey:      bytes.Repeat([]byte{0x01}, 48),
		Nonce:           bytes.Repeat([]byte{0x02}, 24),
		SenderPublicKey: bytes.Repeat([]byte{0x03}, 32),
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	env := sampleEnvelope()

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if back.CheckpointID != env.CheckpointID {
		t.Errorf("checkpoint id = %q, want %q", back.CheckpointID, env.CheckpointID)
	}
	if !bytes.Equal(back.WrappedKey, env.WrappedKey) {
		t.Error("wrapped key did not round-trip")
	}
	if !bytes.Equal(back.Nonce, env.Nonce) {
		t.Error("nonce did not round-trip")
	}
	if !bytes.Equal(back.SenderPublicKey, env.SenderPublicKey) {
		t.Error("sender public key did not round-trip")
	}
}

func TestMarshal_WireShape(t *testing.T) {
	data, err := Marshal(sampleEnvelope())
	if err != nil {
		t.Fatal(err)
	}

	var w map[string]string
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("wire form is not a flat string object: %v", err)
	}

	for _, field := range []string{"checkpoint_id", "wrapped_key", "nonce", "sender_public_key"} {
		v, ok := w[field]
		if !ok {
			t.Errorf("missing wire field %q", field)
			continue
		}
		if v != strings.ToLower(v) {
			t.Errorf("wire field %q not lowercase: %q", field, v)
		}
	}
}

func TestUnmarshal_MissingField(t *testing.T) {
	env := sampleEnvelope()
	data, err := Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	for _, field := range []string{"checkpoint_id", "wrapped_key", "nonce", "sender_public_key"} {
		var w map[string]string
		if err := json.Unmarshal(data, &w); err != nil {
			t.Fatal(err)
		}
		delete(w, field)
		mutated, err := json.Marshal(w)
		if err != nil {
			t.Fatal(err)
		}

		_, err = Unmarshal(mutated)
		if err == nil {
			t.Errorf("expected error with %q removed", field)
			continue
		}
		var malformed *MalformedEnvelopeError
		if !errors.As(err, &malformed) {
			t.Errorf("expected *MalformedEnvelopeError for %q, got %T", field, err)
		}
	}
}

func TestUnmarshal_InvalidHex(t *testing.T) {
	data := []byte(`{"checkpoint_id":"0xab","wrapped_key":"not-hex","nonce":"00","sender_public_key":"00"}`)

	_, err := Unmarshal(data)
	var malformed *MalformedEnvelopeError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedEnvelopeError, got %v", err)
	}
	if malformed.Field != "wrapped_key" {
		t.Errorf("field = %q, want wrapped_key", malformed.Field)
	}
}

func TestUnmarshal_WrongNonceLength(t *testing.T) {
	env := sampleEnvelope()
	env.Nonce = env.Nonce[:23]

	data, err := Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Unmarshal(data)
	var malformed *MalformedEnvelopeError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedEnvelopeError, got %v", err)
	}
	if malformed.Field != "nonce" {
		t.Errorf("field = %q, want nonce", malformed.Field)
	}
}

func TestUnmarshal_NotJSON(t *testing.T) {
	_, err := Unmarshal([]byte("plainly not json"))
	var malformed *MalformedEnvelopeError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedEnvelopeError, got %v", err)
	}
}

func TestAddress_Deterministic(t *testing.T) {
	a1 := Address("0xCollection", "0xCheckpoint", "0xRecipient")
	a2 := Address("0xcollection", "0xcheckpoint", "0xrecipient")

	if !a1.Equal(a2) {
		t.Error("address must be case-insensitive over identifiers")
	}
}

func TestAddress_DistinctInputsDistinctAddresses(t *testing.T) {
	base := Address("coll", "cp1", "alice")

	if base.Equal(Address("coll", "cp2", "alice")) {
		t.Error("different checkpoints must address differently")
	}
	if base.Equal(Address("coll", "cp1", "bob")) {
		t.Error("different recipients must address differently")
	}
	if base.Equal(Address("other", "cp1", "alice")) {
		t.Error("different collections must address differently")
	}
}

func TestAddress_ComponentBoundaries(t *testing.T) {
	// The colon separator must prevent ambiguity between component splits.
	if Address("a", "bc", "d").Equal(Address("ab", "c", "d")) {
		t.Error("component boundaries must be unambiguous")
	}
}
