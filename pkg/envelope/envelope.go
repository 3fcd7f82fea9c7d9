// Package envelope defines the key envelope — a content key asymmetrically
// wrapped for one recipient — together with its transport-agnostic wire codec
// and its deterministic addressing scheme.
//
// Envelope addresses are derived, never stored: publisher and consumer each
// recompute hash(collection ":" checkpoint ":" recipient) over lowercased
// identifiers and arrive at the same address without coordination.
package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Mindstate-AI/sdk/pkg/commitment"
)

// KeyEnvelope carries one wrapped content key for one recipient. The envelope
// is safe to store in untrusted locations; only the matching recipient secret
// key opens it.
type KeyEnvelope struct {
	// CheckpointID binds the envelope to the checkpoint it was wrapped for.
	// Populated by the publisher at delivery time.
	CheckpointID string

	// WrappedKey is the box-sealed content key (ciphertext plus overhead).
	WrappedKey []byte

	// Nonce is the 24-byte box nonce drawn at wrap time.
	Nonce []byte

	// SenderPublicKey is the 32-byte sender key derived from the sender
	// secret during wrapping.
	SenderPublicKey []byte
}

// MalformedEnvelopeError reports a serialized envelope that cannot be
// decoded: a missing field or invalid hex.
type MalformedEnvelopeError struct {
	Field  string
	Reason string
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("envelope: malformed %s: %s", e.Field, e.Reason)
}

// wireEnvelope is the serialized form: four lowercase-hex string fields.
type wireEnvelope struct {
	CheckpointID    string `json:"checkpoint_id"`
	WrappedKey      string `json:"wrapped_key"`
	Nonce           string `json:"nonce"`
	SenderPublicKey string `json:"sender_public_key"`
}

// Marshal encodes the envelope to its wire form.
func Marshal(env *KeyEnvelope) ([]byte, error) {
	w := wireEnvelope{
		CheckpointID:    strings.ToLower(env.CheckpointID),
		WrappedKey:      hex.EncodeToString(env.WrappedKey),
		Nonce:           hex.EncodeToString(env.Nonce),
		SenderPublicKey: hex.EncodeToString(env.SenderPublicKey),
	}
	return json.Marshal(w)
}

// Unmarshal decodes wire bytes back into an envelope. Round-trips with
// Marshal exactly; any missing field or invalid hex fails with
// *MalformedEnvelopeError.
func Unmarshal(data []byte) (*KeyEnvelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &MalformedEnvelopeError{Field: "envelope", Reason: err.Error()}
	}

	if w.CheckpointID == "" {
		return nil, &MalformedEnvelopeError{Field: "checkpoint_id", Reason: "missing"}
	}

	wrapped, err := decodeHexField("wrapped_key", w.WrappedKey)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeHexField("nonce", w.Nonce)
	if err != nil {
		return nil, err
	}
	if len(nonce) != 24 {
		return nil, &MalformedEnvelopeError{Field: "nonce", Reason: fmt.Sprintf("length %d, need 24", len(nonce))}
	}
	sender, err := decodeHexField("sender_public_key", w.SenderPublicKey)
	if err != nil {
		return nil, err
	}
	if len(sender) != 32 {
		return nil, &MalformedEnvelopeError{Field: "sender_public_key", Reason: fmt.Sprintf("length %d, need 32", len(sender))}
	}

	return &KeyEnvelope{
		CheckpointID:    w.CheckpointID,
		WrappedKey:      wrapped,
		Nonce:           nonce,
		SenderPublicKey: sender,
	}, nil
}

func decodeHexField(field, value string) ([]byte, error) {
	if value == "" {
		return nil, &MalformedEnvelopeError{Field: field, Reason: "missing"}
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, &MalformedEnvelopeError{Field: field, Reason: "invalid hex"}
	}
	return raw, nil
}

// Address computes the deterministic envelope address for a (collection,
// checkpoint, recipient) triple. Identifiers are lowercased before hashing so
// both parties reach the same address regardless of hex casing conventions.
func Address(collectionID, checkpointID, recipientID string) commitment.Digest {
	joined := strings.ToLower(collectionID) + ":" +
		strings.ToLower(checkpointID) + ":" +
		strings.ToLower(recipientID)
	return commitment.Hash([]byte(joined))
}
