// Package commitment provides content-addressed SHA-256 commitments over
// canonical bytes.
//
// Three commitment roles share one hash function: the state commitment binds
// a capsule's canonical plaintext, the ciphertext commitment binds the sealed
// bytes, and the metadata commitment binds optional auxiliary state. Digests
// surface as 0x-prefixed lowercase hex and compare case-insensitively; the
// all-zero digest is the typed "absent" sentinel, never null.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Mindstate-AI/sdk/pkg/canonical"
	"github.com/Mindstate-AI/sdk/pkg/capsule"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 commitment.
type Digest [Size]byte

// Zero is the absent-commitment sentinel. A record with no metadata
// commitment carries Zero, not null.
var Zero Digest

// Hash computes the digest of raw bytes.
func Hash(data []byte) Digest {
	return sha256.Sum256(data)
}

// Hex returns the canonical surface form: 0x-prefixed lowercase hex.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string { return d.Hex() }

// IsZero reports whether d is the absent sentinel.
func (d Digest) IsZero() bool { return d == Zero }

// Equal compares two digests. Byte comparison after parsing means hex-case
// differences in the surface form can never cause a false mismatch.
func (d Digest) Equal(other Digest) bool { return d == other }

// MarshalText renders the digest in surface form for JSON and text encoders.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText parses a surface-form digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse decodes a hex digest string. The 0x prefix is optional and hex case
// is ignored; anything that is not exactly 32 bytes of hex is an error.
func Parse(s string) (Digest, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Zero, fmt.Errorf("commitment: invalid digest %q: %w", s, err)
	}
	if len(raw) != Size {
		return Zero, fmt.Errorf("commitment: invalid digest length %d (need %d)", len(raw), Size)
	}

	var d Digest
	copy(d[:], raw)
	return d, nil
}

// MismatchError reports a commitment verification failure. This always
// indicates tampering or corruption, never an ordinary negative result, so it
// is an error rather than a boolean.
type MismatchError struct {
	Role     string `json:"role"`
	Expected Digest `json:"expected"`
	Computed Digest `json:"computed"`
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("commitment: %s mismatch: expected %s, computed %s",
		e.Role, e.Expected.Hex(), e.Computed.Hex())
}

// StateCommitment computes the commitment binding a capsule's canonical
// plaintext form.
func StateCommitment(c *capsule.Capsule) (Digest, error) {
	b, err := canonical.Canonicalize(c)
	if err != nil {
		return Zero, err
	}
	return Hash(b), nil
}

// CiphertextCommitment computes the commitment over sealed bytes.
func CiphertextCommitment(ciphertext []byte) Digest {
	return Hash(ciphertext)
}

// MetadataCommitment computes the commitment over auxiliary metadata. A nil
// value yields the absent sentinel, not an error.
func MetadataCommitment(v any) (Digest, error) {
	if v == nil {
		return Zero, nil
	}
	b, err := canonical.Canonicalize(v)
	if err != nil {
		return Zero, err
	}
	return Hash(b), nil
}

// VerifyState recomputes a capsule's state commitment and checks it against
// the expected digest.
func VerifyState(c *capsule.Capsule, want Digest) error {
	got, err := StateCommitment(c)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return &MismatchError{Role: "state", Expected: want, Computed: got}
	}
	return nil
}

// VerifyCiphertext checks sealed bytes against their recorded commitment.
func VerifyCiphertext(ciphertext []byte, want Digest) error {
	got := CiphertextCommitment(ciphertext)
	if !got.Equal(want) {
		return &MismatchError{Role: "ciphertext", Expected: want, Computed: got}
	}
	return nil
}

// VerifyMetadata checks auxiliary metadata against its recorded commitment.
// Absent metadata verifies against the zero sentinel.
func VerifyMetadata(v any, want Digest) error {
	got, err := MetadataCommitment(v)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return &MismatchError{Role: "metadata", Expected: want, Computed: got}
	}
	return nil
}

// VerifyBytes checks raw bytes against an expected digest surface string,
// parsing the expectation first so hex case never matters.
func VerifyBytes(data []byte, wantHex string) error {
	want, err := Parse(wantHex)
	if err != nil {
		return err
	}
	got := Hash(data)
	if !got.Equal(want) {
		return &MismatchError{Role: "content", Expected: want, Computed: got}
	}
	return nil
}
