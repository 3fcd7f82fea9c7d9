// Package seal composes the sealing pipeline into publisher and consumer
// orchestrators. The primitives live in capsule, canonical, commitment,
// crypto, and envelope; this package sequences them against the external
// collaborators (ledger, blob store, key courier) and enforces the one
// ordering rule that cannot be recovered from if broken: a consumer never
// burns its redemption before confirming the wrapped key is retrievable.
//
// Nothing here retries. External failures propagate to the caller, which
// owns retry policy.
package seal

import (
	"errors"
	"fmt"

	"github.com/Mindstate-AI/sdk/pkg/canonical"
	"github.com/Mindstate-AI/sdk/pkg/capsule"
	"github.com/Mindstate-AI/sdk/pkg/commitment"
	"github.com/Mindstate-AI/sdk/pkg/crypto"
)

var (
	// ErrEnvelopeNotYetAvailable reports a pre-flight envelope fetch failure.
	// The consumer's redemption has not been spent when this is returned.
	ErrEnvelopeNotYetAvailable = errors.New("seal: key envelope not yet available")

	// ErrEnvelopeMismatch reports a fetched envelope bound to a different
	// checkpoint than the one being consumed.
	ErrEnvelopeMismatch = errors.New("seal: envelope bound to different checkpoint")
)

// SealedCapsule is the output of the pure sealing pipeline: the ciphertext
// ready for upload, the three commitments ready for the ledger, and the
// single-use content key ready for escrow.
type SealedCapsule struct {
	Ciphertext      []byte
	CiphertextHash  commitment.Digest
	StateCommitment commitment.Digest
	// MetadataHash is the zero digest when the capsule was sealed without
	// metadata.
	MetadataHash commitment.Digest
	// EncryptionKey is the fresh content key. It exists only here and in the
	// publisher's keystore until wrapped for a consumer.
	EncryptionKey []byte
}

// Sealer runs the cryptographic pipeline with no I/O. It is stateless; the
// zero value is ready to use.
type Sealer struct{}

// Seal validates and canonicalizes the capsule, commits to its state and
// optional metadata, then encrypts the canonical bytes under a fresh content
// key. Both hashing and encryption consume the same canonical serialization.
func (Sealer) Seal(c *capsule.Capsule, metadata any) (*SealedCapsule, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	canonicalBytes, err := canonical.Canonicalize(c)
	if err != nil {
		return nil, err
	}
	state := commitment.Hash(canonicalBytes)

	metaHash := commitment.Zero
	if metadata != nil {
		metaHash, err = commitment.MetadataCommitment(metadata)
		if err != nil {
			return nil, err
		}
	}

	key, err := crypto.GenerateContentKey()
	if err != nil {
		return nil, fmt.Errorf("seal: generate content key: %w", err)
	}

	ciphertext, err := crypto.EncryptContent(canonicalBytes, key)
	if err != nil {
		return nil, err
	}

	return &SealedCapsule{
		Ciphertext:      ciphertext,
		CiphertextHash:  commitment.CiphertextCommitment(ciphertext),
		StateCommitment: state,
		MetadataHash:    metaHash,
		EncryptionKey:   key,
	}, nil
}

// Unseal reverses Seal: decrypt, decode the canonical form, and verify the
// decoded capsule against the expected state commitment. A tampered or
// mis-keyed input fails at decryption; a decoded capsule that does not match
// wantState fails with *commitment.MismatchError.
func (Sealer) Unseal(sealed, key []byte, wantState commitment.Digest) (*capsule.Capsule, error) {
	plaintext, err := crypto.DecryptContent(sealed, key)
	if err != nil {
		return nil, err
	}

	var c capsule.Capsule
	if err := canonical.Decode(plaintext, &c); err != nil {
		return nil, err
	}

	if err := commitment.VerifyState(&c, wantState); err != nil {
		return nil, err
	}
	return &c, nil
}
