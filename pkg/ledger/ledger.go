// Package ledger defines the append-only checkpoint ledger collaborator: the
// chained record store, the burn-to-redeem accounting, the consumer
// allowlist, public-key registration, and on-ledger envelope delivery.
//
// The cryptographic core is written once against the Ledger interface; the
// in-memory and SQL implementations here conform to it, and a remote chain
// client would slot in the same way. Records are immutable once published.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ZeroID is the genesis predecessor sentinel: a checkpoint with this
// predecessor is the first in its lineage.
const ZeroID = "0x0000000000000000000000000000000000000000000000000000000000000000"

// NormalizeID maps a checkpoint or account identifier to lookup form:
// lowercase with the 0x prefix stripped. Surface forms keep their prefix;
// only map keys and comparisons use the normalized form.
func NormalizeID(id string) string {
	return strings.TrimPrefix(strings.ToLower(id), "0x")
}

// IsZeroID reports whether id is the genesis predecessor sentinel. Case and
// the 0x prefix are ignored, and any all-zero width counts: external ledgers
// encode the sentinel at varying lengths. An empty id is absent, not zero.
func IsZeroID(id string) bool {
	norm := NormalizeID(id)
	if norm == "" {
		return false
	}
	for _, r := range norm {
		if r != '0' {
			return false
		}
	}
	return true
}

var (
	// ErrCheckpointNotFound reports a read of an unknown checkpoint id.
	ErrCheckpointNotFound = errors.New("ledger: checkpoint not found")

	// ErrEmptyLedger reports a head read against a ledger with no checkpoints.
	ErrEmptyLedger = errors.New("ledger: no checkpoints published")

	// ErrEnvelopeNotFound reports an absent envelope for (consumer, checkpoint).
	ErrEnvelopeNotFound = errors.New("ledger: envelope not found")

	// ErrKeyNotFound reports an account with no registered public key.
	ErrKeyNotFound = errors.New("ledger: no key registered for account")

	// ErrAccessDenied reports a redeem attempt by an account outside the
	// consumer allowlist.
	ErrAccessDenied = errors.New("ledger: account not granted access")

	// ErrAlreadyRedeemed reports a second redeem of the same checkpoint by
	// the same account. Redemption burns exactly once.
	ErrAlreadyRedeemed = errors.New("ledger: checkpoint already redeemed")
)

// CheckpointRecord is one published, chained record binding a state
// commitment to encrypted storage. Immutable once returned by a read.
// Identifier and digest fields are 0x-prefixed lowercase hex.
type CheckpointRecord struct {
	CheckpointID    string    `json:"checkpoint_id"`
	PredecessorID   string    `json:"predecessor_id"`
	StateCommitment string    `json:"state_commitment"`
	CiphertextHash  string    `json:"ciphertext_hash"`
	CiphertextURI   string    `json:"ciphertext_uri"`
	MetadataHash    string    `json:"metadata_hash"`
	Label           string    `json:"label,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
	BlockNumber     uint64    `json:"block_number"`
}

// PublishParams carries the commitments recorded for a new checkpoint.
type PublishParams struct {
	StateCommitment string
	CiphertextHash  string
	CiphertextURI   string
	// MetadataHash is the zero digest when no metadata commitment exists.
	MetadataHash string
	// Label is routing metadata; it is recorded but never hashed.
	Label string
}

// Ledger is the consumed collaborator contract for the append-only
// checkpoint chain. Every call takes a context; transient transport failures
// propagate to the caller, which owns retry policy.
type Ledger interface {
	// PublishCheckpoint appends a checkpoint chained to the current head and
	// returns its assigned id.
	PublishCheckpoint(ctx context.Context, p PublishParams) (string, error)

	// GetCheckpoint reads one immutable checkpoint record.
	GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error)

	// Head returns the latest checkpoint id, or ErrEmptyLedger.
	Head(ctx context.Context) (string, error)

	// GrantAccess adds an account to the consumer allowlist.
	GrantAccess(ctx context.Context, account string) error

	// HasAccess reports allowlist membership.
	HasAccess(ctx context.Context, account string) (bool, error)

	// HasRedeemed reports whether account has already burned its redemption
	// for the checkpoint.
	HasRedeemed(ctx context.Context, account, checkpointID string) (bool, error)

	// Redeem burns the account's one redemption for the checkpoint. The cost
	// is paid regardless of downstream outcome, which is why callers must
	// confirm the decryption path before invoking this.
	Redeem(ctx context.Context, account, checkpointID string) error

	// RegisterKey records the account's public wrap key.
	RegisterKey(ctx context.Context, account string, publicKey []byte) error

	// GetKey returns the account's registered public wrap key.
	GetKey(ctx context.Context, account string) ([]byte, error)

	// DeliverEnvelope stores a wrapped key envelope for (consumer, checkpoint).
	DeliverEnvelope(ctx context.Context, consumer, checkpointID string, wrappedKey, nonce, senderPublicKey []byte) error

	// GetEnvelope returns the stored envelope triple for (consumer,
	// checkpoint), or ErrEnvelopeNotFound.
	GetEnvelope(ctx context.Context, consumer, checkpointID string) (wrappedKey, nonce, senderPublicKey []byte, err error)
}

// deriveCheckpointID assigns a content-derived id so distinct checkpoints can
// never collide. Both local implementations share it; a remote chain assigns
// ids its own way.
func deriveCheckpointID(predecessor string, p PublishParams, block uint64) (string, error) {
	hashInput := struct {
		Pred  string `json:"pred"`
		State string `json:"state"`
		CT    string `json:"ct"`
		Meta  string `json:"meta"`
		Block uint64 `json:"block"`
	}{predecessor, p.StateCommitment, p.CiphertextHash, p.MetadataHash, block}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal checkpoint: %w", err)
	}
	h := sha256.Sum256(raw)
	return "0x" + hex.EncodeToString(h[:]), nil
}
