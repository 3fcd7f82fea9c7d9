package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is the in-process reference implementation: a checkpoint chain
// with burn-once redemption, a consumer allowlist, key registration, and
// envelope delivery, all behind one RWMutex.
type MemoryLedger struct {
	mu          sync.RWMutex
	clock       func() time.Time
	checkpoints map[string]*CheckpointRecord // normalized id -> record
	order       []string                     // 0x-form ids in publication order
	keys        map[string][]byte            // normalized account -> public key
	acl         map[string]bool              // normalized account -> allowed
	redemptions map[string]bool              // account|checkpoint -> burned
	envelopes   map[string]*envelopeRecord   // consumer|checkpoint -> envelope
}

type envelopeRecord struct {
	wrappedKey      []byte
	nonce           []byte
	senderPublicKey []byte
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		clock:       time.Now,
		checkpoints: make(map[string]*CheckpointRecord),
		keys:        make(map[string][]byte),
		acl:         make(map[string]bool),
		redemptions: make(map[string]bool),
		envelopes:   make(map[string]*envelopeRecord),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

func pairKey(account, checkpointID string) string {
	return NormalizeID(account) + "|" + NormalizeID(checkpointID)
}

// PublishCheckpoint appends a record chained to the current head. The id is
// content-derived from the commitments, predecessor, and block number, so
// distinct checkpoints can never collide on id.
func (l *MemoryLedger) PublishCheckpoint(ctx context.Context, p PublishParams) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	predecessor := ZeroID
	if n := len(l.order); n > 0 {
		predecessor = l.order[n-1]
	}
	block := uint64(len(l.order)) + 1

	id, err := deriveCheckpointID(predecessor, p, block)
	if err != nil {
		return "", err
	}

	record := &CheckpointRecord{
		CheckpointID:    id,
		PredecessorID:   predecessor,
		StateCommitment: p.StateCommitment,
		CiphertextHash:  p.CiphertextHash,
		CiphertextURI:   p.CiphertextURI,
		MetadataHash:    p.MetadataHash,
		Label:           p.Label,
		PublishedAt:     l.clock().UTC(),
		BlockNumber:     block,
	}

	l.checkpoints[NormalizeID(id)] = record
	l.order = append(l.order, id)
	return id, nil
}

// GetCheckpoint reads one record. The returned value is a copy; records are
// immutable once published.
func (l *MemoryLedger) GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.checkpoints[NormalizeID(checkpointID)]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	copied := *record
	return &copied, nil
}

// Head returns the latest checkpoint id.
func (l *MemoryLedger) Head(ctx context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.order) == 0 {
		return "", ErrEmptyLedger
	}
	return l.order[len(l.order)-1], nil
}

// Length returns the number of published checkpoints.
func (l *MemoryLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// GrantAccess adds an account to the consumer allowlist.
func (l *MemoryLedger) GrantAccess(ctx context.Context, account string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acl[NormalizeID(account)] = true
	return nil
}

// HasAccess reports allowlist membership.
func (l *MemoryLedger) HasAccess(ctx context.Context, account string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.acl[NormalizeID(account)], nil
}

// HasRedeemed reports whether the account already burned its redemption.
func (l *MemoryLedger) HasRedeemed(ctx context.Context, account, checkpointID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.redemptions[pairKey(account, checkpointID)], nil
}

// Redeem burns the account's one redemption for the checkpoint. Fail-closed:
// unknown checkpoints, unlisted accounts, and double redemption are all
// distinct errors.
func (l *MemoryLedger) Redeem(ctx context.Context, account, checkpointID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.checkpoints[NormalizeID(checkpointID)]; !ok {
		return ErrCheckpointNotFound
	}
	if !l.acl[NormalizeID(account)] {
		return ErrAccessDenied
	}

	key := pairKey(account, checkpointID)
	if l.redemptions[key] {
		return ErrAlreadyRedeemed
	}
	l.redemptions[key] = true
	return nil
}

// RegisterKey records the account's public wrap key. Re-registration
// replaces the prior key.
func (l *MemoryLedger) RegisterKey(ctx context.Context, account string, publicKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[NormalizeID(account)] = append([]byte(nil), publicKey...)
	return nil
}

// GetKey returns the account's registered public wrap key.
func (l *MemoryLedger) GetKey(ctx context.Context, account string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key, ok := l.keys[NormalizeID(account)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

// DeliverEnvelope stores a wrapped key envelope for (consumer, checkpoint).
// Redelivery replaces the stored envelope.
func (l *MemoryLedger) DeliverEnvelope(ctx context.Context, consumer, checkpointID string, wrappedKey, nonce, senderPublicKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.envelopes[pairKey(consumer, checkpointID)] = &envelopeRecord{
		wrappedKey:      append([]byte(nil), wrappedKey...),
		nonce:           append([]byte(nil), nonce...),
		senderPublicKey: append([]byte(nil), senderPublicKey...),
	}
	return nil
}

// GetEnvelope returns the stored envelope triple for (consumer, checkpoint).
func (l *MemoryLedger) GetEnvelope(ctx context.Context, consumer, checkpointID string) ([]byte, []byte, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.envelopes[pairKey(consumer, checkpointID)]
	if !ok {
		return nil, nil, nil, ErrEnvelopeNotFound
	}
	return append([]byte(nil), rec.wrappedKey...),
		append([]byte(nil), rec.nonce...),
		append([]byte(nil), rec.senderPublicKey...),
		nil
}

var _ Ledger = (*MemoryLedger)(nil)
