// Package delivery moves wrapped key envelopes from publisher to consumer.
// Two transports exist: LedgerCourier records envelopes directly on the
// ledger, OffchainCourier stores them in a blob store and indexes them by
// deterministic envelope address so the ledger stays lean.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindstate-AI/sdk/pkg/commitment"
	"github.com/Mindstate-AI/sdk/pkg/contentstore"
	"github.com/Mindstate-AI/sdk/pkg/envelope"
	"github.com/Mindstate-AI/sdk/pkg/ledger"
)

// ErrEnvelopeNotFound reports an absent envelope for (consumer, checkpoint).
// It aliases the ledger sentinel so callers match one error regardless of
// transport.
var ErrEnvelopeNotFound = ledger.ErrEnvelopeNotFound

// Courier delivers and fetches wrapped key envelopes for a consumer.
// Fetch returns ErrEnvelopeNotFound when no envelope has been delivered yet,
// regardless of transport.
type Courier interface {
	Deliver(ctx context.Context, consumer, checkpointID string, env *envelope.KeyEnvelope) error
	Fetch(ctx context.Context, consumer, checkpointID string) (*envelope.KeyEnvelope, error)
}

// LedgerCourier delivers envelopes through the ledger's envelope registry.
type LedgerCourier struct {
	Ledger ledger.Ledger
}

func (c *LedgerCourier) Deliver(ctx context.Context, consumer, checkpointID string, env *envelope.KeyEnvelope) error {
	return c.Ledger.DeliverEnvelope(ctx, consumer, checkpointID,
		env.WrappedKey, env.Nonce, env.SenderPublicKey)
}

func (c *LedgerCourier) Fetch(ctx context.Context, consumer, checkpointID string) (*envelope.KeyEnvelope, error) {
	wrapped, nonce, sender, err := c.Ledger.GetEnvelope(ctx, consumer, checkpointID)
	if err != nil {
		return nil, err
	}
	return &envelope.KeyEnvelope{
		CheckpointID:    checkpointID,
		WrappedKey:      wrapped,
		Nonce:           nonce,
		SenderPublicKey: sender,
	}, nil
}

// OffchainCourier stores marshaled envelopes in a blob store and indexes
// them under the deterministic envelope address. The index entry carries
// the envelope digest, so a tampered index or blob fails at fetch time
// rather than surfacing downstream as an unwrap failure.
type OffchainCourier struct {
	Store      contentstore.Store
	Index      Index
	Collection string
}

func (c *OffchainCourier) Deliver(ctx context.Context, consumer, checkpointID string, env *envelope.KeyEnvelope) error {
	data, err := envelope.Marshal(env)
	if err != nil {
		return fmt.Errorf("delivery: marshal envelope: %w", err)
	}

	uri, err := c.Store.Upload(ctx, data)
	if err != nil {
		return fmt.Errorf("delivery: upload envelope: %w", err)
	}

	addr := envelope.Address(c.Collection, checkpointID, consumer)
	entry := IndexEntry{URI: uri, EnvelopeHash: commitment.Hash(data)}
	if err := c.Index.Put(ctx, addr, entry); err != nil {
		return fmt.Errorf("delivery: index envelope: %w", err)
	}
	return nil
}

func (c *OffchainCourier) Fetch(ctx context.Context, consumer, checkpointID string) (*envelope.KeyEnvelope, error) {
	addr := envelope.Address(c.Collection, checkpointID, consumer)

	entry, err := c.Index.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotIndexed) {
			return nil, ledger.ErrEnvelopeNotFound
		}
		return nil, fmt.Errorf("delivery: read index: %w", err)
	}

	data, err := c.Store.Download(ctx, entry.URI)
	if err != nil {
		return nil, fmt.Errorf("delivery: download indexed envelope: %w", err)
	}

	computed := commitment.Hash(data)
	if !computed.Equal(entry.EnvelopeHash) {
		return nil, &commitment.MismatchError{
			Role:     "envelope",
			Expected: entry.EnvelopeHash,
			Computed: computed,
		}
	}

	return envelope.Unmarshal(data)
}

var (
	_ Courier = (*LedgerCourier)(nil)
	_ Courier = (*OffchainCourier)(nil)
)
