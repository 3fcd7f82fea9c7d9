package seal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mindstate-AI/sdk/pkg/capsule"
	"github.com/Mindstate-AI/sdk/pkg/commitment"
	"github.com/Mindstate-AI/sdk/pkg/contentstore"
	"github.com/Mindstate-AI/sdk/pkg/crypto"
	"github.com/Mindstate-AI/sdk/pkg/delivery"
	"github.com/Mindstate-AI/sdk/pkg/keystore"
	"github.com/Mindstate-AI/sdk/pkg/ledger"
	"github.com/Mindstate-AI/sdk/pkg/observability"
	"github.com/Mindstate-AI/sdk/pkg/tiers"
)

// PublishOptions carries the optional parts of a publication.
type PublishOptions struct {
	// Metadata is committed alongside the state when non-nil. Only its hash
	// reaches the ledger.
	Metadata any

	// Label is recorded on the checkpoint and drives tier routing. It is
	// never hashed.
	Label string
}

// PublishResult reports what one publication produced.
type PublishResult struct {
	CheckpointID    string
	CiphertextURI   string
	StateCommitment commitment.Digest
	CiphertextHash  commitment.Digest
	MetadataHash    commitment.Digest
	// Tier is empty when the publisher uploads through a single store.
	Tier tiers.TierID
}

// Publisher seals capsules and commits them: blob to the store, commitments
// to the ledger, content key to the keystore. One Publisher serves one
// collection.
//
// Router, SenderKey, Obs, Journal, and Logger are optional. When Router is
// set it selects the store per publication; otherwise Store is used directly.
// When SenderKey is nil, DeliverKey wraps under a fresh ephemeral sender pair
// per delivery.
type Publisher struct {
	Ledger     ledger.Ledger
	Store      contentstore.Store
	Router     *tiers.Router
	Keys       keystore.KeyStore
	Courier    delivery.Courier
	Collection string
	SenderKey  *[32]byte

	Obs     *observability.Provider
	Journal *observability.Journal
	Logger  *slog.Logger

	sealer Sealer
}

func (p *Publisher) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default().With("component", "seal.publisher")
}

// Publish seals the capsule and records it as a new checkpoint chained to the
// current head.
//
// The sequence is seal → upload → ledger record → key escrow. If the upload
// succeeds but the ledger record fails, the blob is orphaned: content
// addressed, encrypted under a key that is then discarded, and referenced by
// nothing. No cleanup is attempted, and none is needed.
func (p *Publisher) Publish(ctx context.Context, c *capsule.Capsule, opts PublishOptions) (result *PublishResult, err error) {
	opID := uuid.New().String()
	ctx, finish := p.Obs.TrackOperation(ctx, "mindstate.publish",
		observability.AttrCollection.String(p.Collection),
	)
	defer func() { finish(err) }()

	sealed, err := p.sealer.Seal(c, opts.Metadata)
	if err != nil {
		return nil, fmt.Errorf("seal: publish: %w", err)
	}

	store := p.Store
	var tier tiers.TierID
	if p.Router != nil {
		tier, err = p.Router.Route(opts.Label, len(sealed.Ciphertext), c.Schema)
		if err != nil {
			return nil, fmt.Errorf("seal: route capsule: %w", err)
		}
		store, err = p.Router.StoreByTier(tier)
		if err != nil {
			return nil, fmt.Errorf("seal: route capsule: %w", err)
		}
	}

	uri, err := store.Upload(ctx, sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("seal: upload ciphertext: %w", err)
	}

	checkpointID, err := p.Ledger.PublishCheckpoint(ctx, ledger.PublishParams{
		StateCommitment: sealed.StateCommitment.Hex(),
		CiphertextHash:  sealed.CiphertextHash.Hex(),
		CiphertextURI:   uri,
		MetadataHash:    sealed.MetadataHash.Hex(),
		Label:           opts.Label,
	})
	if err != nil {
		return nil, fmt.Errorf("seal: record checkpoint: %w", err)
	}

	if err = p.Keys.Put(ctx, checkpointID, sealed.EncryptionKey); err != nil {
		return nil, fmt.Errorf("seal: escrow content key for %s: %w", checkpointID, err)
	}

	observability.AddSpanEvent(ctx, "checkpoint.recorded",
		observability.PublishOperation(p.Collection, checkpointID, len(sealed.Ciphertext))...)
	p.Journal.Record(observability.JournalEntry{
		EntryType:    observability.EntryTypePublish,
		CheckpointID: checkpointID,
		Collection:   p.Collection,
		Summary:      "capsule sealed and recorded",
		Details: map[string]any{
			"op":    opID,
			"uri":   uri,
			"tier":  string(tier),
			"label": opts.Label,
		},
	})
	p.log().InfoContext(ctx, "capsule published",
		"op", opID,
		"collection", p.Collection,
		"checkpoint", checkpointID,
		"uri", uri,
		"tier", string(tier),
		"size", len(sealed.Ciphertext),
	)

	return &PublishResult{
		CheckpointID:    checkpointID,
		CiphertextURI:   uri,
		StateCommitment: sealed.StateCommitment,
		CiphertextHash:  sealed.CiphertextHash,
		MetadataHash:    sealed.MetadataHash,
		Tier:            tier,
	}, nil
}

// DeliverKey wraps the escrowed content key for one consumer and hands the
// envelope to the courier. The consumer must have registered a wrap key on
// the ledger first.
func (p *Publisher) DeliverKey(ctx context.Context, checkpointID, consumer string) (err error) {
	opID := uuid.New().String()
	ctx, finish := p.Obs.TrackOperation(ctx, "mindstate.deliver_key",
		observability.DeliveryOperation(consumer, checkpointID, transportName(p.Courier))...)
	defer func() { finish(err) }()

	recipientRaw, err := p.Ledger.GetKey(ctx, consumer)
	if err != nil {
		return fmt.Errorf("seal: resolve wrap key for %s: %w", consumer, err)
	}
	if len(recipientRaw) != 32 {
		return fmt.Errorf("seal: registered key for %s is %d bytes, need 32", consumer, len(recipientRaw))
	}
	var recipient [32]byte
	copy(recipient[:], recipientRaw)

	contentKey, err := p.Keys.Get(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("seal: load content key for %s: %w", checkpointID, err)
	}

	sender := p.SenderKey
	if sender == nil {
		_, sender, err = crypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("seal: generate sender pair: %w", err)
		}
	}

	env, err := crypto.WrapKey(contentKey, &recipient, sender)
	if err != nil {
		return fmt.Errorf("seal: wrap content key: %w", err)
	}
	env.CheckpointID = checkpointID

	if err = p.Courier.Deliver(ctx, consumer, checkpointID, env); err != nil {
		return fmt.Errorf("seal: deliver envelope: %w", err)
	}

	p.Journal.Record(observability.JournalEntry{
		EntryType:    observability.EntryTypeDeliver,
		CheckpointID: checkpointID,
		Collection:   p.Collection,
		Actor:        consumer,
		Summary:      "key envelope delivered",
		Details:      map[string]any{"op": opID},
	})
	p.log().InfoContext(ctx, "key delivered",
		"op", opID,
		"checkpoint", checkpointID,
		"consumer", consumer,
	)
	return nil
}

// GrantAccess adds the consumer to the ledger allowlist for this publisher's
// checkpoints.
func (p *Publisher) GrantAccess(ctx context.Context, consumer string) error {
	return p.Ledger.GrantAccess(ctx, consumer)
}

// transportName labels the courier for telemetry.
func transportName(c delivery.Courier) string {
	switch c.(type) {
	case *delivery.LedgerCourier:
		return "ledger"
	case *delivery.OffchainCourier:
		return "offchain"
	default:
		return "custom"
	}
}
