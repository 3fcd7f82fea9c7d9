package seal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mindstate-AI/sdk/pkg/capsule"
	"github.com/Mindstate-AI/sdk/pkg/commitment"
	"github.com/Mindstate-AI/sdk/pkg/contentstore"
	"github.com/Mindstate-AI/sdk/pkg/crypto"
	"github.com/Mindstate-AI/sdk/pkg/delivery"
	"github.com/Mindstate-AI/sdk/pkg/envelope"
	"github.com/Mindstate-AI/sdk/pkg/ledger"
	"github.com/Mindstate-AI/sdk/pkg/observability"
)

// Consumer redeems and recovers published capsules for one account.
//
// FallbackStores, Obs, Journal, and Logger are optional. Downloads resolve
// against Store first, then each fallback in order; a store that does not
// own a URI answers contentstore.ErrForeignURI and the next one is tried.
type Consumer struct {
	Ledger     ledger.Ledger
	Store      contentstore.Store
	Courier    delivery.Courier
	Account    string
	Collection string

	// PublicKey and SecretKey are the account's X25519 wrap pair. PublicKey
	// is registered on the ledger; SecretKey opens delivered envelopes.
	PublicKey *[32]byte
	SecretKey *[32]byte

	FallbackStores []contentstore.Store

	Obs     *observability.Provider
	Journal *observability.Journal
	Logger  *slog.Logger

	sealer Sealer
}

func (c *Consumer) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default().With("component", "seal.consumer")
}

// Register records the consumer's public wrap key on the ledger. Publishers
// read it back when wrapping content keys for delivery.
func (c *Consumer) Register(ctx context.Context) error {
	return c.Ledger.RegisterKey(ctx, c.Account, c.PublicKey[:])
}

// Consume redeems the checkpoint and recovers its capsule.
//
// Redemption burns a one-shot, non-refundable right, so the envelope fetch
// runs first: only after the wrapped key is confirmed retrievable does the
// redeem call go out. A failed pre-flight returns ErrEnvelopeNotYetAvailable
// wrapping the fetch error, with the redemption unspent. An account that has
// already redeemed skips the burn and goes straight to recovery.
func (c *Consumer) Consume(ctx context.Context, checkpointID string) (recovered *capsule.Capsule, err error) {
	opID := uuid.New().String()
	ctx, finish := c.Obs.TrackOperation(ctx, "mindstate.consume",
		observability.ConsumeOperation(c.Collection, checkpointID, c.Account)...)
	defer func() { finish(err) }()

	redeemed, err := c.Ledger.HasRedeemed(ctx, c.Account, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("seal: check redemption: %w", err)
	}

	var env *envelope.KeyEnvelope
	if redeemed {
		env, err = c.fetchEnvelope(ctx, checkpointID)
		if err != nil {
			return nil, err
		}
	} else {
		// Pre-flight: confirm the decryption path exists before burning the
		// redemption. Nothing irreversible has happened if this fails.
		env, err = c.fetchEnvelope(ctx, checkpointID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEnvelopeNotYetAvailable, err)
		}
		if err = c.Ledger.Redeem(ctx, c.Account, checkpointID); err != nil {
			return nil, fmt.Errorf("seal: redeem %s: %w", checkpointID, err)
		}
		c.Journal.Record(observability.JournalEntry{
			EntryType:    observability.EntryTypeRedeem,
			CheckpointID: checkpointID,
			Collection:   c.Collection,
			Actor:        c.Account,
			Summary:      "redemption burned",
			Details:      map[string]any{"op": opID},
		})
	}

	rec, err := c.Ledger.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("seal: read checkpoint %s: %w", checkpointID, err)
	}

	sealed, err := c.download(ctx, rec.CiphertextURI)
	if err != nil {
		return nil, err
	}

	wantCT, err := commitment.Parse(rec.CiphertextHash)
	if err != nil {
		return nil, fmt.Errorf("seal: checkpoint %s ciphertext hash: %w", checkpointID, err)
	}
	if err = commitment.VerifyCiphertext(sealed, wantCT); err != nil {
		return nil, err
	}

	contentKey, err := crypto.UnwrapKey(env, c.SecretKey)
	if err != nil {
		return nil, err
	}

	wantState, err := commitment.Parse(rec.StateCommitment)
	if err != nil {
		return nil, fmt.Errorf("seal: checkpoint %s state commitment: %w", checkpointID, err)
	}
	recovered, err = c.sealer.Unseal(sealed, contentKey, wantState)
	if err != nil {
		return nil, err
	}

	c.Journal.Record(observability.JournalEntry{
		EntryType:    observability.EntryTypeConsume,
		CheckpointID: checkpointID,
		Collection:   c.Collection,
		Actor:        c.Account,
		Summary:      "capsule recovered and verified",
		Details:      map[string]any{"op": opID, "uri": rec.CiphertextURI},
	})
	c.log().InfoContext(ctx, "capsule consumed",
		"op", opID,
		"checkpoint", checkpointID,
		"account", c.Account,
		"already_redeemed", redeemed,
	)
	return recovered, nil
}

// download resolves the URI against the configured stores in order.
func (c *Consumer) download(ctx context.Context, uri string) ([]byte, error) {
	stores := append([]contentstore.Store{c.Store}, c.FallbackStores...)
	for _, s := range stores {
		data, err := s.Download(ctx, uri)
		if errors.Is(err, contentstore.ErrForeignURI) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("seal: download %s: %w", uri, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("seal: no configured store owns %s: %w", uri, contentstore.ErrForeignURI)
}

// fetchEnvelope fetches and validates the consumer's envelope for the
// checkpoint. An envelope carrying a different checkpoint binding fails with
// ErrEnvelopeMismatch.
func (c *Consumer) fetchEnvelope(ctx context.Context, checkpointID string) (*envelope.KeyEnvelope, error) {
	env, err := c.Courier.Fetch(ctx, c.Account, checkpointID)
	if err != nil {
		return nil, err
	}
	if env.CheckpointID != "" && ledger.NormalizeID(env.CheckpointID) != ledger.NormalizeID(checkpointID) {
		return nil, fmt.Errorf("%w: envelope %s, requested %s",
			ErrEnvelopeMismatch, env.CheckpointID, checkpointID)
	}
	return env, nil
}
