package seal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"github.com/Mindstate-AI/sdk/pkg/canonical"
	"github.com/Mindstate-AI/sdk/pkg/capsule"
	"github.com/Mindstate-AI/sdk/pkg/commitment"
	"github.com/Mindstate-AI/sdk/pkg/contentstore"
	"github.com/Mindstate-AI/sdk/pkg/crypto"
	"github.com/Mindstate-AI/sdk/pkg/delivery"
	"github.com/Mindstate-AI/sdk/pkg/envelope"
	"github.com/Mindstate-AI/sdk/pkg/keystore"
	"github.com/Mindstate-AI/sdk/pkg/ledger"
	"github.com/Mindstate-AI/sdk/pkg/lineage"
	"github.com/Mindstate-AI/sdk/pkg/tiers"
)

func testCapsule(t *testing.T) *capsule.Capsule {
	t.Helper()
	c, err := capsule.New("1.0.0", map[string]any{
		"hp":   100,
		"zone": "harbor",
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// countingLedger counts redemption calls so tests can assert the ordering
// guarantee: no redeem before the envelope is confirmed retrievable.
type countingLedger struct {
	ledger.Ledger
	mu      sync.Mutex
	redeems int
}

func (l *countingLedger) Redeem(ctx context.Context, account, checkpointID string) error {
	l.mu.Lock()
	l.redeems++
	l.mu.Unlock()
	return l.Ledger.Redeem(ctx, account, checkpointID)
}

func (l *countingLedger) redeemCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redeems
}

type fixture struct {
	ledger   *countingLedger
	store    *contentstore.MemoryStore
	keys     *keystore.MemoryKeyStore
	courier  *delivery.LedgerCourier
	pub      *Publisher
	consumer *Consumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	counting := &countingLedger{Ledger: ledger.NewMemoryLedger()}
	store := contentstore.NewMemoryStore()
	keys := keystore.NewMemoryKeyStore()
	courier := &delivery.LedgerCourier{Ledger: counting}

	pubKey, secKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		ledger:  counting,
		store:   store,
		keys:    keys,
		courier: courier,
		pub: &Publisher{
			Ledger:     counting,
			Store:      store,
			Keys:       keys,
			Courier:    courier,
			Collection: "game-saves",
		},
		consumer: &Consumer{
			Ledger:     counting,
			Store:      store,
			Courier:    courier,
			Account:    "alice",
			Collection: "game-saves",
			PublicKey:  pubKey,
			SecretKey:  secKey,
		},
	}

	if err := f.consumer.Register(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.pub.GrantAccess(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSealUnsealRoundTrip(t *testing.T) {
	c := testCapsule(t)

	var s Sealer
	sealed, err := s.Seal(c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed.EncryptionKey) != crypto.KeySize {
		t.Fatalf("key length %d", len(sealed.EncryptionKey))
	}
	if sealed.MetadataHash != commitment.Zero {
		t.Fatal("expected zero metadata hash without metadata")
	}

	got, err := s.Unseal(sealed.Ciphertext, sealed.EncryptionKey, sealed.StateCommitment)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(canonical.MustCanonicalize(c), canonical.MustCanonicalize(got)) {
		t.Fatal("canonical form changed across seal/unseal")
	}
}

func TestSealRejectsInvalidCapsule(t *testing.T) {
	var s Sealer
	_, err := s.Seal(&capsule.Capsule{Payload: map[string]any{"x": 1}}, nil)
	if err == nil {
		t.Fatal("expected validation failure for missing version")
	}
}

func TestSealCommitsMetadata(t *testing.T) {
	c := testCapsule(t)
	meta := map[string]any{"device": "handheld"}

	var s Sealer
	sealed, err := s.Seal(c, meta)
	if err != nil {
		t.Fatal(err)
	}

	want, err := commitment.MetadataCommitment(meta)
	if err != nil {
		t.Fatal(err)
	}
	if sealed.MetadataHash != want {
		t.Fatalf("metadata hash %s, want %s", sealed.MetadataHash, want)
	}
}

func TestUnsealWrongKeyFailsAuthentication(t *testing.T) {
	c := testCapsule(t)

	var s Sealer
	sealed, err := s.Seal(c, nil)
	if err != nil {
		t.Fatal(err)
	}

	wrong, err := crypto.GenerateContentKey()
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Unseal(sealed.Ciphertext, wrong, sealed.StateCommitment)
	if !errors.Is(err, crypto.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestUnsealStateMismatch(t *testing.T) {
	c := testCapsule(t)

	var s Sealer
	sealed, err := s.Seal(c, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Unseal(sealed.Ciphertext, sealed.EncryptionKey, commitment.Hash([]byte("other state")))
	var mismatch *commitment.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if mismatch.Role != "state" {
		t.Fatalf("role %q", mismatch.Role)
	}
}

func TestPublishRecordsCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{Label: "autosave"})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := f.ledger.GetCheckpoint(ctx, res.CheckpointID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.StateCommitment != res.StateCommitment.Hex() {
		t.Fatalf("state commitment %s, want %s", rec.StateCommitment, res.StateCommitment.Hex())
	}
	if rec.CiphertextHash != res.CiphertextHash.Hex() {
		t.Fatalf("ciphertext hash %s, want %s", rec.CiphertextHash, res.CiphertextHash.Hex())
	}
	if rec.CiphertextURI != res.CiphertextURI {
		t.Fatalf("uri %s, want %s", rec.CiphertextURI, res.CiphertextURI)
	}
	if rec.MetadataHash != commitment.Zero.Hex() {
		t.Fatalf("metadata hash %s, want zero", rec.MetadataHash)
	}
	if rec.Label != "autosave" {
		t.Fatalf("label %q", rec.Label)
	}
	if f.store.Len() != 1 {
		t.Fatalf("store holds %d blobs", f.store.Len())
	}
	if _, err := f.keys.Get(ctx, res.CheckpointID); err != nil {
		t.Fatalf("content key not escrowed: %v", err)
	}
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := testCapsule(t)

	res, err := f.pub.Publish(ctx, original, PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}

	got, err := f.consumer.Consume(ctx, res.CheckpointID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(canonical.MustCanonicalize(original), canonical.MustCanonicalize(got)) {
		t.Fatal("recovered capsule differs from original")
	}
	if f.ledger.redeemCalls() != 1 {
		t.Fatalf("redeem called %d times, want 1", f.ledger.redeemCalls())
	}
}

func TestConsumeBeforeDeliveryBurnsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.consumer.Consume(ctx, res.CheckpointID)
	if !errors.Is(err, ErrEnvelopeNotYetAvailable) {
		t.Fatalf("expected envelope-not-yet-available, got %v", err)
	}
	if !errors.Is(err, delivery.ErrEnvelopeNotFound) {
		t.Fatalf("expected wrapped fetch cause, got %v", err)
	}
	if f.ledger.redeemCalls() != 0 {
		t.Fatalf("redeem called %d times before delivery", f.ledger.redeemCalls())
	}

	redeemed, err := f.ledger.HasRedeemed(ctx, "alice", res.CheckpointID)
	if err != nil {
		t.Fatal(err)
	}
	if redeemed {
		t.Fatal("redemption burned despite failed pre-flight")
	}

	// Delivery arrives later; the consumer retries and succeeds with the
	// redemption intact until now.
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.consumer.Consume(ctx, res.CheckpointID); err != nil {
		t.Fatal(err)
	}
	if f.ledger.redeemCalls() != 1 {
		t.Fatalf("redeem called %d times, want 1", f.ledger.redeemCalls())
	}
}

func TestConsumeTwiceRedeemsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.consumer.Consume(ctx, res.CheckpointID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.consumer.Consume(ctx, res.CheckpointID); err != nil {
		t.Fatal(err)
	}
	if f.ledger.redeemCalls() != 1 {
		t.Fatalf("redeem called %d times across two consumes", f.ledger.redeemCalls())
	}
}

func TestConsumeWithoutGrantDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pubKey, secKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	mallory := &Consumer{
		Ledger:     f.ledger,
		Store:      f.store,
		Courier:    f.courier,
		Account:    "mallory",
		Collection: "game-saves",
		PublicKey:  pubKey,
		SecretKey:  secKey,
	}
	if err := mallory.Register(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "mallory"); err != nil {
		t.Fatal(err)
	}

	_, err = mallory.Consume(ctx, res.CheckpointID)
	if !errors.Is(err, ledger.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

// mismatchCourier serves an envelope bound to the wrong checkpoint.
type mismatchCourier struct {
	inner delivery.Courier
}

func (m *mismatchCourier) Deliver(ctx context.Context, consumer, checkpointID string, env *envelope.KeyEnvelope) error {
	return m.inner.Deliver(ctx, consumer, checkpointID, env)
}

func (m *mismatchCourier) Fetch(ctx context.Context, consumer, checkpointID string) (*envelope.KeyEnvelope, error) {
	env, err := m.inner.Fetch(ctx, consumer, checkpointID)
	if err != nil {
		return nil, err
	}
	env.CheckpointID = "0xdeadbeef"
	return env, nil
}

func TestConsumeEnvelopeMismatchBurnsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}

	f.consumer.Courier = &mismatchCourier{inner: f.courier}
	_, err = f.consumer.Consume(ctx, res.CheckpointID)
	if !errors.Is(err, ErrEnvelopeMismatch) {
		t.Fatalf("expected envelope mismatch, got %v", err)
	}
	if f.ledger.redeemCalls() != 0 {
		t.Fatalf("redeem called %d times on mismatched envelope", f.ledger.redeemCalls())
	}
}

// tamperStore corrupts every download.
type tamperStore struct {
	contentstore.Store
}

func (s *tamperStore) Download(ctx context.Context, uri string) ([]byte, error) {
	data, err := s.Store.Download(ctx, uri)
	if err != nil {
		return nil, err
	}
	data[len(data)-1] ^= 0xFF
	return data, nil
}

func TestConsumeTamperedCiphertextFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}

	f.consumer.Store = &tamperStore{Store: f.store}
	_, err = f.consumer.Consume(ctx, res.CheckpointID)
	var mismatch *commitment.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if mismatch.Role != "ciphertext" {
		t.Fatalf("role %q", mismatch.Role)
	}
	// The redemption is spent: tampering is only detectable after download,
	// which the protocol orders after the burn.
	if f.ledger.redeemCalls() != 1 {
		t.Fatalf("redeem called %d times", f.ledger.redeemCalls())
	}
}

func TestConsumeWrongSecretKeyIsOpaque(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}

	_, wrongSecret, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	f.consumer.SecretKey = wrongSecret

	_, err = f.consumer.Consume(ctx, res.CheckpointID)
	if !errors.Is(err, crypto.ErrUnwrapFailed) {
		t.Fatalf("expected opaque unwrap failure, got %v", err)
	}
}

func TestConsumeResolvesFallbackStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pub.DeliverKey(ctx, res.CheckpointID, "alice"); err != nil {
		t.Fatal(err)
	}

	// Primary store does not own mem:// URIs; the fallback does.
	fileStore, err := contentstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f.consumer.Store = fileStore
	f.consumer.FallbackStores = []contentstore.Store{f.store}

	if _, err := f.consumer.Consume(ctx, res.CheckpointID); err != nil {
		t.Fatal(err)
	}
}

func TestPublishRoutesByTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	hot := contentstore.NewMemoryStore()
	cold := contentstore.NewMemoryStore()
	router, err := tiers.NewRouter([]tiers.Rule{
		{Tier: "cold", Expr: `label == "archive"`},
	}, "hot")
	if err != nil {
		t.Fatal(err)
	}
	router.Bind("hot", hot)
	router.Bind("cold", cold)
	f.pub.Router = router

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{Label: "archive"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != "cold" {
		t.Fatalf("tier %q, want cold", res.Tier)
	}
	if cold.Len() != 1 || hot.Len() != 0 {
		t.Fatalf("blob placement: cold=%d hot=%d", cold.Len(), hot.Len())
	}
}

// failingLedger rejects checkpoint publication.
type failingLedger struct {
	ledger.Ledger
}

func (l *failingLedger) PublishCheckpoint(ctx context.Context, p ledger.PublishParams) (string, error) {
	return "", fmt.Errorf("ledger unavailable")
}

func TestPublishOrphansBlobOnLedgerFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pub.Ledger = &failingLedger{Ledger: f.ledger}

	_, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err == nil {
		t.Fatal("expected publish failure")
	}
	// The uploaded blob stays behind, content-addressed and unreferenced.
	if f.store.Len() != 1 {
		t.Fatalf("store holds %d blobs, want 1 orphan", f.store.Len())
	}
}

func TestDeliverKeyRequiresRegisteredKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pub.Publish(ctx, testCapsule(t), PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}

	err = f.pub.DeliverKey(ctx, res.CheckpointID, "bob")
	if !errors.Is(err, ledger.ErrKeyNotFound) {
		t.Fatalf("expected key-not-found, got %v", err)
	}
}

func publishChain(t *testing.T, f *fixture, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := capsule.New("1.0.0", map[string]any{"turn": i})
		if err != nil {
			t.Fatal(err)
		}
		res, err := f.pub.Publish(ctx, c, PublishOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.CheckpointID)
	}
	return ids
}

func TestTimelineOldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := publishChain(t, f, 3)

	head, err := f.ledger.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}

	chain, err := Timeline(ctx, f.ledger, head, TimelineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length %d", len(chain))
	}
	if !ledger.IsZeroID(chain[0].PredecessorID) {
		t.Fatalf("genesis predecessor %s", chain[0].PredecessorID)
	}
	for i, rec := range chain {
		if ledger.NormalizeID(rec.CheckpointID) != ledger.NormalizeID(ids[i]) {
			t.Fatalf("position %d holds %s, want %s", i, rec.CheckpointID, ids[i])
		}
	}
}

func TestTimelineParallelRecheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	publishChain(t, f, 5)

	head, err := f.ledger.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}

	chain, err := Timeline(ctx, f.ledger, head, TimelineOptions{
		Concurrency: 4,
		RateLimit:   rate.NewLimiter(rate.Limit(1000), 10),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 5 {
		t.Fatalf("chain length %d", len(chain))
	}
}

// riggedLedger serves checkpoint records from a fixed map.
type riggedLedger struct {
	ledger.Ledger
	records map[string]*ledger.CheckpointRecord
}

func (l *riggedLedger) GetCheckpoint(ctx context.Context, checkpointID string) (*ledger.CheckpointRecord, error) {
	rec, ok := l.records[ledger.NormalizeID(checkpointID)]
	if !ok {
		return nil, ledger.ErrCheckpointNotFound
	}
	return rec, nil
}

func TestTimelineCycleTerminates(t *testing.T) {
	ctx := context.Background()
	rigged := &riggedLedger{
		Ledger: ledger.NewMemoryLedger(),
		records: map[string]*ledger.CheckpointRecord{
			"a1": {CheckpointID: "0xa1", PredecessorID: "0xb2"},
			"b2": {CheckpointID: "0xb2", PredecessorID: "0xa1"},
		},
	}

	_, err := Timeline(ctx, rigged, "0xa1", TimelineOptions{})
	var cycle *lineage.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

// mutatingLedger serves a different state commitment on repeat reads of the
// same checkpoint.
type mutatingLedger struct {
	ledger.Ledger
	mu    sync.Mutex
	reads map[string]int
}

func (l *mutatingLedger) GetCheckpoint(ctx context.Context, checkpointID string) (*ledger.CheckpointRecord, error) {
	rec, err := l.Ledger.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.reads[ledger.NormalizeID(checkpointID)]++
	n := l.reads[ledger.NormalizeID(checkpointID)]
	l.mu.Unlock()

	if n > 1 {
		doctored := *rec
		doctored.StateCommitment = commitment.Hash([]byte("rewritten")).Hex()
		return &doctored, nil
	}
	return rec, nil
}

func TestTimelineDetectsMutatedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	publishChain(t, f, 3)

	head, err := f.ledger.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}

	mutating := &mutatingLedger{Ledger: f.ledger, reads: map[string]int{}}
	_, err = Timeline(ctx, mutating, head, TimelineOptions{Concurrency: 2})
	if err == nil {
		t.Fatal("expected mutation detection")
	}
}
