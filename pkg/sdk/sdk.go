// Package sdk assembles publishers and consumers from configuration. The
// Builder turns a config.Config into live collaborators (ledger, blob store,
// key store, courier, telemetry) and the Client hands out seal.Publisher and
// seal.Consumer instances that share them.
package sdk

import (
	"context"
	"fmt"

	"github.com/Mindstate-AI/sdk/pkg/config"
	"github.com/Mindstate-AI/sdk/pkg/contentstore"
	"github.com/Mindstate-AI/sdk/pkg/delivery"
	"github.com/Mindstate-AI/sdk/pkg/keystore"
	"github.com/Mindstate-AI/sdk/pkg/ledger"
	"github.com/Mindstate-AI/sdk/pkg/observability"
	"github.com/Mindstate-AI/sdk/pkg/seal"
	"github.com/Mindstate-AI/sdk/pkg/tiers"
)

// Builder is a fluent helper for constructing a Client. Zero-value overrides
// fall back to what the configuration selects; validation happens in Build.
type Builder struct {
	cfg        *config.Config
	collection string

	ledger  ledger.Ledger
	store   contentstore.Store
	keys    keystore.KeyStore
	courier delivery.Courier
	obs     *observability.Provider
	journal *observability.Journal

	senderKey *[32]byte

	tierRules   []tiers.Rule
	defaultTier tiers.TierID
	bindings    map[tiers.TierID]contentstore.Store
}

// New starts building a Client from configuration. A nil cfg uses
// config.Load().
func New(cfg *config.Config) *Builder {
	if cfg == nil {
		cfg = config.Load()
	}
	return &Builder{cfg: cfg, collection: cfg.Collection}
}

// WithCollection overrides the collection name used for publishing,
// envelope addressing, and telemetry.
func (b *Builder) WithCollection(name string) *Builder {
	b.collection = name
	return b
}

// WithLedger supplies a ledger, bypassing driver selection.
func (b *Builder) WithLedger(l ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithStore supplies a blob store, bypassing backend selection.
func (b *Builder) WithStore(s contentstore.Store) *Builder {
	b.store = s
	return b
}

// WithKeyStore supplies a publisher key store.
func (b *Builder) WithKeyStore(ks keystore.KeyStore) *Builder {
	b.keys = ks
	return b
}

// WithCourier supplies an envelope courier, bypassing transport selection.
func (b *Builder) WithCourier(c delivery.Courier) *Builder {
	b.courier = c
	return b
}

// WithObservability supplies a telemetry provider. Without one, Build
// creates a provider only when the configuration names an OTLP endpoint.
func (b *Builder) WithObservability(p *observability.Provider) *Builder {
	b.obs = p
	return b
}

// WithJournal attaches an operation journal to publishers and consumers.
func (b *Builder) WithJournal(j *observability.Journal) *Builder {
	b.journal = j
	return b
}

// WithSenderKey pins the publisher's X25519 wrap key. Without one, each key
// delivery uses a fresh ephemeral pair.
func (b *Builder) WithSenderKey(secret *[32]byte) *Builder {
	b.senderKey = secret
	return b
}

// WithTierRule appends a label-routing rule. Rules compile in Build;
// a bad expression surfaces there.
func (b *Builder) WithTierRule(tier tiers.TierID, expr string) *Builder {
	b.tierRules = append(b.tierRules, tiers.Rule{Tier: tier, Expr: expr})
	return b
}

// WithDefaultTier sets the tier used when no rule matches.
func (b *Builder) WithDefaultTier(tier tiers.TierID) *Builder {
	b.defaultTier = tier
	return b
}

// WithTierStore binds a tier to a blob store. Bindings apply in Build.
func (b *Builder) WithTierStore(tier tiers.TierID, s contentstore.Store) *Builder {
	if b.bindings == nil {
		b.bindings = make(map[tiers.TierID]contentstore.Store)
	}
	b.bindings[tier] = s
	return b
}

// Build assembles the Client: ledger by driver, blob store by kind, key
// store by path, courier by transport, tier router from the accumulated
// rules, telemetry when configured. Everything the configuration leaves
// disabled stays nil and downgrades to a no-op.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	c := &Client{
		Collection: b.collection,
		Journal:    b.journal,
		senderKey:  b.senderKey,
	}

	var err error
	if c.Ledger, err = b.buildLedger(ctx, c); err != nil {
		return nil, err
	}
	if c.Store, err = b.buildStore(ctx); err != nil {
		return nil, err
	}
	if c.Keys, err = b.buildKeyStore(); err != nil {
		return nil, err
	}
	if c.Courier, err = b.buildCourier(c); err != nil {
		return nil, err
	}
	if c.Router, err = b.buildRouter(); err != nil {
		return nil, err
	}
	if c.Obs, err = b.buildObservability(ctx); err != nil {
		return nil, err
	}
	if c.Obs != nil {
		c.closers = append(c.closers, c.Obs.Shutdown)
	}
	return c, nil
}

func (b *Builder) buildLedger(ctx context.Context, c *Client) (ledger.Ledger, error) {
	if b.ledger != nil {
		return b.ledger, nil
	}
	switch b.cfg.LedgerDriver {
	case "memory":
		return ledger.NewMemoryLedger(), nil
	case "sqlite", "postgres":
		l, err := ledger.Open(ctx, b.cfg.LedgerDriver, b.cfg.LedgerDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return l.Close() })
		return l, nil
	default:
		return nil, fmt.Errorf("sdk: unknown ledger driver %q", b.cfg.LedgerDriver)
	}
}

func (b *Builder) buildStore(ctx context.Context) (contentstore.Store, error) {
	if b.store != nil {
		return b.store, nil
	}
	return contentstore.NewStore(ctx, contentstore.StoreConfig{
		Kind: contentstore.StoreType(b.cfg.StoreKind),
		Dir:  b.cfg.StoreDir,
		S3: contentstore.S3Config{
			Bucket:   b.cfg.S3Bucket,
			Region:   b.cfg.S3Region,
			Endpoint: b.cfg.S3Endpoint,
		},
		GCSBucket:    b.cfg.GCSBucket,
		GatewayURL:   b.cfg.GatewayURL,
		GatewayToken: b.cfg.GatewayAPIKey,
	})
}

func (b *Builder) buildKeyStore() (keystore.KeyStore, error) {
	if b.keys != nil {
		return b.keys, nil
	}
	switch b.cfg.KeystorePath {
	case "", "memory":
		return keystore.NewMemoryKeyStore(), nil
	default:
		return keystore.NewFileKeyStore(b.cfg.KeystorePath)
	}
}

func (b *Builder) buildCourier(c *Client) (delivery.Courier, error) {
	if b.courier != nil {
		return b.courier, nil
	}
	if b.cfg.RedisAddr != "" {
		idx := delivery.NewRedisIndex(b.cfg.RedisAddr, "", 0)
		c.closers = append(c.closers, func(context.Context) error { return idx.Close() })
		return &delivery.OffchainCourier{
			Store:      c.Store,
			Index:      idx,
			Collection: b.collection,
		}, nil
	}
	return &delivery.LedgerCourier{Ledger: c.Ledger}, nil
}

func (b *Builder) buildRouter() (*tiers.Router, error) {
	if len(b.tierRules) == 0 && b.defaultTier == "" {
		return nil, nil
	}
	r, err := tiers.NewRouter(b.tierRules, b.defaultTier)
	if err != nil {
		return nil, err
	}
	if err := r.Precompile(); err != nil {
		return nil, err
	}
	for tier, s := range b.bindings {
		r.Bind(tier, s)
	}
	return r, nil
}

func (b *Builder) buildObservability(ctx context.Context) (*observability.Provider, error) {
	if b.obs != nil {
		return b.obs, nil
	}
	if b.cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	ocfg := observability.DefaultConfig()
	ocfg.OTLPEndpoint = b.cfg.OTLPEndpoint
	return observability.New(ctx, ocfg)
}

// Client holds assembled collaborators and hands out publishers and
// consumers that share them.
type Client struct {
	Ledger     ledger.Ledger
	Store      contentstore.Store
	Keys       keystore.KeyStore
	Courier    delivery.Courier
	Router     *tiers.Router
	Obs        *observability.Provider
	Journal    *observability.Journal
	Collection string

	senderKey *[32]byte
	closers   []func(context.Context) error
}

// Publisher returns a publisher over the client's collaborators.
func (c *Client) Publisher() *seal.Publisher {
	return &seal.Publisher{
		Ledger:     c.Ledger,
		Store:      c.Store,
		Router:     c.Router,
		Keys:       c.Keys,
		Courier:    c.Courier,
		Collection: c.Collection,
		SenderKey:  c.senderKey,
		Obs:        c.Obs,
		Journal:    c.Journal,
	}
}

// Consumer returns a consumer for an account holding the given X25519 wrap
// pair. Call Register on it before the first key delivery.
func (c *Client) Consumer(account string, publicKey, secretKey *[32]byte) *seal.Consumer {
	return &seal.Consumer{
		Ledger:     c.Ledger,
		Store:      c.Store,
		Courier:    c.Courier,
		Account:    account,
		Collection: c.Collection,
		PublicKey:  publicKey,
		SecretKey:  secretKey,
		Obs:        c.Obs,
		Journal:    c.Journal,
	}
}

// Close releases everything Build opened: database handles, index
// connections, the telemetry provider. Safe on a client with nothing open.
func (c *Client) Close(ctx context.Context) error {
	var firstErr error
	for _, closeFn := range c.closers {
		if err := closeFn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
