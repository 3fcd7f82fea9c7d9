package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	// Registered so Open can serve both local and hosted modes.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers: $N placeholders,
// portable column types, binary values stored as hex text.
type SQLLedger struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLLedger wraps an open database handle.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, clock: time.Now}
}

// Open opens a ledger database by driver name ("postgres" or "sqlite") and
// initializes the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLLedger, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	l := NewSQLLedger(db)
	if err := l.Init(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	l.clock = clock
	return l
}

// Close releases the underlying database handle.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY, -- normalized form; checkpoint_id keeps the 0x form
	checkpoint_id TEXT NOT NULL,
	predecessor_id TEXT NOT NULL,
	state_commitment TEXT NOT NULL,
	ciphertext_hash TEXT NOT NULL,
	ciphertext_uri TEXT NOT NULL,
	metadata_hash TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMP NOT NULL,
	block_number INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS wrap_keys (
	account TEXT PRIMARY KEY,
	public_key TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS acl (
	account TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS redemptions (
	account TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	redeemed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (account, checkpoint_id)
);
CREATE TABLE IF NOT EXISTS envelopes (
	consumer TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	wrapped_key TEXT NOT NULL,
	nonce TEXT NOT NULL,
	sender_public_key TEXT NOT NULL,
	delivered_at TIMESTAMP NOT NULL,
	PRIMARY KEY (consumer, checkpoint_id)
);
`

// Init creates the schema.
func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqlSchema)
	return err
}

// PublishCheckpoint appends a checkpoint inside one transaction so the
// predecessor link and block number stay consistent under concurrency.
func (l *SQLLedger) PublishCheckpoint(ctx context.Context, p PublishParams) (string, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	predecessor := ZeroID
	var block uint64 = 1

	row := tx.QueryRowContext(ctx,
		`SELECT checkpoint_id, block_number FROM checkpoints ORDER BY block_number DESC LIMIT 1`)
	var headID string
	var headBlock uint64
	switch err := row.Scan(&headID, &headBlock); {
	case err == nil:
		predecessor = headID
		block = headBlock + 1
	case errors.Is(err, sql.ErrNoRows):
		// Genesis checkpoint.
	default:
		return "", err
	}

	id, err := deriveCheckpointID(predecessor, p, block)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, checkpoint_id, predecessor_id, state_commitment,
			ciphertext_hash, ciphertext_uri, metadata_hash, label, published_at, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		NormalizeID(id), id, predecessor, p.StateCommitment,
		p.CiphertextHash, p.CiphertextURI, p.MetadataHash, p.Label, l.clock().UTC(), block,
	)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetCheckpoint reads one record.
func (l *SQLLedger) GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, predecessor_id, state_commitment, ciphertext_hash,
			ciphertext_uri, metadata_hash, label, published_at, block_number
		FROM checkpoints WHERE id = $1`,
		NormalizeID(checkpointID))

	var rec CheckpointRecord
	err := row.Scan(&rec.CheckpointID, &rec.PredecessorID, &rec.StateCommitment,
		&rec.CiphertextHash, &rec.CiphertextURI, &rec.MetadataHash, &rec.Label,
		&rec.PublishedAt, &rec.BlockNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Head returns the latest checkpoint id.
func (l *SQLLedger) Head(ctx context.Context) (string, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT checkpoint_id FROM checkpoints ORDER BY block_number DESC LIMIT 1`)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrEmptyLedger
		}
		return "", err
	}
	return id, nil
}

// GrantAccess adds an account to the consumer allowlist. Idempotent.
func (l *SQLLedger) GrantAccess(ctx context.Context, account string) error {
	has, err := l.HasAccess(ctx, account)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO acl (account) VALUES ($1)`, NormalizeID(account))
	return err
}

// HasAccess reports allowlist membership.
func (l *SQLLedger) HasAccess(ctx context.Context, account string) (bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM acl WHERE account = $1`, NormalizeID(account))
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasRedeemed reports whether account has burned its redemption.
func (l *SQLLedger) HasRedeemed(ctx context.Context, account, checkpointID string) (bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM redemptions WHERE account = $1 AND checkpoint_id = $2`,
		NormalizeID(account), NormalizeID(checkpointID))
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Redeem burns the account's one redemption inside a transaction.
func (l *SQLLedger) Redeem(ctx context.Context, account, checkpointID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM checkpoints WHERE id = $1`,
		NormalizeID(checkpointID)).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrCheckpointNotFound
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM acl WHERE account = $1`,
		NormalizeID(account)).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrAccessDenied
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM redemptions WHERE account = $1 AND checkpoint_id = $2`,
		NormalizeID(account), NormalizeID(checkpointID)).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO redemptions (account, checkpoint_id, redeemed_at) VALUES ($1, $2, $3)`,
		NormalizeID(account), NormalizeID(checkpointID), l.clock().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// RegisterKey records the account's public wrap key, replacing any prior key.
func (l *SQLLedger) RegisterKey(ctx context.Context, account string, publicKey []byte) error {
	// Portable upsert: delete then insert.
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wrap_keys WHERE account = $1`, NormalizeID(account)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wrap_keys (account, public_key) VALUES ($1, $2)`,
		NormalizeID(account), hex.EncodeToString(publicKey)); err != nil {
		return err
	}
	return tx.Commit()
}

// GetKey returns the account's registered public wrap key.
func (l *SQLLedger) GetKey(ctx context.Context, account string) ([]byte, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT public_key FROM wrap_keys WHERE account = $1`, NormalizeID(account))

	var encoded string
	if err := row.Scan(&encoded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ledger: corrupt key for %s: %w", account, err)
	}
	return key, nil
}

// DeliverEnvelope stores a wrapped key envelope, replacing any prior delivery
// for the same (consumer, checkpoint).
func (l *SQLLedger) DeliverEnvelope(ctx context.Context, consumer, checkpointID string, wrappedKey, nonce, senderPublicKey []byte) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM envelopes WHERE consumer = $1 AND checkpoint_id = $2`,
		NormalizeID(consumer), NormalizeID(checkpointID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO envelopes (consumer, checkpoint_id, wrapped_key, nonce, sender_public_key, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		NormalizeID(consumer), NormalizeID(checkpointID),
		hex.EncodeToString(wrappedKey), hex.EncodeToString(nonce),
		hex.EncodeToString(senderPublicKey), l.clock().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// GetEnvelope returns the stored envelope triple for (consumer, checkpoint).
func (l *SQLLedger) GetEnvelope(ctx context.Context, consumer, checkpointID string) ([]byte, []byte, []byte, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT wrapped_key, nonce, sender_public_key
		FROM envelopes WHERE consumer = $1 AND checkpoint_id = $2`,
		NormalizeID(consumer), NormalizeID(checkpointID))

	var wrappedHex, nonceHex, senderHex string
	if err := row.Scan(&wrappedHex, &nonceHex, &senderHex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, ErrEnvelopeNotFound
		}
		return nil, nil, nil, err
	}

	wrapped, err := hex.DecodeString(wrappedHex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ledger: corrupt envelope: %w", err)
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ledger: corrupt envelope: %w", err)
	}
	sender, err := hex.DecodeString(senderHex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ledger: corrupt envelope: %w", err)
	}
	return wrapped, nonce, sender, nil
}

var _ Ledger = (*SQLLedger)(nil)
