package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/mintpass/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DBTX is the subset of pgxpool.Pool (or pgx.Tx) the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store provides database operations for the hosted backend: the record of
// confirmed mint payments.
type Store struct {
	db      DBTX
	metrics *metrics.Metrics
}

// NewStore creates a new Store over a pool. If metrics is nil, no metrics are recorded.
func NewStore(db DBTX, m *metrics.Metrics) *Store {
	return &Store{db: db, metrics: m}
}

// MintReceipt is a confirmed mint payment.
type MintReceipt struct {
	RequestID    string
	OwnerAddress string
	Network      string // "mainnet", "devnet" or "testnet"
	Signature    string
	TokenMint    string
	Amount       int64 // raw token units
	Slot         int64
	Memo         *string
	ConfirmedAt  time.Time
	CreatedAt    time.Time
}

// RecordMintParams contains the parameters for recording a mint.
type RecordMintParams struct {
	RequestID    string
	OwnerAddress string
	Network      string
	Signature    string
	TokenMint    string
	Amount       int64
	Slot         int64
	Memo         *string
	ConfirmedAt  time.Time
}

const receiptColumns = `request_id, owner_address, network, signature, token_mint, amount, slot, memo, confirmed_at, created_at`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RecordMint stores a receipt. Recording the same request twice updates the
// existing row, so retried workflow activities are harmless.
func (s *Store) RecordMint(ctx context.Context, params RecordMintParams) (*MintReceipt, error) {
	start := time.Now()
	row := s.db.QueryRow(ctx, `
		INSERT INTO mint_receipts (request_id, owner_address, network, signature, token_mint, amount, slot, memo, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO UPDATE SET
			signature = EXCLUDED.signature,
			slot = EXCLUDED.slot,
			confirmed_at = EXCLUDED.confirmed_at
		RETURNING `+receiptColumns,
		params.RequestID,
		params.OwnerAddress,
		params.Network,
		params.Signature,
		params.TokenMint,
		params.Amount,
		params.Slot,
		pgtextFromStringPtr(params.Memo),
		pgtype.Timestamptz{Time: params.ConfirmedAt, Valid: true},
	)
	receipt, err := scanReceipt(row)
	s.record("insert", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to record mint: %w", err)
	}
	return receipt, nil
}

// GetMint retrieves a receipt by request ID.
func (s *Store) GetMint(ctx context.Context, requestID string) (*MintReceipt, error) {
	start := time.Now()
	row := s.db.QueryRow(ctx, `SELECT `+receiptColumns+` FROM mint_receipts WHERE request_id = $1`, requestID)
	receipt, err := scanReceipt(row)
	s.record("select", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListMintsByOwner returns an owner's receipts on a network, newest first.
func (s *Store) ListMintsByOwner(ctx context.Context, owner, network string, limit int32) ([]*MintReceipt, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM mint_receipts
		WHERE owner_address = $1 AND network = $2
		ORDER BY confirmed_at DESC
		LIMIT $3`,
		owner, network, limit)
	if err != nil {
		s.record("select", start, err)
		return nil, err
	}
	defer rows.Close()

	var receipts []*MintReceipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			s.record("select", start, err)
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	err = rows.Err()
	s.record("select", start, err)
	return receipts, err
}

// HasMinted reports whether owner has a confirmed mint on network.
func (s *Store) HasMinted(ctx context.Context, owner, network string) (bool, error) {
	start := time.Now()
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mint_receipts WHERE owner_address = $1 AND network = $2)`,
		owner, network).Scan(&exists)
	s.record("select", start, err)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, "mint_receipts", time.Since(start).Seconds(), err)
}

func scanReceipt(row pgx.Row) (*MintReceipt, error) {
	var (
		r           MintReceipt
		memo        pgtype.Text
		confirmedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&r.RequestID,
		&r.OwnerAddress,
		&r.Network,
		&r.Signature,
		&r.TokenMint,
		&r.Amount,
		&r.Slot,
		&memo,
		&confirmedAt,
		&createdAt,
	); err != nil {
		return nil, err
	}
	r.Memo = stringPtrFromPgtext(memo)
	r.ConfirmedAt = confirmedAt.Time
	r.CreatedAt = createdAt.Time
	return &r, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
