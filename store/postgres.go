package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/raid-guild/payment-watcher-go/types"
)

//go:embed schema.sql
var schema string

const requestColumns = `reference, recipient, amount, currency_code, currency_kind, currency_mint,
	decimals, label, message, status, created_at, expires_at`

const settlementColumns = `signature, reference, gross_amount, currency, fee_amount, net_amount,
	status, recorded_at`

// Migrate creates the tables the store needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (types.PaymentRequest, error) {
	var req types.PaymentRequest
	var kind, status string
	var expiresAt sql.NullTime
	err := row.Scan(
		&req.Reference,
		&req.Recipient,
		&req.Amount,
		&req.Currency.Code,
		&kind,
		&req.Currency.Mint,
		&req.Currency.Decimals,
		&req.Label,
		&req.Message,
		&status,
		&req.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return types.PaymentRequest{}, err
	}
	req.Currency.Kind = types.AssetKind(kind)
	req.Status = types.RequestStatus(status)
	if !req.Status.Valid() {
		return types.PaymentRequest{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if expiresAt.Valid {
		req.ExpiresAt = expiresAt.Time
	}
	return req, nil
}

func scanSettlement(row rowScanner) (types.Settlement, error) {
	var s types.Settlement
	var status string
	err := row.Scan(
		&s.Signature,
		&s.Reference,
		&s.GrossAmount,
		&s.Currency,
		&s.FeeAmount,
		&s.NetAmount,
		&status,
		&s.RecordedAt,
	)
	if err != nil {
		return types.Settlement{}, err
	}
	s.Status = types.SettlementStatus(status)
	return s, nil
}

// CreateRequest implements Store.
func (s *PostgresStore) CreateRequest(ctx context.Context, req types.PaymentRequest) error {
	var expiresAt sql.NullTime
	if !req.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: req.ExpiresAt, Valid: true}
	}
	status := req.Status
	if status == "" {
		status = types.RequestStatusPending
	}

	query := `INSERT INTO payment_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (reference) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query,
		req.Reference,
		req.Recipient,
		req.Amount,
		req.Currency.Code,
		string(req.Currency.Kind),
		req.Currency.Mint,
		req.Currency.Decimals,
		req.Label,
		req.Message,
		string(status),
		req.CreatedAt,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create payment request: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// GetRequest implements Store.
func (s *PostgresStore) GetRequest(ctx context.Context, reference string) (types.PaymentRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM payment_requests WHERE reference = $1`,
		reference)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PaymentRequest{}, ErrNotFound
	}
	if err != nil {
		return types.PaymentRequest{}, fmt.Errorf("failed to get payment request: %w", err)
	}
	return req, nil
}

// ListPendingRequests implements Store.
func (s *PostgresStore) ListPendingRequests(ctx context.Context) ([]types.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM payment_requests WHERE status = $1 ORDER BY created_at ASC`,
		string(types.RequestStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var results []types.PaymentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment request: %w", err)
		}
		results = append(results, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateRequestStatus implements Store.
func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, reference string, status types.RequestStatus) error {
	return updateStatus(ctx, s.db, reference, status)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateStatus(ctx context.Context, db execQuerier, reference string, status types.RequestStatus) error {
	if !status.Valid() || !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	res, err := db.ExecContext(ctx,
		`UPDATE payment_requests SET status = $2 WHERE reference = $1 AND status = $3`,
		reference, string(status), string(types.RequestStatusPending))
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing request from one that already left pending
	var current string
	err = db.QueryRowContext(ctx,
		`SELECT status FROM payment_requests WHERE reference = $1`,
		reference).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read request status: %w", err)
	}
	return ErrNotPending
}

// SettlementExists implements Store.
func (s *PostgresStore) SettlementExists(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM settlements WHERE signature = $1)`,
		signature).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check settlement: %w", err)
	}
	return exists, nil
}

// GetSettlement implements Store.
func (s *PostgresStore) GetSettlement(ctx context.Context, reference string) (*types.Settlement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		WHERE reference = $1 AND status = $2 ORDER BY recorded_at ASC LIMIT 1`,
		reference, string(types.SettlementStatusConfirmed))

	settlement, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &settlement, nil
}

func insertSettlement(ctx context.Context, db execQuerier, s types.Settlement) error {
	query := `INSERT INTO settlements (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO NOTHING`
	res, err := db.ExecContext(ctx, query,
		s.Signature,
		s.Reference,
		s.GrossAmount,
		s.Currency,
		s.FeeAmount,
		s.NetAmount,
		string(s.Status),
		s.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	if n == 0 {
		return ErrAlreadyRecorded
	}
	return nil
}

// RecordSettlement implements Store.
func (s *PostgresStore) RecordSettlement(ctx context.Context, settlement types.Settlement) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Insert first so a concurrent writer of the same signature loses here
	if err = insertSettlement(ctx, tx, settlement); err != nil {
		return err
	}

	// Confirm the request only if it is still pending
	if err = updateStatus(ctx, tx, settlement.Reference, types.RequestStatusConfirmed); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}
