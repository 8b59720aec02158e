package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// MintLedger implements domain.MintLedger on the mints and pending_orders
// tables.
type MintLedger struct {
	pool *pgxpool.Pool
}

// NewMintLedger creates a new MintLedger backed by the given connection pool.
func NewMintLedger(pool *pgxpool.Pool) *MintLedger {
	return &MintLedger{pool: pool}
}

// Begin inserts a pending row for intent.Key. An existing failed row is
// reset to pending; any other existing row yields ErrAlreadyProcessed.
func (l *MintLedger) Begin(ctx context.Context, in domain.MintIntent) error {
	const query = `
		INSERT INTO mints (key, order_id, ticker, recipient, side, count, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (key) DO UPDATE SET
			status     = 'pending',
			error      = '',
			tx_hash    = '',
			count      = EXCLUDED.count,
			updated_at = NOW()
		WHERE mints.status = 'failed'`

	tag, err := l.pool.Exec(ctx, query,
		in.Key, in.OrderID, in.Ticker, in.Recipient.Hex(), string(in.Side), in.Count,
	)
	if err != nil {
		return fmt.Errorf("postgres: begin mint %s: %w", in.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mint %s: %w", in.Key, domain.ErrAlreadyProcessed)
	}
	return nil
}

// Submitted stores the broadcast transaction of a pending mint.
func (l *MintLedger) Submitted(ctx context.Context, key string, txHash common.Hash) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE mints SET tx_hash = $2, updated_at = NOW() WHERE key = $1 AND status = 'pending'`,
		key, txHash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: submitted mint %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: pending mint %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Complete marks the mint confirmed with its transaction hash.
func (l *MintLedger) Complete(ctx context.Context, key string, txHash common.Hash) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE mints SET status = 'confirmed', tx_hash = $2, error = '', updated_at = NOW() WHERE key = $1`,
		key, txHash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: complete mint %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mint %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Fail marks the mint failed so the key can be retried.
func (l *MintLedger) Fail(ctx context.Context, key, reason string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE mints SET status = 'failed', error = $2, updated_at = NOW() WHERE key = $1`,
		key, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: fail mint %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mint %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Get returns the ledger row for key.
func (l *MintLedger) Get(ctx context.Context, key string) (domain.MintRecord, error) {
	const query = `
		SELECT key, order_id, ticker, recipient, side, count, tx_hash, status, error, updated_at
		FROM mints WHERE key = $1`

	var (
		rec                         domain.MintRecord
		recipient, side, tx, status string
	)
	err := l.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.OrderID, &rec.Ticker, &recipient, &side, &rec.Count,
		&tx, &status, &rec.Error, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MintRecord{}, fmt.Errorf("postgres: mint %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MintRecord{}, fmt.Errorf("postgres: get mint %s: %w", key, err)
	}
	rec.Recipient = common.HexToAddress(recipient)
	rec.Side = domain.Side(side)
	rec.TxHash = common.HexToHash(tx)
	rec.Status = domain.MintStatus(status)
	return rec, nil
}

// SavePending records a resting order awaiting fills.
func (l *MintLedger) SavePending(ctx context.Context, o domain.PendingOrder) error {
	const query = `
		INSERT INTO pending_orders (order_id, ticker, recipient, side, remaining)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE SET
			recipient = EXCLUDED.recipient,
			side      = EXCLUDED.side,
			remaining = EXCLUDED.remaining`

	_, err := l.pool.Exec(ctx, query, o.OrderID, o.Ticker, o.Recipient.Hex(), string(o.Side), o.Remaining)
	if err != nil {
		return fmt.Errorf("postgres: save pending order %s: %w", o.OrderID, err)
	}
	return nil
}

// GetPending returns the resting order registered under orderID.
func (l *MintLedger) GetPending(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	const query = `
		SELECT order_id, ticker, recipient, side, remaining, created_at
		FROM pending_orders WHERE order_id = $1`

	var (
		o               domain.PendingOrder
		recipient, side string
	)
	err := l.pool.QueryRow(ctx, query, orderID).Scan(
		&o.OrderID, &o.Ticker, &recipient, &side, &o.Remaining, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingOrder{}, fmt.Errorf("postgres: pending order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("postgres: get pending order %s: %w", orderID, err)
	}
	o.Recipient = common.HexToAddress(recipient)
	o.Side = domain.Side(side)
	return o, nil
}

// ConsumePending decrements the remaining quantity and deletes the row
// once it reaches zero.
func (l *MintLedger) ConsumePending(ctx context.Context, orderID string, count int64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin consume %s: %w", orderID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var remaining int64
	err = tx.QueryRow(ctx,
		`UPDATE pending_orders SET remaining = remaining - $2 WHERE order_id = $1 RETURNING remaining`,
		orderID, count,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: pending order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: consume pending order %s: %w", orderID, err)
	}
	if remaining <= 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM pending_orders WHERE order_id = $1`, orderID); err != nil {
			return fmt.Errorf("postgres: drop pending order %s: %w", orderID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit consume %s: %w", orderID, err)
	}
	return nil
}

var _ domain.MintLedger = (*MintLedger)(nil)
