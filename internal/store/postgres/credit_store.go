package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// CreditStore implements domain.ProcessedStore on the credits table.
type CreditStore struct {
	pool *pgxpool.Pool
}

// NewCreditStore creates a new CreditStore backed by the given connection pool.
func NewCreditStore(pool *pgxpool.Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

// IsProcessed reports whether the deposit transaction has a confirmed
// credit.
func (s *CreditStore) IsProcessed(ctx context.Context, txHash common.Hash) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM credits WHERE deposit_tx_hash = $1 AND status = 'confirmed')`, txHash.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check credit %s: %w", txHash.Hex(), err)
	}
	return exists, nil
}

const markSubmittedSQL = `
	INSERT INTO credits (
		deposit_tx_hash, depositor, amount, block_number, credit_tx_hash, status
	) VALUES ($1, $2, $3, $4, $5, 'submitted')
	ON CONFLICT (deposit_tx_hash) DO UPDATE SET
		credit_tx_hash = EXCLUDED.credit_tx_hash,
		status         = 'submitted',
		updated_at     = NOW()
	WHERE credits.status <> 'confirmed'`

const markProcessedSQL = `
	INSERT INTO credits (
		deposit_tx_hash, depositor, amount, block_number, credit_tx_hash, status
	) VALUES ($1, $2, $3, $4, $5, 'confirmed')
	ON CONFLICT (deposit_tx_hash) DO UPDATE SET
		credit_tx_hash = EXCLUDED.credit_tx_hash,
		status         = 'confirmed',
		updated_at     = NOW()`

// MarkSubmitted records a broadcast credit. A confirmed row is left alone.
func (s *CreditStore) MarkSubmitted(ctx context.Context, rec domain.CreditRecord) error {
	return s.upsert(ctx, markSubmittedSQL, rec)
}

// MarkProcessed upserts the confirmed credit row for rec.DepositTxHash.
func (s *CreditStore) MarkProcessed(ctx context.Context, rec domain.CreditRecord) error {
	return s.upsert(ctx, markProcessedSQL, rec)
}

func (s *CreditStore) upsert(ctx context.Context, query string, rec domain.CreditRecord) error {
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	_, err := s.pool.Exec(ctx, query,
		rec.DepositTxHash.Hex(), rec.Depositor.Hex(), amount,
		int64(rec.BlockNumber), rec.CreditTxHash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark credit %s: %w", rec.DepositTxHash.Hex(), err)
	}
	return nil
}

// Get returns the credit row for txHash.
func (s *CreditStore) Get(ctx context.Context, txHash common.Hash) (domain.CreditRecord, error) {
	const query = `
		SELECT deposit_tx_hash, depositor, amount, block_number, credit_tx_hash, status, updated_at
		FROM credits WHERE deposit_tx_hash = $1`

	var (
		rec                                 domain.CreditRecord
		deposit, who, amt, creditTx, status string
		block                               int64
		updated                             time.Time
	)
	err := s.pool.QueryRow(ctx, query, txHash.Hex()).Scan(&deposit, &who, &amt, &block, &creditTx, &status, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditRecord{}, fmt.Errorf("postgres: credit %s: %w", txHash.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.CreditRecord{}, fmt.Errorf("postgres: get credit %s: %w", txHash.Hex(), err)
	}

	amount, ok := new(big.Int).SetString(amt, 10)
	if !ok {
		return domain.CreditRecord{}, fmt.Errorf("postgres: credit %s has malformed amount %q", txHash.Hex(), amt)
	}
	rec.DepositTxHash = common.HexToHash(deposit)
	rec.Depositor = common.HexToAddress(who)
	rec.Amount = amount
	rec.BlockNumber = uint64(block)
	rec.CreditTxHash = common.HexToHash(creditTx)
	rec.Status = domain.CreditStatus(status)
	rec.UpdatedAt = updated
	return rec, nil
}

// Count returns the number of confirmed credits.
func (s *CreditStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credits WHERE status = 'confirmed'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count credits: %w", err)
	}
	return n, nil
}

var _ domain.ProcessedStore = (*CreditStore)(nil)
