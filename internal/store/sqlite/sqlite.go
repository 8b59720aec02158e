// Package sqlite implements the bridge's durable ledgers in a single SQLite
// file, for deployments that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// DB is an open bridge database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serialises writers; one connection keeps ":memory:" coherent too.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	migrations := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS credits (
			deposit_tx_hash TEXT PRIMARY KEY,
			depositor TEXT NOT NULL,
			amount TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			credit_tx_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mints (
			key TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			recipient TEXT NOT NULL,
			side TEXT NOT NULL,
			count INTEGER NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_orders (
			order_id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			recipient TEXT NOT NULL,
			side TEXT NOT NULL,
			remaining INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			detail TEXT,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Timestamps are stored as unix nanoseconds.
func now() int64 { return time.Now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// CreditStore implements domain.ProcessedStore.
type CreditStore struct{ db *sql.DB }

// Credits returns the processed-transfer ledger.
func (d *DB) Credits() *CreditStore { return &CreditStore{db: d.db} }

// IsProcessed reports whether txHash has a confirmed credit.
func (s *CreditStore) IsProcessed(ctx context.Context, txHash common.Hash) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM credits WHERE deposit_tx_hash = ? AND status = 'confirmed')`, txHash.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: check credit %s: %w", txHash.Hex(), err)
	}
	return exists, nil
}

// MarkSubmitted records a broadcast credit. A confirmed row is left alone.
func (s *CreditStore) MarkSubmitted(ctx context.Context, rec domain.CreditRecord) error {
	return s.upsert(ctx, rec, domain.CreditStatusSubmitted, `
		INSERT INTO credits (deposit_tx_hash, depositor, amount, block_number, credit_tx_hash, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (deposit_tx_hash) DO UPDATE SET
			credit_tx_hash = excluded.credit_tx_hash,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE credits.status <> 'confirmed'`)
}

func (s *CreditStore) MarkProcessed(ctx context.Context, rec domain.CreditRecord) error {
	return s.upsert(ctx, rec, domain.CreditStatusConfirmed, `
		INSERT INTO credits (deposit_tx_hash, depositor, amount, block_number, credit_tx_hash, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (deposit_tx_hash) DO UPDATE SET
			credit_tx_hash = excluded.credit_tx_hash,
			status = excluded.status,
			updated_at = excluded.updated_at`)
}

func (s *CreditStore) upsert(ctx context.Context, rec domain.CreditRecord, status domain.CreditStatus, query string) error {
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.DepositTxHash.Hex(), rec.Depositor.Hex(), amount, int64(rec.BlockNumber),
		rec.CreditTxHash.Hex(), string(status), now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark credit %s: %w", rec.DepositTxHash.Hex(), err)
	}
	return nil
}

func (s *CreditStore) Get(ctx context.Context, txHash common.Hash) (domain.CreditRecord, error) {
	var (
		who, amt, creditTx, status string
		block, updated             int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT depositor, amount, block_number, credit_tx_hash, status, updated_at
		FROM credits WHERE deposit_tx_hash = ?`, txHash.Hex(),
	).Scan(&who, &amt, &block, &creditTx, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CreditRecord{}, fmt.Errorf("sqlite: credit %s: %w", txHash.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.CreditRecord{}, fmt.Errorf("sqlite: get credit %s: %w", txHash.Hex(), err)
	}
	amount, ok := new(big.Int).SetString(amt, 10)
	if !ok {
		return domain.CreditRecord{}, fmt.Errorf("sqlite: credit %s has malformed amount %q", txHash.Hex(), amt)
	}
	return domain.CreditRecord{
		DepositTxHash: txHash,
		Depositor:     common.HexToAddress(who),
		Amount:        amount,
		BlockNumber:   uint64(block),
		CreditTxHash:  common.HexToHash(creditTx),
		Status:        domain.CreditStatus(status),
		UpdatedAt:     fromNanos(updated),
	}, nil
}

func (s *CreditStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credits WHERE status = 'confirmed'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count credits: %w", err)
	}
	return n, nil
}

// MintLedger implements domain.MintLedger.
type MintLedger struct{ db *sql.DB }

func (d *DB) Mints() *MintLedger { return &MintLedger{db: d.db} }

// Begin reserves in.Key. Only a failed row may be taken over.
func (l *MintLedger) Begin(ctx context.Context, in domain.MintIntent) error {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO mints (key, order_id, ticker, recipient, side, count, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (key) DO UPDATE SET
			status = 'pending',
			error = '',
			tx_hash = '',
			count = excluded.count,
			updated_at = excluded.updated_at
		WHERE mints.status = 'failed'`,
		in.Key, in.OrderID, in.Ticker, in.Recipient.Hex(), string(in.Side), in.Count, now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: begin mint %s: %w", in.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: mint %s: %w", in.Key, domain.ErrAlreadyProcessed)
	}
	return nil
}

// Submitted stores the broadcast transaction of a pending mint.
func (l *MintLedger) Submitted(ctx context.Context, key string, txHash common.Hash) error {
	return l.update(ctx, key,
		`UPDATE mints SET tx_hash = ?, updated_at = ? WHERE key = ? AND status = 'pending'`,
		txHash.Hex(), now(), key)
}

func (l *MintLedger) Complete(ctx context.Context, key string, txHash common.Hash) error {
	return l.update(ctx, key,
		`UPDATE mints SET status = 'confirmed', tx_hash = ?, error = '', updated_at = ? WHERE key = ?`,
		txHash.Hex(), now(), key)
}

func (l *MintLedger) Fail(ctx context.Context, key, reason string) error {
	return l.update(ctx, key,
		`UPDATE mints SET status = 'failed', error = ?, updated_at = ? WHERE key = ?`,
		reason, now(), key)
}

func (l *MintLedger) update(ctx context.Context, key, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update mint %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: mint %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

func (l *MintLedger) Get(ctx context.Context, key string) (domain.MintRecord, error) {
	var (
		rec                         domain.MintRecord
		recipient, side, tx, status string
		updated                     int64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT key, order_id, ticker, recipient, side, count, tx_hash, status, error, updated_at
		FROM mints WHERE key = ?`, key,
	).Scan(&rec.Key, &rec.OrderID, &rec.Ticker, &recipient, &side, &rec.Count, &tx, &status, &rec.Error, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MintRecord{}, fmt.Errorf("sqlite: mint %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MintRecord{}, fmt.Errorf("sqlite: get mint %s: %w", key, err)
	}
	rec.Recipient = common.HexToAddress(recipient)
	rec.Side = domain.Side(side)
	rec.TxHash = common.HexToHash(tx)
	rec.Status = domain.MintStatus(status)
	rec.UpdatedAt = fromNanos(updated)
	return rec, nil
}

func (l *MintLedger) SavePending(ctx context.Context, o domain.PendingOrder) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pending_orders (order_id, ticker, recipient, side, remaining, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			recipient = excluded.recipient,
			side = excluded.side,
			remaining = excluded.remaining`,
		o.OrderID, o.Ticker, o.Recipient.Hex(), string(o.Side), o.Remaining, created.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save pending order %s: %w", o.OrderID, err)
	}
	return nil
}

func (l *MintLedger) GetPending(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	var (
		o               domain.PendingOrder
		recipient, side string
		created         int64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT order_id, ticker, recipient, side, remaining, created_at
		FROM pending_orders WHERE order_id = ?`, orderID,
	).Scan(&o.OrderID, &o.Ticker, &recipient, &side, &o.Remaining, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOrder{}, fmt.Errorf("sqlite: pending order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("sqlite: get pending order %s: %w", orderID, err)
	}
	o.Recipient = common.HexToAddress(recipient)
	o.Side = domain.Side(side)
	o.CreatedAt = fromNanos(created)
	return o, nil
}

func (l *MintLedger) ConsumePending(ctx context.Context, orderID string, count int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin consume %s: %w", orderID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var remaining int64
	err = tx.QueryRowContext(ctx,
		`UPDATE pending_orders SET remaining = remaining - ? WHERE order_id = ? RETURNING remaining`,
		count, orderID,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: pending order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlite: consume pending order %s: %w", orderID, err)
	}
	if remaining <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_orders WHERE order_id = ?`, orderID); err != nil {
			return fmt.Errorf("sqlite: drop pending order %s: %w", orderID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit consume %s: %w", orderID, err)
	}
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *sql.DB }

func (d *DB) Audit() *AuditStore { return &AuditStore{db: d.db} }

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(data), now(),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UTC().UnixNano())
	}
	if opts.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, opts.Until.UTC().UnixNano())
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return entries, nil
}

var (
	_ domain.ProcessedStore = (*CreditStore)(nil)
	_ domain.MintLedger     = (*MintLedger)(nil)
	_ domain.AuditStore     = (*AuditStore)(nil)
)
