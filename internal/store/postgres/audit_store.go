package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// AuditStore is the append-only audit_log table. Credits, mints and order
// submissions each leave one row.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES (@event, @detail)`,
		pgx.NamedArgs{"event": event, "detail": raw},
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// A NULL bound disables its filter; LIMIT NULL returns every row.
const listAuditSQL = `
SELECT id, event, detail, created_at
FROM audit_log
WHERE (@since::timestamptz IS NULL OR created_at >= @since::timestamptz)
  AND (@until::timestamptz IS NULL OR created_at <= @until::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT @limit OFFSET @offset`

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, listAuditSQL, pgx.NamedArgs{
		"since":  opts.Since,
		"until":  opts.Until,
		"limit":  limit,
		"offset": max(opts.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("decode detail of entry %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
