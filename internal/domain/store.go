package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProcessedStore is the set of deposit transfers already credited. The
// default implementation lives in process memory; durable implementations
// turn it into an idempotency ledger that survives restarts.
type ProcessedStore interface {
	// IsProcessed reports whether the transfer's credit is confirmed.
	IsProcessed(ctx context.Context, txHash common.Hash) (bool, error)
	// MarkSubmitted records a broadcast credit transaction that is not yet
	// confirmed. It never downgrades a confirmed record.
	MarkSubmitted(ctx context.Context, rec CreditRecord) error
	// MarkProcessed records the credit as confirmed.
	MarkProcessed(ctx context.Context, rec CreditRecord) error
	Get(ctx context.Context, txHash common.Hash) (CreditRecord, error)
	// Count returns the number of confirmed credits.
	Count(ctx context.Context) (int64, error)
}

// MintLedger guards share mints against double submission and remembers
// resting orders whose later fills still have to be minted.
type MintLedger interface {
	// Begin reserves intent.Key. It returns ErrAlreadyProcessed when the key
	// is pending or confirmed; a previously failed key may be retried.
	Begin(ctx context.Context, intent MintIntent) error
	// Submitted attaches the broadcast transaction to a pending key. Only
	// Fail releases the key again, so it is called only once that
	// transaction is known not to have minted.
	Submitted(ctx context.Context, key string, txHash common.Hash) error
	Complete(ctx context.Context, key string, txHash common.Hash) error
	Fail(ctx context.Context, key string, reason string) error
	Get(ctx context.Context, key string) (MintRecord, error)

	SavePending(ctx context.Context, order PendingOrder) error
	GetPending(ctx context.Context, orderID string) (PendingOrder, error)
	// ConsumePending subtracts count from the remaining quantity and drops
	// the entry once nothing is left.
	ConsumePending(ctx context.Context, orderID string, count int64) error
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// DeadLetterQueue holds failed deposit credits for operator reconciliation.
type DeadLetterQueue interface {
	Push(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Ack(ctx context.Context, id string) error
}
