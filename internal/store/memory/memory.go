// Package memory implements the bridge stores in process memory. State is
// lost on restart; use the sqlite or postgres stores for a durable ledger.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// ProcessedStore is an in-memory domain.ProcessedStore.
type ProcessedStore struct {
	mu   sync.RWMutex
	recs map[common.Hash]domain.CreditRecord
}

// NewProcessedStore returns an empty store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{recs: make(map[common.Hash]domain.CreditRecord)}
}

// IsProcessed reports whether txHash has a confirmed credit.
func (s *ProcessedStore) IsProcessed(_ context.Context, txHash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[txHash]
	return ok && rec.Status == domain.CreditStatusConfirmed, nil
}

// MarkSubmitted records a broadcast credit unless the deposit is already
// confirmed.
func (s *ProcessedStore) MarkSubmitted(_ context.Context, rec domain.CreditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.recs[rec.DepositTxHash]; ok && cur.Status == domain.CreditStatusConfirmed {
		return nil
	}
	rec.Status = domain.CreditStatusSubmitted
	s.put(rec)
	return nil
}

// MarkProcessed records rec as confirmed.
func (s *ProcessedStore) MarkProcessed(_ context.Context, rec domain.CreditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Status = domain.CreditStatusConfirmed
	s.put(rec)
	return nil
}

func (s *ProcessedStore) put(rec domain.CreditRecord) {
	if rec.Amount != nil {
		rec.Amount = new(big.Int).Set(rec.Amount)
	}
	s.recs[rec.DepositTxHash] = rec
}

// Get returns the record for txHash in any status.
func (s *ProcessedStore) Get(_ context.Context, txHash common.Hash) (domain.CreditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[txHash]
	if !ok {
		return domain.CreditRecord{}, fmt.Errorf("memory: credit %s: %w", txHash.Hex(), domain.ErrNotFound)
	}
	return rec, nil
}

// Count returns the number of confirmed credits.
func (s *ProcessedStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.recs {
		if rec.Status == domain.CreditStatusConfirmed {
			n++
		}
	}
	return n, nil
}

// MintLedger is an in-memory domain.MintLedger.
type MintLedger struct {
	mu      sync.Mutex
	mints   map[string]domain.MintRecord
	pending map[string]domain.PendingOrder
}

// NewMintLedger returns an empty ledger.
func NewMintLedger() *MintLedger {
	return &MintLedger{
		mints:   make(map[string]domain.MintRecord),
		pending: make(map[string]domain.PendingOrder),
	}
}

// Begin reserves in.Key; only a failed key may be taken over.
func (l *MintLedger) Begin(_ context.Context, in domain.MintIntent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.mints[in.Key]; ok && rec.Status != domain.MintStatusFailed {
		return fmt.Errorf("memory: mint %s is %s: %w", in.Key, rec.Status, domain.ErrAlreadyProcessed)
	}
	l.mints[in.Key] = domain.MintRecord{
		Key:       in.Key,
		OrderID:   in.OrderID,
		Ticker:    in.Ticker,
		Recipient: in.Recipient,
		Side:      in.Side,
		Count:     in.Count,
		Status:    domain.MintStatusPending,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// Submitted stores the broadcast transaction of a pending key.
func (l *MintLedger) Submitted(_ context.Context, key string, txHash common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.mints[key]
	if !ok || rec.Status != domain.MintStatusPending {
		return fmt.Errorf("memory: pending mint %s: %w", key, domain.ErrNotFound)
	}
	rec.TxHash = txHash
	rec.UpdatedAt = time.Now().UTC()
	l.mints[key] = rec
	return nil
}

// Complete marks key confirmed.
func (l *MintLedger) Complete(_ context.Context, key string, txHash common.Hash) error {
	return l.update(key, func(r *domain.MintRecord) {
		r.Status = domain.MintStatusConfirmed
		r.TxHash = txHash
		r.Error = ""
	})
}

// Fail marks key failed so that Begin may take it over.
func (l *MintLedger) Fail(_ context.Context, key, reason string) error {
	return l.update(key, func(r *domain.MintRecord) {
		r.Status = domain.MintStatusFailed
		r.Error = reason
	})
}

func (l *MintLedger) update(key string, fn func(*domain.MintRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.mints[key]
	if !ok {
		return fmt.Errorf("memory: mint %s: %w", key, domain.ErrNotFound)
	}
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	l.mints[key] = rec
	return nil
}

// Get returns the record for key.
func (l *MintLedger) Get(_ context.Context, key string) (domain.MintRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.mints[key]
	if !ok {
		return domain.MintRecord{}, fmt.Errorf("memory: mint %s: %w", key, domain.ErrNotFound)
	}
	return rec, nil
}

// SavePending registers or replaces a resting order.
func (l *MintLedger) SavePending(_ context.Context, o domain.PendingOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[o.OrderID] = o
	return nil
}

// GetPending returns the intent for orderID or domain.ErrNotFound.
func (l *MintLedger) GetPending(_ context.Context, orderID string) (domain.PendingOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.pending[orderID]
	if !ok {
		return domain.PendingOrder{}, fmt.Errorf("memory: pending order %s: %w", orderID, domain.ErrNotFound)
	}
	return o, nil
}

// ConsumePending drops the order once count reaches its remainder.
func (l *MintLedger) ConsumePending(_ context.Context, orderID string, count int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.pending[orderID]
	if !ok {
		return fmt.Errorf("memory: pending order %s: %w", orderID, domain.ErrNotFound)
	}
	o.Remaining -= count
	if o.Remaining <= 0 {
		delete(l.pending, orderID)
		return nil
	}
	l.pending[orderID] = o
	return nil
}

// DeadLetterQueue is an in-memory domain.DeadLetterQueue, oldest first.
type DeadLetterQueue struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
}

// NewDeadLetterQueue returns an empty queue.
func NewDeadLetterQueue() *DeadLetterQueue { return &DeadLetterQueue{} }

// Push appends dl, assigning an ID when it has none.
func (q *DeadLetterQueue) Push(_ context.Context, dl domain.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	q.letters = append(q.letters, dl)
	return nil
}

// List returns up to limit letters; limit <= 0 returns all.
func (q *DeadLetterQueue) List(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.letters)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]domain.DeadLetter(nil), q.letters[:n]...), nil
}

// Ack removes the letter with id.
func (q *DeadLetterQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, dl := range q.letters {
		if dl.ID == id {
			q.letters = append(q.letters[:i], q.letters[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("memory: dead letter %s: %w", id, domain.ErrNotFound)
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty audit log.
func NewAuditStore() *AuditStore { return &AuditStore{} }

// Log appends an entry.
func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range a.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Locks is a process-local domain.LockManager.
type Locks struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocks returns a lock table with nothing held.
func NewLocks() *Locks { return &Locks{held: make(map[string]time.Time)} }

// Acquire takes key for ttl. The returned func releases it unless it has
// expired and been taken by someone else.
func (l *Locks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	token := now.Add(ttl)
	l.held[key] = token
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(token) {
			delete(l.held, key)
		}
	}, nil
}

var (
	_ domain.ProcessedStore  = (*ProcessedStore)(nil)
	_ domain.MintLedger      = (*MintLedger)(nil)
	_ domain.DeadLetterQueue = (*DeadLetterQueue)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
	_ domain.LockManager     = (*Locks)(nil)
)
