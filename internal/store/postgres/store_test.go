package postgres

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// openTestDB connects to BRIDGE_TEST_POSTGRES_DSN and migrates it. Tests
// using it are skipped when the variable is unset.
func openTestDB(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("BRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BRIDGE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return c
}

func randomHash() common.Hash {
	id := uuid.New()
	return common.BytesToHash(id[:])
}

func TestCreditStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewCreditStore(openTestDB(t).Pool())

	rec := domain.CreditRecord{
		DepositTxHash: randomHash(),
		Depositor:     common.HexToAddress("0x0a"),
		Amount:        big.NewInt(1_500_000),
		BlockNumber:   12,
		CreditTxHash:  randomHash(),
	}
	before, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if err := s.MarkSubmitted(ctx, rec); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	if ok, _ := s.IsProcessed(ctx, rec.DepositTxHash); ok {
		t.Fatal("submitted credit reported processed")
	}
	got, err := s.Get(ctx, rec.DepositTxHash)
	if err != nil || got.Status != domain.CreditStatusSubmitted || got.CreditTxHash != rec.CreditTxHash {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if err := s.MarkProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if ok, _ := s.IsProcessed(ctx, rec.DepositTxHash); !ok {
		t.Fatal("confirmed credit not processed")
	}
	if n, _ := s.Count(ctx); n != before+1 {
		t.Fatalf("Count = %d, want %d", n, before+1)
	}

	late := rec
	late.CreditTxHash = randomHash()
	if err := s.MarkSubmitted(ctx, late); err != nil {
		t.Fatalf("MarkSubmitted after confirm: %v", err)
	}
	got, _ = s.Get(ctx, rec.DepositTxHash)
	if got.Status != domain.CreditStatusConfirmed || got.CreditTxHash != rec.CreditTxHash {
		t.Fatalf("confirmed row overwritten: %+v", got)
	}
	if got.Amount.Cmp(rec.Amount) != 0 {
		t.Errorf("amount = %s", got.Amount)
	}
}

func TestMintLedgerKeys(t *testing.T) {
	ctx := context.Background()
	l := NewMintLedger(openTestDB(t).Pool())
	in := domain.MintIntent{
		Key:       "test:" + uuid.NewString(),
		OrderID:   "o-1",
		Ticker:    "KX",
		Recipient: common.HexToAddress("0x0b"),
		Side:      domain.SideYes,
		Count:     3,
	}

	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin pending key = %v", err)
	}
	if err := l.Fail(ctx, in.Key, "rpc down"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	in.Count = 4
	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin after failure: %v", err)
	}

	tx := randomHash()
	if err := l.Submitted(ctx, in.Key, tx); err != nil {
		t.Fatalf("Submitted: %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin submitted key = %v", err)
	}
	rec, err := l.Get(ctx, in.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.MintStatusPending || rec.TxHash != tx || rec.Count != 4 || rec.Error != "" {
		t.Fatalf("record = %+v", rec)
	}

	if err := l.Fail(ctx, in.Key, "reverted"); err != nil {
		t.Fatalf("Fail after submit: %v", err)
	}
	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin after revert: %v", err)
	}
	if rec, _ = l.Get(ctx, in.Key); rec.TxHash != (common.Hash{}) {
		t.Fatalf("stale tx after re-Begin: %+v", rec)
	}
	if err := l.Submitted(ctx, in.Key, tx); err != nil {
		t.Fatalf("Submitted again: %v", err)
	}

	if err := l.Complete(ctx, in.Key, tx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := l.Submitted(ctx, in.Key, randomHash()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Submitted on confirmed key = %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin confirmed key = %v", err)
	}
}

func TestMintLedgerConsumePending(t *testing.T) {
	ctx := context.Background()
	l := NewMintLedger(openTestDB(t).Pool())
	orderID := "test:" + uuid.NewString()

	err := l.SavePending(ctx, domain.PendingOrder{
		OrderID:   orderID,
		Ticker:    "KX",
		Recipient: common.HexToAddress("0x0c"),
		Side:      domain.SideNo,
		Remaining: 5,
	})
	if err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	if err := l.ConsumePending(ctx, orderID, 2); err != nil {
		t.Fatalf("ConsumePending: %v", err)
	}
	o, err := l.GetPending(ctx, orderID)
	if err != nil || o.Remaining != 3 || o.Side != domain.SideNo {
		t.Fatalf("pending = %+v, %v", o, err)
	}

	if err := l.ConsumePending(ctx, orderID, 3); err != nil {
		t.Fatalf("ConsumePending rest: %v", err)
	}
	if _, err := l.GetPending(ctx, orderID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("drained order still pending: %v", err)
	}
	if err := l.ConsumePending(ctx, orderID, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ConsumePending on drained order = %v", err)
	}
}
