package sqlite

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreditStore(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).Credits()
	hash := common.HexToHash("0xabc")

	if ok, err := s.IsProcessed(ctx, hash); err != nil || ok {
		t.Fatalf("IsProcessed before mark = %v, %v", ok, err)
	}
	if _, err := s.Get(ctx, hash); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing = %v", err)
	}

	amount, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	rec := domain.CreditRecord{
		DepositTxHash: hash,
		Depositor:     common.HexToAddress("0x01"),
		Amount:        amount,
		BlockNumber:   42,
		CreditTxHash:  common.HexToHash("0xdef"),
		Status:        domain.CreditStatusConfirmed,
	}
	if err := s.MarkProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	// A second mark updates in place.
	if err := s.MarkProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkProcessed again: %v", err)
	}

	if ok, _ := s.IsProcessed(ctx, hash); !ok {
		t.Fatal("IsProcessed after mark = false")
	}
	got, err := s.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount.Cmp(amount) != 0 || got.BlockNumber != 42 || got.Depositor != rec.Depositor || got.Status != domain.CreditStatusConfirmed {
		t.Fatalf("Get = %+v", got)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("Count = %d", n)
	}
}

func TestCreditStoreSubmitted(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).Credits()
	rec := domain.CreditRecord{
		DepositTxHash: common.HexToHash("0x5b"),
		Depositor:     common.HexToAddress("0x02"),
		Amount:        big.NewInt(9),
		BlockNumber:   7,
		CreditTxHash:  common.HexToHash("0xc1"),
	}

	if err := s.MarkSubmitted(ctx, rec); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	if ok, _ := s.IsProcessed(ctx, rec.DepositTxHash); ok {
		t.Fatal("submitted credit reported processed")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("Count = %d", n)
	}
	got, _ := s.Get(ctx, rec.DepositTxHash)
	if got.Status != domain.CreditStatusSubmitted || got.CreditTxHash != rec.CreditTxHash {
		t.Fatalf("Get = %+v", got)
	}

	if err := s.MarkProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	late := rec
	late.CreditTxHash = common.HexToHash("0xc2")
	if err := s.MarkSubmitted(ctx, late); err != nil {
		t.Fatalf("MarkSubmitted after confirm: %v", err)
	}
	got, _ = s.Get(ctx, rec.DepositTxHash)
	if got.Status != domain.CreditStatusConfirmed || got.CreditTxHash != rec.CreditTxHash {
		t.Fatalf("confirmed row overwritten: %+v", got)
	}
}

func TestMintLedgerSubmitted(t *testing.T) {
	ctx := context.Background()
	l := openTest(t).Mints()
	in := domain.MintIntent{Key: "t-9", OrderID: "o-9", Ticker: "KX", Side: domain.SideNo, Count: 1}

	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tx := common.HexToHash("0x99")
	if err := l.Submitted(ctx, in.Key, tx); err != nil {
		t.Fatalf("Submitted: %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin submitted key = %v", err)
	}
	rec, _ := l.Get(ctx, in.Key)
	if rec.Status != domain.MintStatusPending || rec.TxHash != tx {
		t.Fatalf("record = %+v", rec)
	}

	// A reverted mint releases the key without its old transaction.
	if err := l.Fail(ctx, in.Key, "reverted"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin after revert: %v", err)
	}
	if rec, _ = l.Get(ctx, in.Key); rec.TxHash != (common.Hash{}) {
		t.Fatalf("stale tx after re-Begin: %+v", rec)
	}

	_ = l.Complete(ctx, in.Key, tx)
	if err := l.Submitted(ctx, in.Key, common.HexToHash("0x98")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Submitted on confirmed key = %v", err)
	}
}

func TestMintLedger(t *testing.T) {
	ctx := context.Background()
	l := openTest(t).Mints()
	in := domain.MintIntent{
		Key: "order:o-1:3", OrderID: "o-1", Ticker: "KX",
		Recipient: common.HexToAddress("0x0a"), Side: domain.SideYes, Count: 3,
	}

	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin pending key = %v", err)
	}
	if err := l.Fail(ctx, in.Key, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin after failure: %v", err)
	}
	tx := common.HexToHash("0x77")
	if err := l.Complete(ctx, in.Key, tx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin confirmed key = %v", err)
	}

	rec, err := l.Get(ctx, in.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.MintStatusConfirmed || rec.TxHash != tx || rec.Error != "" || rec.Side != domain.SideYes || rec.Count != 3 {
		t.Fatalf("record = %+v", rec)
	}
	if err := l.Complete(ctx, "nope", tx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Complete unknown = %v", err)
	}
}

func TestPendingOrders(t *testing.T) {
	ctx := context.Background()
	l := openTest(t).Mints()

	o := domain.PendingOrder{OrderID: "o-2", Ticker: "KX", Recipient: common.HexToAddress("0x0b"), Side: domain.SideNo, Remaining: 5}
	if err := l.SavePending(ctx, o); err != nil {
		t.Fatalf("SavePending: %v", err)
	}
	if err := l.ConsumePending(ctx, "o-2", 2); err != nil {
		t.Fatalf("ConsumePending: %v", err)
	}
	got, err := l.GetPending(ctx, "o-2")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if got.Remaining != 3 || got.Side != domain.SideNo || got.Recipient != o.Recipient {
		t.Fatalf("pending = %+v", got)
	}
	if err := l.ConsumePending(ctx, "o-2", 3); err != nil {
		t.Fatalf("ConsumePending rest: %v", err)
	}
	if _, err := l.GetPending(ctx, "o-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetPending after exhaustion = %v", err)
	}
	if err := l.ConsumePending(ctx, "o-2", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ConsumePending unknown = %v", err)
	}
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	a := openTest(t).Audit()

	for _, ev := range []string{"order_created", "mint_confirmed", "order_canceled"} {
		if err := a.Log(ctx, ev, map[string]any{"order_id": "o-1"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	all, err := a.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Event != "order_canceled" || all[2].Event != "order_created" {
		t.Fatalf("entries = %+v", all)
	}
	if all[0].Detail["order_id"] != "o-1" {
		t.Fatalf("detail = %v", all[0].Detail)
	}

	page, _ := a.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Event != "mint_confirmed" {
		t.Fatalf("page = %+v", page)
	}

	future := time.Now().Add(time.Hour)
	none, _ := a.List(ctx, domain.ListOpts{Since: &future})
	if len(none) != 0 {
		t.Fatalf("since filter = %+v", none)
	}
}
