package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

func TestProcessedStore(t *testing.T) {
	ctx := context.Background()
	s := NewProcessedStore()
	h := common.HexToHash("0x01")

	if ok, _ := s.IsProcessed(ctx, h); ok {
		t.Fatal("empty store reports processed")
	}
	amt := big.NewInt(5)
	if err := s.MarkProcessed(ctx, domain.CreditRecord{DepositTxHash: h, Amount: amt}); err != nil {
		t.Fatal(err)
	}
	amt.SetInt64(99)

	if ok, _ := s.IsProcessed(ctx, h); !ok {
		t.Fatal("marked hash not processed")
	}
	rec, err := s.Get(ctx, h)
	if err != nil || rec.Amount.Int64() != 5 {
		t.Fatalf("Get = %+v, %v", rec, err)
	}
	if _, err := s.Get(ctx, common.HexToHash("0x02")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing Get err = %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("Count = %d", n)
	}
}

func TestProcessedStoreSubmitted(t *testing.T) {
	ctx := context.Background()
	s := NewProcessedStore()
	h := common.HexToHash("0x03")
	sub := domain.CreditRecord{DepositTxHash: h, Amount: big.NewInt(1), CreditTxHash: common.HexToHash("0xc1")}

	if err := s.MarkSubmitted(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsProcessed(ctx, h); ok {
		t.Fatal("submitted credit reported processed")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("Count = %d, submitted credits are not counted", n)
	}
	rec, _ := s.Get(ctx, h)
	if rec.Status != domain.CreditStatusSubmitted || rec.CreditTxHash != sub.CreditTxHash {
		t.Fatalf("rec = %+v", rec)
	}

	if err := s.MarkProcessed(ctx, sub); err != nil {
		t.Fatal(err)
	}
	sub.CreditTxHash = common.HexToHash("0xc2")
	if err := s.MarkSubmitted(ctx, sub); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.Get(ctx, h)
	if rec.Status != domain.CreditStatusConfirmed || rec.CreditTxHash != common.HexToHash("0xc1") {
		t.Fatalf("confirmed record overwritten: %+v", rec)
	}
}

func TestMintLedgerSubmittedKeepsKey(t *testing.T) {
	ctx := context.Background()
	l := NewMintLedger()
	in := domain.MintIntent{Key: "t-1", OrderID: "o-1", Side: domain.SideNo, Count: 2}

	_ = l.Begin(ctx, in)
	if err := l.Submitted(ctx, in.Key, common.HexToHash("0xbb")); err != nil {
		t.Fatal(err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("Begin on a submitted key = %v", err)
	}
	rec, _ := l.Get(ctx, in.Key)
	if rec.Status != domain.MintStatusPending || rec.TxHash != common.HexToHash("0xbb") {
		t.Fatalf("rec = %+v", rec)
	}
	if err := l.Submitted(ctx, "missing", common.Hash{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Submitted unknown key = %v", err)
	}
}

func TestMintLedgerBegin(t *testing.T) {
	ctx := context.Background()
	l := NewMintLedger()
	in := domain.MintIntent{Key: "order:o-1:5", OrderID: "o-1", Side: domain.SideYes, Count: 5}

	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("pending Begin err = %v", err)
	}
	if err := l.Fail(ctx, in.Key, "rpc down"); err != nil {
		t.Fatal(err)
	}
	if err := l.Begin(ctx, in); err != nil {
		t.Fatalf("Begin after failure: %v", err)
	}
	if err := l.Complete(ctx, in.Key, common.HexToHash("0xaa")); err != nil {
		t.Fatal(err)
	}
	if err := l.Begin(ctx, in); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("confirmed Begin err = %v", err)
	}
	rec, _ := l.Get(ctx, in.Key)
	if rec.Status != domain.MintStatusConfirmed || rec.Error != "" {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestMintLedgerPending(t *testing.T) {
	ctx := context.Background()
	l := NewMintLedger()
	_ = l.SavePending(ctx, domain.PendingOrder{OrderID: "o-2", Remaining: 10})

	if err := l.ConsumePending(ctx, "o-2", 4); err != nil {
		t.Fatal(err)
	}
	o, err := l.GetPending(ctx, "o-2")
	if err != nil || o.Remaining != 6 {
		t.Fatalf("pending = %+v, %v", o, err)
	}
	_ = l.ConsumePending(ctx, "o-2", 6)
	if _, err := l.GetPending(ctx, "o-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("drained order still pending: %v", err)
	}
}

func TestDeadLetterQueue(t *testing.T) {
	ctx := context.Background()
	q := NewDeadLetterQueue()
	_ = q.Push(ctx, domain.DeadLetter{TxHash: "0x1"})
	_ = q.Push(ctx, domain.DeadLetter{TxHash: "0x2"})

	got, _ := q.List(ctx, 1)
	if len(got) != 1 || got[0].TxHash != "0x1" || got[0].ID == "" {
		t.Fatalf("List(1) = %+v", got)
	}
	if err := q.Ack(ctx, got[0].ID); err != nil {
		t.Fatal(err)
	}
	rest, _ := q.List(ctx, 0)
	if len(rest) != 1 || rest[0].TxHash != "0x2" {
		t.Fatalf("after ack = %+v", rest)
	}
	if err := q.Ack(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Ack unknown err = %v", err)
	}
}

func TestAuditStoreList(t *testing.T) {
	ctx := context.Background()
	a := NewAuditStore()
	for _, ev := range []string{"a", "b", "c"} {
		_ = a.Log(ctx, ev, nil)
	}
	got, _ := a.List(ctx, domain.ListOpts{Limit: 2})
	if len(got) != 2 || got[0].Event != "c" || got[1].Event != "b" {
		t.Fatalf("List = %+v", got)
	}
	got, _ = a.List(ctx, domain.ListOpts{Offset: 2})
	if len(got) != 1 || got[0].Event != "a" {
		t.Fatalf("offset List = %+v", got)
	}
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	l := NewLocks()
	unlock, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v", err)
	}
	unlock()
	if _, err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
}
