package credit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

type call struct {
	method string
	args   []any
}

type fakeLedger struct {
	sent    []call
	sendErr error
	views   map[string]int64
}

func (f *fakeLedger) Send(_ context.Context, method string, args ...any) (*types.Transaction, error) {
	f.sent = append(f.sent, call{method, args})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.sent))}), nil
}

func (f *fakeLedger) CallUint(_ context.Context, method string, _ ...any) (*big.Int, error) {
	v, ok := f.views[method]
	if !ok {
		return nil, errors.New("no such view")
	}
	return big.NewInt(v), nil
}

type fakeWaiter struct {
	status uint64
	err    error
}

func (w fakeWaiter) Wait(_ context.Context, h common.Hash) (*types.Receipt, error) {
	r := &types.Receipt{TxHash: h, Status: w.status, BlockNumber: big.NewInt(9)}
	return r, w.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var user = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func TestCreditDeposit(t *testing.T) {
	tests := []struct {
		name    string
		ledger  *fakeLedger
		waiter  fakeWaiter
		wantErr error
	}{
		{name: "confirmed", ledger: &fakeLedger{}, waiter: fakeWaiter{status: types.ReceiptStatusSuccessful}},
		{name: "submit fails", ledger: &fakeLedger{sendErr: errors.New("nonce too low")}, wantErr: errors.New("")},
		{name: "reverted", ledger: &fakeLedger{}, waiter: fakeWaiter{err: domain.ErrTxReverted}, wantErr: domain.ErrTxReverted},
		{name: "timeout", ledger: &fakeLedger{}, waiter: fakeWaiter{err: domain.ErrConfirmationTimeout}, wantErr: domain.ErrConfirmationTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss := NewIssuer(tt.ledger, tt.waiter, quiet())
			receipt, err := iss.CreditDeposit(context.Background(), user, big.NewInt(2_500_000))

			if len(tt.ledger.sent) != 1 {
				t.Fatalf("sent %d txs", len(tt.ledger.sent))
			}
			c := tt.ledger.sent[0]
			if c.method != "creditDeposit" || c.args[0] != user || c.args[1].(*big.Int).Int64() != 2_500_000 {
				t.Errorf("call = %+v", c)
			}

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("CreditDeposit: %v", err)
				}
				if receipt.BlockNumber.Int64() != 9 {
					t.Errorf("receipt = %+v", receipt)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr.Error() != "" && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBalance(t *testing.T) {
	ledger := &fakeLedger{views: map[string]int64{"balances": 7, "lockedBalances": 3, "getTotalBalance": 10}}
	b, err := NewIssuer(ledger, fakeWaiter{}, quiet()).Balance(context.Background(), user)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Available.Int64() != 7 || b.Locked.Int64() != 3 || b.Total.Int64() != 10 {
		t.Fatalf("balance = %+v", b)
	}

	delete(ledger.views, "lockedBalances")
	if _, err := NewIssuer(ledger, fakeWaiter{}, quiet()).Balance(context.Background(), user); err == nil {
		t.Fatal("expected error for failing view")
	}
}

func TestConfirmCreditDoesNotResend(t *testing.T) {
	ledger := &fakeLedger{}
	iss := NewIssuer(ledger, fakeWaiter{err: domain.ErrConfirmationTimeout}, quiet())

	txHash, err := iss.SubmitCredit(context.Background(), user, big.NewInt(1))
	if err != nil {
		t.Fatalf("SubmitCredit: %v", err)
	}
	if _, err := iss.ConfirmCredit(context.Background(), txHash); !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Fatalf("first confirm = %v", err)
	}

	iss = NewIssuer(ledger, fakeWaiter{status: types.ReceiptStatusSuccessful}, quiet())
	receipt, err := iss.ConfirmCredit(context.Background(), txHash)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if receipt.TxHash != txHash {
		t.Errorf("receipt for %s, want %s", receipt.TxHash.Hex(), txHash.Hex())
	}
	if len(ledger.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(ledger.sent))
	}
}
