package mint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alanyoungcy/bagrabridge/internal/chain"
	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
)

type fakeToken struct {
	name    string
	mints   []*big.Int
	to      []common.Address
	balance int64
}

func (f *fakeToken) Send(_ context.Context, method string, args ...any) (*types.Transaction, error) {
	if method != "mint" {
		return nil, errors.New("unexpected method " + method)
	}
	f.to = append(f.to, args[0].(common.Address))
	f.mints = append(f.mints, args[1].(*big.Int))
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.mints))}), nil
}

func (f *fakeToken) CallUint(_ context.Context, method string, _ ...any) (*big.Int, error) {
	return big.NewInt(f.balance), nil
}

type fakeWaiter struct{ err error }

func (w fakeWaiter) Wait(_ context.Context, h common.Hash) (*types.Receipt, error) {
	status := types.ReceiptStatusSuccessful
	if w.err != nil {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{TxHash: h, Status: status}, w.err
}

var holder = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func newMinter(t *testing.T, waiter Waiter) (*Minter, *fakeToken, *fakeToken, *metrics.Metrics) {
	t.Helper()
	net, err := chain.LookupNetwork("chiliz_spicy")
	if err != nil {
		t.Fatal(err)
	}
	yes, no := &fakeToken{name: "yes", balance: 3}, &fakeToken{name: "no", balance: 4}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewMinter(net, yes, no, waiter, m, slog.New(slog.NewTextHandler(io.Discard, nil))), yes, no, m
}

func TestMintSharesSelectsTokenAndScales(t *testing.T) {
	tests := []struct {
		side  domain.Side
		count int64
	}{
		{domain.SideYes, 5},
		{domain.SideNo, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			mt, yes, no, m := newMinter(t, fakeWaiter{})
			if _, err := mt.MintShares(context.Background(), holder, tt.side, tt.count); err != nil {
				t.Fatalf("MintShares: %v", err)
			}
			hit, miss := yes, no
			if tt.side == domain.SideNo {
				hit, miss = no, yes
			}
			if len(miss.mints) != 0 || len(hit.mints) != 1 {
				t.Fatalf("yes=%d no=%d mints", len(yes.mints), len(no.mints))
			}
			want := new(big.Int).Mul(big.NewInt(tt.count), big.NewInt(1e18))
			if hit.mints[0].Cmp(want) != 0 || hit.to[0] != holder {
				t.Errorf("minted %s to %s, want %s", hit.mints[0], hit.to[0].Hex(), want)
			}
			if v := testutil.ToFloat64(m.SharesMinted.WithLabelValues(string(tt.side))); v != float64(tt.count) {
				t.Errorf("shares minted metric = %v", v)
			}
		})
	}
}

func TestMintSharesRejects(t *testing.T) {
	mt, yes, no, _ := newMinter(t, fakeWaiter{})
	if _, err := mt.MintShares(context.Background(), holder, "maybe", 1); !errors.Is(err, domain.ErrUnknownSide) {
		t.Errorf("unknown side err = %v", err)
	}
	if _, err := mt.MintShares(context.Background(), holder, domain.SideYes, 0); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("zero count err = %v", err)
	}
	if len(yes.mints)+len(no.mints) != 0 {
		t.Fatal("rejected mint reached the chain")
	}
}

func TestMintSharesReverted(t *testing.T) {
	mt, _, _, m := newMinter(t, fakeWaiter{err: domain.ErrTxReverted})
	receipt, err := mt.MintShares(context.Background(), holder, domain.SideYes, 2)
	if !errors.Is(err, domain.ErrTxReverted) {
		t.Fatalf("err = %v", err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusFailed {
		t.Fatalf("receipt = %+v", receipt)
	}
	if v := testutil.ToFloat64(m.MintsTotal.WithLabelValues("yes", "failed")); v != 1 {
		t.Errorf("failed mints = %v", v)
	}
}

func TestConfirmMintAfterTimeout(t *testing.T) {
	mt, yes, _, m := newMinter(t, fakeWaiter{err: domain.ErrConfirmationTimeout})
	txHash, err := mt.SubmitMint(context.Background(), holder, domain.SideYes, 3)
	if err != nil {
		t.Fatalf("SubmitMint: %v", err)
	}
	if _, err := mt.ConfirmMint(context.Background(), domain.SideYes, 3, txHash); !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Fatalf("first confirm = %v", err)
	}
	if v := testutil.ToFloat64(m.MintsTotal.WithLabelValues("yes", "timeout")); v != 1 {
		t.Errorf("timed out mints = %v", v)
	}

	mt.waiter = fakeWaiter{}
	if _, err := mt.ConfirmMint(context.Background(), domain.SideYes, 3, txHash); err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if len(yes.mints) != 1 {
		t.Fatalf("%d mints sent, want 1", len(yes.mints))
	}
	if v := testutil.ToFloat64(m.SharesMinted.WithLabelValues("yes")); v != 3 {
		t.Errorf("shares minted metric = %v", v)
	}
}

func TestGetBalances(t *testing.T) {
	mt, _, _, _ := newMinter(t, fakeWaiter{})
	b, err := mt.GetBalances(context.Background(), holder)
	if err != nil {
		t.Fatal(err)
	}
	if b.Yes.Int64() != 3 || b.No.Int64() != 4 {
		t.Fatalf("balances = %+v", b)
	}
}
