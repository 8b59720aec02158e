package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

var (
	usdc    = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	deposit = common.HexToAddress("0xac266f88d6889e98209eba3cbc3ac42a425637d1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func transferLog(from, to common.Address, amount int64, block uint64, index uint) types.Log {
	return types.Log{
		Address:     usdc,
		Topics:      []common.Hash{TransferTopic, AddressTopic(from), AddressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block)*1000 + int64(index))),
		Index:       index,
	}
}

func TestDecodeTransfer(t *testing.T) {
	l := transferLog(alice, deposit, 5_000_000, 120, 3)

	ev, err := DecodeTransfer(l)
	if err != nil {
		t.Fatalf("DecodeTransfer: %v", err)
	}
	if ev.From != alice || ev.To != deposit {
		t.Errorf("from/to = %s/%s", ev.From.Hex(), ev.To.Hex())
	}
	if ev.Amount.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("amount = %s, want 5000000", ev.Amount)
	}
	if ev.BlockNumber != 120 || ev.LogIndex != 3 || ev.TxHash != l.TxHash {
		t.Errorf("position = %d/%d/%s", ev.BlockNumber, ev.LogIndex, ev.TxHash.Hex())
	}
}

func TestDecodeTransferRejectsOtherLogs(t *testing.T) {
	tests := []struct {
		name string
		log  types.Log
	}{
		{name: "no topics", log: types.Log{}},
		{name: "wrong signature", log: types.Log{Topics: []common.Hash{{0x01}, {}, {}}}},
		{name: "approval-like arity", log: types.Log{Topics: []common.Hash{TransferTopic, {}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTransfer(tt.log); !errors.Is(err, ErrNotTransfer) {
				t.Fatalf("err = %v, want ErrNotTransfer", err)
			}
		})
	}
}

func TestTransferQuery(t *testing.T) {
	q := TransferQuery(usdc, deposit, big.NewInt(10), nil)
	if len(q.Addresses) != 1 || q.Addresses[0] != usdc {
		t.Fatalf("addresses = %v", q.Addresses)
	}
	if q.Topics[0][0] != TransferTopic {
		t.Errorf("topic0 = %s", q.Topics[0][0].Hex())
	}
	if q.Topics[1] != nil {
		t.Errorf("sender topic should be a wildcard, got %v", q.Topics[1])
	}
	if common.BytesToAddress(q.Topics[2][0].Bytes()) != deposit {
		t.Errorf("recipient topic = %s", q.Topics[2][0].Hex())
	}
	if q.ToBlock != nil {
		t.Errorf("ToBlock = %v, want nil (latest)", q.ToBlock)
	}
}

func TestSortLogs(t *testing.T) {
	logs := []types.Log{
		transferLog(alice, deposit, 1, 12, 0),
		transferLog(alice, deposit, 1, 10, 5),
		transferLog(alice, deposit, 1, 10, 2),
		transferLog(alice, deposit, 1, 11, 9),
	}
	SortLogs(logs)

	want := [][2]uint64{{10, 2}, {10, 5}, {11, 9}, {12, 0}}
	for i, w := range want {
		if logs[i].BlockNumber != w[0] || uint64(logs[i].Index) != w[1] {
			t.Fatalf("logs[%d] = (%d,%d), want (%d,%d)", i, logs[i].BlockNumber, logs[i].Index, w[0], w[1])
		}
	}
}

func TestLookupNetwork(t *testing.T) {
	tests := []struct {
		name    string
		chainID int64
		symbol  string
	}{
		{"chiliz_spicy", 88882, "CHZ"},
		{"ZIRCUIT_GARFIELD", 48898, "ETH"},
		{"arbitrum", 42161, "ETH"},
	}
	for _, tt := range tests {
		n, err := LookupNetwork(tt.name)
		if err != nil {
			t.Fatalf("LookupNetwork(%q): %v", tt.name, err)
		}
		if n.ChainID != tt.chainID || n.NativeSymbol != tt.symbol {
			t.Errorf("%s = %+v", tt.name, n)
		}
	}

	if _, err := LookupNetwork("polygon"); !errors.Is(err, domain.ErrUnknownNetwork) {
		t.Fatalf("unknown network err = %v", err)
	}
}

func TestNetworkHelpers(t *testing.T) {
	n, _ := LookupNetwork("chiliz_spicy")
	if got := n.WithRPC("").RPCURL; got != "https://spicy-rpc.chiliz.com/" {
		t.Errorf("WithRPC(\"\") = %q", got)
	}
	if got := n.WithRPC("http://localhost:8545").RPCURL; got != "http://localhost:8545" {
		t.Errorf("WithRPC override = %q", got)
	}
	if got := n.TxURL("0xabc"); got != "https://testnet.chiliscan.com/tx/0xabc" {
		t.Errorf("TxURL = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Confirmer
// ---------------------------------------------------------------------------

type step struct {
	receipt *types.Receipt
	err     error
}

// scriptedReader replays steps in order and repeats the last one forever.
type scriptedReader struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (r *scriptedReader) TransactionReceipt(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	r.calls++
	return r.steps[i].receipt, r.steps[i].err
}

func fastConfig() ConfirmerConfig {
	return ConfirmerConfig{
		Timeout:      time.Second,
		Retries:      2,
		PollInterval: time.Millisecond,
		BackoffBase:  time.Millisecond,
		BackoffMax:   2 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfirmerWait(t *testing.T) {
	ok := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)}
	failed := &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)}
	transient := errors.New("connection reset")

	tests := []struct {
		name      string
		steps     []step
		cfg       func(*ConfirmerConfig)
		wantErr   error
		wantCalls int
	}{
		{
			name:      "mined after pending polls",
			steps:     []step{{err: ethereum.NotFound}, {err: ethereum.NotFound}, {receipt: ok}},
			wantCalls: 3,
		},
		{
			name:      "reverted",
			steps:     []step{{receipt: failed}},
			wantErr:   domain.ErrTxReverted,
			wantCalls: 1,
		},
		{
			name:      "transient errors within budget",
			steps:     []step{{err: transient}, {err: transient}, {receipt: ok}},
			wantCalls: 3,
		},
		{
			name:      "transient errors exhaust retries",
			steps:     []step{{err: transient}},
			wantErr:   transient,
			wantCalls: 3,
		},
		{
			name:    "never mined",
			steps:   []step{{err: ethereum.NotFound}},
			cfg:     func(c *ConfirmerConfig) { c.Timeout = 20 * time.Millisecond },
			wantErr: domain.ErrConfirmationTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			reader := &scriptedReader{steps: tt.steps}
			c := NewConfirmer(reader, cfg, discardLogger())

			receipt, err := c.Wait(context.Background(), common.HexToHash("0x01"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
					t.Fatalf("receipt = %+v", receipt)
				}
			}
			if tt.wantCalls > 0 && reader.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", reader.calls, tt.wantCalls)
			}
		})
	}
}

func TestConfirmerParentCancel(t *testing.T) {
	reader := &scriptedReader{steps: []step{{err: ethereum.NotFound}}}
	cfg := fastConfig()
	cfg.Timeout = time.Minute
	c := NewConfirmer(reader, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Wait(ctx, common.HexToHash("0x02"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Fatal("cancellation must not be reported as a timeout")
	}
}
