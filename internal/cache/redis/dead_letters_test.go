package redis

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

func TestDecodeDeadLetter(t *testing.T) {
	dl := domain.NewDeadLetter(domain.TransferEvent{
		TxHash:      common.HexToHash("0x01"),
		From:        common.HexToAddress("0xaa"),
		To:          common.HexToAddress("0xbb"),
		Amount:      big.NewInt(2_500_000),
		BlockNumber: 77,
	}, errors.New("reverted"))
	payload, err := json.Marshal(dl)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		values  map[string]any
		wantErr bool
	}{
		{name: "string payload", values: map[string]any{"payload": string(payload)}},
		{name: "bytes payload", values: map[string]any{"payload": payload}},
		{name: "missing payload", values: map[string]any{"tx_hash": dl.TxHash}, wantErr: true},
		{name: "garbage payload", values: map[string]any{"payload": "{"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDeadLetter(redis.XMessage{ID: "1700000000000-0", Values: tt.values})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ID != "1700000000000-0" || got.TxHash != dl.TxHash || got.Error != "reverted" {
				t.Fatalf("dead letter = %+v", got)
			}
			ev, ok := got.Transfer()
			if !ok || ev.Amount.Int64() != 2_500_000 || ev.BlockNumber != 77 {
				t.Fatalf("transfer = %+v ok=%v", ev, ok)
			}
		})
	}
}
