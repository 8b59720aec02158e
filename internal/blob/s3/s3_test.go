package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

func TestArchiveCredit(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, w)
	rec := domain.CreditRecord{
		DepositTxHash: common.HexToHash("0x01"),
		Depositor:     common.HexToAddress("0xaa"),
		Amount:        big.NewInt(1_000_000),
		BlockNumber:   9,
		CreditTxHash:  common.HexToHash("0x02"),
		Status:        domain.CreditStatusConfirmed,
		UpdatedAt:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := a.ArchiveCredit(context.Background(), rec); err != nil {
		t.Fatalf("ArchiveCredit: %v", err)
	}

	path := CreditReceiptPath(rec.DepositTxHash.Hex())
	raw, ok := w.objects[path]
	if !ok {
		t.Fatalf("no object at %s (have %v)", path, w.objects)
	}
	if w.types[path] != "application/json" {
		t.Errorf("content type = %q", w.types[path])
	}
	var got creditReceipt
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Amount != "1000000" || got.CreditTxHash != rec.CreditTxHash.Hex() || got.Status != "confirmed" || !got.ConfirmedAt.Equal(rec.UpdatedAt) {
		t.Errorf("receipt = %+v", got)
	}
}

func TestArchiveMintIsWriteOnce(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, w)
	rec := domain.MintRecord{
		Key: "order:o-1:2", OrderID: "o-1", Ticker: "KX", Side: domain.SideNo, Count: 2,
		TxHash: common.HexToHash("0x03"), Status: domain.MintStatusConfirmed,
	}
	ctx := context.Background()
	if err := a.ArchiveMint(ctx, rec); err != nil {
		t.Fatalf("ArchiveMint: %v", err)
	}
	first := string(w.objects[MintReceiptPath(rec.Key)])

	rec.Count = 99
	if err := a.ArchiveMint(ctx, rec); err != nil {
		t.Fatalf("ArchiveMint again: %v", err)
	}
	if string(w.objects[MintReceiptPath(rec.Key)]) != first {
		t.Fatal("existing receipt was overwritten")
	}
	if MintReceiptPath(rec.Key) != "receipts/mints/order:o-1:2.json" {
		t.Errorf("path = %s", MintReceiptPath(rec.Key))
	}
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("http %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"not found", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"bare 404", statusErr(404), true},
		{"403", statusErr(403), false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
