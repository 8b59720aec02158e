package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// ExistsChecker reports whether an object is already stored.
type ExistsChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver writes one JSON receipt per confirmed credit and mint:
//
//	receipts/credits/<deposit tx hash>.json
//	receipts/mints/<idempotency key>.json
//
// Receipts are write-once; an existing object is left untouched.
type Archiver struct {
	writer domain.BlobWriter
	exists ExistsChecker // optional
}

// NewArchiver creates an Archiver. exists may be nil, in which case receipts
// are always written.
func NewArchiver(writer domain.BlobWriter, exists ExistsChecker) *Archiver {
	return &Archiver{writer: writer, exists: exists}
}

type creditReceipt struct {
	DepositTxHash string    `json:"deposit_tx_hash"`
	Depositor     string    `json:"depositor"`
	Amount        string    `json:"amount"`
	BlockNumber   uint64    `json:"block_number"`
	CreditTxHash  string    `json:"credit_tx_hash"`
	Status        string    `json:"status"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

type mintReceipt struct {
	Key         string    `json:"key"`
	OrderID     string    `json:"order_id"`
	Ticker      string    `json:"ticker"`
	Recipient   string    `json:"recipient"`
	Side        string    `json:"side"`
	Count       int64     `json:"count"`
	TxHash      string    `json:"tx_hash"`
	Status      string    `json:"status"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// ArchiveCredit stores the receipt for a confirmed deposit credit.
func (a *Archiver) ArchiveCredit(ctx context.Context, rec domain.CreditRecord) error {
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	return a.put(ctx, CreditReceiptPath(rec.DepositTxHash.Hex()), creditReceipt{
		DepositTxHash: rec.DepositTxHash.Hex(),
		Depositor:     rec.Depositor.Hex(),
		Amount:        amount,
		BlockNumber:   rec.BlockNumber,
		CreditTxHash:  rec.CreditTxHash.Hex(),
		Status:        string(rec.Status),
		ConfirmedAt:   stamp(rec.UpdatedAt),
	})
}

// ArchiveMint stores the receipt for a confirmed share mint.
func (a *Archiver) ArchiveMint(ctx context.Context, rec domain.MintRecord) error {
	return a.put(ctx, MintReceiptPath(rec.Key), mintReceipt{
		Key:         rec.Key,
		OrderID:     rec.OrderID,
		Ticker:      rec.Ticker,
		Recipient:   rec.Recipient.Hex(),
		Side:        string(rec.Side),
		Count:       rec.Count,
		TxHash:      rec.TxHash.Hex(),
		Status:      string(rec.Status),
		ConfirmedAt: stamp(rec.UpdatedAt),
	})
}

func (a *Archiver) put(ctx context.Context, path string, v any) error {
	if a.exists != nil {
		ok, err := a.exists.Exists(ctx, path)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
}

// CreditReceiptPath is the object key of a credit receipt.
func CreditReceiptPath(depositTxHash string) string {
	return "receipts/credits/" + depositTxHash + ".json"
}

// MintReceiptPath is the object key of a mint receipt. Idempotency keys
// contain colons, which S3 accepts in keys.
func MintReceiptPath(key string) string {
	return "receipts/mints/" + key + ".json"
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
