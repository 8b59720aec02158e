package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bagrabridge/internal/chain"
	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
)

// ShareMinter mints outcome shares on the secondary network. A mint is
// broadcast and confirmed in separate calls so the transaction can be
// recorded before waiting on it.
type ShareMinter interface {
	SubmitMint(ctx context.Context, recipient common.Address, side domain.Side, count int64) (common.Hash, error)
	ConfirmMint(ctx context.Context, side domain.Side, count int64, txHash common.Hash) (*types.Receipt, error)
	Network() chain.Network
}

// Alerter pushes operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MintArchiver stores a copy of each confirmed mint.
type MintArchiver interface {
	ArchiveMint(ctx context.Context, rec domain.MintRecord) error
}

// MintOutcome is the mint status reported next to an order.
type MintOutcome struct {
	Status       domain.MintStatus `json:"status"`
	Key          string            `json:"key,omitempty"`
	Count        int64             `json:"count"`
	TxHash       string            `json:"txHash,omitempty"`
	Explorer     string            `json:"explorer,omitempty"`
	Error        string            `json:"error,omitempty"`
	PendingCount int64             `json:"pendingCount,omitempty"`
}

// ShareBridge mints share tokens for filled buy orders, at most once per
// idempotency key, and mints later fills of resting orders as they arrive
// on the venue fill stream.
type ShareBridge struct {
	minter  ShareMinter
	ledger  domain.MintLedger
	audit   domain.AuditStore
	alerts  Alerter
	archive MintArchiver
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewShareBridge creates a ShareBridge. audit, alerts and archive may be nil.
func NewShareBridge(
	minter ShareMinter,
	ledger domain.MintLedger,
	audit domain.AuditStore,
	alerts Alerter,
	archive MintArchiver,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ShareBridge {
	return &ShareBridge{
		minter:  minter,
		ledger:  ledger,
		audit:   audit,
		alerts:  alerts,
		archive: archive,
		metrics: m,
		logger:  logger.With(slog.String("component", "share_bridge")),
	}
}

// Mint reserves intent.Key in the mint ledger, mints, and records the
// result. A key that is already pending or confirmed is not minted again;
// the outcome then reflects the existing record, and a pending key whose
// transaction is known is waited on once more.
func (b *ShareBridge) Mint(ctx context.Context, intent domain.MintIntent) MintOutcome {
	out, _ := b.mint(ctx, intent)
	return out
}

// mint reports whether this call confirmed the key.
func (b *ShareBridge) mint(ctx context.Context, intent domain.MintIntent) (MintOutcome, bool) {
	out := MintOutcome{Key: intent.Key, Count: intent.Count}
	log := b.logger.With(
		slog.String("key", intent.Key),
		slog.String("order_id", intent.OrderID),
		slog.String("side", string(intent.Side)),
		slog.Int64("count", intent.Count),
	)

	if err := b.ledger.Begin(ctx, intent); err != nil {
		if !errors.Is(err, domain.ErrAlreadyProcessed) {
			log.Error("mint ledger unavailable", slog.String("error", err.Error()))
			out.Status = domain.MintStatusFailed
			out.Error = err.Error()
			return out, false
		}
		rec, gerr := b.ledger.Get(ctx, intent.Key)
		if gerr != nil {
			out.Status = domain.MintStatusPending
			return out, false
		}
		if rec.Status == domain.MintStatusPending && rec.TxHash != (common.Hash{}) {
			log.Info("waiting on mint sent earlier", slog.String("tx", rec.TxHash.Hex()))
			intent.Count = rec.Count
			return b.confirm(ctx, log, intent, rec.TxHash)
		}
		out.Status = rec.Status
		out.TxHash = hashOrEmpty(rec.TxHash)
		out.Explorer = b.minter.Network().TxURL(out.TxHash)
		log.Info("mint already recorded", slog.String("status", string(out.Status)))
		return out, false
	}

	txHash, err := b.minter.SubmitMint(ctx, intent.Recipient, intent.Side, intent.Count)
	if err != nil {
		return b.failed(ctx, log, intent, out, err), false
	}
	if err := b.ledger.Submitted(ctx, intent.Key, txHash); err != nil {
		log.Error("record mint transaction", slog.String("tx", txHash.Hex()), slog.String("error", err.Error()))
	}
	return b.confirm(ctx, log, intent, txHash)
}

// confirm waits for txHash. Only a revert releases the key; after a timeout
// or an RPC failure the mint may still land, so the key stays pending.
func (b *ShareBridge) confirm(ctx context.Context, log *slog.Logger, intent domain.MintIntent, txHash common.Hash) (MintOutcome, bool) {
	out := MintOutcome{
		Key:      intent.Key,
		Count:    intent.Count,
		TxHash:   txHash.Hex(),
		Explorer: b.minter.Network().TxURL(txHash.Hex()),
	}

	if _, err := b.minter.ConfirmMint(ctx, intent.Side, intent.Count, txHash); err != nil {
		if errors.Is(err, domain.ErrTxReverted) {
			return b.failed(ctx, log, intent, out, err), false
		}
		log.Warn("mint not confirmed yet", slog.String("tx", out.TxHash), slog.String("error", err.Error()))
		out.Status = domain.MintStatusPending
		out.Error = err.Error()
		b.alert(ctx, "mint_unconfirmed", "Share mint unconfirmed",
			fmt.Sprintf("order %s: mint of %d %s shares to %s sent in %s but not confirmed: %v",
				intent.OrderID, intent.Count, intent.Side, intent.Recipient.Hex(), out.TxHash, err))
		return out, false
	}

	out.Status = domain.MintStatusConfirmed
	if err := b.ledger.Complete(ctx, intent.Key, txHash); err != nil {
		log.Error("record mint confirmation", slog.String("error", err.Error()))
	}
	b.record(ctx, "mint_confirmed", intent, out)
	b.alert(ctx, "mint_confirmed", "Shares minted",
		fmt.Sprintf("%d %s shares for order %s minted to %s: %s",
			intent.Count, intent.Side, intent.OrderID, intent.Recipient.Hex(), out.TxHash))

	if b.archive != nil {
		rec := domain.MintRecord{
			Key:       intent.Key,
			OrderID:   intent.OrderID,
			Ticker:    intent.Ticker,
			Recipient: intent.Recipient,
			Side:      intent.Side,
			Count:     intent.Count,
			TxHash:    txHash,
			Status:    domain.MintStatusConfirmed,
			UpdatedAt: time.Now().UTC(),
		}
		if err := b.archive.ArchiveMint(ctx, rec); err != nil {
			log.Warn("archive mint receipt failed", slog.String("error", err.Error()))
		}
	}
	return out, true
}

// failed releases the key for a mint that is known not to have happened.
func (b *ShareBridge) failed(ctx context.Context, log *slog.Logger, intent domain.MintIntent, out MintOutcome, cause error) MintOutcome {
	out.Status = domain.MintStatusFailed
	out.Error = cause.Error()
	if err := b.ledger.Fail(ctx, intent.Key, cause.Error()); err != nil {
		log.Error("record mint failure", slog.String("error", err.Error()))
	}
	b.record(ctx, "mint_failed", intent, out)
	b.alert(ctx, "mint_failed", "Share mint failed",
		fmt.Sprintf("order %s: %d %s shares to %s not minted: %v",
			intent.OrderID, intent.Count, intent.Side, intent.Recipient.Hex(), cause))
	return out
}

// HandleFill mints a maker fill of a resting order registered by
// OrderService. Taker fills belong to the match made when the order was
// placed, which CreateOrder already minted. Fills of unknown orders, sells,
// and fills beyond the order's remaining quantity are ignored.
func (b *ShareBridge) HandleFill(ctx context.Context, f kalshi.Fill) {
	b.metrics.FillsSeen.Inc()
	log := b.logger.With(
		slog.String("trade_id", f.TradeID),
		slog.String("order_id", f.OrderID),
		slog.Int64("count", f.Count),
	)

	if f.Action != "" && f.Action != "buy" {
		return
	}
	if f.IsTaker {
		log.Debug("taker fill is minted with its order")
		return
	}
	pending, err := b.ledger.GetPending(ctx, f.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("fill for an order without pending mints")
		return
	}
	if err != nil {
		log.Error("pending order lookup failed", slog.String("error", err.Error()))
		return
	}

	count := min(f.Count, pending.Remaining)
	if count <= 0 {
		return
	}
	key := f.TradeID
	if key == "" {
		key = fmt.Sprintf("fill:%s:%d", f.OrderID, pending.Remaining)
	}

	out, confirmed := b.mint(ctx, domain.MintIntent{
		Key:       key,
		OrderID:   f.OrderID,
		Ticker:    pending.Ticker,
		Recipient: pending.Recipient,
		Side:      pending.Side,
		Count:     count,
	})
	if !confirmed {
		return
	}
	if err := b.ledger.ConsumePending(ctx, f.OrderID, out.Count); err != nil {
		log.Error("consume pending order", slog.String("error", err.Error()))
	}
}

func (b *ShareBridge) record(ctx context.Context, event string, in domain.MintIntent, out MintOutcome) {
	if b.audit == nil {
		return
	}
	detail := map[string]any{
		"key":       in.Key,
		"order_id":  in.OrderID,
		"ticker":    in.Ticker,
		"recipient": in.Recipient.Hex(),
		"side":      string(in.Side),
		"count":     in.Count,
		"tx_hash":   out.TxHash,
	}
	if out.Error != "" {
		detail["error"] = out.Error
	}
	if err := b.audit.Log(ctx, event, detail); err != nil {
		b.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (b *ShareBridge) alert(ctx context.Context, event, title, msg string) {
	if b.alerts == nil {
		return
	}
	if err := b.alerts.Notify(ctx, event, title, msg); err != nil {
		b.logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
