package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bagrabridge/internal/credit"
	"github.com/alanyoungcy/bagrabridge/internal/mint"
)

// ShareReader reads share token balances on the secondary network.
type ShareReader interface {
	GetBalances(ctx context.Context, holder common.Address) (mint.Balances, error)
}

// LedgerReader reads a user's credited balance on the primary chain.
type LedgerReader interface {
	Balance(ctx context.Context, user common.Address) (credit.Balance, error)
}

// AccountHandler serves on-chain balances for a wallet address. Either
// reader may be nil, in which case its route answers 503.
type AccountHandler struct {
	shares ShareReader
	ledger LedgerReader
	logger *slog.Logger
}

func NewAccountHandler(shares ShareReader, ledger LedgerReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		shares: shares,
		ledger: ledger,
		logger: logger.With(slog.String("handler", "account")),
	}
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Shares returns YES and NO share balances in token base units.
// GET /api/shares/{address}
func (h *AccountHandler) Shares(w http.ResponseWriter, r *http.Request) {
	if h.shares == nil {
		writeError(w, http.StatusServiceUnavailable, "share minting is not enabled")
		return
	}
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	b, err := h.shares.GetBalances(r.Context(), addr)
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch share balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"yes":     b.Yes.String(),
		"no":      b.No.String(),
	})
}

// Vault returns the ledger's view of the address in USDC base units.
// GET /api/vault/{address}
func (h *AccountHandler) Vault(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger is not configured")
		return
	}
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	b, err := h.ledger.Balance(r.Context(), addr)
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch vault balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr.Hex(),
		"available": b.Available.String(),
		"locked":    b.Locked.String(),
		"total":     b.Total.String(),
	})
}
