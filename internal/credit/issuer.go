// Package credit writes confirmed deposits into the on-chain balance ledger.
package credit

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bagrabridge/internal/chain"
)

// USDCDecimals is the number of decimals of the deposit token.
const USDCDecimals = 6

// Ledger is the balance ledger contract.
type Ledger interface {
	Send(ctx context.Context, method string, args ...any) (*types.Transaction, error)
	CallUint(ctx context.Context, method string, args ...any) (*big.Int, error)
}

// Waiter blocks until a transaction is mined.
type Waiter interface {
	Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Issuer credits deposits to the ledger contract owned by the bridge.
type Issuer struct {
	ledger Ledger
	waiter Waiter
	logger *slog.Logger
}

// NewIssuer creates an Issuer. ledger is normally a *chain.Contract bound to
// chain.LedgerABI and waiter a *chain.Confirmer.
func NewIssuer(ledger Ledger, waiter Waiter, logger *slog.Logger) *Issuer {
	return &Issuer{
		ledger: ledger,
		waiter: waiter,
		logger: logger.With(slog.String("component", "credit_issuer")),
	}
}

// CreditDeposit records amount (token base units) for recipient on the
// ledger and waits for one confirmation. A reverted transaction yields an
// error wrapping domain.ErrTxReverted.
func (i *Issuer) CreditDeposit(ctx context.Context, recipient common.Address, amount *big.Int) (*types.Receipt, error) {
	txHash, err := i.SubmitCredit(ctx, recipient, amount)
	if err != nil {
		return nil, err
	}
	return i.ConfirmCredit(ctx, txHash)
}

// SubmitCredit broadcasts creditDeposit(recipient, amount) and returns
// without waiting for it to be mined.
func (i *Issuer) SubmitCredit(ctx context.Context, recipient common.Address, amount *big.Int) (common.Hash, error) {
	human := decimal.NewFromBigInt(amount, -USDCDecimals)
	i.logger.Info("crediting deposit",
		slog.String("recipient", recipient.Hex()),
		slog.String("amount_usdc", human.String()),
	)

	tx, err := i.ledger.Send(ctx, "creditDeposit", recipient, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("credit: submit creditDeposit for %s: %w", recipient.Hex(), err)
	}
	i.logger.Info("creditDeposit sent", slog.String("tx", tx.Hash().Hex()))
	return tx.Hash(), nil
}

// ConfirmCredit waits for a creditDeposit transaction sent earlier, possibly
// by another process. It is safe to call again after a timeout.
func (i *Issuer) ConfirmCredit(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := i.waiter.Wait(ctx, txHash)
	if err != nil {
		return receipt, fmt.Errorf("credit: confirm %s: %w", txHash.Hex(), err)
	}

	i.logger.Info("creditDeposit confirmed",
		slog.String("tx", txHash.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return receipt, nil
}

// Balance is a user's position on the ledger, in token base units.
type Balance struct {
	Available *big.Int `json:"available"`
	Locked    *big.Int `json:"locked"`
	Total     *big.Int `json:"total"`
}

// Balance reads the ledger's view of user.
func (i *Issuer) Balance(ctx context.Context, user common.Address) (Balance, error) {
	avail, err := i.ledger.CallUint(ctx, "balances", user)
	if err != nil {
		return Balance{}, fmt.Errorf("credit: balance of %s: %w", user.Hex(), err)
	}
	locked, err := i.ledger.CallUint(ctx, "lockedBalances", user)
	if err != nil {
		return Balance{}, fmt.Errorf("credit: locked balance of %s: %w", user.Hex(), err)
	}
	total, err := i.ledger.CallUint(ctx, "getTotalBalance", user)
	if err != nil {
		return Balance{}, fmt.Errorf("credit: total balance of %s: %w", user.Hex(), err)
	}
	return Balance{Available: avail, Locked: locked, Total: total}, nil
}

var (
	_ Ledger = (*chain.Contract)(nil)
	_ Waiter = (*chain.Confirmer)(nil)
)
