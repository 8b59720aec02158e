// Package mint mirrors filled venue contracts as YES/NO share tokens on the
// secondary network.
package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bagrabridge/internal/chain"
	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
)

// ShareDecimals is the decimals of both share tokens; one contract is one
// whole token.
const ShareDecimals = 18

var oneShare = new(big.Int).Exp(big.NewInt(10), big.NewInt(ShareDecimals), nil)

// Token is a deployed share token.
type Token interface {
	Send(ctx context.Context, method string, args ...any) (*types.Transaction, error)
	CallUint(ctx context.Context, method string, args ...any) (*big.Int, error)
}

// Waiter blocks until a transaction is mined.
type Waiter interface {
	Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Minter issues share tokens on one network.
type Minter struct {
	network chain.Network
	yes     Token
	no      Token
	waiter  Waiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMinter creates a Minter for network with the given YES and NO tokens.
func NewMinter(network chain.Network, yes, no Token, waiter Waiter, m *metrics.Metrics, logger *slog.Logger) *Minter {
	return &Minter{
		network: network,
		yes:     yes,
		no:      no,
		waiter:  waiter,
		metrics: m,
		logger: logger.With(
			slog.String("component", "share_minter"),
			slog.String("network", network.Name),
		),
	}
}

// Network returns the profile shares are minted on.
func (m *Minter) Network() chain.Network { return m.network }

// ShareAmount converts a contract count to token base units.
func ShareAmount(count int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(count), oneShare)
}

func (m *Minter) token(side domain.Side) (Token, error) {
	switch side {
	case domain.SideYes:
		return m.yes, nil
	case domain.SideNo:
		return m.no, nil
	default:
		return nil, fmt.Errorf("mint: %w: %q", domain.ErrUnknownSide, side)
	}
}

// MintShares mints count whole shares of side to recipient and waits for the
// receipt. A reverted mint returns the receipt together with an error
// wrapping domain.ErrTxReverted.
func (m *Minter) MintShares(ctx context.Context, recipient common.Address, side domain.Side, count int64) (*types.Receipt, error) {
	txHash, err := m.SubmitMint(ctx, recipient, side, count)
	if err != nil {
		return nil, err
	}
	return m.ConfirmMint(ctx, side, count, txHash)
}

// SubmitMint broadcasts the mint and returns without waiting for it.
func (m *Minter) SubmitMint(ctx context.Context, recipient common.Address, side domain.Side, count int64) (common.Hash, error) {
	tok, err := m.token(side)
	if err != nil {
		return common.Hash{}, err
	}
	if count <= 0 {
		return common.Hash{}, fmt.Errorf("mint: count %d: %w", count, domain.ErrInvalidOrder)
	}

	m.logger.Info("minting shares",
		slog.String("recipient", recipient.Hex()),
		slog.String("side", string(side)),
		slog.Int64("count", count),
	)
	tx, err := tok.Send(ctx, "mint", recipient, ShareAmount(count))
	if err != nil {
		m.metrics.MintsTotal.WithLabelValues(string(side), "failed").Inc()
		return common.Hash{}, fmt.Errorf("mint: submit %s mint: %w", side, err)
	}
	return tx.Hash(), nil
}

// ConfirmMint waits for a mint of count shares sent earlier. It may be
// called again for the same transaction after a timeout.
func (m *Minter) ConfirmMint(ctx context.Context, side domain.Side, count int64, txHash common.Hash) (*types.Receipt, error) {
	log := m.logger.With(slog.String("side", string(side)), slog.String("tx", txHash.Hex()))

	receipt, err := m.waiter.Wait(ctx, txHash)
	if err != nil {
		outcome := "failed"
		switch {
		case errors.Is(err, domain.ErrConfirmationTimeout):
			outcome = "timeout"
		case errors.Is(err, domain.ErrTxReverted):
			log.Error("mint reverted")
		}
		m.metrics.MintsTotal.WithLabelValues(string(side), outcome).Inc()
		return receipt, fmt.Errorf("mint: confirm %s: %w", txHash.Hex(), err)
	}

	m.metrics.MintsTotal.WithLabelValues(string(side), "confirmed").Inc()
	m.metrics.SharesMinted.WithLabelValues(string(side)).Add(float64(count))
	log.Info("shares minted",
		slog.Int64("count", count),
		slog.String("explorer", m.network.TxURL(txHash.Hex())),
	)
	return receipt, nil
}

// GetShareBalance returns holder's balance of side in token base units.
func (m *Minter) GetShareBalance(ctx context.Context, holder common.Address, side domain.Side) (*big.Int, error) {
	tok, err := m.token(side)
	if err != nil {
		return nil, err
	}
	bal, err := tok.CallUint(ctx, "balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("mint: %s balance of %s: %w", side, holder.Hex(), err)
	}
	return bal, nil
}

// Balances is a holder's position in both share tokens, in base units.
type Balances struct {
	Yes *big.Int `json:"yes"`
	No  *big.Int `json:"no"`
}

// GetBalances reads both share balances of holder.
func (m *Minter) GetBalances(ctx context.Context, holder common.Address) (Balances, error) {
	yes, err := m.GetShareBalance(ctx, holder, domain.SideYes)
	if err != nil {
		return Balances{}, err
	}
	no, err := m.GetShareBalance(ctx, holder, domain.SideNo)
	if err != nil {
		return Balances{}, err
	}
	return Balances{Yes: yes, No: no}, nil
}

var _ Token = (*chain.Contract)(nil)
