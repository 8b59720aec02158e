package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// ReceiptReader fetches transaction receipts. *ethclient.Client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ConfirmerConfig bounds how long and how hard a Confirmer waits.
type ConfirmerConfig struct {
	Timeout      time.Duration // total budget per transaction
	Retries      int           // transient RPC errors tolerated before giving up
	PollInterval time.Duration // delay between "not yet mined" polls
	BackoffBase  time.Duration // first delay after a transient error, doubled each time
	BackoffMax   time.Duration
}

func (c ConfirmerConfig) withDefaults() ConfirmerConfig {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	return c
}

// Confirmer waits for transactions to be mined and checks their status.
type Confirmer struct {
	reader ReceiptReader
	cfg    ConfirmerConfig
	logger *slog.Logger
}

// NewConfirmer creates a Confirmer. Zero fields in cfg take defaults.
func NewConfirmer(reader ReceiptReader, cfg ConfirmerConfig, logger *slog.Logger) *Confirmer {
	return &Confirmer{
		reader: reader,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "confirmer")),
	}
}

// Wait blocks until txHash has one confirmation. It returns
// domain.ErrTxReverted when the receipt reports failure and
// domain.ErrConfirmationTimeout when the per-transaction budget runs out.
// Cancelling ctx returns ctx.Err().
func (c *Confirmer) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	failures := 0
	backoff := c.cfg.BackoffBase

	for {
		receipt, err := c.reader.TransactionReceipt(waitCtx, txHash)
		var delay time.Duration
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("chain: tx %s in block %s: %w",
					txHash.Hex(), receipt.BlockNumber, domain.ErrTxReverted)
			}
			return receipt, nil

		case errors.Is(err, ethereum.NotFound):
			delay = c.cfg.PollInterval

		default:
			if waitCtx.Err() != nil {
				return nil, c.expired(ctx, txHash)
			}
			failures++
			if failures > c.cfg.Retries {
				return nil, fmt.Errorf("chain: receipt for %s after %d attempts: %w", txHash.Hex(), failures, err)
			}
			c.logger.Warn("receipt poll failed, backing off",
				slog.String("tx", txHash.Hex()),
				slog.Int("attempt", failures),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
			delay = backoff
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
		}

		t := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			t.Stop()
			return nil, c.expired(ctx, txHash)
		case <-t.C:
		}
	}
}

func (c *Confirmer) expired(parent context.Context, txHash common.Hash) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("chain: tx %s not mined within %s: %w",
		txHash.Hex(), c.cfg.Timeout, domain.ErrConfirmationTimeout)
}
