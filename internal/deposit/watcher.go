// Package deposit watches the deposit token for transfers into the deposit
// address and credits each one exactly once on the ledger.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bagrabridge/internal/chain"
	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
)

const (
	resubscribeDelay    = time.Second
	maxResubscribeDelay = 30 * time.Second
	usdcDecimals        = 6
)

// LogSource is the subset of *ethclient.Client the watcher reads from.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Crediter writes deposits to the ledger. Submission and confirmation are
// separate calls so the watcher can record a broadcast credit before it
// waits on it.
type Crediter interface {
	SubmitCredit(ctx context.Context, recipient common.Address, amount *big.Int) (common.Hash, error)
	ConfirmCredit(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Alerter pushes operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Archiver stores a copy of each confirmed credit.
type Archiver interface {
	ArchiveCredit(ctx context.Context, rec domain.CreditRecord) error
}

// Config describes what the watcher listens to.
type Config struct {
	Token          common.Address // deposit token (USDC)
	DepositAddress common.Address
	PollInterval   time.Duration // used when the RPC endpoint cannot push logs
	MaxBlockRange  uint64        // max blocks per FilterLogs call
	LockTTL        time.Duration
}

// Deps are the watcher's collaborators. Locks, DeadLetters, Alerts and
// Archive are optional.
type Deps struct {
	Source      LogSource
	Crediter    Crediter
	Processed   domain.ProcessedStore
	Locks       domain.LockManager
	DeadLetters domain.DeadLetterQueue
	Alerts      Alerter
	Archive     Archiver
	Metrics     *metrics.Metrics
}

// Watcher observes Transfer(*, depositAddress) logs on the deposit token and
// credits the sender of each one on the ledger. Logs are handled one at a
// time in delivery order; a transfer is marked processed only after its
// credit is confirmed.
type Watcher struct {
	cfg  Config
	deps Deps

	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	next    uint64 // first block not yet covered; 0 = unknown
}

// NewWatcher creates a Watcher.
func NewWatcher(cfg Config, deps Deps, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 10_000
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Watcher{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "deposit_watcher")),
	}
}

// Running reports whether the live watch is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins the live watch and returns once it is set up. Logs from
// blocks after the last historical sync (or after the current head when no
// sync ran) are handled in order on a background goroutine until Stop is
// called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("deposit: watcher already running")
	}

	head, err := w.deps.Source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("deposit: read head block: %w", err)
	}
	if w.next == 0 {
		w.next = head + 1
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("deposit watcher started",
		slog.String("token", w.cfg.Token.Hex()),
		slog.String("deposit_address", w.cfg.DepositAddress.Hex()),
		slog.Uint64("head", head),
		slog.Uint64("from_block", w.next),
	)

	go w.watch(watchCtx, w.done)
	return nil
}

// Stop ends the live watch. A transfer already being handled runs to
// completion; Done is closed once it has.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	w.cancel()
	w.logger.Info("deposit watcher stopping")
}

// Done is closed when the background watch loop has exited. It returns nil
// if the watcher was never started.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Run starts the watcher and blocks until ctx is cancelled, then stops it
// and waits for the in-flight transfer to finish.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	done := w.Done()
	select {
	case <-ctx.Done():
	case <-done:
	}
	w.Stop()
	<-done
	return ctx.Err()
}

// SyncHistoricalTransfers handles every deposit log from fromBlock to the
// current head in ascending (block, log index) order. Individual credit
// failures are contained; only log retrieval errors are returned.
func (w *Watcher) SyncHistoricalTransfers(ctx context.Context, fromBlock uint64) error {
	head, err := w.deps.Source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("deposit: read head block: %w", err)
	}

	w.logger.Info("syncing historical transfers",
		slog.Uint64("from_block", fromBlock),
		slog.Uint64("to_block", head),
	)

	logs, err := w.fetchRange(ctx, fromBlock, head)
	if err != nil {
		return err
	}
	chain.SortLogs(logs)

	for _, l := range logs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.HandleTransfer(context.WithoutCancel(ctx), l)
	}

	w.mu.Lock()
	if head+1 > w.next {
		w.next = head + 1
	}
	w.mu.Unlock()

	w.logger.Info("historical sync complete",
		slog.Int("transfers", len(logs)),
		slog.Uint64("to_block", head),
	)
	return nil
}

// HandleTransfer credits the sender of one Transfer log unless its tx hash
// was already credited. Errors are logged, counted and dead-lettered; they
// never propagate to the caller.
func (w *Watcher) HandleTransfer(ctx context.Context, l types.Log) {
	w.deps.Metrics.DepositsSeen.Inc()

	if l.Removed {
		w.logger.Warn("ignoring log removed by reorg", slog.String("tx", l.TxHash.Hex()))
		return
	}
	ev, err := chain.DecodeTransfer(l)
	if err != nil {
		w.logger.Warn("skipping undecodable log",
			slog.String("tx", l.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = w.handleEvent(ctx, ev, 1)
}

// handleEvent runs the dedup → lock → credit → mark sequence. It returns nil
// when the transfer is credited or was already credited. A credit broadcast
// by an earlier attempt is waited on again rather than sent twice.
func (w *Watcher) handleEvent(ctx context.Context, ev domain.TransferEvent, attempt int) error {
	log := w.logger.With(
		slog.String("tx", ev.TxHash.Hex()),
		slog.String("from", ev.From.Hex()),
		slog.String("amount_usdc", decimal.NewFromBigInt(ev.Amount, -usdcDecimals).String()),
		slog.Uint64("block", ev.BlockNumber),
	)

	done, err := w.deps.Processed.IsProcessed(ctx, ev.TxHash)
	if err != nil {
		return w.fail(ctx, log, ev, attempt, "ledger_read", fmt.Errorf("deposit: processed lookup: %w", err))
	}
	if done {
		w.deps.Metrics.DepositsDuplicate.Inc()
		log.Debug("transfer already credited")
		return nil
	}

	if w.deps.Locks != nil {
		unlock, err := w.deps.Locks.Acquire(ctx, "credit:"+ev.TxHash.Hex(), w.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			log.Info("another replica is crediting this transfer")
			return nil
		}
		if err != nil {
			return w.fail(ctx, log, ev, attempt, "lock", fmt.Errorf("deposit: acquire lock: %w", err))
		}
		defer unlock()

		// The holder before us may have finished.
		if done, err := w.deps.Processed.IsProcessed(ctx, ev.TxHash); err == nil && done {
			w.deps.Metrics.DepositsDuplicate.Inc()
			return nil
		}
	}

	start := time.Now()
	prior, err := w.deps.Processed.Get(ctx, ev.TxHash)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		prior = domain.CreditRecord{}
	case err != nil:
		return w.fail(ctx, log, ev, attempt, "ledger_read", fmt.Errorf("deposit: credit lookup: %w", err))
	}

	receipt, err := w.resume(ctx, log, prior)
	if err == nil && receipt == nil {
		log.Info("new deposit detected")
		receipt, err = w.credit(ctx, log, ev)
	}
	if err != nil {
		return w.fail(ctx, log, ev, attempt, failureReason(err), err)
	}
	w.deps.Metrics.CreditLatency.Observe(time.Since(start).Seconds())

	rec := domain.CreditRecord{
		DepositTxHash: ev.TxHash,
		Depositor:     ev.From,
		Amount:        ev.Amount,
		BlockNumber:   ev.BlockNumber,
		CreditTxHash:  receipt.TxHash,
		Status:        domain.CreditStatusConfirmed,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := w.deps.Processed.MarkProcessed(ctx, rec); err != nil {
		// The credit is on chain but the ledger did not record it; a restart
		// would credit it again.
		log.Error("credit confirmed but not recorded",
			slog.String("credit_tx", receipt.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		w.alert(ctx, "credit_unrecorded", "Deposit credited but not recorded",
			fmt.Sprintf("deposit %s credited in %s; ledger write failed: %v", ev.TxHash.Hex(), receipt.TxHash.Hex(), err))
	}

	w.deps.Metrics.DepositsCredited.Inc()
	w.deps.Metrics.LastProcessedBlock.Set(float64(ev.BlockNumber))
	log.Info("deposit credited", slog.String("credit_tx", receipt.TxHash.Hex()))

	if w.deps.Archive != nil {
		if err := w.deps.Archive.ArchiveCredit(ctx, rec); err != nil {
			log.Warn("archive credit receipt failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// resume waits on the credit recorded by an earlier attempt. It returns a
// nil receipt and no error when there is nothing to wait on, including when
// that credit reverted and the deposit has to be sent again.
func (w *Watcher) resume(ctx context.Context, log *slog.Logger, prior domain.CreditRecord) (*types.Receipt, error) {
	if prior.Status != domain.CreditStatusSubmitted || prior.CreditTxHash == (common.Hash{}) {
		return nil, nil
	}
	log = log.With(slog.String("credit_tx", prior.CreditTxHash.Hex()))
	log.Info("waiting on credit sent by an earlier attempt")

	receipt, err := w.deps.Crediter.ConfirmCredit(ctx, prior.CreditTxHash)
	if errors.Is(err, domain.ErrTxReverted) {
		log.Warn("earlier credit reverted, sending a new one")
		return nil, nil
	}
	return receipt, err
}

// credit broadcasts a new credit, records it as submitted and waits for it.
func (w *Watcher) credit(ctx context.Context, log *slog.Logger, ev domain.TransferEvent) (*types.Receipt, error) {
	creditTx, err := w.deps.Crediter.SubmitCredit(ctx, ev.From, ev.Amount)
	if err != nil {
		return nil, err
	}
	err = w.deps.Processed.MarkSubmitted(ctx, domain.CreditRecord{
		DepositTxHash: ev.TxHash,
		Depositor:     ev.From,
		Amount:        ev.Amount,
		BlockNumber:   ev.BlockNumber,
		CreditTxHash:  creditTx,
		Status:        domain.CreditStatusSubmitted,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Error("credit sent but not recorded",
			slog.String("credit_tx", creditTx.Hex()),
			slog.String("error", err.Error()),
		)
		w.alert(ctx, "credit_unrecorded", "Deposit credit sent but not recorded",
			fmt.Sprintf("deposit %s credit %s was broadcast; ledger write failed: %v", ev.TxHash.Hex(), creditTx.Hex(), err))
	}
	return w.deps.Crediter.ConfirmCredit(ctx, creditTx)
}

func (w *Watcher) fail(ctx context.Context, log *slog.Logger, ev domain.TransferEvent, attempt int, reason string, cause error) error {
	log.Error("deposit credit failed",
		slog.String("reason", reason),
		slog.Int("attempt", attempt),
		slog.String("error", cause.Error()),
	)
	w.deps.Metrics.CreditFailures.WithLabelValues(reason).Inc()

	if w.deps.DeadLetters != nil {
		dl := domain.NewDeadLetter(ev, cause)
		dl.Attempts = attempt
		dl.Extra = map[string]any{"reason": reason}
		if err := w.deps.DeadLetters.Push(ctx, dl); err != nil {
			log.Error("dead-letter push failed", slog.String("error", err.Error()))
		} else {
			w.deps.Metrics.DeadLetters.Inc()
		}
	}

	w.alert(ctx, "credit_failed", "Deposit credit failed",
		fmt.Sprintf("deposit %s from %s (%s USDC) not credited: %v",
			ev.TxHash.Hex(), ev.From.Hex(), decimal.NewFromBigInt(ev.Amount, -usdcDecimals), cause))
	return cause
}

func (w *Watcher) alert(ctx context.Context, event, title, msg string) {
	if w.deps.Alerts == nil {
		return
	}
	if err := w.deps.Alerts.Notify(ctx, event, title, msg); err != nil {
		w.logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTxReverted):
		return "reverted"
	case errors.Is(err, domain.ErrConfirmationTimeout):
		return "timeout"
	default:
		return "submit"
	}
}

// ReplayDeadLetters re-runs up to limit dead-lettered transfers. A credit
// that timed out is waited on again, not resent. Entries whose transfer is
// now credited (or was credited meanwhile) are acknowledged; a transfer that fails again is dead-lettered afresh with an
// incremented attempt count and the old entry is acknowledged.
func (w *Watcher) ReplayDeadLetters(ctx context.Context, limit int) (credited int, err error) {
	if w.deps.DeadLetters == nil {
		return 0, errors.New("deposit: no dead-letter queue configured")
	}
	letters, err := w.deps.DeadLetters.List(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("deposit: list dead letters: %w", err)
	}

	for _, dl := range letters {
		ev, ok := dl.Transfer()
		if !ok {
			w.logger.Warn("dead letter has no usable transfer", slog.String("id", dl.ID))
			continue
		}
		if herr := w.handleEvent(ctx, ev, dl.Attempts+1); herr == nil {
			credited++
		}
		if aerr := w.deps.DeadLetters.Ack(ctx, dl.ID); aerr != nil {
			w.logger.Warn("dead-letter ack failed", slog.String("id", dl.ID), slog.String("error", aerr.Error()))
		}
	}
	return credited, nil
}

// ---------------------------------------------------------------------------
// Live watch
// ---------------------------------------------------------------------------

func (w *Watcher) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := resubscribeDelay
	for ctx.Err() == nil {
		err := w.subscribe(ctx)
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			w.logger.Info("endpoint cannot push logs, polling instead",
				slog.Duration("interval", w.cfg.PollInterval))
			w.poll(ctx)
			return
		}
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("log subscription ended, resubscribing",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("retry_in", delay),
		)
		if !sleep(ctx, delay) {
			return
		}
		delay *= 2
		if delay > maxResubscribeDelay {
			delay = maxResubscribeDelay
		}
	}
}

// subscribe catches up on blocks missed since w.next, then handles pushed
// logs until the subscription fails or ctx is cancelled.
func (w *Watcher) subscribe(ctx context.Context) error {
	ch := make(chan types.Log, 128)
	q := chain.TransferQuery(w.cfg.Token, w.cfg.DepositAddress, nil, nil)
	sub, err := w.deps.Source.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	// Logs between the last covered block and now arrived before the
	// subscription existed.
	if err := w.catchUp(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case l := <-ch:
			w.HandleTransfer(context.WithoutCancel(ctx), l)
			w.advance(l.BlockNumber)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.catchUp(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// catchUp handles every deposit log in [w.next, head].
func (w *Watcher) catchUp(ctx context.Context) error {
	head, err := w.deps.Source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("deposit: read head block: %w", err)
	}
	w.mu.Lock()
	from := w.next
	w.mu.Unlock()
	if from > head {
		return nil
	}

	logs, err := w.fetchRange(ctx, from, head)
	if err != nil {
		return err
	}
	chain.SortLogs(logs)
	for _, l := range logs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.HandleTransfer(context.WithoutCancel(ctx), l)
	}
	w.advance(head)
	return nil
}

// advance marks every block up to and including block as covered.
func (w *Watcher) advance(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if block+1 > w.next {
		w.next = block + 1
	}
}

// fetchRange pulls deposit logs for [from, to] in MaxBlockRange chunks.
func (w *Watcher) fetchRange(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var all []types.Log
	for start := from; start <= to; {
		end := start + w.cfg.MaxBlockRange - 1
		if end > to || end < start {
			end = to
		}
		q := chain.TransferQuery(w.cfg.Token, w.cfg.DepositAddress,
			new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
		logs, err := w.deps.Source.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("deposit: filter logs %d-%d: %w", start, end, err)
		}
		all = append(all, logs...)
		if end == to {
			break
		}
		start = end + 1
	}
	return all, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
