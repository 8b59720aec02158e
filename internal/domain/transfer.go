package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent is an ERC-20 Transfer log observed on the primary chain.
// TxHash is its identity: one transfer is credited at most once.
type TransferEvent struct {
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Amount      *big.Int // token base units
	BlockNumber uint64
	LogIndex    uint
}

// CreditStatus tracks a deposit credit through the ledger.
type CreditStatus string

const (
	CreditStatusSubmitted CreditStatus = "submitted"
	CreditStatusConfirmed CreditStatus = "confirmed"
	CreditStatusFailed    CreditStatus = "failed"
)

// CreditRecord is the idempotency ledger row for one deposit transfer.
type CreditRecord struct {
	DepositTxHash common.Hash
	Depositor     common.Address
	Amount        *big.Int
	BlockNumber   uint64
	CreditTxHash  common.Hash
	Status        CreditStatus
	UpdatedAt     time.Time
}

// DeadLetter is a deposit whose credit failed and awaits reconciliation.
type DeadLetter struct {
	ID       string         `json:"id,omitempty"`
	TxHash   string         `json:"tx_hash"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Amount   string         `json:"amount"`
	Block    uint64         `json:"block"`
	LogIndex uint           `json:"log_index"`
	Error    string         `json:"error"`
	FailedAt time.Time      `json:"failed_at"`
	Attempts int            `json:"attempts"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// NewDeadLetter captures a failed transfer together with its error.
func NewDeadLetter(ev TransferEvent, cause error) DeadLetter {
	amount := "0"
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	dl := DeadLetter{
		TxHash:   ev.TxHash.Hex(),
		From:     ev.From.Hex(),
		To:       ev.To.Hex(),
		Amount:   amount,
		Block:    ev.BlockNumber,
		LogIndex: ev.LogIndex,
		FailedAt: time.Now().UTC(),
		Attempts: 1,
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	return dl
}

// Transfer rebuilds the TransferEvent stored in a dead letter.
func (d DeadLetter) Transfer() (TransferEvent, bool) {
	amount, ok := new(big.Int).SetString(d.Amount, 10)
	if !ok {
		return TransferEvent{}, false
	}
	return TransferEvent{
		TxHash:      common.HexToHash(d.TxHash),
		From:        common.HexToAddress(d.From),
		To:          common.HexToAddress(d.To),
		Amount:      amount,
		BlockNumber: d.Block,
		LogIndex:    d.LogIndex,
	}, true
}
