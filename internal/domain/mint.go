package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side selects the YES or NO share token.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide normalises a venue side string.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
	}
}

// MintIntent is a request to mirror filled contracts as share tokens.
type MintIntent struct {
	Key       string // idempotency key, one per fill
	OrderID   string
	Ticker    string
	Recipient common.Address
	Side      Side
	Count     int64
}

// MintStatus tracks a mint through the secondary chain.
type MintStatus string

const (
	MintStatusPending   MintStatus = "pending"
	MintStatusConfirmed MintStatus = "confirmed"
	MintStatusFailed    MintStatus = "failed"
)

// MintRecord is the ledger row for one mint intent.
type MintRecord struct {
	Key       string
	OrderID   string
	Ticker    string
	Recipient common.Address
	Side      Side
	Count     int64
	TxHash    common.Hash
	Status    MintStatus
	Error     string
	UpdatedAt time.Time
}

// PendingOrder remembers who receives shares for later fills of a resting
// order.
type PendingOrder struct {
	OrderID   string
	Ticker    string
	Recipient common.Address
	Side      Side
	Remaining int64
	CreatedAt time.Time
}
