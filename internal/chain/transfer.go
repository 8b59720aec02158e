package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// ErrNotTransfer is returned by DecodeTransfer for logs that are not ERC-20
// Transfer events.
var ErrNotTransfer = errors.New("chain: log is not an ERC-20 Transfer")

// TransferQuery builds the filter for Transfer(*, to) logs emitted by token.
// A nil toBlock means "latest".
func TransferQuery(token, to common.Address, fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{token},
		Topics: [][]common.Hash{
			{TransferTopic},
			nil,
			{AddressTopic(to)},
		},
	}
}

// DecodeTransfer extracts sender, recipient and value from a Transfer log.
func DecodeTransfer(l types.Log) (domain.TransferEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return domain.TransferEvent{}, ErrNotTransfer
	}
	values, err := ERC20ABI.Unpack("Transfer", l.Data)
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("chain: decode transfer %s: %w", l.TxHash.Hex(), err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return domain.TransferEvent{}, fmt.Errorf("chain: decode transfer %s: unexpected value type %T", l.TxHash.Hex(), values[0])
	}
	return domain.TransferEvent{
		TxHash:      l.TxHash,
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:      amount,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// SortLogs orders logs by block number, then by index within the block.
func SortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
