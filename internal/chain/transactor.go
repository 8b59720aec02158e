package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// OptsFunc returns fresh transaction options for one submission.
type OptsFunc func(ctx context.Context) (*bind.TransactOpts, error)

// Transactor submits contract calls from a single sender. Submissions are
// serialised so consecutive calls pick up consecutive pending nonces.
type Transactor struct {
	mu      sync.Mutex
	backend bind.ContractBackend
	opts    OptsFunc
}

// NewTransactor creates a Transactor bound to backend.
func NewTransactor(backend bind.ContractBackend, opts OptsFunc) *Transactor {
	return &Transactor{backend: backend, opts: opts}
}

// Contract is a deployed contract reachable through a Transactor.
type Contract struct {
	address common.Address
	bound   *bind.BoundContract
	tx      *Transactor
}

// Bind attaches the contract at address with the given ABI.
func (t *Transactor) Bind(address common.Address, parsed abi.ABI) *Contract {
	return &Contract{
		address: address,
		bound:   bind.NewBoundContract(address, parsed, t.backend, t.backend, t.backend),
		tx:      t,
	}
}

// Address returns the contract address.
func (c *Contract) Address() common.Address { return c.address }

// Send signs and broadcasts a state-changing call. It returns as soon as the
// node accepts the transaction; confirmation is the caller's concern.
func (c *Contract) Send(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	if c.tx.opts == nil {
		return nil, errors.New("chain: contract bound without a signer")
	}

	c.tx.mu.Lock()
	defer c.tx.mu.Unlock()

	opts, err := c.tx.opts(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: transact opts: %w", err)
	}
	opts.Context = ctx

	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: send %s to %s: %w", method, c.address.Hex(), err)
	}
	return tx, nil
}

// CallUint reads a view function that returns a single uint256.
func (c *Contract) CallUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, c.address.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: call %s: expected 1 result, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: call %s: unexpected result type %T", method, out[0])
	}
	return v, nil
}
