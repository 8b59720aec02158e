package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the secp256k1 key that owns the ledger and share contracts.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// LoadSigner resolves the key described by cfg and wraps it in a Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex)
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// TransactorFor returns a function producing EIP-155 transaction options for
// chainID. Each call yields a fresh TransactOpts so nonce and gas are
// resolved per submission.
func (s *Signer) TransactorFor(chainID int64) func(ctx context.Context) (*bind.TransactOpts, error) {
	id := big.NewInt(chainID)
	return func(ctx context.Context) (*bind.TransactOpts, error) {
		opts, err := bind.NewKeyedTransactorWithChainID(s.privateKey, id)
		if err != nil {
			return nil, fmt.Errorf("crypto/signer: transactor for chain %d: %w", chainID, err)
		}
		opts.Context = ctx
		return opts, nil
	}
}
