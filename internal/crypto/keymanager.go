// Package crypto resolves the ledger owner's secp256k1 key and turns it into
// transaction signers for the chains the bridge writes to.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion   = 1
	kdfName          = "pbkdf2-sha256"
	defaultKDFRounds = 480_000
	saltLen          = 16
	aesKeyLen        = 32
)

// keyFile is the on-disk form of an encrypted owner key. Address is stored
// in clear so operators can tell files apart without the password.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	KDF        string `json:"kdf"`
	Rounds     int    `json:"rounds"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyConfig names where the owner key comes from. A raw key wins over an
// encrypted file.
type KeyConfig struct {
	RawPrivateKey    string // hex, 0x prefix optional
	EncryptedKeyPath string // file written by EncryptKey
	KeyPassword      string
}

// ErrNoKey is returned by LoadKey when no key source is configured.
var ErrNoKey = errors.New("crypto: no private key configured")

// EncryptKey seals a hex private key under password with AES-256-GCM, using
// a PBKDF2-SHA256 derived key. The result is JSON ready to write to disk.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	kf := keyFile{
		Version: keyFileVersion,
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		KDF:     kdfName,
		Rounds:  defaultKDFRounds,
		Salt:    make([]byte, saltLen),
	}
	if _, err := rand.Read(kf.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}

	gcm, err := kf.aead(password)
	if err != nil {
		return nil, err
	}
	kf.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = gcm.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(pk), []byte(kf.Address))

	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the private
// key as hex without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	kf, err := parseKeyFile(data)
	if err != nil {
		return "", err
	}
	gcm, err := kf.aead(password)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, kf.Nonce, kf.Ciphertext, []byte(kf.Address))
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt key for %s (wrong password?): %w", kf.Address, err)
	}

	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypted key is not secp256k1: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != common.HexToAddress(kf.Address) {
		return "", fmt.Errorf("crypto: key file claims %s but holds %s", kf.Address, got.Hex())
	}
	return hex.EncodeToString(plain), nil
}

// KeyFileAddress returns the address recorded in a key file without
// decrypting it.
func KeyFileAddress(data []byte) (common.Address, error) {
	kf, err := parseKeyFile(data)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(kf.Address), nil
}

func parseKeyFile(data []byte) (keyFile, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return keyFile{}, fmt.Errorf("crypto: parse key file: %w", err)
	}
	switch {
	case kf.Version != keyFileVersion:
		return keyFile{}, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	case kf.KDF != kdfName:
		return keyFile{}, fmt.Errorf("crypto: unsupported kdf %q", kf.KDF)
	case kf.Rounds <= 0 || len(kf.Salt) == 0 || len(kf.Nonce) == 0:
		return keyFile{}, errors.New("crypto: key file is missing kdf parameters")
	case !common.IsHexAddress(kf.Address):
		return keyFile{}, fmt.Errorf("crypto: key file address %q is invalid", kf.Address)
	}
	return kf, nil
}

func (kf keyFile) aead(password string) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), kf.Salt, kf.Rounds, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the private key described by cfg as hex without a 0x
// prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not hex: %w", err)
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", ErrNoKey
}
