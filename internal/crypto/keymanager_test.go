package crypto

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known throwaway key (hardhat account #0).
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if strings.Contains(string(blob), testKey) {
		t.Fatal("ciphertext contains the plaintext key")
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("DecryptKey = %s, want %s", got, testKey)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("DecryptKey with wrong password succeeded")
	}
}

func TestKeyFileValidation(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}

	addr, err := KeyFileAddress(blob)
	if err != nil {
		t.Fatalf("KeyFileAddress: %v", err)
	}
	if addr.Hex() != testAddress {
		t.Fatalf("KeyFileAddress = %s, want %s", addr.Hex(), testAddress)
	}

	mutate := func(f func(m map[string]any)) []byte {
		var m map[string]any
		if err := json.Unmarshal(blob, &m); err != nil {
			t.Fatal(err)
		}
		f(m)
		out, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("{")},
		{name: "future version", data: mutate(func(m map[string]any) { m["version"] = 2 })},
		{name: "unknown kdf", data: mutate(func(m map[string]any) { m["kdf"] = "scrypt" })},
		{name: "zero rounds", data: mutate(func(m map[string]any) { m["rounds"] = 0 })},
		// address is bound as associated data
		{name: "swapped address", data: mutate(func(m map[string]any) {
			m["address"] = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptKey(tt.data, "pw"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadSigner(t *testing.T) {
	dir := t.TempDir()
	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "owner.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     KeyConfig
		wantErr bool
	}{
		{name: "raw key", cfg: KeyConfig{RawPrivateKey: "0x" + testKey}},
		{name: "encrypted file", cfg: KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}},
		{name: "nothing configured", cfg: KeyConfig{}, wantErr: true},
		{name: "bad hex", cfg: KeyConfig{RawPrivateKey: "0xzz"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := LoadSigner(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadSigner: %v", err)
			}
			if s.Address().Hex() != testAddress {
				t.Fatalf("address = %s, want %s", s.Address().Hex(), testAddress)
			}
		})
	}
}

func TestTransactorFor(t *testing.T) {
	s, err := NewSigner(testKey)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	opts, err := s.TransactorFor(88882)(ctx)
	if err != nil {
		t.Fatalf("TransactorFor: %v", err)
	}
	if opts.From != s.Address() {
		t.Errorf("From = %s, want %s", opts.From.Hex(), s.Address().Hex())
	}
	if opts.Context != ctx {
		t.Error("opts.Context not set")
	}
}
