package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

// KeyStore owns wallet key material at rest. It performs no network calls.
type KeyStore struct {
	store Store
	algo  xrpl.Algorithm
	rand  io.Reader
}

// NewKeyStore builds a KeyStore generating keys of algo. A nil rand uses crypto/rand.
func NewKeyStore(store Store, algo xrpl.Algorithm, rand io.Reader) *KeyStore {
	return &KeyStore{store: store, algo: algo, rand: rand}
}

// Generate produces a fresh random wallet. It is not persisted.
func (k *KeyStore) Generate() (Wallet, error) {
	seed, err := xrpl.GenerateSeed(k.rand, k.algo)
	if err != nil {
		return Wallet{}, fmt.Errorf("generate seed: %w", err)
	}
	kp, err := xrpl.DeriveKeypair(seed)
	if err != nil {
		return Wallet{}, fmt.Errorf("derive keypair: %w", err)
	}
	return Wallet{Address: kp.Address(), Secret: seed}, nil
}

// ImportFromSecret validates secret and returns the wallet it controls.
func (k *KeyStore) ImportFromSecret(secret string) (Wallet, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Wallet{}, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}
	kp, err := xrpl.DeriveKeypair(secret)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return Wallet{Address: kp.Address(), Secret: secret}, nil
}

// Persist writes w, replacing any prior wallet.
func (k *KeyStore) Persist(ctx context.Context, w Wallet) error {
	if !w.Valid() {
		return fmt.Errorf("%w: address and secret are required", ErrInvalidSecret)
	}
	raw, err := json.Marshal(record{Address: w.Address, Seed: w.Secret})
	if err != nil {
		return err
	}
	return k.store.Put(ctx, WalletKey, raw)
}

// Load returns the persisted wallet; ok is false when none exists.
func (k *KeyStore) Load(ctx context.Context) (w Wallet, ok bool, err error) {
	raw, err := k.store.Get(ctx, WalletKey)
	if errors.Is(err, ErrNotFound) {
		return Wallet{}, false, nil
	}
	if err != nil {
		return Wallet{}, false, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Wallet{}, false, fmt.Errorf("decode persisted wallet: %w", err)
	}
	w = Wallet{Address: rec.Address, Secret: rec.Seed}
	if !w.Valid() {
		return Wallet{}, false, nil
	}
	return w, true, nil
}

// Remove erases the wallet and every piece of dependent local state.
func (k *KeyStore) Remove(ctx context.Context) error {
	return k.store.Clear(ctx)
}

// Store exposes the underlying local state for wallet-scoped preferences.
func (k *KeyStore) Store() Store { return k.store }
