package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

var (
	// ErrInvalidSecret is returned when an imported secret is malformed or fails its checksum.
	ErrInvalidSecret = errors.New("invalid secret")
	// ErrNoWallet means no wallet is persisted on this device.
	ErrNoWallet = errors.New("no wallet")
	// ErrRemoveNotConfirmed guards the irreversible removal.
	ErrRemoveNotConfirmed = errors.New("wallet removal must be confirmed")
)

// Wallet is the device's single signing identity. Secret is the family seed
// and must never be logged or serialized outside the local store.
type Wallet struct {
	Address string
	Secret  string
}

// Valid reports whether both fields are present.
func (w Wallet) Valid() bool { return w.Address != "" && w.Secret != "" }

// Keypair derives the wallet's keys and checks they control Address.
func (w Wallet) Keypair() (xrpl.Keypair, error) {
	kp, err := xrpl.DeriveKeypair(w.Secret)
	if err != nil {
		return xrpl.Keypair{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if kp.Address() != w.Address {
		return xrpl.Keypair{}, fmt.Errorf("%w: secret does not control %s", ErrInvalidSecret, w.Address)
	}
	return kp, nil
}

func (w Wallet) String() string { return "wallet(" + w.Address + ")" }

// LogValue keeps the secret out of structured logs.
func (w Wallet) LogValue() slog.Value {
	return slog.GroupValue(slog.String("address", w.Address))
}

// MarshalJSON emits only the address.
func (w Wallet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address string `json:"address"`
	}{w.Address})
}

// record is the persisted wallet layout.
type record struct {
	Address string `json:"address"`
	Seed    string `json:"seed"`
}
