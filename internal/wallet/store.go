package wallet

import (
	"context"
	"errors"
)

// Keys used in the local state store.
const (
	WalletKey       = "xrpl-wallet"
	PaymentTokenKey = "payment-token"
)

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("local state key not found")

// Store is the device's durable local state. All wallet-dependent state lives
// here so that Clear is a full reset.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
