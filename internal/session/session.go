// Package session ties the wallet, its balances and the payment status
// together for one device.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gptmeet/walletcore/internal/balance"
	"github.com/gptmeet/walletcore/internal/notification"
	"github.com/gptmeet/walletcore/internal/payments"
	"github.com/gptmeet/walletcore/internal/paystatus"
	"github.com/gptmeet/walletcore/internal/wallet"
)

// Session owns the device's components. Handlers read from it; only wallet
// changes drive the balance cycle.
type Session struct {
	Wallets  *wallet.Service
	Balances *balance.Synchronizer
	Status   *paystatus.Machine
	Payments *payments.Service

	notifier notification.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	address string
}

// New wires wallet changes to the synchronizer, status machine and journal.
func New(wallets *wallet.Service, balances *balance.Synchronizer, status *paystatus.Machine, pay *payments.Service, notifier notification.Notifier, logger *slog.Logger) *Session {
	s := &Session{
		Wallets:  wallets,
		Balances: balances,
		Status:   status,
		Payments: pay,
		notifier: notifier,
		logger:   logger,
	}
	wallets.OnChange(s.walletChanged)
	return s
}

// Open restores the persisted wallet and starts synchronizing it.
func (s *Session) Open(ctx context.Context) error {
	w, ok, err := s.Wallets.Restore(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.logger.Info("session restored", slog.Any("wallet", w))
	} else {
		s.logger.Info("session opened without a wallet")
	}
	return nil
}

// Close stops background work.
func (s *Session) Close() {
	s.Balances.Stop()
	s.Status.Reset()
}

// Address returns the active address, empty when there is no wallet.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

func (s *Session) walletChanged(ctx context.Context, w wallet.Wallet, ok bool) {
	s.mu.Lock()
	previous := s.address
	if ok {
		s.address = w.Address
	} else {
		s.address = ""
	}
	s.mu.Unlock()

	if ok {
		if previous != w.Address {
			s.Status.Reset()
		}
		s.Balances.Start(ctx, w.Address)
		s.notify(ctx, w.Address, "wallet active")
		return
	}

	s.Balances.Reset()
	s.Status.Reset()
	if previous != "" && s.Payments != nil {
		if err := s.Payments.Forget(ctx, previous); err != nil {
			s.logger.Error("failed to purge payment history", slog.String("address", previous), slog.String("error", err.Error()))
		}
	}
	s.notify(ctx, previous, "wallet removed")
}

func (s *Session) notify(ctx context.Context, address, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{Kind: notification.KindWalletChanged, Destination: address, Body: body})
}
