package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// ChangeFunc is called after the active wallet changes. ok is false after removal.
type ChangeFunc func(ctx context.Context, w Wallet, ok bool)

// Service manages the active wallet on top of a KeyStore.
type Service struct {
	keys   *KeyStore
	logger *slog.Logger

	mu     sync.RWMutex
	active Wallet
	loaded bool
	hooks  []ChangeFunc
}

// NewService builds a wallet service instance.
func NewService(keys *KeyStore, logger *slog.Logger) *Service {
	return &Service{keys: keys, logger: logger}
}

// OnChange registers fn to run after every create, import or removal.
func (s *Service) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Restore loads the persisted wallet, if any, and announces it.
func (s *Service) Restore(ctx context.Context) (Wallet, bool, error) {
	w, ok, err := s.keys.Load(ctx)
	if err != nil {
		return Wallet{}, false, err
	}
	if ok {
		s.setActive(ctx, w, true)
	}
	return w, ok, nil
}

// Create generates and persists a new wallet, replacing the current one.
func (s *Service) Create(ctx context.Context) (Wallet, error) {
	w, err := s.keys.Generate()
	if err != nil {
		return Wallet{}, err
	}
	if err := s.keys.Persist(ctx, w); err != nil {
		return Wallet{}, err
	}
	s.logger.Info("wallet created", slog.Any("wallet", w))
	s.setActive(ctx, w, true)
	return w, nil
}

// Import validates secret and persists the wallet it controls.
func (s *Service) Import(ctx context.Context, secret string) (Wallet, error) {
	w, err := s.keys.ImportFromSecret(secret)
	if err != nil {
		return Wallet{}, err
	}
	if err := s.keys.Persist(ctx, w); err != nil {
		return Wallet{}, err
	}
	s.logger.Info("wallet imported", slog.Any("wallet", w))
	s.setActive(ctx, w, true)
	return w, nil
}

// Remove irreversibly erases the wallet and all local state. confirmed must
// be true; ErrNoWallet wins over a missing confirmation.
func (s *Service) Remove(ctx context.Context, confirmed bool) error {
	if _, err := s.Active(); err != nil {
		return err
	}
	if !confirmed {
		return ErrRemoveNotConfirmed
	}
	if err := s.keys.Remove(ctx); err != nil {
		return err
	}
	s.logger.Warn("wallet removed and local state reset")
	s.setActive(ctx, Wallet{}, false)
	return nil
}

// Active returns a copy of the active wallet.
func (s *Service) Active() (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return Wallet{}, ErrNoWallet
	}
	return s.active, nil
}

// RevealSecret returns the secret on explicit user request.
func (s *Service) RevealSecret(_ context.Context) (string, error) {
	w, err := s.Active()
	if err != nil {
		return "", err
	}
	s.logger.Warn("wallet secret revealed", slog.String("address", w.Address))
	return w.Secret, nil
}

// PaymentToken returns the preferred token name, or fallback when unset.
func (s *Service) PaymentToken(ctx context.Context, fallback string) (string, error) {
	raw, err := s.keys.Store().Get(ctx, PaymentTokenKey)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetPaymentToken records the preferred token name. It is purged with the wallet.
func (s *Service) SetPaymentToken(ctx context.Context, token string) error {
	if _, err := s.Active(); err != nil {
		return err
	}
	return s.keys.Store().Put(ctx, PaymentTokenKey, []byte(strings.ToUpper(token)))
}

func (s *Service) setActive(ctx context.Context, w Wallet, ok bool) {
	s.mu.Lock()
	s.active, s.loaded = w, ok
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, w, ok)
	}
}
