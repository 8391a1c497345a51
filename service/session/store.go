// Package session persists the wallet session (selected wallet, last address,
// connection timestamp, preferences) and reports changes made elsewhere.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Reserved storage keys.
const (
	KeyWalletName          = "walletName"
	KeyConnectionTimestamp = "walletConnectionTimestamp"
	KeyLastAddress         = "walletLastAddress"
	KeyPreferences         = "walletPreferences"
	KeyAutoConnect         = "walletAutoConnect"
)

var reservedKeys = map[string]bool{
	KeyWalletName:          true,
	KeyConnectionTimestamp: true,
	KeyLastAddress:         true,
	KeyPreferences:         true,
	KeyAutoConnect:         true,
}

// IsReservedKey reports whether key belongs to the session store.
func IsReservedKey(key string) bool {
	return reservedKeys[key]
}

// Store reads and writes the session keys of a Storage.
type Store struct {
	storage  Storage
	logger   *slog.Logger
	now      func() time.Time
	defaults Preferences
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSessionDuration sets the session duration used when the user has not chosen one.
func WithSessionDuration(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.defaults.SessionDuration = d
		}
	}
}

// NewStore creates a Store over storage.
func NewStore(storage Storage, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		storage:  storage,
		logger:   logger,
		now:      time.Now,
		defaults: DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectedWallet returns the stored provider name.
func (s *Store) SelectedWallet(ctx context.Context) (string, bool, error) {
	return s.get(ctx, KeyWalletName)
}

// SetSelectedWallet stores the provider name.
func (s *Store) SetSelectedWallet(ctx context.Context, name string) error {
	return s.set(ctx, KeyWalletName, name)
}

// LastAddress returns the last connected address.
func (s *Store) LastAddress(ctx context.Context) (string, bool, error) {
	return s.get(ctx, KeyLastAddress)
}

// SetLastAddress stores the connected address.
func (s *Store) SetLastAddress(ctx context.Context, address string) error {
	return s.set(ctx, KeyLastAddress, address)
}

// ConnectionTimestamp returns when the session was last connected or refreshed.
// An unparseable timestamp is treated as absent.
func (s *Store) ConnectionTimestamp(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.get(ctx, KeyConnectionTimestamp)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed connection timestamp", "value", raw)
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// MarkConnected records a successful connect: provider name, address and a
// fresh timestamp. The wallet is remembered in preferences when the user
// allows it.
func (s *Store) MarkConnected(ctx context.Context, name, address string) error {
	if err := s.SetSelectedWallet(ctx, name); err != nil {
		return err
	}
	if err := s.SetLastAddress(ctx, address); err != nil {
		return err
	}
	if err := s.RefreshSession(ctx); err != nil {
		return err
	}

	prefs, err := s.Preferences(ctx)
	if err != nil {
		return err
	}
	if prefs.RememberWallet && prefs.LastWallet != name {
		if _, err := s.UpdatePreferences(ctx, PreferencesPatch{LastWallet: &name}); err != nil {
			return err
		}
	}
	return nil
}

// IsSessionValid reports whether a connection timestamp exists and is younger
// than the session duration. Missing or unreadable state is invalid.
func (s *Store) IsSessionValid(ctx context.Context) bool {
	ts, ok, err := s.ConnectionTimestamp(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read connection timestamp", "error", err)
		return false
	}
	if !ok {
		return false
	}

	prefs, err := s.Preferences(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read preferences", "error", err)
		return false
	}

	return s.now().Sub(ts) < prefs.SessionDuration
}

// RefreshSession resets the connection timestamp to now and touches nothing else.
func (s *Store) RefreshSession(ctx context.Context) error {
	return s.set(ctx, KeyConnectionTimestamp, strconv.FormatInt(s.now().UnixMilli(), 10))
}

// ClearWalletData removes the wallet name, timestamp and address. Preferences are kept.
func (s *Store) ClearWalletData(ctx context.Context) error {
	for _, key := range []string{KeyWalletName, KeyConnectionTimestamp, KeyLastAddress} {
		if err := s.storage.Remove(ctx, key); err != nil {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}
	return nil
}

// Preferences returns the stored preferences merged over the defaults.
// Corrupt stored preferences fall back to the defaults.
func (s *Store) Preferences(ctx context.Context) (Preferences, error) {
	prefs := s.defaults

	raw, ok, err := s.get(ctx, KeyPreferences)
	if err != nil {
		return prefs, err
	}
	if ok {
		decoded, err := decodePreferences(raw, prefs)
		if err != nil {
			s.logger.WarnContext(ctx, "ignoring malformed preferences", "error", err)
		} else {
			prefs = decoded
		}
	}

	autoConnect, ok, err := s.get(ctx, KeyAutoConnect)
	if err != nil {
		return prefs, err
	}
	if ok {
		if v, err := strconv.ParseBool(autoConnect); err == nil {
			prefs.AutoConnect = v
		}
	}

	return prefs, nil
}

// UpdatePreferences merges patch into the stored preferences and returns the result.
func (s *Store) UpdatePreferences(ctx context.Context, patch PreferencesPatch) (Preferences, error) {
	current, err := s.Preferences(ctx)
	if err != nil {
		return current, err
	}
	updated := patch.apply(current)

	raw, err := encodePreferences(updated)
	if err != nil {
		return current, fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := s.set(ctx, KeyPreferences, raw); err != nil {
		return current, err
	}
	if err := s.set(ctx, KeyAutoConnect, strconv.FormatBool(updated.AutoConnect)); err != nil {
		return current, err
	}
	return updated, nil
}

// Subscribe calls fn for changes to reserved keys made by other instances.
func (s *Store) Subscribe(fn func(Change)) (func(), error) {
	return s.storage.Watch(func(c Change) {
		if IsReservedKey(c.Key) {
			fn(c)
		}
	})
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	if err := s.storage.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
