package session

import (
	"encoding/json"
	"time"
)

// Preferences are the user's standing connection choices. They survive
// disconnects.
type Preferences struct {
	AutoConnect     bool
	RememberWallet  bool
	SessionDuration time.Duration
	LastWallet      string
}

// DefaultPreferences returns the preferences used when none are stored.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoConnect:     true,
		RememberWallet:  true,
		SessionDuration: 24 * time.Hour,
	}
}

// PreferencesPatch is a partial update; nil fields are left unchanged.
type PreferencesPatch struct {
	AutoConnect     *bool
	RememberWallet  *bool
	SessionDuration *time.Duration
	LastWallet      *string
}

// apply merges the patch into p.
func (patch PreferencesPatch) apply(p Preferences) Preferences {
	if patch.AutoConnect != nil {
		p.AutoConnect = *patch.AutoConnect
	}
	if patch.RememberWallet != nil {
		p.RememberWallet = *patch.RememberWallet
	}
	if patch.SessionDuration != nil {
		p.SessionDuration = *patch.SessionDuration
	}
	if patch.LastWallet != nil {
		p.LastWallet = *patch.LastWallet
	}
	return p
}

// storedPreferences is the JSON kept under KeyPreferences.
type storedPreferences struct {
	AutoConnect       *bool   `json:"autoConnect,omitempty"`
	RememberWallet    *bool   `json:"rememberWallet,omitempty"`
	SessionDurationMs *int64  `json:"sessionDurationMs,omitempty"`
	LastWallet        *string `json:"lastWallet"`
}

func encodePreferences(p Preferences) (string, error) {
	ms := p.SessionDuration.Milliseconds()
	stored := storedPreferences{
		AutoConnect:       &p.AutoConnect,
		RememberWallet:    &p.RememberWallet,
		SessionDurationMs: &ms,
	}
	if p.LastWallet != "" {
		stored.LastWallet = &p.LastWallet
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodePreferences merges stored JSON over base. Missing fields keep base values.
func decodePreferences(raw string, base Preferences) (Preferences, error) {
	var stored storedPreferences
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return base, err
	}
	p := base
	if stored.AutoConnect != nil {
		p.AutoConnect = *stored.AutoConnect
	}
	if stored.RememberWallet != nil {
		p.RememberWallet = *stored.RememberWallet
	}
	if stored.SessionDurationMs != nil && *stored.SessionDurationMs > 0 {
		p.SessionDuration = time.Duration(*stored.SessionDurationMs) * time.Millisecond
	}
	if stored.LastWallet != nil {
		p.LastWallet = *stored.LastWallet
	}
	return p, nil
}
