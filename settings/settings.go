// Package settings defines the persisted-settings contract of
// spec.md §6 and a typed accessor over it. Persisted settings storage
// is named an external collaborator in spec.md §1 ("the underlying...
// persistent settings storage"); Store is that collaborator's
// interface, and the `settings.SQLiteStore` reference implementation
// in sqlite_store.go is the ambient-configuration piece every
// SPEC_FULL component reads its tunables through — grounded in the
// teacher's own `gorm.io/gorm` + sqlite driver dependency
// (teacher's `deps.Deps{DB *gorm.DB}`).
package settings

import "strconv"

// Key is a persisted-settings key from spec.md §6.
type Key string

const (
	KeyEnableWebRTC         Key = "enableWebRTC"
	KeyEnableSyncCorrection Key = "enableSyncCorrection"
	KeyUseSpeedToSync       Key = "useSpeedToSync"
	KeyUseSkipToSync        Key = "useSkipToSync"
	KeyMinDelaySpeedToSync  Key = "minDelaySpeedToSync"
	KeyMaxDelaySpeedToSync  Key = "maxDelaySpeedToSync"
	KeySpeedToSyncDuration  Key = "speedToSyncDuration"
	KeyMinDelaySkipToSync   Key = "minDelaySkipToSync"
	KeyExtraTimeOffset      Key = "extraTimeOffset"
	KeyTimeSyncDevice       Key = "timeSyncDevice"
	KeyP2PTracker           Key = "p2pTracker"
)

// Store is the minimal get/set-by-key contract a persisted-settings
// backend must satisfy.
type Store interface {
	Get(key Key) (string, bool)
	Set(key Key, value string) error
}

// Settings is a typed accessor over a Store, applying spec.md §6's
// documented defaults whenever the store has no value for a key.
// CommandScheduler (C5) reads these on every decision rather than
// baking them in as constants, per spec.md §9's duplicate-file note
// ("command scheduler reads settings at runtime, not constants").
type Settings struct {
	store Store
}

// New wraps a Store with typed, defaulted accessors.
func New(store Store) *Settings {
	return &Settings{store: store}
}

func (s *Settings) boolOr(key Key, def bool) bool {
	v, ok := s.store.Get(key)
	if !ok {
		return def
	}
	return v == "true" || v == "1"
}

func (s *Settings) floatOr(key Key, def float64) float64 {
	v, ok := s.store.Get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (s *Settings) stringOr(key Key, def string) string {
	v, ok := s.store.Get(key)
	if !ok || v == "" {
		return def
	}
	return v
}

func (s *Settings) EnableWebRTC() bool         { return s.boolOr(KeyEnableWebRTC, true) }
func (s *Settings) EnableSyncCorrection() bool { return s.boolOr(KeyEnableSyncCorrection, true) }
func (s *Settings) UseSpeedToSync() bool       { return s.boolOr(KeyUseSpeedToSync, true) }
func (s *Settings) UseSkipToSync() bool        { return s.boolOr(KeyUseSkipToSync, true) }

func (s *Settings) MinDelaySpeedToSyncMs() float64 { return s.floatOr(KeyMinDelaySpeedToSync, 60) }
func (s *Settings) MaxDelaySpeedToSyncMs() float64 { return s.floatOr(KeyMaxDelaySpeedToSync, 3000) }
func (s *Settings) SpeedToSyncDurationMs() float64 { return s.floatOr(KeySpeedToSyncDuration, 1000) }
func (s *Settings) MinDelaySkipToSyncMs() float64  { return s.floatOr(KeyMinDelaySkipToSync, 400) }
func (s *Settings) ExtraTimeOffsetMs() float64     { return s.floatOr(KeyExtraTimeOffset, 0) }

func (s *Settings) TimeSyncDevice() string { return s.stringOr(KeyTimeSyncDevice, "server") }
func (s *Settings) P2PTracker() string     { return s.stringOr(KeyP2PTracker, "") }

// SetExtraTimeOffsetMs persists the user-configured additive offset.
func (s *Settings) SetExtraTimeOffsetMs(ms float64) error {
	return s.store.Set(KeyExtraTimeOffset, strconv.FormatFloat(ms, 'f', -1, 64))
}

// SetTimeSyncDevice persists the active time-sync device selection.
func (s *Settings) SetTimeSyncDevice(device string) error {
	return s.store.Set(KeyTimeSyncDevice, device)
}
