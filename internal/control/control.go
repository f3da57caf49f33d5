// Package control holds the global posting kill switch, the per-platform
// switches and the rate cap document, all persisted under system_settings.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postgate/internal/model"
	"postgate/internal/storage"
)

// Store is the settings persistence the service needs.
type Store interface {
	GetSetting(ctx context.Context, id string, v any) error
	PutSetting(ctx context.Context, id string, v any) error
	MutateSetting(ctx context.Context, id string, v any, mutate func(found bool) error) error
}

// Snapshot is the configuration read once at the start of a publish run
// and passed to every gate.
type Snapshot struct {
	Posting   model.PostingSettings
	Platforms model.PlatformSettings
	// PlatformsErr is set when the platform document could not be read;
	// every platform then reports disabled.
	PlatformsErr error
	// Caps is nil when no cap document exists.
	Caps *model.CapConfig
	// CapsErr is set when the cap document could not be read.
	CapsErr error
}

// IsPostingPaused reports whether the global kill switch is on.
func (s Snapshot) IsPostingPaused() bool {
	return s.Posting.Paused
}

// IsPlatformEnabled reports whether platform may publish. Global pause wins,
// and platforms without an entry are enabled.
func (s Snapshot) IsPlatformEnabled(p model.Platform) bool {
	if s.IsPostingPaused() || s.PlatformsErr != nil {
		return false
	}
	st, ok := s.Platforms[p]
	if !ok {
		return true
	}
	return st.Enabled
}

// Service reads and writes posting control settings.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Service over store.
func New(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// GetSettings returns the posting document. A missing document means posting
// is live. On read error it returns a paused document with ReadError set.
func (s *Service) GetSettings(ctx context.Context) model.PostingSettings {
	var ps model.PostingSettings
	err := s.store.GetSetting(ctx, storage.SettingPosting, &ps)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.PostingSettings{}
	case err != nil:
		s.log.Error("read posting settings, failing closed", "error", err)
		return model.PostingSettings{Paused: true, PauseReason: "settings unavailable", ReadError: true}
	}
	return ps
}

// IsPostingPaused reports whether the global kill switch is on.
func (s *Service) IsPostingPaused(ctx context.Context) bool {
	return s.GetSettings(ctx).Paused
}

// IsPlatformEnabled reports whether platform may publish right now.
func (s *Service) IsPlatformEnabled(ctx context.Context, p model.Platform) bool {
	return s.Snapshot(ctx).IsPlatformEnabled(p)
}

// Snapshot reads all governance settings once.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Posting: s.GetSettings(ctx)}

	platforms, err := s.Platforms(ctx)
	if err != nil {
		s.log.Error("read platform settings, failing closed", "error", err)
		snap.PlatformsErr = err
	}
	snap.Platforms = platforms

	snap.Caps, snap.CapsErr = s.GetCaps(ctx)
	return snap
}

// SetPaused flips the global kill switch.
func (s *Service) SetPaused(ctx context.Context, paused bool, actor, reason string) (model.PostingSettings, error) {
	ps := model.PostingSettings{Paused: paused}
	if paused {
		at := s.now().UTC()
		ps.PausedBy = actor
		ps.PausedAt = &at
		ps.PauseReason = reason
	}
	if err := s.store.PutSetting(ctx, storage.SettingPosting, ps); err != nil {
		return model.PostingSettings{}, fmt.Errorf("write posting settings: %w", err)
	}
	s.log.Info("posting switch changed", "paused", paused, "actor", actor, "reason", reason)
	return ps, nil
}

// Platforms returns the per-platform switch document. A missing document is empty.
func (s *Service) Platforms(ctx context.Context) (model.PlatformSettings, error) {
	ps := model.PlatformSettings{}
	err := s.store.GetSetting(ctx, storage.SettingPlatforms, &ps)
	if errors.Is(err, storage.ErrNotFound) {
		return model.PlatformSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read platform settings: %w", err)
	}
	return ps, nil
}

// PlatformState returns the switch state of p, enabled when absent.
func (s *Service) PlatformState(ctx context.Context, p model.Platform) (model.PlatformState, error) {
	ps, err := s.Platforms(ctx)
	if err != nil {
		return model.PlatformState{}, err
	}
	st, ok := ps[p]
	if !ok {
		return model.PlatformState{Enabled: true}, nil
	}
	return st, nil
}

// SetPlatformEnabled switches p on or off by hand. Enabling clears any
// auto-pause marker.
func (s *Service) SetPlatformEnabled(ctx context.Context, p model.Platform, enabled bool, actor string) error {
	err := s.mutatePlatform(ctx, p, func(st *model.PlatformState) bool {
		st.Enabled = enabled
		if enabled {
			st.AutoPausedAt = nil
			st.AutoPausedReason = ""
		}
		return true
	})
	if err != nil {
		return err
	}
	s.log.Info("platform switch changed", "platform", p, "enabled", enabled, "actor", actor)
	return nil
}

// AutoPausePlatform disables p on behalf of the engine. It reports whether
// the platform was enabled before the call.
func (s *Service) AutoPausePlatform(ctx context.Context, p model.Platform, reason string) (bool, error) {
	var changed bool
	err := s.mutatePlatform(ctx, p, func(st *model.PlatformState) bool {
		if !st.Enabled {
			return false
		}
		at := s.now().UTC()
		st.Enabled = false
		st.AutoPausedAt = &at
		st.AutoPausedReason = reason
		changed = true
		return true
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ResetPlatform re-enables p, clears the auto-pause marker and restarts
// error counting at the current instant.
func (s *Service) ResetPlatform(ctx context.Context, p model.Platform) (model.PlatformState, error) {
	var out model.PlatformState
	err := s.mutatePlatform(ctx, p, func(st *model.PlatformState) bool {
		at := s.now().UTC()
		*st = model.PlatformState{Enabled: true, ErrorsResetAt: &at}
		out = *st
		return true
	})
	if err != nil {
		return model.PlatformState{}, err
	}
	return out, nil
}

func (s *Service) mutatePlatform(ctx context.Context, p model.Platform, fn func(st *model.PlatformState) bool) error {
	var ps model.PlatformSettings
	err := s.store.MutateSetting(ctx, storage.SettingPlatforms, &ps, func(bool) error {
		if ps == nil {
			ps = model.PlatformSettings{}
		}
		st, ok := ps[p]
		if !ok {
			st = model.PlatformState{Enabled: true}
		}
		if fn(&st) {
			ps[p] = st
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update platform %s: %w", p, err)
	}
	return nil
}

// GetCaps returns the rate cap document, or nil when none is configured.
func (s *Service) GetCaps(ctx context.Context) (*model.CapConfig, error) {
	var cfg model.CapConfig
	err := s.store.GetSetting(ctx, storage.SettingRateCaps, &cfg)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rate caps: %w", err)
	}
	return &cfg, nil
}

// PutCaps replaces the rate cap document.
func (s *Service) PutCaps(ctx context.Context, cfg model.CapConfig) error {
	for p, c := range cfg.Platforms {
		if c.MaxPerHour < 0 || c.MaxPerDay < 0 || c.CooldownMinutes < 0 {
			return fmt.Errorf("caps for %s must not be negative", p)
		}
	}
	if err := s.store.PutSetting(ctx, storage.SettingRateCaps, cfg); err != nil {
		return fmt.Errorf("write rate caps: %w", err)
	}
	return nil
}

// SetPlatformCaps replaces the caps of a single platform.
func (s *Service) SetPlatformCaps(ctx context.Context, p model.Platform, caps model.PlatformCaps) error {
	if caps.MaxPerHour < 0 || caps.MaxPerDay < 0 || caps.CooldownMinutes < 0 {
		return fmt.Errorf("caps for %s must not be negative", p)
	}
	var cfg model.CapConfig
	err := s.store.MutateSetting(ctx, storage.SettingRateCaps, &cfg, func(bool) error {
		if cfg.Platforms == nil {
			cfg.Platforms = map[model.Platform]model.PlatformCaps{}
		}
		cfg.Platforms[p] = caps
		return nil
	})
	if err != nil {
		return fmt.Errorf("update caps for %s: %w", p, err)
	}
	return nil
}
