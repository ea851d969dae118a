package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Settings struct {
	RedirectsEnabled  bool `json:"redirects_enabled"`
	Redirect404ToHome bool `json:"redirect_404_to_home"`
}

// SettingsStore keeps Settings in a slot, falling back to defaults until
// something has been saved.
type SettingsStore struct {
	slot     Slot
	defaults Settings
}

func NewSettingsStore(slot Slot, defaults Settings) *SettingsStore {
	return &SettingsStore{slot: slot, defaults: defaults}
}

func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	value, _, err := s.slot.Load(ctx)
	if err != nil {
		return s.defaults, fmt.Errorf("failed to load settings: %w", err)
	}
	if len(value) == 0 {
		return s.defaults, nil
	}
	settings := s.defaults
	if err := json.Unmarshal(value, &settings); err != nil {
		return s.defaults, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// Current is Get for the request path: errors are logged and defaults returned.
func (s *SettingsStore) Current(ctx context.Context) Settings {
	settings, err := s.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("using default settings")
	}
	return settings
}

func (s *SettingsStore) Save(ctx context.Context, settings Settings) error {
	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		_, version, err := s.slot.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		err = s.slot.Save(ctx, value, version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		log.Info().
			Bool("redirects_enabled", settings.RedirectsEnabled).
			Bool("redirect_404_to_home", settings.Redirect404ToHome).
			Msg("settings saved")
		return nil
	}
	return fmt.Errorf("failed to save settings: %w", ErrVersionConflict)
}
