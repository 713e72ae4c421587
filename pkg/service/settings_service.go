package service

import (
	"errors"

	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/secrets"
)

var ErrInvalidProvider = errors.New("invalid provider")

// Settings is the user-facing settings shape.
type Settings struct {
	APIKey   string `json:"api_key"`
	Provider string `json:"provider"`
}

// SettingsService reads and saves settings through the secret store.
type SettingsService struct {
	store   *secrets.Store
	emitter *event.Emitter
}

func NewSettingsService(store *secrets.Store, emitter *event.Emitter) *SettingsService {
	return &SettingsService{store: store, emitter: emitter}
}

// Get returns the current settings. The provider defaults to openai.
func (s *SettingsService) Get() Settings {
	provider := s.store.Get(secrets.KeyProvider)
	if provider == "" {
		provider = secrets.ProviderOpenAI
	}
	return Settings{
		APIKey:   s.store.Get(secrets.KeyAPIKey),
		Provider: provider,
	}
}

// Save overwrites both settings and notifies listeners.
func (s *SettingsService) Save(settings Settings) error {
	switch settings.Provider {
	case secrets.ProviderOpenAI, secrets.ProviderAnthropic:
	default:
		return ErrInvalidProvider
	}

	if err := s.store.Set(secrets.KeyAPIKey, settings.APIKey); err != nil {
		return err
	}
	if err := s.store.Set(secrets.KeyProvider, settings.Provider); err != nil {
		return err
	}

	s.emitter.Emit(event.SettingsChangedEvent{Provider: settings.Provider})
	return nil
}
