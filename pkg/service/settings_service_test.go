package service

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/secrets"
)

func newTestSettings(t *testing.T) (*SettingsService, *event.Emitter) {
	t.Helper()

	store, err := secrets.Open(filepath.Join(t.TempDir(), "secrets.yaml"))
	if err != nil {
		t.Fatalf("open secrets: %v", err)
	}
	emitter := event.NewEmitter()
	return NewSettingsService(store, emitter), emitter
}

func TestSettings_DefaultProvider(t *testing.T) {
	svc, _ := newTestSettings(t)

	got := svc.Get()
	if got.Provider != secrets.ProviderOpenAI {
		t.Fatalf("Provider = %q, want default %q", got.Provider, secrets.ProviderOpenAI)
	}
	if got.APIKey != "" {
		t.Fatalf("APIKey = %q, want empty", got.APIKey)
	}
}

func TestSettings_SaveRoundTrip(t *testing.T) {
	svc, emitter := newTestSettings(t)

	var notified []string
	emitter.On(event.SettingsChanged, func(ev event.Event) {
		notified = append(notified, ev.(event.SettingsChangedEvent).Provider)
	})

	in := Settings{APIKey: "sk-test", Provider: secrets.ProviderAnthropic}
	if err := svc.Save(in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := svc.Get()
	if got != in {
		t.Fatalf("Get() = %+v, want %+v", got, in)
	}
	if len(notified) != 1 || notified[0] != secrets.ProviderAnthropic {
		t.Fatalf("notifications = %v, want one for %s", notified, secrets.ProviderAnthropic)
	}
}

func TestSettings_RejectsUnknownProvider(t *testing.T) {
	svc, _ := newTestSettings(t)

	err := svc.Save(Settings{APIKey: "sk-test", Provider: "bedrock"})
	if !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("Save() error = %v, want ErrInvalidProvider", err)
	}
	if got := svc.Get().APIKey; got != "" {
		t.Fatalf("APIKey = %q, want untouched after rejected save", got)
	}
}
