package service

import (
	"context"
	"log/slog"

	"github.com/sparkyapp/sparky/pkg/utils"
	"golang.design/x/hotkey"
)

// HotkeyService registers the global activation hotkey (Ctrl+I) and feeds
// presses into the activation machine. Re-entrant presses are naturally
// serialized by the single activation machine instance.
type HotkeyService struct {
	activation *ActivationService
	logger     *slog.Logger
}

func NewHotkeyService(activation *ActivationService) *HotkeyService {
	return &HotkeyService{
		activation: activation,
		logger:     utils.GetLogger(),
	}
}

// Run registers the hotkey and blocks dispatching presses until ctx is
// cancelled. The hotkey carries no pointer position; the surface centers
// itself in that case.
func (s *HotkeyService) Run(ctx context.Context) error {
	hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl}, hotkey.KeyI)
	if err := hk.Register(); err != nil {
		return err
	}
	defer hk.Unregister()

	s.logger.Info("Global hotkey registered", "hotkey", "Ctrl+I")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hk.Keydown():
			s.activation.Activate(nil)
		}
	}
}
