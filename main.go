package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sparkyapp/sparky/pkg/config"
	"github.com/sparkyapp/sparky/pkg/db"
	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/secrets"
	"github.com/sparkyapp/sparky/pkg/service"
	"github.com/sparkyapp/sparky/pkg/utils"
	"golang.design/x/hotkey/mainthread"
)

// main defers to mainthread.Init because global hotkey registration must be
// dispatched on the process main thread on macOS.
func main() {
	mainthread.Init(run)
}

func run() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	}

	cfg, _, err := config.Load()
	if err != nil {
		logger.Warn("Failed to load config; falling back to defaults", "error", err)
		cfg = &config.AppConfig{}
	}

	configDir, _, err := config.DefaultPaths()
	if err != nil {
		logger.Error("Failed to resolve config dir", "error", err)
		os.Exit(1)
	}

	secretStore, err := secrets.Open(filepath.Join(configDir, "secrets.yaml"))
	if err != nil {
		logger.Error("Failed to open secret store", "error", err)
		os.Exit(1)
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		logger.Error("Failed to resolve database path", "error", err)
		os.Exit(1)
	}
	gdb, err := db.Open(dbPath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}

	emitter := event.NewEmitter()

	chatService := service.NewChatService(gdb, secretStore, emitter, service.OpenAIModelFactory)
	settingsService := service.NewSettingsService(secretStore, emitter)
	captureService := service.NewCaptureService(service.NewAutomation(), cfg.SettleDelay(), cfg.PopulateDelay())
	activationService := service.NewActivationService(captureService, emitter, cfg.SurfaceWidth())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg.Host(), cfg.Port(), emitter, ServerDeps{
		Chat:       chatService,
		Settings:   settingsService,
		Activation: activationService,
	})
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	if cfg.HotkeyEnabled() {
		hotkeyService := service.NewHotkeyService(activationService)
		go func() {
			if err := hotkeyService.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Hotkey unavailable; use POST /api/v1/activate instead", "error", err)
			}
		}()
	}

	<-ctx.Done()
	activationService.Quit()
	logger.Info("Shutting down")
}
