package service

import (
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/sparkyapp/sparky/pkg/utils"
)

// NewAutomation returns the platform automation. Simulated keystrokes are
// only available on macOS; elsewhere the copy probes always fail and capture
// degrades to "no context".
func NewAutomation() Automation {
	if runtime.GOOS == "darwin" {
		return &darwinAutomation{}
	}
	return &noopAutomation{}
}

// darwinAutomation drives System Events through osascript for the copy
// keystroke and uses the system clipboard directly.
type darwinAutomation struct{}

const (
	copyKeystrokeScript = `tell application "System Events" to keystroke "c" using {command down}`
	// Key code 8 is the "c" key; the raw path reaches applications that do
	// not respond to character-based keystrokes.
	copyKeyCodeScript = `tell application "System Events" to key code 8 using {command down}`
)

func (a *darwinAutomation) SimulateCopy(variant CopyVariant) bool {
	script := copyKeystrokeScript
	if variant == CopyKeyCode {
		script = copyKeyCodeScript
	}

	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		utils.GetLogger().Warn("osascript copy failed", "error", err)
		return false
	}
	return true
}

func (a *darwinAutomation) ReadClipboard() (string, error) {
	return clipboard.ReadAll()
}

func (a *darwinAutomation) WriteClipboard(text string) error {
	return clipboard.WriteAll(text)
}

// noopAutomation is the fallback for platforms without simulated-keystroke
// UI automation. Clipboard access still works where supported.
type noopAutomation struct{}

func (a *noopAutomation) SimulateCopy(CopyVariant) bool { return false }

func (a *noopAutomation) ReadClipboard() (string, error) { return clipboard.ReadAll() }

func (a *noopAutomation) WriteClipboard(text string) error { return clipboard.WriteAll(text) }
