// Selection capture - best-effort extraction of the OS-wide text selection
package service

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sparkyapp/sparky/pkg/utils"
)

// CopyVariant selects how the simulated copy command is issued. Some
// applications ignore the character-based shortcut and only respond to the
// raw key-code path.
type CopyVariant int

const (
	CopyKeystroke CopyVariant = iota // keystroke "c" with the primary modifier
	CopyKeyCode                      // raw key code with the primary modifier
)

// Automation is the OS-level facility the capture protocol drives. All
// methods are best-effort: SimulateCopy reports success/failure, clipboard
// errors surface as empty reads / ignored writes at the protocol level.
type Automation interface {
	SimulateCopy(variant CopyVariant) bool
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
}

// CaptureService implements the clipboard-swap capture protocol:
// save the clipboard, clear it, simulate a copy in the focused application,
// and read back whatever it produced. The clipboard is a single global
// resource, so captures are serialized process-wide.
type CaptureService struct {
	mu         sync.Mutex
	automation Automation
	logger     *slog.Logger

	// Fixed delays; see config.CaptureConfig.
	settleDelay   time.Duration
	populateDelay time.Duration
}

// NewCaptureService creates a capture service over the given automation.
func NewCaptureService(automation Automation, settleDelay, populateDelay time.Duration) *CaptureService {
	return &CaptureService{
		automation:    automation,
		logger:        utils.GetLogger(),
		settleDelay:   settleDelay,
		populateDelay: populateDelay,
	}
}

// CaptureSelection attempts to read the text currently selected in the
// focused application. It always completes and returns either the captured
// text or "" - a failed capture is a normal outcome, never an error.
//
// On success the clipboard intentionally keeps the captured text, since it
// mirrors what the user just "copied". On failure the original clipboard
// content is restored.
func (s *CaptureService) CaptureSelection() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, err := s.automation.ReadClipboard()
	if err != nil {
		s.logger.Warn("Context capture: failed to read clipboard", "error", err)
		original = ""
	}
	if err := s.automation.WriteClipboard(""); err != nil {
		s.logger.Warn("Context capture: failed to clear clipboard", "error", err)
	}

	// Let the OS focus/activation settle before injecting the keystroke.
	time.Sleep(s.settleDelay)

	text := s.probe(CopyKeystroke)
	if text == "" {
		// Fallback for applications that ignore the character shortcut.
		text = s.probe(CopyKeyCode)
	}

	if strings.TrimSpace(text) == "" {
		s.logger.Debug("Context capture: no text found, restoring clipboard")
		if err := s.automation.WriteClipboard(original); err != nil {
			s.logger.Warn("Context capture: failed to restore clipboard", "error", err)
		}
		return ""
	}

	s.logger.Debug("Context capture: success", "length", len(text))
	return text
}

// probe issues one simulated copy and reads what the target application put
// on the clipboard. Automation failures count as a negative probe.
func (s *CaptureService) probe(variant CopyVariant) string {
	if ok := s.automation.SimulateCopy(variant); !ok {
		s.logger.Warn("Context capture: simulated copy failed", "variant", int(variant))
	}
	time.Sleep(s.populateDelay)

	text, err := s.automation.ReadClipboard()
	if err != nil {
		s.logger.Warn("Context capture: failed to read clipboard after copy", "error", err)
		return ""
	}
	return text
}
