// Activation state machine - hotkey-driven show/hide of the assistant surface
package service

import (
	"log/slog"
	"sync"

	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/utils"
)

// Pointer is an optional screen position supplied with an activation. When
// present, the surface is positioned centered above the cursor.
type Pointer struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// surfacePointerYOffset lifts the surface slightly above the cursor.
const surfacePointerYOffset = 20

// ActivationService is the single per-process state machine governing the
// assistant surface. State lives in explicit fields behind a mutex; the
// presentation layer observes transitions through surface events.
type ActivationService struct {
	mu            sync.Mutex
	visible       bool
	focused       bool
	quitting      bool
	inspectorOpen bool
	activating    bool

	capture      *CaptureService
	emitter      *event.Emitter
	surfaceWidth int
	logger       *slog.Logger
}

// NewActivationService creates the activation machine.
func NewActivationService(capture *CaptureService, emitter *event.Emitter, surfaceWidth int) *ActivationService {
	return &ActivationService{
		capture:      capture,
		emitter:      emitter,
		surfaceWidth: surfaceWidth,
		logger:       utils.GetLogger(),
	}
}

// Activate handles one hotkey press. Visible and focused: hide. Otherwise:
// capture the current selection, deliver it as a one-shot context event,
// then show the surface at the pointer (when known) and claim focus.
//
// The capture protocol runs before the surface becomes visible so the copy
// keystroke reaches the application that currently has OS focus. Activations
// arriving while a capture cycle is in flight (hotkey racing the HTTP path)
// are dropped, so one press yields at most one show.
func (s *ActivationService) Activate(pointer *Pointer) {
	s.mu.Lock()
	if s.quitting || s.activating {
		s.mu.Unlock()
		return
	}
	if s.visible && s.focused {
		s.hideLocked()
		s.mu.Unlock()
		return
	}
	s.activating = true
	s.mu.Unlock()

	// Capture outside the state lock; the capture service serializes itself.
	if text := s.capture.CaptureSelection(); text != "" {
		s.emitter.Emit(event.ContextCapturedEvent{Text: text})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activating = false
	if s.quitting {
		return
	}

	show := event.SurfaceShowEvent{}
	if pointer != nil {
		show.X = pointer.X - s.surfaceWidth/2
		show.Y = pointer.Y - surfacePointerYOffset
		show.HasPointer = true
	}
	s.emitter.Emit(show)
	s.visible = true
	s.focused = true
}

// NotifyBlur records that the surface lost focus. The surface hides unless
// an attached inspector holds focus.
func (s *ActivationService) NotifyBlur() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.focused = false
	if s.visible && !s.inspectorOpen {
		s.hideLocked()
	}
}

// NotifyInspector records whether an inspection/debug tool is attached.
func (s *ActivationService) NotifyInspector(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inspectorOpen = open
}

// Hide hides the surface explicitly. State is retained for the next
// activation.
func (s *ActivationService) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible {
		s.hideLocked()
	}
}

// Quit marks the machine as terminating; further activations are ignored.
// An in-flight chat stream is deliberately not cancelled by hiding.
func (s *ActivationService) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quitting = true
	if s.visible {
		s.hideLocked()
	}
}

// Visible reports whether the surface is currently shown.
func (s *ActivationService) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *ActivationService) hideLocked() {
	s.visible = false
	s.focused = false
	s.emitter.Emit(event.SurfaceHideEvent{})
}
