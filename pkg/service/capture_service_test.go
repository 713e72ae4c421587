package service

import (
	"errors"
	"testing"
)

// fakeAutomation scripts clipboard behavior per copy variant. populate maps a
// variant to the text the "target application" writes when that variant is
// simulated; variants absent from the map do nothing.
type fakeAutomation struct {
	clipboard string
	readErr   error
	populate  map[CopyVariant]string
	copyFails bool
	copyCalls []CopyVariant
}

func (a *fakeAutomation) SimulateCopy(variant CopyVariant) bool {
	a.copyCalls = append(a.copyCalls, variant)
	if a.copyFails {
		return false
	}
	if text, ok := a.populate[variant]; ok {
		a.clipboard = text
	}
	return true
}

func (a *fakeAutomation) ReadClipboard() (string, error) {
	if a.readErr != nil {
		return "", a.readErr
	}
	return a.clipboard, nil
}

func (a *fakeAutomation) WriteClipboard(text string) error {
	a.clipboard = text
	return nil
}

func TestCaptureSelection_Success(t *testing.T) {
	auto := &fakeAutomation{
		clipboard: "previous clipboard",
		populate:  map[CopyVariant]string{CopyKeystroke: "selected text"},
	}
	svc := NewCaptureService(auto, 0, 0)

	if got := svc.CaptureSelection(); got != "selected text" {
		t.Fatalf("CaptureSelection() = %q, want %q", got, "selected text")
	}
	// On success the clipboard keeps the captured text.
	if auto.clipboard != "selected text" {
		t.Fatalf("clipboard = %q, want captured text retained", auto.clipboard)
	}
	if len(auto.copyCalls) != 1 || auto.copyCalls[0] != CopyKeystroke {
		t.Fatalf("copy calls = %v, want single keystroke probe", auto.copyCalls)
	}
}

func TestCaptureSelection_FallbackVariant(t *testing.T) {
	auto := &fakeAutomation{
		clipboard: "previous clipboard",
		populate:  map[CopyVariant]string{CopyKeyCode: "stubborn app selection"},
	}
	svc := NewCaptureService(auto, 0, 0)

	if got := svc.CaptureSelection(); got != "stubborn app selection" {
		t.Fatalf("CaptureSelection() = %q, want key-code capture", got)
	}
	want := []CopyVariant{CopyKeystroke, CopyKeyCode}
	if len(auto.copyCalls) != 2 || auto.copyCalls[0] != want[0] || auto.copyCalls[1] != want[1] {
		t.Fatalf("copy calls = %v, want keystroke then key code", auto.copyCalls)
	}
}

func TestCaptureSelection_NoSelectionRestoresClipboard(t *testing.T) {
	auto := &fakeAutomation{clipboard: "previous clipboard"}
	svc := NewCaptureService(auto, 0, 0)

	if got := svc.CaptureSelection(); got != "" {
		t.Fatalf("CaptureSelection() = %q, want empty", got)
	}
	if auto.clipboard != "previous clipboard" {
		t.Fatalf("clipboard = %q, want original restored", auto.clipboard)
	}
	if len(auto.copyCalls) != 2 {
		t.Fatalf("copy calls = %v, want both variants attempted", auto.copyCalls)
	}
}

func TestCaptureSelection_WhitespaceOnlyRestoresClipboard(t *testing.T) {
	auto := &fakeAutomation{
		clipboard: "previous clipboard",
		populate:  map[CopyVariant]string{CopyKeystroke: "  \n\t "},
	}
	svc := NewCaptureService(auto, 0, 0)

	if got := svc.CaptureSelection(); got != "" {
		t.Fatalf("CaptureSelection() = %q, want empty for whitespace-only", got)
	}
	if auto.clipboard != "previous clipboard" {
		t.Fatalf("clipboard = %q, want original restored", auto.clipboard)
	}
}

func TestCaptureSelection_AutomationFailure(t *testing.T) {
	auto := &fakeAutomation{clipboard: "previous clipboard", copyFails: true}
	svc := NewCaptureService(auto, 0, 0)

	if got := svc.CaptureSelection(); got != "" {
		t.Fatalf("CaptureSelection() = %q, want empty when automation fails", got)
	}
	if auto.clipboard != "previous clipboard" {
		t.Fatalf("clipboard = %q, want original restored", auto.clipboard)
	}
}

func TestCaptureSelection_ClipboardReadError(t *testing.T) {
	auto := &fakeAutomation{readErr: errors.New("clipboard unavailable")}
	svc := NewCaptureService(auto, 0, 0)

	// A broken clipboard must degrade to an empty capture, never panic or
	// return an error to the activation path.
	if got := svc.CaptureSelection(); got != "" {
		t.Fatalf("CaptureSelection() = %q, want empty on clipboard error", got)
	}
}
