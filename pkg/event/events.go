package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ChatSessionCreated = "chat.sessionCreated"
	ChatChunk          = "chat.chunk"
	ChatDone           = "chat.done"
	ChatError          = "chat.error"
	ContextCaptured    = "capture.context"
	SurfaceShow        = "surface.show"
	SurfaceHide        = "surface.hide"
	SettingsChanged    = "system.settingsChanged"
)

// ============================================================================
// Chat Events
// ============================================================================

// ChatSessionCreatedEvent is emitted when a submission lazily creates a
// session, strictly before the first chunk of that submission.
type ChatSessionCreatedEvent struct {
	SessionID uint   `json:"session_id"`
	RequestID string `json:"request_id"`
}

func (e ChatSessionCreatedEvent) EventName() string { return ChatSessionCreated }

// ChatChunkEvent carries one incremental fragment of an assistant response.
type ChatChunkEvent struct {
	SessionID uint   `json:"session_id"`
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

func (e ChatChunkEvent) EventName() string { return ChatChunk }

// ChatDoneEvent is emitted after the full response has been persisted.
type ChatDoneEvent struct {
	SessionID uint   `json:"session_id"`
	RequestID string `json:"request_id"`
}

func (e ChatDoneEvent) EventName() string { return ChatDone }

// ChatErrorEvent is emitted when a submission fails; any partial response
// was discarded, the user's own message stays persisted.
type ChatErrorEvent struct {
	SessionID uint   `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

func (e ChatErrorEvent) EventName() string { return ChatError }

// ============================================================================
// Activation Events
// ============================================================================

// ContextCapturedEvent delivers the captured OS selection to the
// presentation layer, at most once per activation.
type ContextCapturedEvent struct {
	Text string `json:"text"`
}

func (e ContextCapturedEvent) EventName() string { return ContextCaptured }

// SurfaceShowEvent instructs the presentation layer to show the surface.
// X/Y are only meaningful when HasPointer is true; otherwise the surface
// should center itself.
type SurfaceShowEvent struct {
	X          int  `json:"x"`
	Y          int  `json:"y"`
	HasPointer bool `json:"has_pointer"`
}

func (e SurfaceShowEvent) EventName() string { return SurfaceShow }

// SurfaceHideEvent instructs the presentation layer to hide the surface.
type SurfaceHideEvent struct{}

func (e SurfaceHideEvent) EventName() string { return SurfaceHide }

// ============================================================================
// System Events
// ============================================================================

// SettingsChangedEvent is emitted after settings were saved.
type SettingsChangedEvent struct {
	Provider string `json:"provider"`
}

func (e SettingsChangedEvent) EventName() string { return SettingsChanged }
