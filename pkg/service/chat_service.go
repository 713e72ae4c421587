// Chat service - streaming chat sessions backed by an OpenAI-compatible model
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sparkyapp/sparky/pkg/db"
	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/secrets"
	"github.com/sparkyapp/sparky/pkg/utils"
	"gorm.io/gorm"
)

var (
	ErrAuthMissing     = errors.New("API Key missing. Settings > Add Key.")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoMessages      = errors.New("no messages provided")
)

// systemPrompt is prepended to every provider call. It is never persisted.
const systemPrompt = `You are Sparky, a helpful AI assistant living in a global floating window.
The user may provide "Context" captured from their current text selection.
Priority: Answer the user's question. Use context if relevant.
Keep answers concise and clear.`

// contextPreamble labels captured selection text inside the conversation.
const contextPreamble = "[CONTEXT FROM USER SELECTION]:\n%s\n\nPlease use the above context to help answer my next message."

// ChatModel is the slice of the eino model surface the pipeline needs.
// The production implementation is an eino OpenAI chat model; tests inject
// a fake built on schema.Pipe.
type ChatModel interface {
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// ModelFactory builds a ChatModel for the given API key. Factored out so the
// streaming pipeline is independent of provider construction.
type ModelFactory func(ctx context.Context, apiKey string) (ChatModel, error)

// ChatMessage is one entry of the conversation as submitted by the caller.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SubmitRequest is one chat submission.
type SubmitRequest struct {
	Messages  []ChatMessage `json:"messages"`
	Context   string        `json:"context,omitempty"`
	SessionID uint          `json:"session_id,omitempty"`
}

// Stream event types delivered per submission.
const (
	EventSessionCreated = "session_created"
	EventChunk          = "chunk"
	EventDone           = "done"
	EventError          = "error"
)

// StreamEvent is one element of a submission's event sequence:
// zero or one session_created, zero or more chunks, then exactly one of
// done or error.
type StreamEvent struct {
	Type      string `json:"type"`
	SessionID uint   `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// streamSession tracks an in-flight stream for a session (the Streaming
// half of the per-session Idle/Streaming state).
type streamSession struct {
	RequestID string
	Cancel    context.CancelFunc
}

// ChatService owns the conversation store and the streaming chat pipeline.
type ChatService struct {
	db           *gorm.DB
	secretStore  *secrets.Store
	emitter      *event.Emitter
	modelFactory ModelFactory
	logger       *slog.Logger

	// sessionLocks serializes submissions per session. sessionLocks and
	// activeStreams are keyed by session ID.
	sessionLocks  sync.Map // uint -> *sync.Mutex
	activeStreams sync.Map // uint -> *streamSession
}

// NewChatService creates a new chat service.
func NewChatService(gdb *gorm.DB, secretStore *secrets.Store, emitter *event.Emitter, factory ModelFactory) *ChatService {
	return &ChatService{
		db:           gdb,
		secretStore:  secretStore,
		emitter:      emitter,
		modelFactory: factory,
		logger:       utils.GetLogger(),
	}
}

// ========== Session Management ==========

// ListSessions returns all sessions, most recent first. Read failures
// degrade to an empty list so the presentation layer stays usable.
func (s *ChatService) ListSessions() []db.Session {
	var sessions []db.Session
	if err := s.db.Order("created_at DESC, id DESC").Find(&sessions).Error; err != nil {
		s.logger.Warn("Failed to list sessions", "error", err)
		return []db.Session{}
	}
	return sessions
}

// CreateSession creates a new session with the given title.
func (s *ChatService) CreateSession(title string) (*db.Session, error) {
	if strings.TrimSpace(title) == "" {
		title = db.DefaultSessionTitle
	}
	sess := &db.Session{Title: title}
	if err := s.db.Create(sess).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetHistory returns the ordered message history for a session. Read
// failures and unknown sessions degrade to an empty list.
func (s *ChatService) GetHistory(sessionID uint) []db.Message {
	var messages []db.Message
	if err := s.db.Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		s.logger.Warn("Failed to load history", "sessionID", sessionID, "error", err)
		return []db.Message{}
	}
	return messages
}

// DeleteSession removes a session and all its messages. An in-flight stream
// for the session is cancelled so its result cannot resurrect the session.
func (s *ChatService) DeleteSession(sessionID uint) error {
	s.cancelStream(sessionID)

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&db.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Session{}, sessionID).Error
	})
}

// ClearAllHistory removes every session and message. In-flight streams are
// cancelled, then every known session lock is held across the wipe so a
// stream past its cancellation check cannot commit a message afterwards.
func (s *ChatService) ClearAllHistory() error {
	s.activeStreams.Range(func(key, _ any) bool {
		s.cancelStream(key.(uint))
		return true
	})

	// Locks are taken in session-ID order so concurrent wipes cannot
	// deadlock each other.
	var ids []uint
	s.sessionLocks.Range(func(key, _ any) bool {
		ids = append(ids, key.(uint))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.sessionLock(id).Lock()
	}
	defer func() {
		for _, id := range ids {
			s.sessionLock(id).Unlock()
		}
	}()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&db.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&db.Session{}).Error
	})
}

// ========== Streaming Chat Pipeline ==========

// SubmitChat runs one chat submission. It fails fast (no writes, no network)
// when preconditions are not met; otherwise it returns a channel delivering
// the submission's event sequence. Submissions against the same session are
// serialized.
func (s *ChatService) SubmitChat(ctx context.Context, req *SubmitRequest) (<-chan StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	apiKey := s.secretStore.Get(secrets.KeyAPIKey)
	if apiKey == "" {
		return nil, ErrAuthMissing
	}

	requestID := uuid.New().String()
	events := make(chan StreamEvent, 64)

	// Resolve the session before any provider work so session_created is
	// observable strictly before the first chunk.
	sessionID := req.SessionID
	created := false
	if sessionID == 0 {
		sess, err := s.CreateSession(deriveTitle(req.Messages))
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
		created = true
	} else {
		var sess db.Session
		if err := s.db.First(&sess, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, err
		}
	}

	go func() {
		defer close(events)

		if created {
			events <- StreamEvent{Type: EventSessionCreated, SessionID: sessionID, RequestID: requestID}
			s.emitter.Emit(event.ChatSessionCreatedEvent{SessionID: sessionID, RequestID: requestID})
		}

		lock := s.sessionLock(sessionID)
		lock.Lock()
		defer lock.Unlock()

		if err := s.runStream(ctx, requestID, sessionID, req, events); err != nil {
			events <- StreamEvent{Type: EventError, SessionID: sessionID, RequestID: requestID, Error: err.Error()}
			s.emitter.Emit(event.ChatErrorEvent{SessionID: sessionID, RequestID: requestID, Message: err.Error()})
			return
		}

		events <- StreamEvent{Type: EventDone, SessionID: sessionID, RequestID: requestID}
		s.emitter.Emit(event.ChatDoneEvent{SessionID: sessionID, RequestID: requestID})
	}()

	return events, nil
}

// runStream performs the user-message write, the provider call, and the
// assistant-message write for one submission. The caller holds the session
// lock for the whole call, which gives the write/call/write ordering
// guarantee.
func (s *ChatService) runStream(ctx context.Context, requestID string, sessionID uint, req *SubmitRequest, events chan<- StreamEvent) error {
	// The session may have been deleted while we waited on the lock.
	var sess db.Session
	if err := s.db.First(&sess, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	// Durable write of the user's own input before any provider call, so a
	// crash mid-stream never loses it.
	last := req.Messages[len(req.Messages)-1]
	if last.Role == db.RoleUser {
		userMsg := &db.Message{SessionID: sessionID, Role: db.RoleUser, Content: last.Content}
		if err := s.db.Create(userMsg).Error; err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.activeStreams.Store(sessionID, &streamSession{RequestID: requestID, Cancel: cancel})
	defer s.activeStreams.Delete(sessionID)

	chatModel, err := s.modelFactory(streamCtx, s.secretStore.Get(secrets.KeyAPIKey))
	if err != nil {
		return err
	}

	reader, err := chatModel.Stream(streamCtx, assembleConversation(req))
	if err != nil {
		return err
	}
	defer reader.Close()

	// Accumulate fragments in memory; nothing is persisted until the stream
	// completes.
	var accumulator strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error("Provider stream error", "sessionID", sessionID, "error", err)
			return err
		}
		if chunk.Content == "" {
			continue
		}
		accumulator.WriteString(chunk.Content)
		events <- StreamEvent{Type: EventChunk, SessionID: sessionID, RequestID: requestID, Text: chunk.Content}
		s.emitter.Emit(event.ChatChunkEvent{SessionID: sessionID, RequestID: requestID, Text: chunk.Content})
	}

	// Cancellation (session deleted, shutdown) discards the accumulator.
	if err := streamCtx.Err(); err != nil {
		return err
	}

	// The delete path cancels first, but re-check existence so a completed
	// stream never writes into a session removed while it ran.
	var check db.Session
	if err := s.db.First(&check, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	assistantMsg := &db.Message{SessionID: sessionID, Role: db.RoleAssistant, Content: accumulator.String()}
	if err := s.db.Create(assistantMsg).Error; err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}

	return nil
}

// cancelStream aborts the in-flight stream for a session, if any.
func (s *ChatService) cancelStream(sessionID uint) {
	if v, ok := s.activeStreams.Load(sessionID); ok {
		v.(*streamSession).Cancel()
	}
}

func (s *ChatService) sessionLock(sessionID uint) *sync.Mutex {
	v, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// assembleConversation builds the provider request: system prompt first,
// then the captured context (if any) as a synthetic user entry, then the
// submitted history in original order.
func assembleConversation(req *SubmitRequest) []*schema.Message {
	conversation := make([]*schema.Message, 0, len(req.Messages)+2)
	conversation = append(conversation, &schema.Message{Role: schema.System, Content: systemPrompt})

	if req.Context != "" {
		conversation = append(conversation, &schema.Message{
			Role:    schema.User,
			Content: fmt.Sprintf(contextPreamble, req.Context),
		})
	}

	for _, m := range req.Messages {
		conversation = append(conversation, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
	}
	return conversation
}

// deriveTitle takes the latest user message, truncated, as the session title.
func deriveTitle(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != db.RoleUser {
			continue
		}
		title := strings.TrimSpace(messages[i].Content)
		if title == "" {
			break
		}
		runes := []rune(title)
		if len(runes) > db.TitleMaxLen {
			return string(runes[:db.TitleMaxLen])
		}
		return title
	}
	return db.DefaultSessionTitle
}
