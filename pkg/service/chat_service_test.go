package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sparkyapp/sparky/pkg/db"
	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/secrets"
	"gorm.io/gorm"
)

// fakeModel streams a fixed set of fragments, optionally followed by an
// error instead of a normal completion.
type fakeModel struct {
	chunks    []string
	err       error
	streaming chan struct{} // closed when the stream starts, if non-nil
	release   chan struct{} // blocks completion until closed, if non-nil
}

func (m *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks) + 1)

	go func() {
		defer sw.Close()
		if m.streaming != nil {
			close(m.streaming)
		}
		for _, c := range m.chunks {
			sw.Send(&schema.Message{Role: schema.Assistant, Content: c}, nil)
		}
		if m.release != nil {
			select {
			case <-m.release:
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			}
		}
		if m.err != nil {
			sw.Send(nil, m.err)
		}
	}()

	return sr, nil
}

func factoryFor(m ChatModel) ModelFactory {
	return func(context.Context, string) (ChatModel, error) { return m, nil }
}

func newTestChatService(t *testing.T, factory ModelFactory) (*ChatService, *event.Emitter) {
	t.Helper()

	dir := t.TempDir()
	gdb, err := db.Open(filepath.Join(dir, "chat_history.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	store, err := secrets.Open(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		t.Fatalf("open secrets: %v", err)
	}
	if err := store.Set(secrets.KeyAPIKey, "sk-test"); err != nil {
		t.Fatalf("set api key: %v", err)
	}

	emitter := event.NewEmitter()
	return NewChatService(gdb, store, emitter, factory), emitter
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()

	var got []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for stream events, got %v", got)
		}
	}
}

func TestSubmitChat_PersistsExactConcatenation(t *testing.T) {
	chunks := []string{"Hel", "lo", " there"}
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{chunks: chunks}))

	events, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages: []ChatMessage{{Role: db.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("SubmitChat() error = %v", err)
	}

	got := collect(t, events)
	if got[0].Type != EventSessionCreated {
		t.Fatalf("first event = %s, want session_created", got[0].Type)
	}
	last := got[len(got)-1]
	if last.Type != EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}

	var streamed strings.Builder
	for _, ev := range got {
		if ev.Type == EventChunk {
			streamed.WriteString(ev.Text)
		}
	}
	if streamed.String() != "Hello there" {
		t.Fatalf("streamed = %q, want %q", streamed.String(), "Hello there")
	}

	history := svc.GetHistory(got[0].SessionID)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != db.RoleUser || history[0].Content != "hi" {
		t.Fatalf("history[0] = %+v, want user message", history[0])
	}
	if history[1].Role != db.RoleAssistant || history[1].Content != "Hello there" {
		t.Fatalf("history[1] = %+v, want full assistant concatenation", history[1])
	}
}

func TestSubmitChat_AuthMissing(t *testing.T) {
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{}))
	// Clear the key installed by the helper.
	if err := svc.secretStore.Set(secrets.KeyAPIKey, ""); err != nil {
		t.Fatalf("clear api key: %v", err)
	}

	_, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages: []ChatMessage{{Role: db.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, ErrAuthMissing) {
		t.Fatalf("SubmitChat() error = %v, want ErrAuthMissing", err)
	}

	// No session may exist: the precondition failed before any write.
	if sessions := svc.ListSessions(); len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestSubmitChat_SessionCreatedBeforeFirstChunk(t *testing.T) {
	svc, emitter := newTestChatService(t, factoryFor(&fakeModel{chunks: []string{"a"}}))

	var emitted []string
	emitter.OnAny(func(ev event.Event) { emitted = append(emitted, ev.EventName()) })

	events, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages: []ChatMessage{{Role: db.RoleUser, Content: "this message is long enough to need truncating"}},
	})
	if err != nil {
		t.Fatalf("SubmitChat() error = %v", err)
	}

	got := collect(t, events)
	if got[0].Type != EventSessionCreated {
		t.Fatalf("first event = %s, want session_created", got[0].Type)
	}
	sessionID := got[0].SessionID
	for _, ev := range got[1:] {
		if ev.SessionID != sessionID {
			t.Fatalf("event %s has session %d, want stable id %d", ev.Type, ev.SessionID, sessionID)
		}
	}

	if len(emitted) == 0 || emitted[0] != event.ChatSessionCreated {
		t.Fatalf("emitter order = %v, want %s first", emitted, event.ChatSessionCreated)
	}

	sessions := svc.ListSessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if got := sessions[0].Title; len([]rune(got)) != db.TitleMaxLen {
		t.Fatalf("title = %q (len %d), want %d-rune truncation", got, len([]rune(got)), db.TitleMaxLen)
	}
}

func TestSubmitChat_ErrorDiscardsPartialResponse(t *testing.T) {
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{
		chunks: []string{"partial "},
		err:    errors.New("upstream connection reset"),
	}))

	events, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages: []ChatMessage{{Role: db.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("SubmitChat() error = %v", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
	if !strings.Contains(last.Error, "upstream connection reset") {
		t.Fatalf("error = %q, want upstream message", last.Error)
	}

	// The partial assistant output is discarded; the user message stays.
	history := svc.GetHistory(got[0].SessionID)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want only the user message", len(history))
	}
	if history[0].Role != db.RoleUser {
		t.Fatalf("history[0].Role = %s, want user", history[0].Role)
	}
}

func TestSubmitChat_ExistingSessionNotFound(t *testing.T) {
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{}))

	_, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages:  []ChatMessage{{Role: db.RoleUser, Content: "hi"}},
		SessionID: 42,
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("SubmitChat() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitChat_SerializesSameSession(t *testing.T) {
	first := &fakeModel{
		chunks:    []string{"first response"},
		streaming: make(chan struct{}),
		release:   make(chan struct{}),
	}
	second := &fakeModel{chunks: []string{"second response"}}

	models := []ChatModel{first, second}
	i := 0
	factory := func(context.Context, string) (ChatModel, error) {
		m := models[i]
		i++
		return m, nil
	}

	svc, _ := newTestChatService(t, factory)
	sess, err := svc.CreateSession("serialize")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	eventsA, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages:  []ChatMessage{{Role: db.RoleUser, Content: "A"}},
		SessionID: sess.ID,
	})
	if err != nil {
		t.Fatalf("SubmitChat(A) error = %v", err)
	}
	<-first.streaming

	// Submit B while A still holds the session; it must wait, not interleave.
	eventsB, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages:  []ChatMessage{{Role: db.RoleUser, Content: "B"}},
		SessionID: sess.ID,
	})
	if err != nil {
		t.Fatalf("SubmitChat(B) error = %v", err)
	}

	close(first.release)
	gotA := collect(t, eventsA)
	gotB := collect(t, eventsB)

	if gotA[len(gotA)-1].Type != EventDone {
		t.Fatalf("A last event = %s, want done", gotA[len(gotA)-1].Type)
	}
	if gotB[len(gotB)-1].Type != EventDone {
		t.Fatalf("B last event = %s, want done", gotB[len(gotB)-1].Type)
	}

	history := svc.GetHistory(sess.ID)
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	want := []struct{ role, content string }{
		{db.RoleUser, "A"},
		{db.RoleAssistant, "first response"},
		{db.RoleUser, "B"},
		{db.RoleAssistant, "second response"},
	}
	for i, w := range want {
		if history[i].Role != w.role || history[i].Content != w.content {
			t.Fatalf("history[%d] = {%s %q}, want {%s %q}", i, history[i].Role, history[i].Content, w.role, w.content)
		}
	}
}

func TestDeleteSession_CancelsInFlightStream(t *testing.T) {
	m := &fakeModel{
		chunks:    []string{"doomed"},
		streaming: make(chan struct{}),
		release:   make(chan struct{}), // never closed; only cancellation ends it
	}
	svc, _ := newTestChatService(t, factoryFor(m))

	sess, err := svc.CreateSession("to delete")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	events, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages:  []ChatMessage{{Role: db.RoleUser, Content: "hi"}},
		SessionID: sess.ID,
	})
	if err != nil {
		t.Fatalf("SubmitChat() error = %v", err)
	}
	<-m.streaming

	if err := svc.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	got := collect(t, events)
	if got[len(got)-1].Type != EventError {
		t.Fatalf("last event = %s, want error after cancellation", got[len(got)-1].Type)
	}

	// The deleted session must not be resurrected by the dying stream.
	if sessions := svc.ListSessions(); len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
	if history := svc.GetHistory(sess.ID); len(history) != 0 {
		t.Fatalf("expected empty history after delete, got %d messages", len(history))
	}
}

func TestDeleteSession_CascadesAndLeavesOthers(t *testing.T) {
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{}))

	keep, err := svc.CreateSession("keep")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	drop, err := svc.CreateSession("drop")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	for _, sid := range []uint{keep.ID, drop.ID} {
		if err := svc.db.Create(&db.Message{SessionID: sid, Role: db.RoleUser, Content: "m"}).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	if err := svc.DeleteSession(drop.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	if history := svc.GetHistory(drop.ID); len(history) != 0 {
		t.Fatalf("deleted session history = %d messages, want 0", len(history))
	}
	if history := svc.GetHistory(keep.ID); len(history) != 1 {
		t.Fatalf("kept session history = %d messages, want 1", len(history))
	}
	sessions := svc.ListSessions()
	if len(sessions) != 1 || sessions[0].ID != keep.ID {
		t.Fatalf("sessions = %+v, want only the kept session", sessions)
	}
}

func TestClearAllHistory(t *testing.T) {
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{}))

	for _, title := range []string{"one", "two"} {
		sess, err := svc.CreateSession(title)
		if err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		if err := svc.db.Create(&db.Message{SessionID: sess.ID, Role: db.RoleUser, Content: "m"}).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	if err := svc.ClearAllHistory(); err != nil {
		t.Fatalf("ClearAllHistory() error = %v", err)
	}

	if sessions := svc.ListSessions(); len(sessions) != 0 {
		t.Fatalf("sessions after clear = %d, want 0", len(sessions))
	}
	var count int64
	if err := svc.db.Model(&db.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("messages after clear = %d, want 0", count)
	}
}

func TestClearAllHistory_WaitsForInFlightAssistantWrite(t *testing.T) {
	svc, _ := newTestChatService(t, factoryFor(&fakeModel{chunks: []string{"late arrival"}}))

	// Hold the assistant insert open so the wipe races a stream that has
	// already passed its cancellation and session checks.
	inserting := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	err := svc.db.Callback().Create().Before("gorm:create").Register("holdAssistantInsert", func(tx *gorm.DB) {
		if m, ok := tx.Statement.Dest.(*db.Message); ok && m.Role == db.RoleAssistant {
			once.Do(func() { close(inserting) })
			<-resume
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	events, err := svc.SubmitChat(context.Background(), &SubmitRequest{
		Messages: []ChatMessage{{Role: db.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("SubmitChat() error = %v", err)
	}
	<-inserting

	cleared := make(chan error, 1)
	go func() { cleared <- svc.ClearAllHistory() }()

	select {
	case <-cleared:
		t.Fatalf("ClearAllHistory returned while an assistant insert was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(resume)
	if err := <-cleared; err != nil {
		t.Fatalf("ClearAllHistory() error = %v", err)
	}
	collect(t, events)

	// The wipe ran after the insert committed, so nothing survives and no
	// message can be left without its owning session.
	if sessions := svc.ListSessions(); len(sessions) != 0 {
		t.Fatalf("sessions after clear = %d, want 0", len(sessions))
	}
	var count int64
	if err := svc.db.Model(&db.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("messages after clear = %d, want 0", count)
	}
	var orphans int64
	if err := svc.db.Model(&db.Message{}).
		Where("session_id NOT IN (?)", svc.db.Model(&db.Session{}).Select("id")).
		Count(&orphans).Error; err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("orphaned messages = %d, want 0", orphans)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name     string
		messages []ChatMessage
		want     string
	}{
		{"short user message", []ChatMessage{{Role: db.RoleUser, Content: "hello"}}, "hello"},
		{"truncates long message", []ChatMessage{{Role: db.RoleUser, Content: strings.Repeat("x", 50)}}, strings.Repeat("x", db.TitleMaxLen)},
		{"no user message", []ChatMessage{{Role: db.RoleAssistant, Content: "hi"}}, db.DefaultSessionTitle},
		{"blank user message", []ChatMessage{{Role: db.RoleUser, Content: "   "}}, db.DefaultSessionTitle},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveTitle(tc.messages); got != tc.want {
				t.Fatalf("deriveTitle() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAssembleConversation_ContextPlacement(t *testing.T) {
	req := &SubmitRequest{
		Messages: []ChatMessage{
			{Role: db.RoleUser, Content: "earlier"},
			{Role: db.RoleAssistant, Content: "reply"},
			{Role: db.RoleUser, Content: "latest"},
		},
		Context: "selected text",
	}

	conv := assembleConversation(req)
	if len(conv) != 5 {
		t.Fatalf("conversation length = %d, want 5", len(conv))
	}
	if conv[0].Role != schema.System {
		t.Fatalf("conv[0].Role = %s, want system", conv[0].Role)
	}
	if conv[1].Role != schema.User || !strings.Contains(conv[1].Content, "selected text") {
		t.Fatalf("conv[1] = %+v, want labeled selection context", conv[1])
	}
	if conv[2].Content != "earlier" || conv[3].Content != "reply" || conv[4].Content != "latest" {
		t.Fatalf("history order disturbed: %+v", conv[2:])
	}
}

func TestAssembleConversation_NoContext(t *testing.T) {
	req := &SubmitRequest{Messages: []ChatMessage{{Role: db.RoleUser, Content: "hi"}}}

	conv := assembleConversation(req)
	if len(conv) != 2 {
		t.Fatalf("conversation length = %d, want 2", len(conv))
	}
	if conv[1].Content != "hi" {
		t.Fatalf("conv[1].Content = %q, want %q", conv[1].Content, "hi")
	}
}
