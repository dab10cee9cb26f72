package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/convoychat/convoy/internal/domain"
	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/orchestrator"
	"github.com/convoychat/convoy/internal/postsession"
	"github.com/convoychat/convoy/internal/protocol"
	"github.com/convoychat/convoy/internal/tools"
)

type fakeStore struct {
	mu                sync.Mutex
	failCreateSession bool
	failInsertEvent   bool
	sessions          []string
	events            []domain.Event
}

func (s *fakeStore) CreateSession(ctx context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateSession {
		return errors.New("store unavailable")
	}
	s.sessions = append(s.sessions, sessionID)
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return nil, nil
}

func (s *fakeStore) UpdateSessionSummary(ctx context.Context, sessionID string, endTime time.Time, durationSeconds int, summary string) error {
	return nil
}

func (s *fakeStore) InsertEvent(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertEvent {
		return errors.New("store unavailable")
	}
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *event)
	return nil
}

func (s *fakeStore) GetSessionEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) recorded() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

type fakeConn struct {
	mu     sync.Mutex
	events []protocol.ServerEvent
}

func (c *fakeConn) Send(ev protocol.ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) sent() []protocol.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ServerEvent, len(c.events))
	copy(out, c.events)
	return out
}

type fakeSummarizer struct {
	mu   sync.Mutex
	runs []string
}

func (s *fakeSummarizer) Run(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, sessionID)
}

func (s *fakeSummarizer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// scriptedClient plays back pre-recorded stream chunks per provider call.
type scriptedClient struct {
	streams [][]llm.StreamChunk
	errs    []error
	calls   int
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	return nil, errors.New("not scripted")
}

func (c *scriptedClient) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) error {
	call := c.calls
	c.calls++
	if call >= len(c.streams) {
		return fmt.Errorf("unexpected provider call %d", call)
	}
	for i := range c.streams[call] {
		if err := callback(&c.streams[call][i]); err != nil {
			return err
		}
	}
	if call < len(c.errs) && c.errs[call] != nil {
		return c.errs[call]
	}
	return nil
}

func textChunk(content string) llm.StreamChunk {
	return llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{Role: "assistant", Content: content}}}}
}

func toolChunk(index int, id, name, args string) llm.StreamChunk {
	idx := index
	return llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{{
			Index:    &idx,
			ID:       id,
			Function: llm.ToolCallFunction{Name: name, Arguments: args},
		}},
	}}}}
}

type fixture struct {
	manager    *Manager
	store      *fakeStore
	summarizer *fakeSummarizer
	jobs       *postsession.Jobs
}

func newFixture(client llm.CompletionClient, registry *tools.Registry) *fixture {
	if registry == nil {
		registry = tools.NewRegistry(nil)
	}
	st := &fakeStore{}
	sum := &fakeSummarizer{}
	jobs := &postsession.Jobs{}
	orch := orchestrator.New(client, registry, "gpt")
	return &fixture{
		manager:    NewManager(st, orch, sum, jobs, "You are a helpful assistant."),
		store:      st,
		summarizer: sum,
		jobs:       jobs,
	}
}

func types(events []protocol.ServerEvent) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = ev.Type
	}
	return strings.Join(parts, ",")
}

func TestMessageTurn(t *testing.T) {
	client := &scriptedClient{streams: [][]llm.StreamChunk{
		{textChunk("Hi"), textChunk(" there")},
	}}
	f := newFixture(client, nil)
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`{"type":"message","content":"hello"}`))

	if got := types(conn.sent()); got != "token,token,done" {
		t.Fatalf("unexpected events: %s", got)
	}

	events := f.store.recorded()
	if len(events) != 2 {
		t.Fatalf("expected 2 durable events, got %d", len(events))
	}
	if events[0].Role != domain.RoleUser || events[0].Content != "hello" {
		t.Fatalf("unexpected user event: %+v", events[0])
	}
	if events[1].Role != domain.RoleAssistant || events[1].Content != "Hi there" {
		t.Fatalf("unexpected assistant event: %+v", events[1])
	}

	st := f.manager.sessions["s1"]
	if len(st.history) != 3 {
		t.Fatalf("unexpected history length: %d", len(st.history))
	}
	if st.history[0].Role != "system" || st.history[2].Content != "Hi there" {
		t.Fatalf("unexpected history: %+v", st.history)
	}
}

func TestPingOnlyGetsPong(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`{"type":"ping"}`))

	if got := types(conn.sent()); got != "pong" {
		t.Fatalf("unexpected events: %s", got)
	}
	if len(f.store.recorded()) != 0 {
		t.Fatalf("ping must not persist anything")
	}
}

func TestMalformedFrameTreatedAsText(t *testing.T) {
	client := &scriptedClient{streams: [][]llm.StreamChunk{
		{textChunk("ok")},
	}}
	f := newFixture(client, nil)
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`not json at all`))

	events := f.store.recorded()
	if len(events) == 0 || events[0].Content != "not json at all" {
		t.Fatalf("raw frame not treated as message content: %+v", events)
	}
}

func TestInsertFailureDoesNotAbortTurn(t *testing.T) {
	client := &scriptedClient{streams: [][]llm.StreamChunk{
		{textChunk("still streaming")},
	}}
	f := newFixture(client, nil)
	f.store.failInsertEvent = true
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`{"type":"message","content":"hi"}`))

	if got := types(conn.sent()); got != "token,done" {
		t.Fatalf("turn aborted on store failure: %s", got)
	}
}

func TestConnectSwallowsStoreFailure(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	f.store.failCreateSession = true

	if err := f.manager.Connect(context.Background(), "s1", "u1", &fakeConn{}); err != nil {
		t.Fatalf("store failure must not reject the connection: %v", err)
	}
	if f.manager.ActiveSessions() != 1 {
		t.Fatalf("session not active")
	}
}

func TestDuplicateConnectRejected(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", &fakeConn{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := f.manager.Connect(ctx, "s1", "u2", &fakeConn{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestReconnectAfterTeardownRejected(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", &fakeConn{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.Disconnect("s1")
	f.jobs.Wait()

	if err := f.manager.Connect(ctx, "s1", "u1", &fakeConn{}); !errors.Is(err, ErrSessionTornDown) {
		t.Fatalf("expected ErrSessionTornDown, got %v", err)
	}
}

func TestDisconnectSchedulesSummaryOnce(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", &fakeConn{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.Disconnect("s1")
	f.manager.Disconnect("s1")
	f.jobs.Wait()

	if f.summarizer.count() != 1 {
		t.Fatalf("expected exactly one summary run, got %d", f.summarizer.count())
	}
	if f.manager.ActiveSessions() != 0 {
		t.Fatalf("session still active after disconnect")
	}
}

func TestProviderErrorVoidsAssistantTurn(t *testing.T) {
	client := &scriptedClient{
		streams: [][]llm.StreamChunk{{textChunk("partial")}},
		errs:    []error{errors.New("upstream gone")},
	}
	f := newFixture(client, nil)
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`{"type":"message","content":"hi"}`))

	if got := types(conn.sent()); got != "token,error" {
		t.Fatalf("unexpected events: %s", got)
	}

	// The partial text never enters history or the durable log.
	st := f.manager.sessions["s1"]
	if len(st.history) != 2 {
		t.Fatalf("failed turn leaked into history: %+v", st.history)
	}
	for _, ev := range f.store.recorded() {
		if ev.Role == domain.RoleAssistant {
			t.Fatalf("failed turn persisted an assistant event: %+v", ev)
		}
	}
}

func TestToolTurnPersistsToolEvent(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.MustRegister(llm.Tool{Type: "function", Function: llm.ToolFunction{Name: "lookup"}},
		func(ctx context.Context, args map[string]interface{}) (string, error) { return "42", nil })

	client := &scriptedClient{streams: [][]llm.StreamChunk{
		{toolChunk(0, "call_1", "lookup", `{}`)},
		{textChunk("the answer is 42")},
	}}
	f := newFixture(client, registry)
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`{"type":"message","content":"what is the answer?"}`))

	if got := types(conn.sent()); got != "tool_call,tool_result,token,done" {
		t.Fatalf("unexpected events: %s", got)
	}

	events := f.store.recorded()
	if len(events) != 3 {
		t.Fatalf("expected user, tool and assistant events, got %d", len(events))
	}
	toolEvent := events[1]
	if toolEvent.Role != domain.RoleTool || toolEvent.ToolName != "lookup" || toolEvent.Content != "42" {
		t.Fatalf("unexpected tool event: %+v", toolEvent)
	}

	// History carries the assistant/tool pair plus the final answer.
	st := f.manager.sessions["s1"]
	if len(st.history) != 5 {
		t.Fatalf("unexpected history length: %d", len(st.history))
	}
	if st.history[2].Role != "assistant" || len(st.history[2].ToolCalls) != 1 {
		t.Fatalf("missing synthetic assistant message: %+v", st.history[2])
	}
	if st.history[3].Role != "tool" || st.history[3].ToolCallID != "call_1" {
		t.Fatalf("missing tool message: %+v", st.history[3])
	}
}

func TestInboundForUnknownSessionIgnored(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	f.manager.HandleInbound(context.Background(), "nope", []byte(`{"type":"message","content":"hi"}`))
	if len(f.store.recorded()) != 0 {
		t.Fatalf("unknown session must be ignored")
	}
}

func TestEmptyContentIgnored(t *testing.T) {
	f := newFixture(&scriptedClient{}, nil)
	conn := &fakeConn{}
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "s1", "u1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.manager.HandleInbound(ctx, "s1", []byte(`{"type":"message","content":""}`))

	if len(conn.sent()) != 0 || len(f.store.recorded()) != 0 {
		t.Fatalf("empty content must be a no-op")
	}
}
