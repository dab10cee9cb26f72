// Package session owns per-session conversation state and the connection
// lifecycle: connect, inbound dispatch, teardown and the exactly-once
// summarization trigger.
package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/convoychat/convoy/internal/domain"
	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/orchestrator"
	"github.com/convoychat/convoy/internal/postsession"
	"github.com/convoychat/convoy/internal/protocol"
	"github.com/convoychat/convoy/internal/store"
)

// ErrSessionActive is returned when a session identifier already has a live
// connection.
var ErrSessionActive = errors.New("session already active")

// ErrSessionTornDown is returned when a session identifier has already been
// torn down; identifiers are never reactivated.
var ErrSessionTornDown = errors.New("session already torn down")

// Conn is the outbound half of a client connection.
type Conn interface {
	Send(ev protocol.ServerEvent) error
}

// Summarizer is the post-session job triggered on teardown.
type Summarizer interface {
	Run(ctx context.Context, sessionID string)
}

// state is the in-memory conversation state of one active session. It is
// owned exclusively by that session's connection read loop; turns are
// strictly sequential, so history needs no lock of its own.
type state struct {
	conn    Conn
	history []llm.ChatMessage
}

// Manager maps session identifiers to active connections and drives turns.
type Manager struct {
	store        store.Store
	orch         *orchestrator.Orchestrator
	summarizer   Summarizer
	jobs         *postsession.Jobs
	systemPrompt string

	mu       sync.RWMutex
	sessions map[string]*state
	tornDown map[string]bool
}

// NewManager creates a session manager.
func NewManager(st store.Store, orch *orchestrator.Orchestrator, summarizer Summarizer, jobs *postsession.Jobs, systemPrompt string) *Manager {
	return &Manager{
		store:        st,
		orch:         orch,
		summarizer:   summarizer,
		jobs:         jobs,
		systemPrompt: systemPrompt,
		sessions:     make(map[string]*state),
		tornDown:     make(map[string]bool),
	}
}

// Connect transitions a session to active, seeds the conversation with the
// system prompt and creates the durable session record. A store failure is
// logged and swallowed: the live connection proceeds, trading durability for
// availability on this path. This is deliberate; the summarizer detects the
// missing record later and aborts silently.
func (m *Manager) Connect(ctx context.Context, sessionID, userID string, conn Conn) error {
	m.mu.Lock()
	if m.tornDown[sessionID] {
		m.mu.Unlock()
		return ErrSessionTornDown
	}
	if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.sessions[sessionID] = &state{
		conn:    conn,
		history: []llm.ChatMessage{{Role: "system", Content: m.systemPrompt}},
	}
	m.mu.Unlock()

	if err := m.store.CreateSession(ctx, sessionID, userID); err != nil {
		log.Printf("ERROR: failed to create session %s: %v", sessionID, err)
	} else {
		log.Printf("session %s created", sessionID)
	}
	return nil
}

// HandleInbound processes one inbound frame. Frames for one session arrive
// strictly sequentially from the connection read loop; no second turn begins
// before the prior one reaches done or error.
func (m *Manager) HandleInbound(ctx context.Context, sessionID string, frame []byte) {
	m.mu.RLock()
	st := m.sessions[sessionID]
	m.mu.RUnlock()
	if st == nil {
		return
	}

	msg := protocol.Decode(frame)

	if msg.Type == protocol.TypePing {
		if err := st.conn.Send(protocol.Pong()); err != nil {
			log.Printf("WARN: failed to send pong to session %s: %v", sessionID, err)
		}
		return
	}

	if msg.Content == "" {
		return
	}

	m.runTurn(ctx, sessionID, st, msg.Content)
}

// runTurn appends the user entry, drives the orchestrator and forwards its
// normalized events to the client, persisting durable turns along the way.
func (m *Manager) runTurn(ctx context.Context, sessionID string, st *state, content string) {
	st.history = append(st.history, llm.ChatMessage{Role: "user", Content: content})

	// Append failure is not fatal to the turn.
	m.insertEvent(ctx, &domain.Event{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   content,
	})

	result := m.orch.StreamTurn(ctx, st.history, func(ev protocol.ServerEvent) error {
		if err := st.conn.Send(ev); err != nil {
			return err
		}
		if ev.Type == protocol.TypeToolResult {
			m.insertEvent(ctx, &domain.Event{
				SessionID: sessionID,
				Role:      domain.RoleTool,
				Content:   ev.Content,
				ToolName:  ev.ToolName,
			})
		}
		return nil
	})

	// Tool request/response pairs fold into history even on a failed second
	// round: the calls executed, and the next provider call must see them.
	st.history = append(st.history, result.ToolMessages...)

	if result.Failed {
		return
	}

	if result.AssistantText != "" {
		st.history = append(st.history, llm.ChatMessage{Role: "assistant", Content: result.AssistantText})
		m.insertEvent(ctx, &domain.Event{
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   result.AssistantText,
		})
	}
}

// Disconnect transitions a session to torn-down, removes its in-memory state
// and schedules exactly one summarization job. The call never waits on the
// job. A second Disconnect for the same identifier is a no-op.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	m.tornDown[sessionID] = true
	m.mu.Unlock()

	m.jobs.Go(func() {
		m.summarizer.Run(context.Background(), sessionID)
	})
	log.Printf("session %s disconnected, summary job scheduled", sessionID)
}

// ActiveSessions returns the number of active sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) insertEvent(ctx context.Context, event *domain.Event) {
	if err := m.store.InsertEvent(ctx, event); err != nil {
		log.Printf("ERROR: failed to insert %s event for session %s: %v", event.Role, event.SessionID, err)
	}
}
