package postsession

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/convoychat/convoy/internal/domain"
	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/store"
)

const summarySystemPrompt = "You are a helpful assistant that creates concise summaries of conversations. Summarize the key points and outcomes in 2-3 sentences."

const summaryMaxTokens = 150

// Summarizer produces the post-session summary and duration and writes them
// back to the session record in one update.
type Summarizer struct {
	store store.Store
	llm   llm.CompletionClient
	model string
}

// NewSummarizer creates a summarizer.
func NewSummarizer(st store.Store, client llm.CompletionClient, model string) *Summarizer {
	return &Summarizer{
		store: st,
		llm:   client,
		model: model,
	}
}

// Run executes the summary job for one disconnected session. Every failure
// is caught and logged; this job has no caller waiting on it and must never
// escalate.
func (s *Summarizer) Run(ctx context.Context, sessionID string) {
	if err := s.process(ctx, sessionID); err != nil {
		log.Printf("ERROR: summary job for session %s: %v", sessionID, err)
	}
}

func (s *Summarizer) process(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch session: %w", err)
	}
	if session == nil {
		// The session was never durably created (the connect-path write is
		// best-effort); nothing to do.
		log.Printf("session %s not found, skipping summary", sessionID)
		return nil
	}

	events, err := s.store.GetSessionEvents(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	if len(events) == 0 {
		log.Printf("no events for session %s, skipping summary", sessionID)
		return nil
	}

	summary, err := s.summarize(ctx, events)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	endTime := time.Now().UTC()
	startTime, err := ParseStartTime(session.StartTime)
	if err != nil {
		return fmt.Errorf("parse start time %q: %w", session.StartTime, err)
	}
	durationSeconds := int(endTime.Sub(startTime).Seconds())

	if err := s.store.UpdateSessionSummary(ctx, sessionID, endTime, durationSeconds, summary); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	log.Printf("session %s summary complete: %ds", sessionID, durationSeconds)
	return nil
}

// summarize requests a tool-free, non-streamed completion over the
// conversational events. Tool turns are plumbing, not conversational
// content, and are excluded from the transcript.
func (s *Summarizer) summarize(ctx context.Context, events []domain.Event) (string, error) {
	var lines []string
	for _, event := range events {
		switch event.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
			lines = append(lines, fmt.Sprintf("%s: %s", event.Role, event.Content))
		}
	}
	transcript := strings.Join(lines, "\n")

	maxTokens := summaryMaxTokens
	temperature := 0.5
	resp, err := s.llm.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: s.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: "Please summarize this conversation:\n\n" + transcript},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// startTimeLayouts are tried in order. The offset-less layouts are parsed in
// UTC: a persisted timestamp with no offset marker is UTC, not local time.
var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseStartTime normalizes a persisted start time to an absolute instant
// regardless of whether it was stored with an explicit UTC offset.
func ParseStartTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range startTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
