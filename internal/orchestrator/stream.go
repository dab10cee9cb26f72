// Package orchestrator drives one streaming conversation turn against the
// completion provider, including the tool round.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/protocol"
	"github.com/convoychat/convoy/internal/tools"
)

const defaultTemperature = 0.7

// EmitFunc receives each normalized event of a turn, in order.
type EmitFunc func(ev protocol.ServerEvent) error

// ToolResult records one executed tool call of a turn.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
}

// Result is the outcome of one turn. ToolMessages holds the synthetic
// assistant/tool message pairs that must be folded into the conversation
// history so the next provider call sees a valid request/response pairing.
// When Failed is set, a single error event has already been emitted and
// AssistantText must be discarded.
type Result struct {
	AssistantText string
	ToolMessages  []llm.ChatMessage
	ToolResults   []ToolResult
	Failed        bool
}

// Orchestrator drives streaming turns.
type Orchestrator struct {
	llm   llm.CompletionClient
	tools *tools.Registry
	model string
}

// New creates an orchestrator.
func New(client llm.CompletionClient, registry *tools.Registry, model string) *Orchestrator {
	return &Orchestrator{
		llm:   client,
		tools: registry,
		model: model,
	}
}

// toolCallState accumulates one tool call across streaming increments. The
// provider addresses a call by positional index; id and name arrive whole in
// some increment, argument text arrives as fragments to concatenate in
// arrival order.
type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

// StreamTurn runs one turn: a streaming provider call with the tool catalog,
// an optional tool round followed by a second streaming call without tools,
// and a terminal done event. Every failure is converted into a single error
// event; StreamTurn never returns an error and never emits past the terminal
// event.
func (o *Orchestrator) StreamTurn(ctx context.Context, history []llm.ChatMessage, emit EmitFunc) Result {
	var assistant strings.Builder
	var calls []*toolCallState

	temperature := defaultTemperature
	req := &llm.ChatCompletionRequest{
		Model:       o.model,
		Messages:    history,
		Temperature: &temperature,
		Tools:       o.tools.Catalog(),
	}

	err := o.llm.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		delta := chunkDelta(chunk)
		if delta == nil {
			return nil
		}

		for _, tc := range delta.ToolCalls {
			if tc.Index == nil {
				continue
			}
			for len(calls) <= *tc.Index {
				calls = append(calls, &toolCallState{})
			}
			slot := calls[*tc.Index]
			if tc.ID != "" {
				slot.id = tc.ID
			}
			if tc.Function.Name != "" {
				slot.name = tc.Function.Name
			}
			slot.args.WriteString(tc.Function.Arguments)
		}

		if delta.Content != "" {
			assistant.WriteString(delta.Content)
			return emit(protocol.Token(delta.Content))
		}
		return nil
	})
	if err != nil {
		return o.fail(emit, err)
	}

	if len(calls) == 0 {
		if err := emit(protocol.Done()); err != nil {
			log.Printf("WARN: failed to emit done: %v", err)
		}
		return Result{AssistantText: assistant.String()}
	}

	// Tool round: execute accumulated calls in index order and extend the
	// message history with the request/response pairs.
	result := Result{}
	extended := make([]llm.ChatMessage, len(history), len(history)+2*len(calls))
	copy(extended, history)

	for _, call := range calls {
		args := parseArguments(call.args.String())

		id := call.id
		if id == "" {
			id = "tc_" + uuid.New().String()[:8]
		}

		if err := emit(protocol.ToolCall(call.name, id)); err != nil {
			result.Failed = true
			o.fail(emit, err)
			return result
		}

		content := o.tools.Execute(ctx, call.name, args)

		if err := emit(protocol.ToolResult(call.name, content)); err != nil {
			result.Failed = true
			o.fail(emit, err)
			return result
		}

		argsJSON, _ := json.Marshal(args)
		pair := []llm.ChatMessage{
			{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:   id,
					Type: "function",
					Function: llm.ToolCallFunction{
						Name:      call.name,
						Arguments: string(argsJSON),
					},
				}},
			},
			{
				Role:       "tool",
				ToolCallID: id,
				Content:    content,
			},
		}
		extended = append(extended, pair...)
		result.ToolMessages = append(result.ToolMessages, pair...)
		result.ToolResults = append(result.ToolResults, ToolResult{ToolCallID: id, ToolName: call.name, Content: content})
	}

	// Second provider call with the tool results; tool calls are single-shot
	// per turn, so no catalog is offered this round.
	req2 := &llm.ChatCompletionRequest{
		Model:       o.model,
		Messages:    extended,
		Temperature: &temperature,
	}
	err = o.llm.CreateChatCompletionStream(ctx, req2, func(chunk *llm.StreamChunk) error {
		delta := chunkDelta(chunk)
		if delta == nil || delta.Content == "" {
			return nil
		}
		assistant.WriteString(delta.Content)
		return emit(protocol.Token(delta.Content))
	})
	if err != nil {
		result.Failed = true
		o.fail(emit, err)
		return result
	}

	if err := emit(protocol.Done()); err != nil {
		log.Printf("WARN: failed to emit done: %v", err)
	}
	result.AssistantText = assistant.String()
	return result
}

// fail converts a provider or forwarding failure into the turn's single
// error event. The emit is best-effort: the connection may already be gone.
func (o *Orchestrator) fail(emit EmitFunc, err error) Result {
	log.Printf("ERROR: turn aborted: %v", err)
	if emitErr := emit(protocol.Error("LLM error: " + err.Error())); emitErr != nil {
		log.Printf("WARN: failed to emit error event: %v", emitErr)
	}
	return Result{Failed: true}
}

// parseArguments parses accumulated argument text. Malformed or empty text
// yields an empty argument set rather than aborting the turn.
func parseArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Printf("WARN: malformed tool arguments %q: %v", raw, err)
		return map[string]interface{}{}
	}
	return args
}

func chunkDelta(chunk *llm.StreamChunk) *llm.ChatMessage {
	if len(chunk.Choices) == 0 {
		return nil
	}
	return chunk.Choices[0].Delta
}
