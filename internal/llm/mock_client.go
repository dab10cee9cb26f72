package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a mock implementation of CompletionClient for testing and
// offline development. When a tool catalog is offered and the user asks for
// the time, it streams a fragmented get_current_time tool call so the full
// tool round is exercisable without a network.
type MockClient struct{}

// NewMockClient creates a new mock completion client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements CompletionClient interface.
var _ CompletionClient = (*MockClient)(nil)

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: m.generateMockResponse(req),
				},
				FinishReason: "stop",
			},
		},
	}, nil
}

// CreateChatCompletionStream simulates a streaming response.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) error {
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	if len(req.Tools) > 0 && m.wantsTime(req) {
		return m.streamToolCall(ctx, id, created, req.Model, callback)
	}

	responseContent := m.generateMockResponse(req)

	// Simulate streaming by sending content in chunks
	chunks := m.splitIntoChunks(responseContent, 10)

	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}

		streamChunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{
				{
					Index: 0,
					Delta: &ChatMessage{
						Role:    "assistant",
						Content: chunk,
					},
					FinishReason: finishReason,
				},
			},
		}

		if err := callback(streamChunk); err != nil {
			return err
		}
	}

	return nil
}

// streamToolCall emits a get_current_time tool call split across chunks the
// way real providers fragment it: id and name first, then argument text.
func (m *MockClient) streamToolCall(ctx context.Context, id string, created int64, model string, callback StreamCallback) error {
	idx := 0
	deltas := [][]ToolCall{
		{{Index: &idx, ID: "call_mock_1", Type: "function", Function: ToolCallFunction{Name: "get_current_time"}}},
		{{Index: &idx, Function: ToolCallFunction{Arguments: "{"}}},
		{{Index: &idx, Function: ToolCallFunction{Arguments: "}"}}},
	}

	for i, tc := range deltas {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		finishReason := ""
		if i == len(deltas)-1 {
			finishReason = "tool_calls"
		}

		chunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []Choice{
				{
					Index:        0,
					Delta:        &ChatMessage{Role: "assistant", ToolCalls: tc},
					FinishReason: finishReason,
				},
			},
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}

	return nil
}

func (m *MockClient) wantsTime(req *ChatCompletionRequest) bool {
	return strings.Contains(strings.ToLower(m.lastUserMessage(req)), "time")
}

func (m *MockClient) lastUserMessage(req *ChatCompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// generateMockResponse generates a mock response based on the request.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	// A second-round call carries tool results to report back
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "tool" {
			return fmt.Sprintf("[MOCK] The tool returned: %s", req.Messages[i].Content)
		}
		if req.Messages[i].Role == "user" {
			break
		}
	}

	lastUserMessage := m.lastUserMessage(req)
	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the completion client."
	}

	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func (m *MockClient) splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
