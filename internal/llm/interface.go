package llm

import "context"

// CompletionClient defines the interface for chat completion providers.
type CompletionClient interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each chunk received.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) error
}

// Ensure Client implements CompletionClient interface.
var _ CompletionClient = (*Client)(nil)
