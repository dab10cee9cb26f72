package tools

import (
	"context"
	"time"

	"github.com/convoychat/convoy/internal/llm"
)

// RegisterBuiltins adds the bundled tools to the registry.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        "get_current_time",
			Description: "Get the current date and time in ISO format",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
				"required":   []string{},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
}
