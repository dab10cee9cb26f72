package llm

import (
	"log"
	"os"
	"time"
)

const (
	// EnvConvoyMode is the environment variable name for mode selection.
	EnvConvoyMode = "CONVOY_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewCompletionClient creates a completion client based on the CONVOY_MODE
// environment variable. If CONVOY_MODE=MOCK, returns a MockClient; otherwise
// returns a real Client.
func NewCompletionClient(baseURL, apiKey string, timeout time.Duration) CompletionClient {
	mode := os.Getenv(EnvConvoyMode)

	if mode == ModeMock {
		log.Println("CONVOY_MODE=MOCK detected, using mock completion client")
		return NewMockClient()
	}

	return NewClient(baseURL, apiKey, timeout)
}
