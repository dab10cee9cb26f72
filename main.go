package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/convoychat/convoy/internal/config"
	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/orchestrator"
	"github.com/convoychat/convoy/internal/policy"
	"github.com/convoychat/convoy/internal/postsession"
	"github.com/convoychat/convoy/internal/session"
	"github.com/convoychat/convoy/internal/store"
	"github.com/convoychat/convoy/internal/tools"
	"github.com/convoychat/convoy/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting conversation engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM Base URL: %s", cfg.LLMBaseURL)
	log.Printf("LLM Model: %s", cfg.LLMModel)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize completion client
	client := llm.NewCompletionClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)

	// Initialize tool policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize tool registry
	registry := tools.NewRegistry(policyEngine)
	tools.RegisterBuiltins(registry)

	// Initialize orchestrator, summarizer and session manager
	orch := orchestrator.New(client, registry, cfg.LLMModel)
	jobs := &postsession.Jobs{}
	summarizer := postsession.NewSummarizer(db, client, cfg.LLMModel)
	manager := session.NewManager(db, orch, summarizer, jobs, cfg.SystemPrompt)

	// Create echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	ws.NewServer(manager, cfg.MaxMessageSize).Register(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("WebSocket endpoint: /ws/session/{session_id}")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	// Drain pending summary jobs so summaries written after the last
	// disconnect are not lost to process exit.
	jobs.Wait()

	log.Println("Engine stopped")
}
