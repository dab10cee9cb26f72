package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/policy"
)

func testTool(name string) llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        name,
			Description: "test tool",
			Parameters:  map[string]interface{}{"type": "object"},
		},
	}
}

func TestRegistryCatalogOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(testTool("b"), func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil })
	r.MustRegister(testTool("a"), func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil })

	catalog := r.Catalog()
	if len(catalog) != 2 || catalog[0].Function.Name != "b" || catalog[1].Function.Name != "a" {
		t.Fatalf("unexpected catalog: %+v", catalog)
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry(nil)
	exec := func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil }
	if err := r.Register(testTool("a"), exec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(testTool("a"), exec); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestExecuteUnknownToolNeverFails(t *testing.T) {
	r := NewRegistry(nil)
	result := r.Execute(context.Background(), "nope", nil)
	if result != "unknown tool: nope" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestExecuteExecutorErrorBecomesText(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(testTool("flaky"), func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", fmt.Errorf("boom")
	})
	result := r.Execute(context.Background(), "flaky", nil)
	if result != "tool flaky failed: boom" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestExecutePassesArguments(t *testing.T) {
	r := NewRegistry(nil)
	var got map[string]interface{}
	r.MustRegister(testTool("echo"), func(ctx context.Context, args map[string]interface{}) (string, error) {
		got = args
		return "ok", nil
	})
	result := r.Execute(context.Background(), "echo", map[string]interface{}{"city": "Paris"})
	if result != "ok" {
		t.Fatalf("unexpected result: %q", result)
	}
	if got["city"] != "Paris" {
		t.Fatalf("arguments not passed: %+v", got)
	}
}

func TestExecutePolicyBlock(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	r := NewRegistry(engine)
	r.MustRegister(testTool("shell.exec"), func(ctx context.Context, args map[string]interface{}) (string, error) {
		t.Fatal("blocked tool must not execute")
		return "", nil
	})

	result := r.Execute(ctx, "shell.exec", map[string]interface{}{"cmd": "ls"})
	if result != "tool execution blocked by policy: shell.exec" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestBuiltinGetCurrentTime(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r)

	catalog := r.Catalog()
	if len(catalog) != 1 || catalog[0].Function.Name != "get_current_time" {
		t.Fatalf("unexpected catalog: %+v", catalog)
	}

	result := r.Execute(context.Background(), "get_current_time", map[string]interface{}{})
	if _, err := time.Parse(time.RFC3339, result); err != nil {
		t.Fatalf("result not RFC 3339: %q", result)
	}
}
