// Package tools provides the tool catalog and executor registry.
package tools

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/convoychat/convoy/internal/llm"
	"github.com/convoychat/convoy/internal/policy"
)

// ExecutorFunc executes a tool with parsed arguments and returns text.
type ExecutorFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition pairs a tool's catalog entry with its executor.
type Definition struct {
	Tool llm.Tool
	Exec ExecutorFunc
}

// Registry stores tool definitions keyed by name, in registration order. The
// catalog is declared once and offered unchanged to every completion call.
type Registry struct {
	mu    sync.RWMutex
	order []string
	defs  map[string]Definition
	gate  *policy.Engine
}

// NewRegistry creates an empty registry. The policy engine is optional; when
// present it is consulted before every execution.
func NewRegistry(gate *policy.Engine) *Registry {
	return &Registry{
		defs: make(map[string]Definition),
		gate: gate,
	}
}

// Register adds a tool definition.
func (r *Registry) Register(tool llm.Tool, exec ExecutorFunc) error {
	name := tool.Function.Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.order = append(r.order, name)
	r.defs[name] = Definition{Tool: tool, Exec: exec}
	return nil
}

// MustRegister adds a tool definition or panics.
func (r *Registry) MustRegister(tool llm.Tool, exec ExecutorFunc) {
	if err := r.Register(tool, exec); err != nil {
		panic(err)
	}
}

// Catalog returns the tool definitions in registration order.
func (r *Registry) Catalog() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	catalog := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		catalog = append(catalog, r.defs[name].Tool)
	}
	return catalog
}

// Execute runs the named tool. It never fails: an unknown name, a blocked
// call or an executor error all yield a descriptive text result, so a tool
// failure still produces a turn the model can react to.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name)
	}

	if r.gate != nil {
		decision, err := r.gate.Evaluate(ctx, map[string]interface{}{
			"tool_name": name,
			"args":      args,
		})
		if err != nil {
			log.Printf("WARN: policy evaluation for tool %s: %v", name, err)
		}
		if decision == policy.DecisionBlock {
			return fmt.Sprintf("tool execution blocked by policy: %s", name)
		}
	}

	result, err := def.Exec(ctx, args)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", name, err)
	}
	return result
}
