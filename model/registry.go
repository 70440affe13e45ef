package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ToolHandler executes a tool with decoded arguments and returns the
// observation payload
type ToolHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// registeredTool pairs a declaration with its handler and optional display
// name for status events
type registeredTool struct {
	Decl        Tool
	Handler     ToolHandler
	DisplayName string
}

// ToolRegistry manages the fixed set of callable operations exposed to the
// model. It must be populated at startup; execution converts every failure
// mode (unknown name, malformed arguments, handler error, timeout) into a
// structured error observation rather than a propagated error.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolRegistry creates an empty tool registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register registers a declared tool with its handler. displayName is used
// in streamed status events; empty defaults to the tool name.
func (tr *ToolRegistry) Register(decl Tool, displayName string, handler ToolHandler) error {
	if decl.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for tool: %s", decl.Name)
	}
	if displayName == "" {
		displayName = decl.Name
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.tools[decl.Name]; exists {
		return fmt.Errorf("tool already registered: %s", decl.Name)
	}
	tr.tools[decl.Name] = registeredTool{Decl: decl, Handler: handler, DisplayName: displayName}
	return nil
}

// MustRegister registers a tool and panics on error. For startup wiring only.
func (tr *ToolRegistry) MustRegister(decl Tool, displayName string, handler ToolHandler) {
	if err := tr.Register(decl, displayName, handler); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", decl.Name, err))
	}
}

// Has checks if a tool is registered
func (tr *ToolRegistry) Has(name string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	_, ok := tr.tools[name]
	return ok
}

// DisplayName returns the status-event name for a tool, or the tool name
// itself when not registered
func (tr *ToolRegistry) DisplayName(name string) string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if entry, ok := tr.tools[name]; ok {
		return entry.DisplayName
	}
	return name
}

// Declarations returns all declared tools, for presentation to the model
func (tr *ToolRegistry) Declarations() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	decls := make([]Tool, 0, len(tr.tools))
	for _, entry := range tr.tools {
		decls = append(decls, entry.Decl)
	}
	return decls
}

// OpenAITools converts the declarations to the wire format
func (tr *ToolRegistry) OpenAITools() []openai.Tool {
	decls := tr.Declarations()
	tools := make([]openai.Tool, 0, len(decls))
	for _, decl := range decls {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Parameters,
			},
		})
	}
	return tools
}

// Execute runs one tool call under the given timeout and always returns a
// ToolResult. The handler keeps running after a timeout so side effects
// (e.g. a figure extraction) still land in their caches; only the
// observation reports the timeout.
func (tr *ToolRegistry) Execute(ctx context.Context, call ToolCall, timeout time.Duration) ToolResult {
	tr.mu.RLock()
	entry, ok := tr.tools[call.Name]
	tr.mu.RUnlock()

	if !ok {
		notFound := &ToolNotFoundError{ToolName: call.Name}
		return ErrorResult(call, "%s", notFound.Error())
	}

	args := make(map[string]interface{})
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			malformed := &MalformedArgumentsError{ToolName: call.Name, Cause: err}
			return ErrorResult(call, "%s", malformed.Error())
		}
	}

	// The handler runs detached from the caller's cancellation so an
	// in-flight execution can finish and populate its cache even when the
	// client goes away; only the per-call timeout cancels it. The timeout
	// context is released by the handler goroutine, not by Execute
	// returning, so a caller-cancelled return does not kill the handler.
	execCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, timeout)
	}

	type outcome struct {
		payload string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := entry.Handler(execCtx, args)
		cancel()
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return ErrorResult(call, "tool %s failed: %v", call.Name, out.err)
		}
		return ToolResult{CallID: call.CallID, Name: call.Name, Payload: out.payload}
	case <-execCtx.Done():
		return ErrorResult(call, "tool %s timed out after %s", call.Name, timeout)
	case <-ctx.Done():
		return ErrorResult(call, "tool %s cancelled: %v", call.Name, ctx.Err())
	}
}
