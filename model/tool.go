package model

import (
	"encoding/json"
	"fmt"
)

// Tool describes one callable operation: a name, a natural-language purpose,
// and a JSON-schema parameter list, as presented to the model.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments
	Parameters json.RawMessage
}

// ToolCall is one requested tool invocation generated by the model during a
// planning step.
type ToolCall struct {
	// CallID is the provider-assigned id tying the result back to the call
	CallID string
	// Name references a declared tool; an unknown name yields a structured
	// error observation, not a crash
	Name string
	// Arguments is the raw JSON argument object from the model
	Arguments string
}

// ToolResult is the single observation produced for a ToolCall. A failed
// result carries Err and does not abort the loop.
type ToolResult struct {
	CallID  string
	Name    string
	Payload string
	Err     string
}

// IsError reports whether the result is an error observation
func (r ToolResult) IsError() bool {
	return r.Err != ""
}

// Observation renders the result as the text folded back into the loop
// context. Errors are rendered as structured notes the model can act on.
func (r ToolResult) Observation() string {
	if r.IsError() {
		return fmt.Sprintf(`{"success": false, "error": %q}`, r.Err)
	}
	return r.Payload
}

// ErrorResult builds an error observation for a call
func ErrorResult(call ToolCall, format string, args ...any) ToolResult {
	return ToolResult{
		CallID: call.CallID,
		Name:   call.Name,
		Err:    fmt.Sprintf(format, args...),
	}
}

// ToolNotFoundError is returned when no tool is registered under a name
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.ToolName)
}

// MalformedArgumentsError is returned when a tool call's argument JSON does
// not decode
type MalformedArgumentsError struct {
	ToolName string
	Cause    error
}

func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for tool %s: %v", e.ToolName, e.Cause)
}
