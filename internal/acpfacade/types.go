// Package acpfacade narrows the ACP connector SDK down to the seven calls the
// turn controller and owner runtime need: start, loadOrCreate, prompt, cancel,
// setMode, setConfigOption, close.
package acpfacade

import "context"

// PermissionOption mirrors one selectable option on a permission request.
type PermissionOption struct {
	OptionID string
	Name     string
	Kind     string
}

// PermissionRequest is the facade-level view of an agent's permission prompt.
type PermissionRequest struct {
	SessionID     string
	ToolCallID    string
	Title         string
	ActionType    string
	ActionDetails map[string]any
	Options       []PermissionOption
}

// PermissionResponse carries the caller's decision back to the adapter.
type PermissionResponse struct {
	OptionID  string
	Cancelled bool
}

// PermissionRequestHandler resolves a permission request. The owner runtime's
// handler decides it from the configured permission policy; the request is
// reported to the foreground client but no answer is read back from it.
type PermissionRequestHandler func(ctx context.Context, req *PermissionRequest) (*PermissionResponse, error)

// SessionUpdate is the facade-level view of one streamed ACP session update.
// It is intentionally close to the wire shape: the queue server forwards it
// as a `session_update` message (spec §4.B) without further normalization.
type SessionUpdate struct {
	SessionID string
	Raw       any
}

// UpdateHandler receives each session update as it arrives from the adapter.
type UpdateHandler func(update SessionUpdate)

// AgentInfo describes the connected agent adapter, learned during start().
type AgentInfo struct {
	Name    string
	Version string
}

// PromptResult is returned by Prompt once the adapter reports a stop reason.
type PromptResult struct {
	StopReason string
}
