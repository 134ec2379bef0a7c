package acpfacade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// client implements acp.Client — the callback surface the ACP connector
// invokes on us (permission requests, file I/O, terminals, session updates).
// It is an internal detail of Facade; nothing outside this package talks to
// it directly.
type client struct {
	logger        *zap.Logger
	workspaceRoot string

	mu                sync.RWMutex
	updateHandler     UpdateHandler
	permissionHandler PermissionRequestHandler
}

type clientOption func(*client)

func withLogger(l *zap.Logger) clientOption {
	return func(c *client) { c.logger = l }
}

func withWorkspaceRoot(root string) clientOption {
	return func(c *client) { c.workspaceRoot = root }
}

func withUpdateHandler(h UpdateHandler) clientOption {
	return func(c *client) { c.updateHandler = h }
}

func withPermissionHandler(h PermissionRequestHandler) clientOption {
	return func(c *client) { c.permissionHandler = h }
}

func newClient(opts ...clientOption) *client {
	c := &client{
		logger:        zap.NewNop(),
		workspaceRoot: ".",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestPermission forwards an agent permission prompt to the configured
// handler, falling back to auto-approving the first "allow" option so that
// non-interactive owners (spec §6 `--non-interactive-permissions`) don't wedge.
func (c *client) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	ctx, span := traceFacadeCall(ctx, string(p.SessionId), "request_permission")
	defer span.End()

	title := ""
	if p.ToolCall.Title != nil {
		title = *p.ToolCall.Title
	}
	span.SetAttributes(
		attribute.String("tool_call_id", string(p.ToolCall.ToolCallId)),
		attribute.Int("options_count", len(p.Options)),
	)

	c.logger.Debug("permission request",
		zap.String("session_id", string(p.SessionId)),
		zap.String("tool_call_id", string(p.ToolCall.ToolCallId)),
		zap.String("title", title))

	if len(p.Options) == 0 {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}

	c.mu.RLock()
	handler := c.permissionHandler
	c.mu.RUnlock()

	if handler != nil {
		return c.forwardPermissionRequest(ctx, handler, p)
	}
	return c.autoApprovePermission(p)
}

func (c *client) forwardPermissionRequest(ctx context.Context, handler PermissionRequestHandler, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	options := make([]PermissionOption, len(p.Options))
	for i, opt := range p.Options {
		options[i] = PermissionOption{OptionID: string(opt.OptionId), Name: opt.Name, Kind: string(opt.Kind)}
	}

	title, description := "", ""
	if p.ToolCall.Title != nil {
		description = *p.ToolCall.Title
	}
	actionType := ""
	if p.ToolCall.Kind != nil {
		actionType = string(*p.ToolCall.Kind)
		title = actionType
	}
	if title == "" && description != "" {
		if idx := strings.Index(description, " "); idx > 0 {
			title = description[:idx]
		} else {
			title = description
		}
	}

	details := make(map[string]any)
	if p.ToolCall.RawInput != nil {
		details["raw_input"] = p.ToolCall.RawInput
	}
	if description != "" && description != title {
		details["description"] = description
	}

	req := &PermissionRequest{
		SessionID:     string(p.SessionId),
		ToolCallID:    string(p.ToolCall.ToolCallId),
		Title:         title,
		ActionType:    actionType,
		ActionDetails: details,
		Options:       options,
	}

	resp, err := handler(ctx, req)
	if err != nil {
		c.logger.Warn("permission handler failed, cancelling", zap.Error(err))
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}
	if resp.Cancelled {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: acp.PermissionOptionId(resp.OptionID)},
		},
	}, nil
}

func (c *client) autoApprovePermission(p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	var selected *acp.PermissionOption
	for i := range p.Options {
		opt := &p.Options[i]
		if opt.Kind == acp.PermissionOptionKindAllowOnce || opt.Kind == acp.PermissionOptionKindAllowAlways {
			selected = opt
			break
		}
	}
	if selected == nil {
		selected = &p.Options[0]
	}
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: selected.OptionId},
		},
	}, nil
}

// resolvePath keeps file access inside the workspace root (path traversal guard).
func (c *client) resolvePath(reqPath string) (string, error) {
	var resolved string
	if filepath.IsAbs(reqPath) {
		resolved = filepath.Clean(reqPath)
	} else {
		resolved = filepath.Join(c.workspaceRoot, reqPath)
	}
	root := filepath.Clean(c.workspaceRoot) + string(filepath.Separator)
	if resolved != filepath.Clean(c.workspaceRoot) && !strings.HasPrefix(resolved, root) {
		return "", fmt.Errorf("path %q resolves outside workspace root %q", reqPath, c.workspaceRoot)
	}
	return resolved, nil
}

func (c *client) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	_, span := traceFacadeCall(ctx, "", "read_text_file")
	defer span.End()
	span.SetAttributes(attribute.String("path", p.Path))

	path, err := c.resolvePath(p.Path)
	if err != nil {
		span.RecordError(err)
		return acp.ReadTextFileResponse{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		return acp.ReadTextFileResponse{}, err
	}

	content := string(b)
	if p.Line != nil || p.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if p.Line != nil && *p.Line > 0 {
			start = *p.Line - 1
			if start > len(lines) {
				start = len(lines)
			}
		}
		end := len(lines)
		if p.Limit != nil && *p.Limit > 0 && start+*p.Limit < end {
			end = start + *p.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

func (c *client) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	_, span := traceFacadeCall(ctx, "", "write_text_file")
	defer span.End()
	span.SetAttributes(attribute.String("path", p.Path), attribute.Int("content_length", len(p.Content)))

	path, err := c.resolvePath(p.Path)
	if err != nil {
		span.RecordError(err)
		return acp.WriteTextFileResponse{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			span.RecordError(err)
			return acp.WriteTextFileResponse{}, err
		}
	}
	if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		span.RecordError(err)
		return acp.WriteTextFileResponse{}, err
	}
	return acp.WriteTextFileResponse{}, nil
}

// Terminal capabilities are advertised (§4.H) but acpx never spawns a real
// PTY on the client side — the adapter subprocess owns its own terminals.
// These stubs satisfy acp.Client without claiming terminal support beyond
// what the owner runtime actually exercises.

func (c *client) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	c.logger.Debug("create terminal requested", zap.String("command", p.Command))
	return acp.CreateTerminalResponse{TerminalId: "unsupported"}, fmt.Errorf("acpx: terminal support not implemented")
}

func (c *client) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}

func (c *client) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{Output: "", Truncated: false}, nil
}

func (c *client) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

func (c *client) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	code := 0
	return acp.WaitForTerminalExitResponse{ExitCode: &code}, nil
}

// SessionUpdate forwards the raw ACP notification to the facade's update
// handler unchanged — normalization belongs to the output formatter
// collaborator (spec §1 non-goals), not to this seam.
func (c *client) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	c.mu.RLock()
	handler := c.updateHandler
	c.mu.RUnlock()

	logRawUpdate(string(n.SessionId), n)
	if handler != nil {
		handler(SessionUpdate{SessionID: string(n.SessionId), Raw: n})
	}
	return nil
}

var _ acp.Client = (*client)(nil)
