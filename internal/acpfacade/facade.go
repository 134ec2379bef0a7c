package acpfacade

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"
)

// Config configures a Facade.
type Config struct {
	// WorkDir is the workspace root both for path-traversal checks on file
	// callbacks and for the cwd advertised at session creation.
	WorkDir string
}

// Facade is the thin seam over the ACP connector that the turn controller
// (internal/turn) and owner runtime (internal/owner) are allowed to see.
// It exposes exactly: start, loadOrCreate (LoadSession/NewSession),
// prompt, cancel, setMode, setConfigOption, close. Everything else about
// the ACP wire format is the connector's problem, not ours (spec §1 Non-goals).
type Facade struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	conn      *acp.ClientSideConnection
	client    *client
	sessionID string

	agentInfo    AgentInfo
	capabilities acp.AgentCapabilities

	closed bool
}

// New constructs a Facade bound to stdin/stdout pipes of an already-running
// adapter subprocess. The subprocess itself is spawned and owned by the
// caller (the owner runtime), matching spec §5: "the ACP adapter subprocess
// is owned exclusively by the owner".
func New(cfg Config, logger *zap.Logger, updateHandler UpdateHandler, permissionHandler PermissionRequestHandler) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		cfg:    cfg,
		logger: logger,
		client: newClient(
			withLogger(logger),
			withWorkspaceRoot(cfg.WorkDir),
			withUpdateHandler(updateHandler),
			withPermissionHandler(permissionHandler),
		),
	}
}

// Start performs the ACP initialize handshake over the given stdio pipes.
func (f *Facade) Start(ctx context.Context, stdin io.Writer, stdout io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return fmt.Errorf("acpfacade: already started")
	}

	conn := acp.NewClientSideConnection(f.client, stdin, stdout)
	conn.SetLogger(slog.Default().With("component", "acp-conn"))

	resp, err := conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs:       acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
		ClientInfo: &acp.Implementation{
			Name:    "acpx",
			Version: "0.1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("acp initialize handshake failed: %w", err)
	}

	f.conn = conn
	f.capabilities = resp.AgentCapabilities
	f.agentInfo = AgentInfo{Name: "unknown", Version: "unknown"}
	if resp.AgentInfo != nil {
		f.agentInfo.Name = resp.AgentInfo.Name
		f.agentInfo.Version = resp.AgentInfo.Version
	}

	f.logger.Info("acp adapter started",
		zap.String("agent_name", f.agentInfo.Name),
		zap.String("agent_version", f.agentInfo.Version),
		zap.Bool("supports_load_session", f.capabilities.LoadSession))
	return nil
}

// AgentInfo returns the agent identity learned at Start.
func (f *Facade) AgentInfo() AgentInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.agentInfo
}

// LoadOrCreate resumes sessionID if the adapter advertises LoadSession
// capability and sessionID is non-empty, otherwise creates a fresh session
// rooted at cfg.WorkDir; a load the adapter rejects also falls back to a
// fresh session. It returns the ACP session id actually in use —
// per spec §9's open question, the owner keeps this distinct from the
// SessionKey-derived record id used for lease/IPC naming.
func (f *Facade) LoadOrCreate(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return "", fmt.Errorf("acpfacade: not started")
	}

	if sessionID != "" && f.capabilities.LoadSession {
		if _, err := f.conn.LoadSession(ctx, acp.LoadSessionRequest{SessionId: acp.SessionId(sessionID)}); err != nil {
			f.logger.Warn("load session rejected, creating a new session",
				zap.String("session_id", sessionID), zap.Error(err))
		} else {
			f.sessionID = sessionID
			f.logger.Info("loaded session", zap.String("session_id", sessionID))
			return sessionID, nil
		}
	}

	resp, err := f.conn.NewSession(ctx, acp.NewSessionRequest{Cwd: f.cfg.WorkDir, McpServers: []acp.McpServer{}})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	f.sessionID = string(resp.SessionId)
	f.logger.Info("created session", zap.String("session_id", f.sessionID))
	return f.sessionID, nil
}

// Prompt sends message as the session's next prompt and blocks until the
// adapter reports a terminal stop reason. The turn controller (§4.E) is
// what actually sequences calls to this method — Facade itself is not
// reentrant-safe across concurrent Prompt calls for the same session.
func (f *Facade) Prompt(ctx context.Context, message string) (PromptResult, error) {
	f.mu.RLock()
	conn := f.conn
	sessionID := f.sessionID
	f.mu.RUnlock()

	if conn == nil {
		return PromptResult{}, fmt.Errorf("acpfacade: not started")
	}

	ctx, span := traceFacadeCall(ctx, sessionID, "prompt")
	defer span.End()

	resp, err := conn.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(sessionID),
		Prompt:    []acp.ContentBlock{acp.TextBlock(message)},
	})
	if err != nil {
		return PromptResult{}, err
	}
	return PromptResult{StopReason: string(resp.StopReason)}, nil
}

// Cancel asks the adapter to cancel the in-flight prompt for the current
// session. It is a notification (fire-and-forget on the wire), matching
// ACP's own Cancel semantics.
func (f *Facade) Cancel(ctx context.Context) error {
	f.mu.RLock()
	conn := f.conn
	sessionID := f.sessionID
	f.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("acpfacade: not started")
	}
	_, span := traceFacadeCall(ctx, sessionID, "cancel")
	defer span.End()

	return conn.Cancel(ctx, acp.CancelNotification{SessionId: acp.SessionId(sessionID)})
}

// SetMode switches the active session's operating mode (e.g. plan vs. act).
func (f *Facade) SetMode(ctx context.Context, modeID string) error {
	f.mu.RLock()
	conn := f.conn
	sessionID := f.sessionID
	f.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("acpfacade: not started")
	}
	ctx, span := traceFacadeCall(ctx, sessionID, "set_mode")
	defer span.End()

	_, err := conn.SetSessionMode(ctx, acp.SetSessionModeRequest{
		SessionId: acp.SessionId(sessionID),
		ModeId:    acp.SessionModeId(modeID),
	})
	return err
}

// SetConfigOption updates one adapter-side session configuration value
// (e.g. model selection) and returns the adapter's acknowledgement payload.
func (f *Facade) SetConfigOption(ctx context.Context, configID string, value any) (any, error) {
	f.mu.RLock()
	conn := f.conn
	sessionID := f.sessionID
	f.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("acpfacade: not started")
	}
	ctx, span := traceFacadeCall(ctx, sessionID, "set_config_option")
	defer span.End()

	resp, err := conn.SetSessionConfigOption(ctx, acp.SetSessionConfigOptionRequest{
		SessionId: acp.SessionId(sessionID),
		ConfigId:  configID,
		Value:     value,
	})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// SessionID returns the ACP session id currently in use, or "" before
// LoadOrCreate has run.
func (f *Facade) SessionID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sessionID
}

// Close releases the facade. It does not kill the adapter subprocess —
// RequiresProcessKill reports that ACP agents exit on stdin close, which the
// owner runtime handles by closing the pipe it owns.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.logger.Info("acp facade closed")
	return nil
}

// RequiresProcessKill reports that ACP agents exit cleanly when stdin is
// closed rather than needing a signal.
func (f *Facade) RequiresProcessKill() bool {
	return false
}
