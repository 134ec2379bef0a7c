// Package owner implements spec component F: the queue-owner main loop.
// It wires together the lease store (A), queue server (C), turn controller
// (E) and ACP facade (H) into the single long-lived process that a
// SessionKey's lease names.
package owner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acpx/acpx/internal/acpfacade"
	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/lease"
	"github.com/acpx/acpx/internal/metrics"
	"github.com/acpx/acpx/internal/queueproto"
	"github.com/acpx/acpx/internal/queueserver"
	"github.com/acpx/acpx/internal/sessionkey"
	"github.com/acpx/acpx/internal/sessionrecord"
	"github.com/acpx/acpx/internal/turn"
)

// Dependencies configures one owner process. TTLMs follows spec §4.F's
// normalization: a negative value stands in for "null" (Go has no null int),
// 0 means no TTL, any positive value is the TTL in milliseconds.
type Dependencies struct {
	Logger       *zap.Logger
	HomeDir      string
	Key          sessionkey.Key
	SessionID    string
	AgentCommand []string
	WorkDir      string

	TTLMs                     int
	PermissionMode            string
	NonInteractivePermissions string
	AuthPolicy                string
	// DefaultTimeoutMs bounds an adapter call when a submit_prompt request
	// doesn't carry its own timeoutMs (spec §6 --timeout-ms).
	DefaultTimeoutMs         int
	SuppressSDKConsoleErrors bool

	// MetricsAddr, if non-empty, serves Prometheus metrics over HTTP for the
	// life of this owner (SPEC_FULL §S.6). Empty means metrics stay
	// collected in-process but unexposed.
	MetricsAddr string
}

// Runtime holds one owner process's live state.
type Runtime struct {
	deps       Dependencies
	logger     *zap.Logger
	leaseStore *lease.Store
	lease      *lease.Lease
	server     *queueserver.Server
	turnCtrl   *turn.Controller
	facade     *acpfacade.Facade
	metrics    *metrics.Owner

	adapterCmd   *exec.Cmd
	adapterStdin io.WriteCloser

	mu          sync.RWMutex
	currentTask *queueserver.PromptTask
}

// Run acquires the lease, starts the queue server and the ACP adapter, and
// runs the main loop until idle TTL, a fatal error, or ctx cancellation.
// Returns nil if another owner was already live (spec: log and exit 0).
func Run(ctx context.Context, deps Dependencies) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	leaseStore := lease.NewStore(deps.HomeDir, logger)
	l, err := leaseStore.TryAcquire(deps.Key, deps.SessionID)
	if err != nil {
		if errors.Is(err, lease.ErrOwnerLive) {
			logger.Info("another owner is already live for this session", zap.String("session_key", deps.Key.String()))
			return nil
		}
		return fmt.Errorf("owner: acquire lease: %w", err)
	}

	rt := &Runtime{
		deps:       deps,
		logger:     logger,
		leaseStore: leaseStore,
		lease:      l,
		turnCtrl:   turn.New(nil, logger),
		metrics:    metrics.NewOwner(),
	}

	srv, err := queueserver.Listen(l.SocketPath, rt, logger)
	if err != nil {
		_ = leaseStore.Release(deps.Key)
		return fmt.Errorf("owner: bind queue socket: %w", err)
	}
	rt.server = srv

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()
	defer rt.shutdown()

	if err := rt.startAdapter(ctx); err != nil {
		return fmt.Errorf("owner: start adapter: %w", err)
	}
	rt.turnCtrl = turn.New(rt.facade, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		rt.server.Serve(groupCtx)
		return nil
	})
	group.Go(func() error {
		return rt.heartbeatLoop(groupCtx)
	})
	group.Go(func() error {
		// The main loop ending (idle TTL) stops the other loops too.
		defer cancelAll()
		return rt.mainLoop(groupCtx)
	})
	group.Go(func() error {
		return rt.metrics.Serve(groupCtx, rt.deps.MetricsAddr, logger)
	})

	err = group.Wait()
	cancelAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startAdapter spawns the ACP adapter subprocess and performs the
// initialize handshake, matching §4.H / §5 "the ACP adapter subprocess is
// owned exclusively by the owner".
func (rt *Runtime) startAdapter(ctx context.Context) error {
	if len(rt.deps.AgentCommand) == 0 {
		return errors.New("owner: no agent command configured")
	}

	cmd := exec.Command(rt.deps.AgentCommand[0], rt.deps.AgentCommand[1:]...)
	cmd.Dir = rt.deps.WorkDir
	cmd.Env = os.Environ()
	if rt.deps.SuppressSDKConsoleErrors {
		cmd.Stderr = nil
	} else {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("owner: adapter stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("owner: adapter stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("owner: start adapter process: %w", err)
	}
	rt.adapterCmd = cmd
	rt.adapterStdin = stdin

	facade := acpfacade.New(
		acpfacade.Config{WorkDir: rt.deps.WorkDir},
		rt.logger,
		rt.handleSessionUpdate,
		rt.handlePermissionRequest,
	)
	if err := facade.Start(ctx, stdin, stdout); err != nil {
		return fmt.Errorf("owner: initialize handshake: %w", err)
	}
	rt.facade = facade

	if _, err := facade.LoadOrCreate(ctx, rt.deps.SessionID); err != nil {
		return fmt.Errorf("owner: load or create session: %w", err)
	}
	return nil
}

// mainLoop is spec §4.F's numbered loop: dequeue, run the turn, refresh the
// heartbeat, repeat; exits when idle TTL elapses.
func (rt *Runtime) mainLoop(ctx context.Context) error {
	idleWait := normalizeTTL(rt.deps.TTLMs)

	for {
		task, err := rt.server.NextTask(ctx, idleWait)
		if err != nil {
			if errors.Is(err, queueserver.ErrIdle) {
				rt.logger.Info("idle ttl elapsed, shutting down", zap.String("session_id", rt.deps.SessionID))
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		rt.runPromptTurn(ctx, task)

		rt.metrics.RecordQueueDepth(rt.server.QueueDepth())
		if err := rt.leaseStore.Refresh(rt.deps.Key, rt.lease, rt.server.QueueDepth()); err != nil {
			rt.logger.Warn("lease refresh after turn failed", zap.Error(err))
		}
		rt.metrics.RecordLeaseAge(rt.lease.RefreshedAt)

		records := sessionrecord.NewStore(filepath.Join(rt.deps.HomeDir, ".acpx", "sessions"))
		if err := records.Touch(rt.deps.Key, rt.facade.SessionID()); err != nil {
			rt.logger.Warn("session record update after turn failed", zap.Error(err))
		}
	}
}

// normalizeTTL implements spec §4.F's TTL normalization. Go has no "null"
// int, so a negative value is this codebase's stand-in for it.
func normalizeTTL(ttlMs int) time.Duration {
	if ttlMs < 0 {
		return constants.DefaultTTL
	}
	if ttlMs == 0 {
		return 0 // no TTL: NextTask blocks indefinitely
	}
	return time.Duration(ttlMs) * time.Millisecond
}

// runPromptTurn drives one turn end to end through the turn controller and
// facade, streaming updates as they arrive and writing the terminal message.
func (rt *Runtime) runPromptTurn(ctx context.Context, task *queueserver.PromptTask) {
	req := task.Request
	turnStart := time.Now()
	defer func() { rt.metrics.RecordTurnDuration(time.Since(turnStart)) }()

	if err := rt.turnCtrl.BeginTurn(); err != nil {
		rt.writeError(task, queueproto.DetailOwnerClosing, err, false)
		rt.server.TaskDone(task)
		return
	}

	rt.mu.Lock()
	rt.currentTask = task
	rt.mu.Unlock()

	rt.turnCtrl.SetActiveController(rt.facade)
	if err := rt.turnCtrl.MarkPromptActive(); err != nil {
		rt.logger.Warn("markPromptActive failed unexpectedly", zap.Error(err))
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = rt.deps.DefaultTimeoutMs
	}
	promptCtx := ctx
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		promptCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := rt.facade.Prompt(promptCtx, req.Message)

	rt.turnCtrl.ClearActiveController()
	rt.turnCtrl.EndTurn()

	rt.mu.Lock()
	rt.currentTask = nil
	rt.mu.Unlock()

	if err != nil {
		rt.writeError(task, queueproto.DetailRuntimePromptFailed, err, true)
		rt.server.TaskDone(task)
		return
	}

	_ = task.Writer.WriteResponse(queueproto.Response{
		Type: queueproto.ResponseDone, RequestID: req.RequestID, StopReason: result.StopReason,
	})
	_ = task.Writer.WriteResponse(queueproto.Response{
		Type: queueproto.ResponseResult, RequestID: req.RequestID,
		Result: map[string]any{"stopReason": result.StopReason},
	})
	rt.server.TaskDone(task)
}

func (rt *Runtime) writeError(task *queueserver.PromptTask, detail string, cause error, retryable bool) {
	_ = task.Writer.WriteResponse(queueproto.ErrorResponse(
		task.Request.RequestID, "prompt_turn_failed", detail, queueproto.OriginRuntime, cause.Error(), retryable,
	))
}

// HandleCancel implements queueserver.ControlHandler (§4.C: dispatched
// directly, coincident with any in-flight prompt turn).
func (rt *Runtime) HandleCancel(ctx context.Context, req queueproto.Request) queueproto.Response {
	cancelled := rt.turnCtrl.RequestCancel(ctx)
	if !cancelled {
		return queueproto.ErrorResponse(req.RequestID, "cancel_rejected", queueproto.DetailOwnerClosing, queueproto.OriginRuntime, "queue owner is closing", false)
	}
	return queueproto.Response{Type: queueproto.ResponseCancelResult, RequestID: req.RequestID, Cancelled: &cancelled}
}

// HandleSetMode implements queueserver.ControlHandler.
func (rt *Runtime) HandleSetMode(ctx context.Context, req queueproto.Request) queueproto.Response {
	if err := rt.turnCtrl.SetSessionMode(ctx, req.ModeID, req.TimeoutMs); err != nil {
		return queueproto.ErrorResponse(req.RequestID, "set_mode_failed", "", queueproto.OriginRuntime, err.Error(), false)
	}
	return queueproto.Response{Type: queueproto.ResponseSetModeResult, RequestID: req.RequestID}
}

// HandleSetConfigOption implements queueserver.ControlHandler.
func (rt *Runtime) HandleSetConfigOption(ctx context.Context, req queueproto.Request) queueproto.Response {
	resp, err := rt.turnCtrl.SetSessionConfigOption(ctx, req.ConfigID, req.Value, req.TimeoutMs)
	if err != nil {
		return queueproto.ErrorResponse(req.RequestID, "set_config_option_failed", "", queueproto.OriginRuntime, err.Error(), false)
	}
	return queueproto.Response{Type: queueproto.ResponseSetConfigOptionResult, RequestID: req.RequestID, ControlResponse: resp}
}

// handleSessionUpdate forwards one streamed ACP update to whichever
// connection owns the current turn (§4.B session_update, prompt only).
func (rt *Runtime) handleSessionUpdate(update acpfacade.SessionUpdate) {
	task := rt.activeTask()
	if task == nil {
		return
	}
	_ = task.Writer.WriteResponse(queueproto.Response{
		Type: queueproto.ResponseSessionUpdate, RequestID: task.Request.RequestID, Notification: update.Raw,
	})
}

// handlePermissionRequest reports the request as a client_operation event
// and applies the submitting request's permission-mode policy directly —
// the queue protocol (§4.B) has no message for round-tripping a permission
// decision back through a streaming connection, so the decision is made
// from the policy carried on submit_prompt rather than forwarded further.
func (rt *Runtime) handlePermissionRequest(ctx context.Context, req *acpfacade.PermissionRequest) (*acpfacade.PermissionResponse, error) {
	task := rt.activeTask()
	mode := rt.deps.PermissionMode
	if task != nil {
		_ = task.Writer.WriteResponse(queueproto.Response{
			Type: queueproto.ResponseClientOperation, RequestID: task.Request.RequestID,
			Operation: map[string]any{
				"kind":       "permission_request",
				"toolCallId": req.ToolCallID,
				"title":      req.Title,
				"actionType": req.ActionType,
			},
		})
		if task.Request.PermissionMode != "" {
			mode = task.Request.PermissionMode
		}
	}

	optionID, cancelled := decidePermission(mode, req.Options)
	return &acpfacade.PermissionResponse{OptionID: optionID, Cancelled: cancelled}, nil
}

func decidePermission(mode string, options []acpfacade.PermissionOption) (optionID string, cancelled bool) {
	if mode == "deny" || mode == "auto-deny" {
		return "", true
	}
	for _, opt := range options {
		if opt.Kind == "allow_once" || opt.Kind == "allow_always" {
			return opt.OptionID, false
		}
	}
	if len(options) > 0 {
		return options[0].OptionID, false
	}
	return "", true
}

func (rt *Runtime) activeTask() *queueserver.PromptTask {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.currentTask
}

// heartbeatLoop refreshes the lease every constants.HeartbeatInterval
// (§4.A, §8 property 6) until ctx is cancelled.
func (rt *Runtime) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(constants.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := rt.leaseStore.Refresh(rt.deps.Key, rt.lease, rt.server.QueueDepth()); err != nil {
				rt.logger.Warn("heartbeat refresh failed", zap.Error(err))
			}
			rt.metrics.RecordLeaseAge(rt.lease.RefreshedAt)
			rt.metrics.RecordQueueDepth(rt.server.QueueDepth())
		}
	}
}

// shutdown implements spec §4.F's shutdown sequence: close to controls,
// drain the queue server (in-flight sockets observe a disconnect), close the
// adapter's stdin (ACP agents exit cleanly on stdin close, so no signal is
// needed — see Facade.RequiresProcessKill), and release the lease.
func (rt *Runtime) shutdown() {
	rt.turnCtrl.BeginClosing()
	if rt.server != nil {
		_ = rt.server.Close()
	}
	if rt.facade != nil {
		_ = rt.facade.Close()
	}
	if rt.adapterStdin != nil {
		_ = rt.adapterStdin.Close()
	}
	if rt.adapterCmd != nil {
		_ = rt.adapterCmd.Wait()
	}
	if err := rt.leaseStore.Release(rt.deps.Key); err != nil {
		rt.logger.Warn("lease release failed", zap.Error(err))
	}
}

var _ queueserver.ControlHandler = (*Runtime)(nil)
