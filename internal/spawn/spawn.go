// Package spawn implements spec component G: spawn-or-attach. A foreground
// invocation repeatedly tries to hand its request to a running owner; if
// none is live it starts one as a detached subprocess and keeps retrying
// until either the request is handled or an upper deadline expires.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// UpperDeadline bounds the whole spawn-or-attach loop (spec §4.G).
	UpperDeadline = 10 * time.Second
	// MinSpawnInterval is the floor between successive detached-spawn attempts.
	MinSpawnInterval = 250 * time.Millisecond
	// PollInterval is the sleep between attach retries.
	PollInterval = 50 * time.Millisecond
)

// ErrNotAccepting is raised when the upper deadline expires without any
// owner ever accepting the request (spec §4.G, §7 detailCode
// QUEUE_NOT_ACCEPTING_REQUESTS).
var ErrNotAccepting = errors.New("QUEUE_NOT_ACCEPTING_REQUESTS")

// OwnerArgs are the flags passed to the detached `__queue-owner` subcommand
// (spec §6).
type OwnerArgs struct {
	SessionID                 string
	TTLMs                     int
	PermissionMode            string
	NonInteractivePermissions string
	AuthPolicy                string
	TimeoutMs                 int
	Verbose                   bool
	SuppressSDKConsoleErrors  bool

	// SocketPath, if set, lets SpawnOrAttach watch for the owner's socket
	// file appearing instead of always sleeping out the full PollInterval
	// between attach retries. Optional: an empty path just falls back to
	// plain polling.
	SocketPath string
}

// AttachFunc attempts to hand the request to a running owner. handled=false
// means no owner is currently live (caller should consider spawning one);
// handled=true means an owner took the request, whether or not err is nil.
type AttachFunc func(ctx context.Context) (handled bool, err error)

// SpawnFunc starts a detached owner process. Production callers use
// SpawnDetachedOwner; tests substitute a stub to avoid forking real
// processes.
type SpawnFunc func(args OwnerArgs, logger *zap.Logger) error

// SpawnOrAttach runs the bounded retry loop described in spec §4.G.
func SpawnOrAttach(ctx context.Context, args OwnerArgs, attach AttachFunc, spawner SpawnFunc, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spawner == nil {
		spawner = SpawnDetachedOwner
	}
	deadline := time.Now().Add(UpperDeadline)
	var lastSpawn time.Time

	ready := socketWatcher(args.SocketPath, logger)
	if ready != nil {
		defer ready.Close()
	}
	readyCh := ready.wait()

	for {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		handled, err := attach(attemptCtx)
		cancel()
		if handled {
			return err
		}

		if time.Now().After(deadline) {
			return ErrNotAccepting
		}

		if time.Since(lastSpawn) >= MinSpawnInterval {
			if serr := spawner(args, logger); serr != nil {
				logger.Warn("failed to spawn queue owner", zap.Error(serr))
			}
			lastSpawn = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		case <-readyCh:
			// Socket file just appeared; retry attach immediately instead of
			// waiting out the rest of PollInterval. Consume the signal once so
			// a later iteration (e.g. attach failing for an unrelated reason)
			// falls back to plain polling instead of spinning.
			readyCh = nil
		}

		if time.Now().After(deadline) {
			return ErrNotAccepting
		}
	}
}

// readyWatcher wakes SpawnOrAttach's retry loop as soon as the owner's
// socket file is created, shortening the common case from a fixed
// PollInterval sleep to however long fsnotify takes to deliver the event.
// The PollInterval sleep stays in the select as a fallback upper bound, so a
// missed or coalesced event never wedges the loop.
type readyWatcher struct {
	watcher *fsnotify.Watcher
	name    string
}

// socketWatcher starts watching socketPath's parent directory for a create
// event named socketPath. Returns nil if socketPath is empty or the watcher
// can't be started (e.g. the platform lacks inotify/kqueue support); callers
// must treat a nil *readyWatcher as "no fast path, fall back to polling".
func socketWatcher(socketPath string, logger *zap.Logger) *readyWatcher {
	if socketPath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable, falling back to plain polling", zap.Error(err))
		return nil
	}
	if err := w.Add(filepath.Dir(socketPath)); err != nil {
		logger.Debug("fsnotify watch failed, falling back to plain polling", zap.Error(err))
		_ = w.Close()
		return nil
	}
	return &readyWatcher{watcher: w, name: socketPath}
}

func (r *readyWatcher) Close() {
	if r == nil {
		return
	}
	_ = r.watcher.Close()
}

// wait returns a channel that fires once when the watched socket path is
// created. A nil receiver (no watcher available) returns a channel that
// never fires, so the caller's select falls through to PollInterval.
func (r *readyWatcher) wait() <-chan struct{} {
	done := make(chan struct{})
	if r == nil {
		return done
	}
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-r.watcher.Events:
				if !ok {
					return
				}
				if ev.Name == r.name && (ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
					return
				}
			case _, ok := <-r.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return done
}

// SpawnDetachedOwner re-enters the current executable in the hidden
// `__queue-owner` subcommand, detached so it survives this process exiting.
func SpawnDetachedOwner(args OwnerArgs, logger *zap.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	cmdArgs := []string{
		"__queue-owner",
		"--session-id", args.SessionID,
		"--ttl-ms", fmt.Sprintf("%d", args.TTLMs),
		"--permission-mode", args.PermissionMode,
	}
	if args.NonInteractivePermissions != "" {
		cmdArgs = append(cmdArgs, "--non-interactive-permissions", args.NonInteractivePermissions)
	}
	if args.AuthPolicy != "" {
		cmdArgs = append(cmdArgs, "--auth-policy", args.AuthPolicy)
	}
	if args.TimeoutMs > 0 {
		cmdArgs = append(cmdArgs, "--timeout-ms", fmt.Sprintf("%d", args.TimeoutMs))
	}
	if args.Verbose {
		cmdArgs = append(cmdArgs, "--verbose")
	}
	if args.SuppressSDKConsoleErrors {
		cmdArgs = append(cmdArgs, "--suppress-sdk-console-errors")
	}

	cmd := exec.Command(exe, cmdArgs...)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = buildSysProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached queue owner: %w", err)
	}
	logger.Debug("spawned detached queue owner",
		zap.String("session_id", args.SessionID),
		zap.Int("pid", cmd.Process.Pid))

	// We intentionally do not Wait(): the owner outlives this process. Release
	// the OS resources associated with tracking it from here.
	return cmd.Process.Release()
}
