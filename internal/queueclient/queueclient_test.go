package queueclient

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/lease"
	"github.com/acpx/acpx/internal/queueproto"
	"github.com/acpx/acpx/internal/queueserver"
	"github.com/acpx/acpx/internal/sessionkey"
)

type noopHandler struct{}

func (noopHandler) HandleCancel(ctx context.Context, req queueproto.Request) queueproto.Response {
	return queueproto.Response{Type: queueproto.ResponseCancelResult, RequestID: req.RequestID}
}
func (noopHandler) HandleSetMode(ctx context.Context, req queueproto.Request) queueproto.Response {
	return queueproto.Response{Type: queueproto.ResponseSetModeResult, RequestID: req.RequestID}
}
func (noopHandler) HandleSetConfigOption(ctx context.Context, req queueproto.Request) queueproto.Response {
	return queueproto.Response{Type: queueproto.ResponseSetConfigOptionResult, RequestID: req.RequestID}
}

func setupOwner(t *testing.T) (home string, key sessionkey.Key, srv *queueserver.Server) {
	t.Helper()
	home = t.TempDir()
	key = sessionkey.Key{AgentCommand: "agent", Cwd: "/work"}

	store := lease.NewStore(home, nil)
	l, err := store.TryAcquire(key, "sess-1")
	if err != nil {
		t.Fatalf("acquire lease: %v", err)
	}

	srv, err = queueserver.Listen(l.SocketPath, noopHandler{}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return home, key, srv
}

func TestSubmitPromptStreamsUpdatesThenDone(t *testing.T) {
	home, key, srv := setupOwner(t)
	defer srv.Close()

	client := New(home, lease.NewStore(home, nil), nil)

	go func() {
		task, err := srv.NextTask(context.Background(), 0)
		if err != nil {
			return
		}
		_ = task.Writer.WriteResponse(queueproto.Response{Type: queueproto.ResponseSessionUpdate, RequestID: task.Request.RequestID, Notification: "chunk-1"})
		_ = task.Writer.WriteResponse(queueproto.Response{Type: queueproto.ResponseDone, RequestID: task.Request.RequestID, StopReason: "end_turn"})
		srv.TaskDone(task)
	}()

	var updates []queueproto.Response
	handled, result, err := client.SubmitPrompt(context.Background(), key, queueproto.Request{
		Type: queueproto.RequestSubmitPrompt, RequestID: "r1", Message: "hi", WaitForCompletion: true,
	}, func(r queueproto.Response) { updates = append(updates, r) })

	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !handled {
		t.Fatal("expected handled=true")
	}
	if result.Type != queueproto.ResponseDone || result.StopReason != "end_turn" {
		t.Fatalf("unexpected terminal response: %+v", result)
	}
	if len(updates) != 1 || updates[0].Notification != "chunk-1" {
		t.Fatalf("expected one streamed update, got %+v", updates)
	}
}

func TestSubmitPromptWithoutWaitReturnsOnAccepted(t *testing.T) {
	home, key, srv := setupOwner(t)
	defer srv.Close()

	client := New(home, lease.NewStore(home, nil), nil)

	go func() {
		task, err := srv.NextTask(context.Background(), time.Second)
		if err != nil {
			return
		}
		defer srv.TaskDone(task)
		_ = task.Writer.WriteResponse(queueproto.Response{Type: queueproto.ResponseDone, RequestID: task.Request.RequestID})
	}()

	handled, result, err := client.SubmitPrompt(context.Background(), key, queueproto.Request{
		Type: queueproto.RequestSubmitPrompt, RequestID: "r2", Message: "hi", WaitForCompletion: false,
	}, nil)

	if err != nil || !handled {
		t.Fatalf("submit: handled=%v err=%v", handled, err)
	}
	if result.Type != queueproto.ResponseAccepted {
		t.Fatalf("expected accepted-only result, got %+v", result)
	}
}

func TestCancelPromptRoundTrip(t *testing.T) {
	home, key, srv := setupOwner(t)
	defer srv.Close()

	client := New(home, lease.NewStore(home, nil), nil)
	handled, result, err := client.CancelPrompt(context.Background(), key, "c1")
	if err != nil || !handled {
		t.Fatalf("cancel: handled=%v err=%v", handled, err)
	}
	if result.Type != queueproto.ResponseCancelResult || result.RequestID != "c1" {
		t.Fatalf("unexpected cancel result: %+v", result)
	}
}

func TestSetModeRoundTrip(t *testing.T) {
	home, key, srv := setupOwner(t)
	defer srv.Close()

	client := New(home, lease.NewStore(home, nil), nil)
	handled, result, err := client.SetMode(context.Background(), key, "m1", "plan", 0)
	if err != nil || !handled {
		t.Fatalf("set_mode: handled=%v err=%v", handled, err)
	}
	if result.Type != queueproto.ResponseSetModeResult {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestNoLiveOwnerReturnsNotHandled(t *testing.T) {
	home := t.TempDir()
	key := sessionkey.Key{AgentCommand: "agent", Cwd: "/nowhere"}
	client := New(home, lease.NewStore(home, nil), nil)

	handled, _, err := client.CancelPrompt(context.Background(), key, "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if handled {
		t.Fatal("expected handled=false with no lease present")
	}
}

func TestDeadSocketFileSurfacesConnectError(t *testing.T) {
	home := t.TempDir()
	key := sessionkey.Key{AgentCommand: "agent", Cwd: "/work"}
	store := lease.NewStore(home, nil)
	l, err := store.TryAcquire(key, "sess-2")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A lease names a path, but nothing is listening there: dial fails and
	// retries until exhausted, surfacing a connect error rather than a
	// disconnect classification (no accepted was ever attempted).
	if err := os.WriteFile(l.SocketPath, nil, 0o600); err != nil {
		t.Fatalf("seed dead socket path: %v", err)
	}

	client := New(home, store, nil)
	handled, _, err := client.CancelPrompt(context.Background(), key, "c1")
	if handled {
		t.Fatal("expected handled=false since nothing is listening")
	}
	if err == nil {
		t.Fatal("expected a connect error when nothing is listening on the socket path")
	}
	if !strings.Contains(err.Error(), "could not connect") {
		t.Fatalf("unexpected error shape: %v", err)
	}
}

func TestIsRetryableDialErrMatchesOnlyStartupRaceErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"enoent", &os.PathError{Op: "dial", Path: "/x.sock", Err: syscall.ENOENT}, true},
		{"econnrefused", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, true},
		{"eacces", &os.SyscallError{Syscall: "connect", Err: syscall.EACCES}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableDialErr(tc.err); got != tc.want {
				t.Fatalf("isRetryableDialErr(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestConnectAbortsEarlyWhenOwnerDiesMidRetry(t *testing.T) {
	home := t.TempDir()
	key := sessionkey.Key{AgentCommand: "agent", Cwd: "/work"}
	store := lease.NewStore(home, nil)
	l, err := store.TryAcquire(key, "sess-3")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// No listener is ever started on l.SocketPath, so every dial attempt
	// fails with ENOENT (retryable) until the owner is declared dead.

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.PID = 999999 // astronomically unlikely to be a live pid
		_ = store.Refresh(key, l, 0)
	}()

	client := New(home, store, nil)
	start := time.Now()
	handled, _, err := client.CancelPrompt(context.Background(), key, "c1")
	elapsed := time.Since(start)

	if handled {
		t.Fatal("expected handled=false once the owner's pid is no longer live")
	}
	if err != nil {
		t.Fatalf("expected no error (ErrNoLiveOwner folds into handled=false), got %v", err)
	}
	fullRetryBudget := time.Duration(constants.QueueClientRetryAttempts) * constants.QueueClientRetryInterval
	if elapsed >= fullRetryBudget {
		t.Fatalf("expected early abort well before the full retry budget (%v), took %v", fullRetryBudget, elapsed)
	}
}
