// Package queueclient implements spec component D: the foreground side of
// the queue socket. It finds a live owner via the lease file, connects with
// a bounded retry loop, and demultiplexes the streamed response sequence
// for each request kind.
package queueclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/lease"
	"github.com/acpx/acpx/internal/queueproto"
	"github.com/acpx/acpx/internal/sessionkey"
)

// ErrNoLiveOwner is returned when no lease names a currently-live owner,
// signalling the caller (typically spawn.SpawnOrAttach) that it should
// consider spawning one.
var ErrNoLiveOwner = errors.New("queueclient: no live owner")

// UpdateFunc receives every non-terminal response streamed for a request
// (session_update, client_operation) as it arrives.
type UpdateFunc func(queueproto.Response)

// Client submits requests to whatever owner currently holds a session's lease.
type Client struct {
	homeDir    string
	leaseStore *lease.Store
	logger     *zap.Logger
}

// New creates a Client rooted at homeDir.
func New(homeDir string, leaseStore *lease.Store, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{homeDir: homeDir, leaseStore: leaseStore, logger: logger}
}

// connect finds the current lease for key and dials its socket, retrying up
// to constants.QueueClientRetryAttempts times at constants.QueueClientRetryInterval
// to ride out the short window between a lease being claimed and its socket
// being listening (spec §4.D). Only dial failures that window can plausibly
// outrun — the socket file not existing yet, or a listener that's bound but
// not yet accepting — are retried; anything else (e.g. a permission error)
// fails fast. Every iteration also rechecks the lease's pid, so an owner
// that crashes mid-retry is reported as gone instead of burning out the
// whole retry budget first.
func (c *Client) connect(ctx context.Context, key sessionkey.Key) (net.Conn, error) {
	l, err := c.leaseStore.Read(key)
	if err != nil {
		return nil, ErrNoLiveOwner
	}
	if !c.leaseStore.EnsureUsable(key, l) {
		return nil, ErrNoLiveOwner
	}

	var lastErr error
	for attempt := 0; attempt < constants.QueueClientRetryAttempts; attempt++ {
		conn, err := net.Dial("unix", l.SocketPath)
		if err == nil {
			return conn, nil
		}
		if !isRetryableDialErr(err) {
			return nil, fmt.Errorf("queueclient: could not connect to %s: %w", l.SocketPath, err)
		}
		lastErr = err

		if !c.leaseStore.EnsureUsable(key, l) {
			return nil, ErrNoLiveOwner
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(constants.QueueClientRetryInterval):
		}
	}
	return nil, fmt.Errorf("queueclient: could not connect to %s: %w", l.SocketPath, lastErr)
}

// isRetryableDialErr reports whether a dial failure is the kind this
// module's startup race can produce: the socket file doesn't exist yet
// (owner holds the lease but hasn't called Listen yet) or the connection
// was refused (a stale socket file from a just-killed owner, not yet
// cleaned up). Both syscall.ENOENT and syscall.ECONNREFUSED are defined
// for every GOOS this module builds for.
func isRetryableDialErr(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}

// SubmitPrompt sends a submit_prompt request and streams responses through
// onUpdate until a terminal done/error message arrives. handled is false
// only when no live owner could be reached at all, so spawn.SpawnOrAttach
// knows to spawn one instead of treating this as a request-level failure.
func (c *Client) SubmitPrompt(ctx context.Context, key sessionkey.Key, req queueproto.Request, onUpdate UpdateFunc) (handled bool, result queueproto.Response, err error) {
	conn, err := c.connect(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNoLiveOwner) {
			return false, queueproto.Response{}, nil
		}
		return false, queueproto.Response{}, err
	}
	defer conn.Close()

	writer := queueproto.NewLineWriter(conn)
	reader := queueproto.NewLineReader(conn)

	if err := writer.WriteRequest(req); err != nil {
		return true, queueproto.Response{}, fmt.Errorf("queueclient: write submit_prompt: %w", err)
	}

	accepted, err := reader.ReadResponse()
	if err != nil {
		return true, queueproto.Response{}, classifyDisconnect(err, queueproto.DetailDisconnectedBeforeAck)
	}
	if accepted.Type == queueproto.ResponseError {
		return true, accepted, nil
	}
	if accepted.Type != queueproto.ResponseAccepted {
		return true, queueproto.Response{}, fmt.Errorf("queueclient: expected accepted, got %s", accepted.Type)
	}

	if !req.WaitForCompletion {
		return true, queueproto.Response{Type: queueproto.ResponseAccepted, RequestID: req.RequestID}, nil
	}

	for {
		resp, err := reader.ReadResponse()
		if err != nil {
			if err == io.EOF {
				return true, queueproto.Response{}, classifyDisconnect(err, queueproto.DetailDisconnectedBeforeDone)
			}
			return true, queueproto.Response{}, classifyDisconnect(err, queueproto.DetailDisconnectedBeforeDone)
		}

		switch resp.Type {
		case queueproto.ResponseSessionUpdate, queueproto.ResponseClientOperation:
			if onUpdate != nil {
				onUpdate(resp)
			}
		case queueproto.ResponseDone, queueproto.ResponseResult, queueproto.ResponseError:
			return true, resp, nil
		default:
			return true, queueproto.Response{}, fmt.Errorf("queueclient: unexpected response type %s", resp.Type)
		}
	}
}

// CancelPrompt sends a cancel_prompt request, bypassing the FIFO on the
// owner side, and returns its cancel_result/error response.
func (c *Client) CancelPrompt(ctx context.Context, key sessionkey.Key, requestID string) (handled bool, result queueproto.Response, err error) {
	return c.roundTrip(ctx, key, queueproto.Request{Type: queueproto.RequestCancelPrompt, RequestID: requestID})
}

// SetMode sends a set_mode request.
func (c *Client) SetMode(ctx context.Context, key sessionkey.Key, requestID, modeID string, timeoutMs int) (handled bool, result queueproto.Response, err error) {
	return c.roundTrip(ctx, key, queueproto.Request{Type: queueproto.RequestSetMode, RequestID: requestID, ModeID: modeID, TimeoutMs: timeoutMs})
}

// SetConfigOption sends a set_config_option request.
func (c *Client) SetConfigOption(ctx context.Context, key sessionkey.Key, requestID, configID string, value any, timeoutMs int) (handled bool, result queueproto.Response, err error) {
	return c.roundTrip(ctx, key, queueproto.Request{Type: queueproto.RequestSetConfigOption, RequestID: requestID, ConfigID: configID, Value: value, TimeoutMs: timeoutMs})
}

// roundTrip is shared by the three control operations: each is a single
// accepted + terminal-result exchange, delivered coincident with any
// in-flight prompt turn rather than queued behind it (§4.C, §4.D).
func (c *Client) roundTrip(ctx context.Context, key sessionkey.Key, req queueproto.Request) (handled bool, result queueproto.Response, err error) {
	conn, err := c.connect(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNoLiveOwner) {
			return false, queueproto.Response{}, nil
		}
		return false, queueproto.Response{}, err
	}
	defer conn.Close()

	writer := queueproto.NewLineWriter(conn)
	reader := queueproto.NewLineReader(conn)

	if err := writer.WriteRequest(req); err != nil {
		return true, queueproto.Response{}, fmt.Errorf("queueclient: write %s: %w", req.Type, err)
	}

	accepted, err := reader.ReadResponse()
	if err != nil {
		return true, queueproto.Response{}, classifyDisconnect(err, queueproto.DetailDisconnectedBeforeAck)
	}
	if accepted.Type == queueproto.ResponseError {
		return true, accepted, nil
	}

	resp, err := reader.ReadResponse()
	if err != nil {
		return true, queueproto.Response{}, classifyDisconnect(err, queueproto.DetailDisconnectedBeforeDone)
	}
	return true, resp, nil
}

func classifyDisconnect(cause error, detail string) error {
	return fmt.Errorf("%s: %w", detail, cause)
}
