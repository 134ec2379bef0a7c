// Package queueserver implements spec component C: the owner side of the
// queue socket. It accepts connections, validates requests, enqueues
// prompts into an in-memory FIFO, and dispatches control requests
// (cancel/set-mode/set-config) directly so they run coincident with any
// in-flight prompt turn rather than queued behind it.
package queueserver

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/acpx/acpx/internal/queueproto"
)

// ErrIdle is returned by NextTask when idleWait elapses with no prompt task
// available.
var ErrIdle = errors.New("queueserver: idle")

// ControlHandler answers coincident control requests as they arrive.
type ControlHandler interface {
	HandleCancel(ctx context.Context, req queueproto.Request) queueproto.Response
	HandleSetMode(ctx context.Context, req queueproto.Request) queueproto.Response
	HandleSetConfigOption(ctx context.Context, req queueproto.Request) queueproto.Response
}

// PromptTask is a validated submit_prompt request waiting for (or
// undergoing) execution by the owner runtime's turn controller.
type PromptTask struct {
	Request queueproto.Request
	Writer  *queueproto.LineWriter
	Conn    net.Conn

	done chan struct{}
}

// Finish marks the task complete, releasing the connection goroutine that
// has been holding the socket open for streamed updates.
func (t *PromptTask) Finish() {
	close(t.done)
}

// Server owns the queue socket listener and the prompt FIFO.
type Server struct {
	listener net.Listener
	queue    chan *PromptTask
	handler  ControlHandler
	logger   *zap.Logger

	queuedCount    int32
	executingCount int32

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	closeOnce sync.Once
}

// Listen binds the queue socket at socketPath, removing a stale socket file
// left by a crashed owner first. The accept backlog Go's unix listener uses
// exceeds spec's minimum of 16 (§4.C, §6) by default.
func Listen(socketPath string, handler ControlHandler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: ln,
		queue:    make(chan *PromptTask, 256),
		handler:  handler,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.listener.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			return
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		s.untrackConn(conn)
		_ = conn.Close()
	}()

	reader := queueproto.NewLineReader(conn)
	writer := queueproto.NewLineWriter(conn)

	req, err := reader.ReadRequest()
	if err != nil {
		if err != io.EOF {
			_ = writer.WriteResponse(queueproto.ErrorResponse("", "invalid_request", queueproto.DetailInvalidJSON, queueproto.OriginQueue, err.Error(), false))
		}
		return
	}

	if err := validate(req); err != nil {
		_ = writer.WriteResponse(queueproto.ErrorResponse(req.RequestID, "malformed_request", queueproto.DetailMalformedMessage, queueproto.OriginQueue, err.Error(), false))
		return
	}

	switch req.Type {
	case queueproto.RequestSubmitPrompt:
		s.enqueuePrompt(ctx, req, writer, conn)

	case queueproto.RequestCancelPrompt:
		_ = writer.WriteResponse(queueproto.Accepted(req.RequestID))
		_ = writer.WriteResponse(s.handler.HandleCancel(ctx, req))

	case queueproto.RequestSetMode:
		_ = writer.WriteResponse(queueproto.Accepted(req.RequestID))
		_ = writer.WriteResponse(s.handler.HandleSetMode(ctx, req))

	case queueproto.RequestSetConfigOption:
		_ = writer.WriteResponse(queueproto.Accepted(req.RequestID))
		_ = writer.WriteResponse(s.handler.HandleSetConfigOption(ctx, req))

	default:
		_ = writer.WriteResponse(queueproto.ErrorResponse(req.RequestID, "unexpected_type", queueproto.DetailUnexpectedResponse, queueproto.OriginQueue, "unknown request type", false))
	}
}

func (s *Server) enqueuePrompt(ctx context.Context, req queueproto.Request, writer *queueproto.LineWriter, conn net.Conn) {
	_ = writer.WriteResponse(queueproto.Accepted(req.RequestID))

	task := &PromptTask{Request: req, Writer: writer, Conn: conn, done: make(chan struct{})}
	atomic.AddInt32(&s.queuedCount, 1)

	select {
	case s.queue <- task:
	case <-ctx.Done():
		atomic.AddInt32(&s.queuedCount, -1)
		return
	}

	// Hold the connection open until the owner runtime finishes the turn
	// (or the server is shutting down), so streamed updates keep flowing.
	select {
	case <-task.done:
	case <-ctx.Done():
	}
}

// NextTask blocks for up to idleWait for a queued prompt task. idleWait<=0
// means wait indefinitely (spec §4.F: ttlMs==0 → no TTL).
func (s *Server) NextTask(ctx context.Context, idleWait time.Duration) (*PromptTask, error) {
	var timeout <-chan time.Time
	if idleWait > 0 {
		timer := time.NewTimer(idleWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case task := <-s.queue:
		atomic.AddInt32(&s.queuedCount, -1)
		atomic.AddInt32(&s.executingCount, 1)
		return task, nil
	case <-timeout:
		return nil, ErrIdle
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TaskDone marks a dequeued task's turn as finished, releasing its connection.
func (s *Server) TaskDone(task *PromptTask) {
	atomic.AddInt32(&s.executingCount, -1)
	task.Finish()
}

// QueueDepth is the number of prompt tasks waiting plus the one currently
// executing, if any (§4.C).
func (s *Server) QueueDepth() int {
	return int(atomic.LoadInt32(&s.queuedCount)) + int(atomic.LoadInt32(&s.executingCount))
}

// Close stops accepting new connections and forcibly closes any connection
// still open, which clients observe as a disconnect (§4.F shutdown).
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()
	})
	return err
}

func validate(req queueproto.Request) error {
	if req.RequestID == "" {
		return errors.New("missing requestId")
	}
	switch req.Type {
	case queueproto.RequestSubmitPrompt:
		if req.Message == "" {
			return errors.New("submit_prompt requires message")
		}
	case queueproto.RequestCancelPrompt:
	case queueproto.RequestSetMode:
		if req.ModeID == "" {
			return errors.New("set_mode requires modeId")
		}
	case queueproto.RequestSetConfigOption:
		if req.ConfigID == "" {
			return errors.New("set_config_option requires configId")
		}
	default:
		return errors.New("unknown request type")
	}
	return nil
}
