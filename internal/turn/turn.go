// Package turn implements spec component E, the turn controller: the state
// machine that sequences one agent-facing prompt turn while accepting
// cancel/set-mode/set-config as operations coincident with it.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the four turn states (§3, §4.E).
type State int

const (
	Idle State = iota
	Starting
	Active
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// PendingCancel records a cancel accepted before there was an active
// controller to deliver it to (§3).
type PendingCancel struct {
	RecordedAt time.Time
}

// ActiveController is the ACP-facade handle for the in-flight prompt,
// installed once the adapter has acknowledged it.
type ActiveController interface {
	Cancel(ctx context.Context) error
	SetMode(ctx context.Context, modeID string) error
	SetConfigOption(ctx context.Context, configID string, value any) (any, error)
}

// FallbackRouter targets the most recently used default session when no
// turn is active to route set-mode/set-config through.
type FallbackRouter interface {
	SetMode(ctx context.Context, modeID string) error
	SetConfigOption(ctx context.Context, configID string, value any) (any, error)
}

// Controller is the turn state machine (§4.E, "the heart"). It is safe for
// concurrent use: the owner runtime drives BeginTurn/EndTurn from the task
// loop while cancel/set-mode/set-config calls arrive from other goroutines
// handling coincident connections.
type Controller struct {
	mu sync.Mutex

	state           State
	active          ActiveController
	pending         *PendingCancel
	cancelDelivered bool

	fallback FallbackRouter
	logger   *zap.Logger
}

// New creates a Controller in the idle state.
func New(fallback FallbackRouter, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{state: Idle, fallback: fallback, logger: logger}
}

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginTurn transitions idle → starting. It is an error to call it from any
// other state; the owner runtime only calls it once per dequeued prompt task.
func (c *Controller) BeginTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("turn: beginTurn illegal from state %s", c.state)
	}
	c.state = Starting
	c.pending = nil
	c.cancelDelivered = false
	return nil
}

// MarkPromptActive transitions starting → active, called the instant the
// adapter acknowledges the prompt. It is idempotent in active and illegal
// in idle/closing.
func (c *Controller) MarkPromptActive() error {
	c.mu.Lock()
	switch c.state {
	case Active:
		c.mu.Unlock()
		return nil
	case Starting:
		c.state = Active
		c.mu.Unlock()
		c.ApplyPendingCancel(context.Background())
		return nil
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("turn: markPromptActive illegal from state %s", state)
	}
}

// EndTurn transitions starting/active → idle. No-op from idle or closing.
func (c *Controller) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closing {
		return
	}
	c.state = Idle
	c.active = nil
	c.pending = nil
	c.cancelDelivered = false
}

// BeginClosing transitions any state to closing; further control operations
// are rejected (§4.E, §4.F shutdown).
func (c *Controller) BeginClosing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Closing
}

// SetActiveController installs the adapter-level handle for the in-flight
// prompt and attempts to deliver any pending cancel immediately.
func (c *Controller) SetActiveController(ctrl ActiveController) {
	c.mu.Lock()
	c.active = ctrl
	c.mu.Unlock()
	c.ApplyPendingCancel(context.Background())
}

// ClearActiveController removes the active controller, typically once a
// turn's prompt call returns.
func (c *Controller) ClearActiveController() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// RequestCancel accepts a cancel. It returns false only if the controller is
// closing; otherwise it returns true, either because the cancel was
// delivered immediately (the turn is active and a controller is installed),
// was already delivered this turn, or is recorded as pending for delivery
// once both hold (§4.E state table, §8 property 3).
func (c *Controller) RequestCancel(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == Closing {
		c.mu.Unlock()
		return false
	}
	if c.cancelDelivered {
		c.mu.Unlock()
		return true
	}
	if c.state == Active && c.active != nil {
		active := c.active
		c.cancelDelivered = true
		c.mu.Unlock()
		if err := active.Cancel(ctx); err != nil {
			c.logger.Warn("adapter cancel failed", zap.Error(err))
		}
		return true
	}
	if c.pending == nil {
		c.pending = &PendingCancel{RecordedAt: time.Now()}
	}
	c.mu.Unlock()
	return true
}

// ApplyPendingCancel attempts to deliver a recorded cancel now. It returns
// true iff a cancel was actually delivered on this call. Called from
// SetActiveController and MarkPromptActive, and may also be called on
// demand after RequestCancel.
func (c *Controller) ApplyPendingCancel(ctx context.Context) bool {
	c.mu.Lock()
	if c.pending == nil || c.cancelDelivered || c.active == nil {
		c.mu.Unlock()
		return false
	}
	active := c.active
	c.pending = nil
	c.cancelDelivered = true
	c.mu.Unlock()

	if err := active.Cancel(ctx); err != nil {
		c.logger.Warn("adapter cancel failed", zap.Error(err))
	}
	return true
}

// SetSessionMode routes a mode switch through the active controller if one
// is installed, otherwise through the fallback router, wrapped in the
// caller-supplied timeout. Rejected while closing.
func (c *Controller) SetSessionMode(ctx context.Context, modeID string, timeoutMs int) error {
	c.mu.Lock()
	if c.state == Closing {
		c.mu.Unlock()
		return fmt.Errorf("queue owner is closing")
	}
	active := c.active
	c.mu.Unlock()

	ctx, cancel := withTimeout(ctx, timeoutMs)
	defer cancel()

	if active != nil {
		return active.SetMode(ctx, modeID)
	}
	if c.fallback == nil {
		return fmt.Errorf("turn: no session available for set_mode")
	}
	return c.fallback.SetMode(ctx, modeID)
}

// SetSessionConfigOption is SetSessionMode's analogue for configuration
// values, returning the adapter's acknowledgement payload.
func (c *Controller) SetSessionConfigOption(ctx context.Context, configID string, value any, timeoutMs int) (any, error) {
	c.mu.Lock()
	if c.state == Closing {
		c.mu.Unlock()
		return nil, fmt.Errorf("queue owner is closing")
	}
	active := c.active
	c.mu.Unlock()

	ctx, cancel := withTimeout(ctx, timeoutMs)
	defer cancel()

	if active != nil {
		return active.SetConfigOption(ctx, configID, value)
	}
	if c.fallback == nil {
		return nil, fmt.Errorf("turn: no session available for set_config_option")
	}
	return c.fallback.SetConfigOption(ctx, configID, value)
}

func withTimeout(ctx context.Context, timeoutMs int) (context.Context, context.CancelFunc) {
	if timeoutMs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
}
