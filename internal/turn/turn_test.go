package turn

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

type fakeController struct {
	cancelCalls int32
	modeCalls   int32
	cfgCalls    int32
	cancelErr   error
}

func (f *fakeController) Cancel(ctx context.Context) error {
	atomic.AddInt32(&f.cancelCalls, 1)
	return f.cancelErr
}

func (f *fakeController) SetMode(ctx context.Context, modeID string) error {
	atomic.AddInt32(&f.modeCalls, 1)
	return nil
}

func (f *fakeController) SetConfigOption(ctx context.Context, configID string, value any) (any, error) {
	atomic.AddInt32(&f.cfgCalls, 1)
	return value, nil
}

type fakeFallback struct {
	modeCalls int32
}

func (f *fakeFallback) SetMode(ctx context.Context, modeID string) error {
	atomic.AddInt32(&f.modeCalls, 1)
	return nil
}

func (f *fakeFallback) SetConfigOption(ctx context.Context, configID string, value any) (any, error) {
	return value, nil
}

func TestBeginTurnIllegalOutsideIdle(t *testing.T) {
	c := New(nil, nil)
	if err := c.BeginTurn(); err != nil {
		t.Fatalf("first beginTurn: %v", err)
	}
	if err := c.BeginTurn(); err == nil {
		t.Fatal("expected error calling beginTurn from starting")
	}
}

func TestMarkPromptActiveIllegalFromIdle(t *testing.T) {
	c := New(nil, nil)
	if err := c.MarkPromptActive(); err == nil {
		t.Fatal("expected error marking prompt active from idle")
	}
}

func TestEarlyCancelIsDeferredThenDelivered(t *testing.T) {
	c := New(nil, nil)
	fc := &fakeController{}

	if err := c.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	if ok := c.RequestCancel(context.Background()); !ok {
		t.Fatal("cancel during starting should be accepted")
	}
	if fc.cancelCalls != 0 {
		t.Fatal("cancel should not be delivered before a controller exists")
	}

	if err := c.MarkPromptActive(); err != nil {
		t.Fatal(err)
	}
	// MarkPromptActive tries to apply the pending cancel, but no controller
	// was installed yet, so it remains pending until SetActiveController.
	c.SetActiveController(fc)

	if fc.cancelCalls != 1 {
		t.Fatalf("expected exactly one delivered cancel, got %d", fc.cancelCalls)
	}
}

func TestCancelDuringActiveDeliversImmediately(t *testing.T) {
	c := New(nil, nil)
	fc := &fakeController{}

	if err := c.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	c.SetActiveController(fc)
	if err := c.MarkPromptActive(); err != nil {
		t.Fatal(err)
	}

	if ok := c.RequestCancel(context.Background()); !ok {
		t.Fatal("cancel during active should be accepted")
	}
	if fc.cancelCalls != 1 {
		t.Fatalf("expected one cancel call, got %d", fc.cancelCalls)
	}
}

func TestIdempotentCancelWithinOneTurn(t *testing.T) {
	c := New(nil, nil)
	fc := &fakeController{}

	if err := c.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	c.SetActiveController(fc)
	if err := c.MarkPromptActive(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if ok := c.RequestCancel(context.Background()); !ok {
			t.Fatalf("cancel %d should return true", i)
		}
	}
	if fc.cancelCalls != 1 {
		t.Fatalf("expected exactly one adapter-level cancel, got %d", fc.cancelCalls)
	}
}

func TestClosingRejectsCancelAndControls(t *testing.T) {
	c := New(nil, nil)
	c.BeginClosing()

	if ok := c.RequestCancel(context.Background()); ok {
		t.Fatal("cancel while closing should return false")
	}
	if err := c.SetSessionMode(context.Background(), "plan", 0); err == nil {
		t.Fatal("set_mode while closing should error")
	}
	if _, err := c.SetSessionConfigOption(context.Background(), "model", "x", 0); err == nil {
		t.Fatal("set_config_option while closing should error")
	}
}

func TestSetModeRoutesThroughActiveControllerOrFallback(t *testing.T) {
	fb := &fakeFallback{}
	c := New(fb, nil)

	if err := c.SetSessionMode(context.Background(), "plan", 0); err != nil {
		t.Fatalf("fallback set_mode: %v", err)
	}
	if fb.modeCalls != 1 {
		t.Fatalf("expected fallback used once, got %d", fb.modeCalls)
	}

	fc := &fakeController{}
	c2 := New(fb, nil)
	if err := c2.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	c2.SetActiveController(fc)
	if err := c2.SetSessionMode(context.Background(), "plan", 0); err != nil {
		t.Fatalf("active set_mode: %v", err)
	}
	if fc.modeCalls != 1 {
		t.Fatalf("expected active controller used once, got %d", fc.modeCalls)
	}
}

func TestEndTurnResetsTurnScopedState(t *testing.T) {
	c := New(nil, nil)
	fc := &fakeController{}

	if err := c.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	c.SetActiveController(fc)
	if err := c.MarkPromptActive(); err != nil {
		t.Fatal(err)
	}
	c.EndTurn()

	if c.State() != Idle {
		t.Fatalf("expected idle after endTurn, got %s", c.State())
	}
	if err := c.MarkPromptActive(); err == nil {
		t.Fatal("markPromptActive should be illegal again after endTurn reset to idle")
	}
}

func TestNoSessionAvailableError(t *testing.T) {
	c := New(nil, nil)
	err := c.SetSessionMode(context.Background(), "plan", 0)
	if err == nil {
		t.Fatal("expected error with no fallback and no active controller")
	}
	fmt.Sprint(err) // ensure the error is at least formattable
}
