package acpfacade

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestFacadeCallsBeforeStartFail(t *testing.T) {
	f := New(Config{WorkDir: "."}, zap.NewNop(), nil, nil)
	ctx := context.Background()

	if _, err := f.LoadOrCreate(ctx, ""); err == nil {
		t.Fatal("LoadOrCreate before Start should fail")
	}
	if _, err := f.Prompt(ctx, "hi"); err == nil {
		t.Fatal("Prompt before Start should fail")
	}
	if err := f.Cancel(ctx); err == nil {
		t.Fatal("Cancel before Start should fail")
	}
	if err := f.SetMode(ctx, "plan"); err == nil {
		t.Fatal("SetMode before Start should fail")
	}
	if _, err := f.SetConfigOption(ctx, "model", "gpt"); err == nil {
		t.Fatal("SetConfigOption before Start should fail")
	}
}

func TestFacadeCloseIsIdempotent(t *testing.T) {
	f := New(Config{WorkDir: "."}, zap.NewNop(), nil, nil)
	if err := f.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if f.RequiresProcessKill() {
		t.Fatal("ACP agents should not require process kill")
	}
}
