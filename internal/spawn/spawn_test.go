package spawn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func noopSpawner(args OwnerArgs, logger *zap.Logger) error { return nil }

func TestSpawnOrAttachSucceedsWithoutSpawning(t *testing.T) {
	calls := 0
	attach := func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	}

	err := SpawnOrAttach(context.Background(), OwnerArgs{SessionID: "s1"}, attach, noopSpawner, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attach call, got %d", calls)
	}
}

func TestSpawnOrAttachPropagatesHandledError(t *testing.T) {
	wantErr := errors.New("boom")
	attach := func(ctx context.Context) (bool, error) {
		return true, wantErr
	}

	err := SpawnOrAttach(context.Background(), OwnerArgs{SessionID: "s1"}, attach, noopSpawner, zap.NewNop())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestSpawnOrAttachRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attach := func(ctx context.Context) (bool, error) {
		cancel()
		return false, nil
	}

	err := SpawnOrAttach(ctx, OwnerArgs{SessionID: "s1"}, attach, noopSpawner, zap.NewNop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSpawnOrAttachWakesOnSocketCreation(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	var attempts int32
	attach := func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&attempts, 1)
		if _, err := os.Stat(sockPath); err != nil {
			return false, nil
		}
		return true, nil
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(sockPath, []byte("x"), 0o600)
	}()

	start := time.Now()
	err := SpawnOrAttach(context.Background(), OwnerArgs{SessionID: "s1", SocketPath: sockPath}, attach, noopSpawner, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least one failed attach before the socket appeared, got %d", attempts)
	}
	if elapsed := time.Since(start); elapsed > UpperDeadline {
		t.Fatalf("expected SpawnOrAttach to return well before the upper deadline, took %v", elapsed)
	}
}

func TestSpawnOrAttachDeadlineExpires(t *testing.T) {
	t.Parallel()
	start := time.Now()
	spawnCalls := 0
	attach := func(ctx context.Context) (bool, error) {
		return false, nil
	}
	spawner := func(args OwnerArgs, logger *zap.Logger) error {
		spawnCalls++
		return nil
	}
	// Shorter than UpperDeadline so the loop exits via ctx.Done() quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := SpawnOrAttach(ctx, OwnerArgs{SessionID: "s1"}, attach, spawner, zap.NewNop())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if spawnCalls == 0 {
		t.Fatal("expected at least one spawn attempt before deadline")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("test took too long: %v", time.Since(start))
	}
}
