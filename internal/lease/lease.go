// Package lease implements spec component A: the per-session lock file that
// gives one process exclusive ownership of a session's queue, plus the
// liveness probing that lets a new process reclaim an orphaned lease.
package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/acpx/acpx/internal/sessionkey"
)

// Lease is the single-line JSON document persisted in the lock file (§3).
type Lease struct {
	SessionID   string    `json:"sessionId"`
	PID         int       `json:"pid"`
	SocketPath  string    `json:"socketPath"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	RefreshedAt time.Time `json:"refreshedAt"`
	QueueDepth  int       `json:"queueDepth"`
}

// ErrOwnerLive is returned by TryAcquire when another live process already
// holds the lease.
var ErrOwnerLive = errors.New("lease: another owner is live")

// Store reads and writes lease files under a session's queue directory.
type Store struct {
	homeDir string
	logger  *zap.Logger

	// reclaim collapses concurrent TryAcquire calls for the same session key
	// into a single reclaim-or-fail decision, so two goroutines racing to
	// spawn an owner for the same key don't both unlink and recreate the
	// lock file.
	reclaim singleflight.Group
}

// NewStore creates a Store rooted at homeDir (the value of $HOME/%USERPROFILE%).
func NewStore(homeDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{homeDir: homeDir, logger: logger}
}

// TryAcquire attempts to become the owner for key. It performs an atomic
// exclusive-create of the lock file. If one already exists and its recorded
// pid is dead, the caller reclaims it by unlinking and retrying once.
func (s *Store) TryAcquire(key sessionkey.Key, sessionID string) (*Lease, error) {
	dir := sessionkey.QueueDir(s.homeDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lease: create queue dir: %w", err)
	}

	lease, err := s.create(key, sessionID)
	if err == nil {
		return lease, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, err
	}

	v, err, _ := s.reclaim.Do(key.String(), func() (interface{}, error) {
		existing, readErr := s.Read(key)
		if readErr != nil {
			// Lock file vanished between create-fail and read; one more attempt.
			return s.create(key, sessionID)
		}
		if probeLive(existing.PID) {
			return nil, ErrOwnerLive
		}

		s.logger.Info("reclaiming orphaned lease",
			zap.String("session_key", key.String()),
			zap.Int("dead_pid", existing.PID))
		if err := os.Remove(key.LockFilePath(s.homeDir)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("lease: unlink orphaned lock: %w", err)
		}
		return s.create(key, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Lease), nil
}

func (s *Store) create(key sessionkey.Key, sessionID string) (*Lease, error) {
	path := key.LockFilePath(s.homeDir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	now := time.Now()
	lease := &Lease{
		SessionID:   sessionID,
		PID:         os.Getpid(),
		SocketPath:  key.SocketPath(s.homeDir),
		AcquiredAt:  now,
		RefreshedAt: now,
		QueueDepth:  0,
	}
	b, err := json.Marshal(lease)
	if err != nil {
		return nil, fmt.Errorf("lease: marshal: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return nil, fmt.Errorf("lease: write: %w", err)
	}
	return lease, nil
}

// Refresh rewrites the lock file atomically (temp file + rename) with an
// updated refreshedAt and queueDepth. Heartbeat interval is constants.HeartbeatInterval.
func (s *Store) Refresh(key sessionkey.Key, lease *Lease, queueDepth int) error {
	lease.RefreshedAt = time.Now()
	lease.QueueDepth = queueDepth

	b, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("lease: marshal: %w", err)
	}
	return renameio.WriteFile(key.LockFilePath(s.homeDir), append(b, '\n'), 0o600)
}

// Release unlinks the lock file and best-effort unlinks the socket path.
func (s *Store) Release(key sessionkey.Key) error {
	lockErr := os.Remove(key.LockFilePath(s.homeDir))
	if lockErr != nil && os.IsNotExist(lockErr) {
		lockErr = nil
	}
	_ = os.Remove(key.SocketPath(s.homeDir)) // best-effort, POSIX only
	return lockErr
}

// Read loads the current lease for key, or (nil, os.ErrNotExist) if none exists.
func (s *Store) Read(key sessionkey.Key) (*Lease, error) {
	b, err := os.ReadFile(key.LockFilePath(s.homeDir))
	if err != nil {
		return nil, err
	}
	var lease Lease
	if err := json.Unmarshal(b, &lease); err != nil {
		return nil, fmt.Errorf("lease: parse lock file: %w", err)
	}
	return &lease, nil
}

// EnsureUsable reports whether lease still names a live owner: the lock
// file exists, names the same pid, and that process is alive. It guards
// every IPC attempt against a just-died owner (§4.A).
func (s *Store) EnsureUsable(key sessionkey.Key, lease *Lease) bool {
	current, err := s.Read(key)
	if err != nil {
		return false
	}
	if current.PID != lease.PID {
		return false
	}
	return probeLive(current.PID)
}

// IsStale reports whether lease's refreshedAt is old enough that a reader
// should re-probe its pid rather than trust the file at face value (§4.A, §8 property 6).
func IsStale(lease *Lease, grace time.Duration) bool {
	return time.Since(lease.RefreshedAt) > grace
}

// TerminateOwnerFor sends a graceful-then-forceful stop signal to the
// process currently holding key's lease, if any.
func (s *Store) TerminateOwnerFor(key sessionkey.Key) error {
	lease, err := s.Read(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !probeLive(lease.PID) {
		return nil
	}

	if err := gracefulStop(lease.PID); err != nil {
		return fmt.Errorf("lease: graceful stop pid %d: %w", lease.PID, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !probeLive(lease.PID) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	forceKill(lease.PID)
	return nil
}
