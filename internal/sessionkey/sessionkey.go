// Package sessionkey derives the stable, filesystem-safe identifier used to
// name a session's lock file and IPC socket (spec §3).
package sessionkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Key is the 3-tuple that names a persistent session: the agent command
// line, the working directory it operates in, and an optional caller-chosen
// name disambiguating multiple sessions with the same command+cwd.
type Key struct {
	AgentCommand string
	Cwd          string
	Name         string
}

// Hash returns the first 24 hex characters of SHA-256(AgentCommand \x00 Cwd
// \x00 Name) — deterministic across invocations for the same tuple, and
// short enough to be a friendly filename component.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.AgentCommand + "\x00" + k.Cwd + "\x00" + k.Name))
	return hex.EncodeToString(sum[:])[:24]
}

// LockFileName is the basename of the session's lease file.
func (k Key) LockFileName() string {
	return k.Hash() + ".lock"
}

// SocketFileName is the basename of the session's Unix domain socket.
func (k Key) SocketFileName() string {
	return k.Hash() + ".sock"
}

// QueueDir returns the directory lock and socket files live under:
// $HOME/.acpx/queues on POSIX, %USERPROFILE%\.acpx\queues on Windows (§6).
func QueueDir(homeDir string) string {
	return filepath.Join(homeDir, ".acpx", "queues")
}

// LockFilePath is the full path to this session's lease file.
func (k Key) LockFilePath(homeDir string) string {
	return filepath.Join(QueueDir(homeDir), k.LockFileName())
}

// SocketPath is the full transport address for this session. acpx uses
// net.Listen("unix", ...) on every platform it ships for: modern Windows
// (10 1803+) supports AF_UNIX and Go's net package has listened/dialed it
// since 1.16, which covers spec §6's named-pipe requirement without an
// extra named-pipe dependency (see DESIGN.md).
func (k Key) SocketPath(homeDir string) string {
	return filepath.Join(QueueDir(homeDir), k.SocketFileName())
}

// String renders the full tuple, agent command line included, for logging.
func (k Key) String() string {
	if k.Name != "" {
		return fmt.Sprintf("%s@%s#%s", k.AgentCommand, k.Cwd, k.Name)
	}
	return fmt.Sprintf("%s@%s", k.AgentCommand, k.Cwd)
}
