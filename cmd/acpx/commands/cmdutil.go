// Package commands implements acpx's CLI surface: cobra subcommands that
// build a SessionKey from global flags, reach that session's owner (prompt
// through spawn-or-attach, the control subcommands by dialing a live owner
// directly), and render the streamed result with cliformat. Grounded
// on marmos91-dittofs's cmd/dfsctl/commands (root.go, status.go) for cobra
// wiring and on the pack's own agentctl for the owner/client split.
package commands

import (
	"os"

	"github.com/acpx/acpx/internal/sessionkey"
)

// Flags stores the persistent flag values shared by every subcommand,
// mirroring dittofs's cmdutil.Flags pattern.
var Flags = &GlobalFlags{}

// GlobalFlags holds acpx's persistent, session-identifying flags.
type GlobalFlags struct {
	// AgentCommand is the adapter's command line verbatim (--agent-command),
	// split on whitespace wherever it needs to become argv (queueowner.go);
	// kept as one string here since that's also how sessionrecord.Record
	// persists it.
	AgentCommand string
	Cwd          string
	SessionName  string
	Output       string
	Verbose      bool
}

// Key builds the SessionKey these flags name.
func (f *GlobalFlags) Key() sessionkey.Key {
	return sessionkey.Key{
		AgentCommand: f.AgentCommand,
		Cwd:          f.Cwd,
		Name:         f.SessionName,
	}
}

// homeDir resolves $HOME (POSIX) / %USERPROFILE% (Windows) per spec §6.
func homeDir() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	if h := os.Getenv("USERPROFILE"); h != "" {
		return h, nil
	}
	return os.UserHomeDir()
}

// currentDirOrEmpty returns the process's working directory, or "" if it
// can't be determined (rare; the session key then carries an empty cwd
// unless --cwd is given).
func currentDirOrEmpty() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}
