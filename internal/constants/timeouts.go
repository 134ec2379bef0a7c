// Package constants provides the fixed timing and sizing parameters the
// queue-owner runtime is built around (spec §4, §6).
package constants

import "time"

const (
	// HeartbeatInterval is how often the owner refreshes its lease file (§4.A).
	HeartbeatInterval = 2 * time.Second

	// LeaseStalenessGrace is how long a reader waits past the last refresh
	// before treating a lease as suspect and re-probing its pid (§4.A): 7.5x
	// HeartbeatInterval.
	LeaseStalenessGrace = 15 * time.Second

	// QueueClientRetryAttempts and QueueClientRetryInterval bound how long a
	// queue client keeps retrying a connect against a lease that claims to be
	// live (§4.D).
	QueueClientRetryAttempts = 40
	QueueClientRetryInterval = 50 * time.Millisecond

	// SpawnUpperDeadline, SpawnMinInterval and SpawnPollInterval govern the
	// spawn-or-attach loop (§4.G). Mirrored in internal/spawn as the
	// authoritative values; re-exported here so callers that only need the
	// numbers don't have to import the spawn package.
	SpawnUpperDeadline = 10 * time.Second
	SpawnMinInterval   = 250 * time.Millisecond
	SpawnPollInterval  = 50 * time.Millisecond

	// DefaultTTL is what a null/negative/non-finite ttlMs normalizes to (§4.F).
	// A ttlMs of exactly 0 means "no TTL" and is handled separately, not by
	// this constant.
	DefaultTTL = 300000 * time.Millisecond

	// SocketBacklog is the accept backlog for the owner's queue socket (§4.C, §6).
	SocketBacklog = 16

	// MaxPromptBodyBytes is the minimum line length the NDJSON framing must
	// accommodate for a submit_prompt message (§6). The actual max line
	// length used by the codec is larger to leave room for JSON envelope
	// overhead.
	MaxPromptBodyBytes = 200 * 1024

	// MaxLineBytes bounds one NDJSON frame read off the queue socket.
	MaxLineBytes = MaxPromptBodyBytes + 16*1024
)

// Exit codes (§6).
const (
	ExitSuccess           = 0
	ExitPermissionDenied  = 2
	ExitTimeout           = 124
	ExitInterrupted       = 130
	ExitUsage             = 64
	ExitGenericError      = 1
)
