// Package sessionrecord implements the on-disk session-record collaborator
// the core treats as external (spec §3 "SessionRecord (collaborator)",
// §1 deliberately-out-of-scope list): a small persistent JSON document the
// owner reads to learn agentCommand/cwd and rewrites after each turn.
package sessionrecord

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/acpx/acpx/internal/sessionkey"
)

// Record is the persisted document for one SessionKey.
type Record struct {
	AgentCommand string         `json:"agentCommand"`
	Cwd          string         `json:"cwd"`
	Name         string         `json:"name,omitempty"`
	ACPSessionID string         `json:"acpSessionId,omitempty"`
	LastUsedAt   time.Time      `json:"lastUsedAt"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

// Store reads and writes session records under a directory, one JSON file
// per SessionKey.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir (typically $HOME/.acpx/sessions).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(key sessionkey.Key) string {
	return filepath.Join(s.dir, key.Hash()+".json")
}

func (s *Store) pathForHash(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}

// Load reads the record for key, or (nil, os.ErrNotExist) if none exists yet.
func (s *Store) Load(key sessionkey.Key) (*Record, error) {
	return s.loadPath(s.path(key))
}

// LoadByHash reads the record named by a bare SessionKey hash, used by the
// owner subcommand: it receives only `--session-id <hash>` (spec §6) and
// has no way to recompute the hash from the original agentCommand/cwd/name,
// so it looks the record up directly and reconstructs the SessionKey from
// its contents instead.
func (s *Store) LoadByHash(hash string) (*Record, error) {
	return s.loadPath(s.pathForHash(hash))
}

func (s *Store) loadPath(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("sessionrecord: parse %s: %w", path, err)
	}
	return &rec, nil
}

// Save writes rec for key atomically (temp file + rename), matching the same
// discipline lease refresh uses (spec §5, §9 "Atomic file writes").
func (s *Store) Save(key sessionkey.Key, rec *Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("sessionrecord: create dir: %w", err)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionrecord: marshal: %w", err)
	}
	return renameio.WriteFile(s.path(key), b, 0o600)
}

// EnsureSeeded creates a record scoped to key if none exists yet, without
// disturbing an existing record's acpSessionId. A foreground invocation
// calls this before spawn-or-attach so a freshly spawned owner (which only
// receives `--session-id <hash>`, spec §6) has somewhere to read
// agentCommand/cwd from.
func (s *Store) EnsureSeeded(key sessionkey.Key) error {
	if _, err := s.Load(key); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return s.Save(key, &Record{AgentCommand: key.AgentCommand, Cwd: key.Cwd, Name: key.Name, LastUsedAt: time.Now()})
}

// Touch loads the record for key (creating a fresh one scoped to key if
// absent), stamps lastUsedAt and acpSessionId, and saves it back.
func (s *Store) Touch(key sessionkey.Key, acpSessionID string) error {
	rec, err := s.Load(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		rec = &Record{AgentCommand: key.AgentCommand, Cwd: key.Cwd, Name: key.Name}
	}
	rec.ACPSessionID = acpSessionID
	rec.LastUsedAt = time.Now()
	return s.Save(key, rec)
}
