package sessionrecord

import (
	"os"
	"testing"

	"github.com/acpx/acpx/internal/sessionkey"
)

func testKey() sessionkey.Key {
	return sessionkey.Key{AgentCommand: "claude-agent", Cwd: "/work/repo"}
}

func TestLoadMissingReturnsNotExist(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Load(testKey()); !os.IsNotExist(err) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()
	rec := &Record{AgentCommand: key.AgentCommand, Cwd: key.Cwd, ACPSessionID: "sess-1"}

	if err := s.Save(key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ACPSessionID != "sess-1" || got.AgentCommand != key.AgentCommand {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLoadByHashFindsRecordSavedByKey(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()
	rec := &Record{AgentCommand: key.AgentCommand, Cwd: key.Cwd, ACPSessionID: "sess-1"}
	if err := s.Save(key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadByHash(key.Hash())
	if err != nil {
		t.Fatalf("load by hash: %v", err)
	}
	if got.ACPSessionID != "sess-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestEnsureSeededDoesNotClobberExistingACPSessionID(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()
	if err := s.Touch(key, "sess-existing"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	if err := s.EnsureSeeded(key); err != nil {
		t.Fatalf("ensure seeded: %v", err)
	}
	got, err := s.Load(key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ACPSessionID != "sess-existing" {
		t.Fatalf("expected existing session id preserved, got %q", got.ACPSessionID)
	}
}

func TestTouchCreatesThenUpdates(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	if err := s.Touch(key, "sess-a"); err != nil {
		t.Fatalf("first touch: %v", err)
	}
	first, err := s.Load(key)
	if err != nil {
		t.Fatalf("load after first touch: %v", err)
	}
	firstStamp := first.LastUsedAt

	if err := s.Touch(key, "sess-b"); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	second, err := s.Load(key)
	if err != nil {
		t.Fatalf("load after second touch: %v", err)
	}
	if second.ACPSessionID != "sess-b" {
		t.Fatalf("expected updated session id, got %q", second.ACPSessionID)
	}
	if second.LastUsedAt.Before(firstStamp) {
		t.Fatalf("expected lastUsedAt to advance")
	}
}
