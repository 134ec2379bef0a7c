package sessionkey

import "testing"

func TestHashIsDeterministicAndScoped(t *testing.T) {
	a := Key{AgentCommand: "claude-code", Cwd: "/home/user/proj"}
	b := Key{AgentCommand: "claude-code", Cwd: "/home/user/proj"}
	c := Key{AgentCommand: "claude-code", Cwd: "/home/user/other"}

	if a.Hash() != b.Hash() {
		t.Fatalf("identical tuples hashed differently: %s vs %s", a.Hash(), b.Hash())
	}
	if a.Hash() == c.Hash() {
		t.Fatal("different cwd produced the same hash")
	}
	if len(a.Hash()) != 24 {
		t.Fatalf("expected 24 hex chars, got %d (%s)", len(a.Hash()), a.Hash())
	}
}

func TestNameDisambiguates(t *testing.T) {
	base := Key{AgentCommand: "claude-code", Cwd: "/repo"}
	named := Key{AgentCommand: "claude-code", Cwd: "/repo", Name: "review"}

	if base.Hash() == named.Hash() {
		t.Fatal("optional name did not change the hash")
	}
}

func TestLockAndSocketPaths(t *testing.T) {
	k := Key{AgentCommand: "claude-code", Cwd: "/repo"}
	lock := k.LockFilePath("/home/user")
	sock := k.SocketPath("/home/user")

	if lock == sock {
		t.Fatal("lock and socket paths must differ")
	}
	wantSuffix := k.Hash() + ".lock"
	if lock[len(lock)-len(wantSuffix):] != wantSuffix {
		t.Fatalf("lock path %q does not end with %q", lock, wantSuffix)
	}
}
