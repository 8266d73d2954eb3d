package rooms

import (
	"sort"
	"testing"
)

func TestDirectKeySymmetry(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"alice", "bob"},
		{"zzz", "aaa"},
		{"665f1c2e9b1e8a0012345678", "665f1c2e9b1e8a0087654321"},
	}
	for _, p := range pairs {
		if DirectKey(p[0], p[1]) != DirectKey(p[1], p[0]) {
			t.Errorf("DirectKey(%q,%q) != DirectKey(%q,%q)", p[0], p[1], p[1], p[0])
		}
	}
	if got := DirectKey("u2", "u1"); got != "u1_u2" {
		t.Errorf("expected key %q, got %q", "u1_u2", got)
	}
}

func TestJoinAndMembers(t *testing.T) {
	tr := NewTracker()

	tr.Join("c1", "u1_u2")
	tr.Join("c2", "u1_u2")
	tr.Join("c3", "g1")

	members := tr.Members("u1_u2")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "c1" || members[1] != "c2" {
		t.Fatalf("unexpected members: %v", members)
	}

	// Cross-room isolation: g1 has only c3.
	if g := tr.Members("g1"); len(g) != 1 || g[0] != "c3" {
		t.Fatalf("unexpected g1 members: %v", g)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	tr := NewTracker()

	tr.Join("c1", "u1_u2")
	tr.Join("c1", "u1_u2")

	if members := tr.Members("u1_u2"); len(members) != 1 {
		t.Fatalf("duplicate join must not duplicate membership, got %v", members)
	}
}

func TestLeave(t *testing.T) {
	tr := NewTracker()

	tr.Join("c1", "g1")
	tr.Join("c2", "g1")
	tr.Leave("c1", "g1")

	if members := tr.Members("g1"); len(members) != 1 || members[0] != "c2" {
		t.Fatalf("unexpected members after leave: %v", members)
	}

	// Leaving a room never joined must not panic or corrupt state.
	tr.Leave("c9", "g1")
	tr.Leave("c2", "nope")
	if members := tr.Members("g1"); len(members) != 1 {
		t.Fatalf("unexpected members: %v", members)
	}
}

func TestDropRemovesAllMemberships(t *testing.T) {
	tr := NewTracker()

	tr.Join("c1", "u1_u2")
	tr.Join("c1", "g1")
	tr.Join("c2", "g1")

	tr.Drop("c1")

	if members := tr.Members("u1_u2"); len(members) != 0 {
		t.Errorf("expected empty direct room, got %v", members)
	}
	if members := tr.Members("g1"); len(members) != 1 || members[0] != "c2" {
		t.Errorf("expected only c2 in g1, got %v", members)
	}
	if roomKeys := tr.Rooms("c1"); len(roomKeys) != 0 {
		t.Errorf("expected no rooms for dropped connection, got %v", roomKeys)
	}
}

func TestMembersOfUnknownRoom(t *testing.T) {
	tr := NewTracker()

	members := tr.Members("never-created")
	if members == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %v", members)
	}
}
