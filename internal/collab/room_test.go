package collab

import (
	"testing"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
)

var (
	alice = auth.Identity{ID: "user-alice", DisplayName: "Alice"}
	bob   = auth.Identity{ID: "user-bob", DisplayName: "Bob"}
	carol = auth.Identity{ID: "user-carol", DisplayName: "Carol"}
)

func TestRoomLockTransitions(t *testing.T) {
	room := newRoom("note-1")
	room.admit("conn-a", alice)
	room.admit("conn-b", bob)

	if room.State() != Unlocked {
		t.Fatalf("expected new room to be unlocked")
	}
	if decision := room.requestEdit("conn-a", alice); decision != LockGranted {
		t.Fatalf("expected grant, got %v", decision)
	}
	if decision := room.requestEdit("conn-a", alice); decision != LockReaffirmed {
		t.Fatalf("expected reaffirmation, got %v", decision)
	}
	if decision := room.requestEdit("conn-b", bob); decision != LockDenied {
		t.Fatalf("expected denial, got %v", decision)
	}
	holder := room.Holder()
	if holder == nil || holder.ID != alice.ID {
		t.Fatalf("expected alice to hold the lock, got %+v", holder)
	}
	if room.release("conn-b") {
		t.Fatalf("non-holder must not release the lock")
	}
	if !room.release("conn-a") {
		t.Fatalf("holder release failed")
	}
	if room.State() != Unlocked || room.Holder() != nil {
		t.Fatalf("expected unlocked room after release")
	}
}

func TestRoomLockIsPerConnection(t *testing.T) {
	room := newRoom("note-1")
	room.admit("conn-a1", alice)
	room.admit("conn-a2", alice)

	room.requestEdit("conn-a1", alice)
	if decision := room.requestEdit("conn-a2", alice); decision != LockDenied {
		t.Fatalf("second tab of the same identity must be denied, got %v", decision)
	}
}

func TestRoomRemoveReleasesHeldLock(t *testing.T) {
	room := newRoom("note-1")
	room.admit("conn-a", alice)
	room.admit("conn-b", bob)
	room.requestEdit("conn-a", alice)

	removed, released := room.remove("conn-b")
	if !removed || released {
		t.Fatalf("removing a non-holder: removed=%v released=%v", removed, released)
	}
	removed, released = room.remove("conn-a")
	if !removed || !released {
		t.Fatalf("removing the holder: removed=%v released=%v", removed, released)
	}
	if !room.IsEmpty() || room.State() != Unlocked {
		t.Fatalf("expected empty unlocked room")
	}
	if removed, _ := room.remove("conn-a"); removed {
		t.Fatalf("second removal should be a no-op")
	}
}

func TestRoomSnapshotCollapsesConnectionsPerIdentity(t *testing.T) {
	room := newRoom("note-1")
	room.admit("conn-c", carol)
	room.admit("conn-a1", alice)
	room.admit("conn-a2", alice)
	room.setTyping(alice.ID, true)

	snapshot := room.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 members, got %+v", snapshot)
	}
	if snapshot[0].ID != alice.ID || !snapshot[0].IsTyping {
		t.Fatalf("unexpected first member %+v", snapshot[0])
	}
	if snapshot[1].ID != carol.ID || snapshot[1].IsTyping {
		t.Fatalf("unexpected second member %+v", snapshot[1])
	}

	room.remove("conn-a1")
	if len(room.Snapshot()) != 2 {
		t.Fatalf("identity must stay present while one connection remains")
	}
	room.remove("conn-a2")
	if len(room.Snapshot()) != 1 {
		t.Fatalf("identity must leave with its last connection")
	}
}

func TestRoomSetTypingIgnoresNonMembers(t *testing.T) {
	room := newRoom("note-1")
	room.admit("conn-a", alice)
	if room.setTyping(bob.ID, true) {
		t.Fatalf("typing for a non-member must be ignored")
	}
}
