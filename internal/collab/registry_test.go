package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
)

func sharedNote() notes.Note {
	return notes.Note{
		ID:            "note-1",
		OwnerID:       alice.ID,
		Title:         "Shared",
		Collaborators: []notes.Collaborator{{NoteID: "note-1", UserID: bob.ID}},
	}
}

func TestRegistryJoinChecksExistenceAndAccess(t *testing.T) {
	registry := NewRegistry(newMemoryNotes(sharedNote()))
	ctx := context.Background()

	if _, err := registry.Join(ctx, "missing", "conn-a", alice); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := registry.Join(ctx, "note-1", "conn-c", carol); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("rejected joins must not create rooms")
	}

	if _, err := registry.Join(ctx, "note-1", "conn-a", alice); err != nil {
		t.Fatalf("owner join failed: %v", err)
	}
	if _, err := registry.Join(ctx, "note-1", "conn-c", carol); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden on an existing room, got %v", err)
	}
	if ids := registry.ConnectionIDs("note-1"); len(ids) != 1 || ids[0] != "conn-a" {
		t.Fatalf("unexpected membership %v", ids)
	}
}

func TestRegistryJoinReportsStorageFailures(t *testing.T) {
	store := newMemoryNotes(sharedNote())
	store.getErr = errStorageDown
	registry := NewRegistry(store)

	_, err := registry.Join(context.Background(), "note-1", "conn-a", alice)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, errStorageDown) {
		t.Fatalf("expected wrapped persistence failure, got %v", err)
	}
}

func TestRegistryDeletesEmptyRooms(t *testing.T) {
	registry := NewRegistry(newMemoryNotes(sharedNote()))
	ctx := context.Background()

	room, err := registry.Join(ctx, "note-1", "conn-a", alice)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	room.requestEdit("conn-a", alice)

	result := registry.Leave("note-1", "conn-a")
	if !result.Left || !result.LockReleased || !result.RoomClosed {
		t.Fatalf("unexpected leave result %+v", result)
	}
	if _, ok := registry.Room("note-1"); ok {
		t.Fatalf("room must be deleted once empty")
	}

	fresh, err := registry.Join(ctx, "note-1", "conn-b", bob)
	if err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if fresh.State() != Unlocked {
		t.Fatalf("fresh room must not carry a stale lock")
	}
	if snapshot := registry.Snapshot("note-1"); len(snapshot) != 1 || snapshot[0].ID != bob.ID {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestRegistryLeaveUnknownIsNoop(t *testing.T) {
	registry := NewRegistry(newMemoryNotes(sharedNote()))
	if result := registry.Leave("note-1", "conn-a"); result.Left {
		t.Fatalf("expected no-op leave, got %+v", result)
	}
	if snapshot := registry.Snapshot("note-1"); len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}
}
