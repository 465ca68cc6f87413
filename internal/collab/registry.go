package collab

import (
	"context"
	"errors"
	"sort"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
)

// NoteStore is the persistence surface the realtime layer reads and saves notes through.
type NoteStore interface {
	Get(ctx context.Context, noteID string) (notes.Note, error)
	SaveContent(ctx context.Context, noteID, content string) (notes.Note, error)
}

// LeaveResult describes the transitions caused by a connection leaving a room.
type LeaveResult struct {
	Left         bool
	LockReleased bool
	RoomClosed   bool
}

// Registry maps note ids to live rooms. Rooms are created on first join and
// deleted when their last connection leaves. It is owned by the hub loop.
type Registry struct {
	notes NoteStore
	rooms map[string]*Room
}

// NewRegistry constructs an empty registry.
func NewRegistry(store NoteStore) *Registry {
	return &Registry{notes: store, rooms: make(map[string]*Room)}
}

// Join admits the connection after checking that the note exists and the identity may join.
func (r *Registry) Join(ctx context.Context, noteID, connectionID string, identity auth.Identity) (*Room, error) {
	note, err := r.notes.Get(ctx, noteID)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) || errors.Is(err, notes.ErrInvalidNoteID) {
			return nil, newError(CodeNoteNotFound, ErrNotFound, err)
		}
		return nil, newError(CodeJoinFailed, ErrPersistence, err)
	}
	if !CanJoin(identity, note) {
		return nil, newError(CodeForbidden, ErrForbidden, nil)
	}
	room, ok := r.rooms[noteID]
	if !ok {
		room = newRoom(noteID)
		r.rooms[noteID] = room
	}
	room.admit(connectionID, identity)
	return room, nil
}

// Leave removes the connection from the room and deletes the room once empty.
func (r *Registry) Leave(noteID, connectionID string) LeaveResult {
	room, ok := r.rooms[noteID]
	if !ok {
		return LeaveResult{}
	}
	removed, released := room.remove(connectionID)
	if !removed {
		return LeaveResult{}
	}
	result := LeaveResult{Left: true, LockReleased: released}
	if room.IsEmpty() {
		delete(r.rooms, noteID)
		result.RoomClosed = true
	}
	return result
}

// Room returns the live room for the note.
func (r *Registry) Room(noteID string) (*Room, bool) {
	room, ok := r.rooms[noteID]
	return room, ok
}

// Snapshot returns the presence snapshot of the note, empty when no room exists.
func (r *Registry) Snapshot(noteID string) []Member {
	room, ok := r.rooms[noteID]
	if !ok {
		return []Member{}
	}
	return room.Snapshot()
}

// ConnectionIDs lists the connections present in the note's room.
func (r *Registry) ConnectionIDs(noteID string) []string {
	room, ok := r.rooms[noteID]
	if !ok {
		return nil
	}
	return room.ConnectionIDs()
}

// NoteIDs lists the notes with a live room.
func (r *Registry) NoteIDs() []string {
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}
