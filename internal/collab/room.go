package collab

import (
	"sort"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
)

// LockState is the edit-lock state of a room.
type LockState int

const (
	Unlocked LockState = iota
	Locked
)

// LockDecision is the outcome of an edit request.
type LockDecision int

const (
	LockGranted LockDecision = iota
	LockReaffirmed
	LockDenied
)

type editLock struct {
	holder       auth.Identity
	connectionID string
}

type member struct {
	identity    auth.Identity
	connections map[string]struct{}
	typing      bool
}

// Room is the live state of one note: its members and its edit lock.
// A Room is owned by the hub loop and is not safe for concurrent use.
type Room struct {
	noteID      string
	members     map[string]*member
	connections map[string]string
	lock        *editLock
}

func newRoom(noteID string) *Room {
	return &Room{
		noteID:      noteID,
		members:     make(map[string]*member),
		connections: make(map[string]string),
	}
}

// NoteID returns the note the room is keyed by.
func (r *Room) NoteID() string {
	return r.noteID
}

// State reports whether the edit lock is held.
func (r *Room) State() LockState {
	if r.lock == nil {
		return Unlocked
	}
	return Locked
}

// Holder returns the identity holding the lock, or nil when unlocked.
func (r *Room) Holder() *LockHolder {
	if r.lock == nil {
		return nil
	}
	holder := holderOf(r.lock.holder)
	return &holder
}

// HoldsLock reports whether the given connection holds the lock.
func (r *Room) HoldsLock(connectionID string) bool {
	return r.lock != nil && r.lock.connectionID == connectionID
}

// IsEmpty reports whether no connection is present.
func (r *Room) IsEmpty() bool {
	return len(r.connections) == 0
}

// HasConnection reports whether the connection joined the room.
func (r *Room) HasConnection(connectionID string) bool {
	_, ok := r.connections[connectionID]
	return ok
}

// ConnectionIDs lists the connections in the room in a stable order.
func (r *Room) ConnectionIDs() []string {
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot lists the distinct identities present, sorted by id.
func (r *Room) Snapshot() []Member {
	snapshot := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		snapshot = append(snapshot, Member{
			ID:          m.identity.ID,
			DisplayName: m.identity.DisplayName,
			IsTyping:    m.typing,
		})
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

// admit adds the connection. It reports false when the connection was already present.
func (r *Room) admit(connectionID string, identity auth.Identity) bool {
	if _, ok := r.connections[connectionID]; ok {
		return false
	}
	r.connections[connectionID] = identity.ID
	m, ok := r.members[identity.ID]
	if !ok {
		m = &member{identity: identity, connections: make(map[string]struct{})}
		r.members[identity.ID] = m
	}
	m.connections[connectionID] = struct{}{}
	return true
}

// remove drops the connection, releasing the lock if that connection held it.
func (r *Room) remove(connectionID string) (removed bool, lockReleased bool) {
	userID, ok := r.connections[connectionID]
	if !ok {
		return false, false
	}
	delete(r.connections, connectionID)
	if m, ok := r.members[userID]; ok {
		delete(m.connections, connectionID)
		if len(m.connections) == 0 {
			delete(r.members, userID)
		}
	}
	if r.HoldsLock(connectionID) {
		r.lock = nil
		lockReleased = true
	}
	return true, lockReleased
}

// setTyping updates the typing flag of a present identity.
func (r *Room) setTyping(userID string, typing bool) bool {
	m, ok := r.members[userID]
	if !ok {
		return false
	}
	m.typing = typing
	return true
}

// requestEdit applies the lock transition for a member connection.
func (r *Room) requestEdit(connectionID string, identity auth.Identity) LockDecision {
	switch {
	case r.lock == nil:
		r.lock = &editLock{holder: identity, connectionID: connectionID}
		return LockGranted
	case r.lock.connectionID == connectionID:
		return LockReaffirmed
	default:
		return LockDenied
	}
}

// release clears the lock when held by the connection.
func (r *Room) release(connectionID string) bool {
	if !r.HoldsLock(connectionID) {
		return false
	}
	r.lock = nil
	return true
}
