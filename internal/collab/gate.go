package collab

import (
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
)

// CanJoin reports whether the identity owns or collaborates on the note.
func CanJoin(identity auth.Identity, note notes.Note) bool {
	return note.HasAccess(identity.ID)
}

// CanEdit extends CanJoin: a read-only note may only be edited by its owner.
func CanEdit(identity auth.Identity, note notes.Note) bool {
	if !CanJoin(identity, note) {
		return false
	}
	return !note.ReadOnly || note.IsOwner(identity.ID)
}
