package collab

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
)

// Client to server events.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventTypingStart  = "typing-start"
	EventTypingStop   = "typing-stop"
	EventSendMessage  = "send-message"
	EventRequestEdit  = "request-edit"
	EventContentDelta = "content-delta"
	EventReleaseEdit  = "release-edit"
)

// Server to client events.
const (
	EventJoinedRoom           = "joined-room"
	EventPresenceUpdate       = "presence-update"
	EventNewMessage           = "new-message"
	EventHistory              = "history"
	EventLockUpdate           = "lock-update"
	EventLockDenied           = "lock-denied"
	EventContentDeltaReceived = "content-delta-received"
	EventSaved                = "saved"
	EventError                = "error"
)

// Inbound is a frame received from a client.
type Inbound struct {
	Event   string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is a frame queued for a client.
type Outbound struct {
	Event   string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type notePayload struct {
	NoteID string `json:"noteId"`
}

type sendMessagePayload struct {
	NoteID string `json:"noteId"`
	Text   string `json:"text"`
}

type contentDeltaPayload struct {
	NoteID string          `json:"noteId"`
	Delta  json.RawMessage `json:"delta"`
}

// A nil FinalContent means the field was absent; an empty string is a valid save.
type releaseEditPayload struct {
	NoteID       string  `json:"noteId"`
	FinalContent *string `json:"finalContent"`
}

// Member is one entry of a presence snapshot.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

// LockHolder identifies the identity holding a room's edit lock.
type LockHolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func holderOf(identity auth.Identity) LockHolder {
	return LockHolder{ID: identity.ID, DisplayName: identity.DisplayName}
}

type JoinedRoomPayload struct {
	NoteID  string `json:"noteId"`
	Message string `json:"message"`
}

type PresencePayload struct {
	NoteID  string   `json:"noteId"`
	Members []Member `json:"members"`
}

type HistoryPayload struct {
	NoteID   string        `json:"noteId"`
	Messages []chat.Message `json:"messages"`
}

type LockUpdatePayload struct {
	NoteID string      `json:"noteId"`
	Holder *LockHolder `json:"holder"`
}

type LockDeniedPayload struct {
	NoteID string     `json:"noteId"`
	Holder LockHolder `json:"holder"`
}

type ContentDeltaReceivedPayload struct {
	NoteID            string          `json:"noteId"`
	Delta             json.RawMessage `json:"delta"`
	EditorID          string          `json:"editorId"`
	EditorDisplayName string          `json:"editorDisplayName"`
}

type SavedPayload struct {
	NoteID  string     `json:"noteId"`
	Content string     `json:"content"`
	SavedAt time.Time  `json:"savedAt"`
	SavedBy LockHolder `json:"savedBy"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	NoteID  string `json:"noteId,omitempty"`
}

func errorFrame(code, noteID string) Outbound {
	return Outbound{Event: EventError, Payload: ErrorPayload{Message: code, NoteID: noteID}}
}
