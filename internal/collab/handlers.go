package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
	"go.uber.org/zap"
)

func (h *Hub) handleConnect(connectionID string, identity auth.Identity) {
	if _, ok := h.sessions[connectionID]; ok {
		return
	}
	h.sessions[connectionID] = &session{
		id:       connectionID,
		identity: identity,
		rooms:    make(map[string]struct{}),
	}
	connectionsGauge.Inc()
	h.logger.Debug("realtime connection registered",
		zap.String("connection_id", connectionID),
		zap.String("user_id", identity.ID),
	)
}

func (h *Hub) handleDisconnect(connectionID string) {
	s, ok := h.sessions[connectionID]
	if ok {
		if s.editing != "" {
			h.leaveRoom(s, s.editing)
		}
		for noteID := range s.rooms {
			h.leaveRoom(s, noteID)
		}
		delete(h.sessions, connectionID)
		connectionsGauge.Dec()
	}
	h.dispatcher.Detach(connectionID)
}

func (h *Hub) handleEvent(ctx context.Context, s *session, inbound Inbound) {
	switch inbound.Event {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, s, inbound.Payload)
	case EventLeaveRoom:
		h.handleLeaveRoom(s, inbound.Payload)
	case EventTypingStart:
		h.handleTyping(s, inbound.Payload, true)
	case EventTypingStop:
		h.handleTyping(s, inbound.Payload, false)
	case EventSendMessage:
		h.handleSendMessage(ctx, s, inbound.Payload)
	case EventRequestEdit:
		h.handleRequestEdit(ctx, s, inbound.Payload)
	case EventContentDelta:
		h.handleContentDelta(s, inbound.Payload)
	case EventReleaseEdit:
		h.handleReleaseEdit(ctx, s, inbound.Payload)
	default:
		h.fail(s, "", newError(CodeUnknownEvent, ErrBadRequest, fmt.Errorf("event %q", inbound.Event)))
	}
}

func (h *Hub) handleJoinRoom(ctx context.Context, s *session, raw json.RawMessage) {
	var payload notePayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID, err := requireNoteID(payload.NoteID)
	if err != nil {
		h.fail(s, "", err)
		return
	}

	_, rejoining := s.rooms[noteID]

	joinCtx, cancel := h.persistenceContext(ctx)
	started := time.Now()
	room, err := h.registry.Join(joinCtx, noteID, s.id, s.identity)
	cancel()
	observePersistence("note_lookup", started, persistenceFailure(err))
	if err != nil {
		h.fail(s, noteID, err)
		return
	}
	s.rooms[noteID] = struct{}{}
	roomsGauge.Set(float64(h.registry.Len()))

	h.toSender(s, Outbound{Event: EventJoinedRoom, Payload: JoinedRoomPayload{
		NoteID:  noteID,
		Message: "Joined room " + noteID,
	}})
	if rejoining {
		h.toSender(s, h.presenceFrame(noteID))
	} else {
		h.toRoom(noteID, h.presenceFrame(noteID))
	}

	historyCtx, cancel := h.persistenceContext(ctx)
	started = time.Now()
	messages, err := h.chat.Recent(historyCtx, noteID, h.historyLimit)
	cancel()
	observePersistence("chat_history", started, err)
	if err != nil {
		h.fail(s, noteID, newError(CodeHistoryFailed, ErrPersistence, err))
	} else {
		if messages == nil {
			messages = []chat.Message{}
		}
		h.toSender(s, Outbound{Event: EventHistory, Payload: HistoryPayload{NoteID: noteID, Messages: messages}})
	}

	h.toSender(s, lockFrame(noteID, room.Holder()))
}

func (h *Hub) handleLeaveRoom(s *session, raw json.RawMessage) {
	var payload notePayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID, err := requireNoteID(payload.NoteID)
	if err != nil {
		h.fail(s, "", err)
		return
	}
	if _, ok := s.rooms[noteID]; !ok {
		return
	}
	h.leaveRoom(s, noteID)
}

func (h *Hub) leaveRoom(s *session, noteID string) {
	result := h.registry.Leave(noteID, s.id)
	delete(s.rooms, noteID)
	if s.editing == noteID {
		s.editing = ""
	}
	if !result.Left {
		return
	}
	roomsGauge.Set(float64(h.registry.Len()))
	if result.RoomClosed {
		return
	}
	if result.LockReleased {
		h.toRoom(noteID, lockFrame(noteID, nil))
	}
	h.toRoom(noteID, h.presenceFrame(noteID))
}

func (h *Hub) handleTyping(s *session, raw json.RawMessage, typing bool) {
	var payload notePayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID := strings.TrimSpace(payload.NoteID)
	if _, ok := s.rooms[noteID]; !ok {
		return
	}
	room, ok := h.registry.Room(noteID)
	if !ok || !room.setTyping(s.identity.ID, typing) {
		return
	}
	h.toRoom(noteID, h.presenceFrame(noteID))
}

func (h *Hub) handleSendMessage(ctx context.Context, s *session, raw json.RawMessage) {
	var payload sendMessagePayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID, err := requireNoteID(payload.NoteID)
	if err != nil {
		h.fail(s, "", err)
		return
	}
	if _, ok := s.rooms[noteID]; !ok {
		h.fail(s, noteID, newError(CodeNotInRoom, ErrForbidden, nil))
		return
	}

	appendCtx, cancel := h.persistenceContext(ctx)
	started := time.Now()
	message, stored, err := h.chat.Append(appendCtx, noteID, s.identity.ID, s.identity.DisplayName, payload.Text)
	cancel()
	if err != nil {
		if errors.Is(err, chat.ErrMessageTooLong) {
			h.fail(s, noteID, newError(CodeMessageTooLong, ErrBadRequest, err))
			return
		}
		observePersistence("chat_append", started, err)
		h.fail(s, noteID, newError(CodeMessageFailed, ErrPersistence, err))
		return
	}
	if !stored {
		return
	}
	observePersistence("chat_append", started, nil)
	h.toRoom(noteID, Outbound{Event: EventNewMessage, Payload: message})
}

func (h *Hub) handleRequestEdit(ctx context.Context, s *session, raw json.RawMessage) {
	var payload notePayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID, err := requireNoteID(payload.NoteID)
	if err != nil {
		h.fail(s, "", err)
		return
	}
	room, ok := h.memberRoom(s, noteID)
	if !ok {
		h.fail(s, noteID, newError(CodeNotInRoom, ErrForbidden, nil))
		return
	}
	if s.editing != "" && s.editing != noteID {
		h.fail(s, noteID, newError(CodeEditSessionActive, ErrLockViolation, fmt.Errorf("editing %s", s.editing)))
		return
	}

	switch {
	case room.HoldsLock(s.id):
		h.toSender(s, lockFrame(noteID, room.Holder()))
		return
	case room.State() == Locked:
		h.toSender(s, Outbound{Event: EventLockDenied, Payload: LockDeniedPayload{
			NoteID: noteID,
			Holder: *room.Holder(),
		}})
		return
	}

	note, err := h.lookupNote(ctx, noteID, CodeLockFailed)
	if err != nil {
		h.fail(s, noteID, err)
		return
	}
	if !CanEdit(s.identity, note) {
		if CanJoin(s.identity, note) {
			h.fail(s, noteID, newError(CodeReadOnly, ErrForbidden, nil))
		} else {
			h.fail(s, noteID, newError(CodeForbidden, ErrForbidden, nil))
		}
		return
	}

	if room.requestEdit(s.id, s.identity) != LockGranted {
		h.toSender(s, lockFrame(noteID, room.Holder()))
		return
	}
	s.editing = noteID
	h.toRoom(noteID, lockFrame(noteID, room.Holder()))
}

func (h *Hub) handleContentDelta(s *session, raw json.RawMessage) {
	var payload contentDeltaPayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID, err := requireNoteID(payload.NoteID)
	if err != nil {
		h.fail(s, "", err)
		return
	}
	if len(payload.Delta) == 0 || string(payload.Delta) == "null" {
		h.fail(s, noteID, newError(CodeBadPayload, ErrBadRequest, fmt.Errorf("delta required")))
		return
	}
	room, ok := h.memberRoom(s, noteID)
	if !ok {
		h.fail(s, noteID, newError(CodeNotInRoom, ErrForbidden, nil))
		return
	}
	if !room.HoldsLock(s.id) {
		h.fail(s, noteID, newError(CodeNoLock, ErrLockViolation, nil))
		h.toSender(s, lockFrame(noteID, room.Holder()))
		return
	}
	h.toOthers(noteID, s.id, Outbound{Event: EventContentDeltaReceived, Payload: ContentDeltaReceivedPayload{
		NoteID:            noteID,
		Delta:             payload.Delta,
		EditorID:          s.identity.ID,
		EditorDisplayName: s.identity.DisplayName,
	}})
}

func (h *Hub) handleReleaseEdit(ctx context.Context, s *session, raw json.RawMessage) {
	var payload releaseEditPayload
	if err := decodePayload(raw, &payload); err != nil {
		h.fail(s, "", err)
		return
	}
	noteID, err := requireNoteID(payload.NoteID)
	if err != nil {
		h.fail(s, "", err)
		return
	}
	if payload.FinalContent == nil {
		h.fail(s, noteID, newError(CodeBadPayload, ErrBadRequest, fmt.Errorf("finalContent required")))
		return
	}
	room, ok := h.memberRoom(s, noteID)
	if !ok {
		h.fail(s, noteID, newError(CodeNotInRoom, ErrForbidden, nil))
		return
	}
	if !room.release(s.id) {
		h.fail(s, noteID, newError(CodeNoLock, ErrLockViolation, nil))
		h.toSender(s, lockFrame(noteID, room.Holder()))
		return
	}
	s.editing = ""
	h.toRoom(noteID, lockFrame(noteID, nil))

	note, err := h.lookupNote(ctx, noteID, CodeSaveFailed)
	if err != nil {
		h.fail(s, noteID, err)
		return
	}
	if !CanEdit(s.identity, note) {
		h.fail(s, noteID, newError(CodeUnauthorizedSave, ErrForbidden, nil))
		return
	}

	saveCtx, cancel := h.persistenceContext(ctx)
	started := time.Now()
	saved, err := h.notes.SaveContent(saveCtx, noteID, *payload.FinalContent)
	cancel()
	observePersistence("note_save", started, err)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			h.fail(s, noteID, newError(CodeNoteNotFound, ErrNotFound, err))
			return
		}
		h.fail(s, noteID, newError(CodeSaveFailed, ErrPersistence, err))
		return
	}
	h.toRoom(noteID, Outbound{Event: EventSaved, Payload: SavedPayload{
		NoteID:  noteID,
		Content: saved.Content,
		SavedAt: saved.UpdatedAt,
		SavedBy: holderOf(s.identity),
	}})
}

func (h *Hub) memberRoom(s *session, noteID string) (*Room, bool) {
	if _, ok := s.rooms[noteID]; !ok {
		return nil, false
	}
	return h.registry.Room(noteID)
}

func (h *Hub) lookupNote(ctx context.Context, noteID, failureCode string) (notes.Note, error) {
	lookupCtx, cancel := h.persistenceContext(ctx)
	defer cancel()
	started := time.Now()
	note, err := h.notes.Get(lookupCtx, noteID)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			observePersistence("note_lookup", started, nil)
			return notes.Note{}, newError(CodeNoteNotFound, ErrNotFound, err)
		}
		observePersistence("note_lookup", started, err)
		return notes.Note{}, newError(failureCode, ErrPersistence, err)
	}
	observePersistence("note_lookup", started, nil)
	return note, nil
}

func (h *Hub) presenceFrame(noteID string) Outbound {
	return Outbound{Event: EventPresenceUpdate, Payload: PresencePayload{
		NoteID:  noteID,
		Members: h.registry.Snapshot(noteID),
	}}
}

func lockFrame(noteID string, holder *LockHolder) Outbound {
	return Outbound{Event: EventLockUpdate, Payload: LockUpdatePayload{NoteID: noteID, Holder: holder}}
}

func decodePayload(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return newError(CodeBadPayload, ErrBadRequest, fmt.Errorf("payload required"))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return newError(CodeBadPayload, ErrBadRequest, err)
	}
	return nil
}

func requireNoteID(raw string) (string, error) {
	noteID := strings.TrimSpace(raw)
	if noteID == "" {
		return "", newError(CodeBadPayload, ErrBadRequest, fmt.Errorf("noteId required"))
	}
	return noteID, nil
}

// persistenceFailure hides client-side rejections from the storage latency status.
func persistenceFailure(err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return nil
}
