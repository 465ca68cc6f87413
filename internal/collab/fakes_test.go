package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
)

var errStorageDown = errors.New("storage down")

type memoryNotes struct {
	mu      sync.Mutex
	notes   map[string]notes.Note
	getErr  error
	saveErr error
	savedAt time.Time
	saves   int
}

func newMemoryNotes(entries ...notes.Note) *memoryNotes {
	store := &memoryNotes{
		notes:   make(map[string]notes.Note),
		savedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, note := range entries {
		store.notes[note.ID] = note
	}
	return store
}

func (m *memoryNotes) Get(_ context.Context, noteID string) (notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return notes.Note{}, m.getErr
	}
	note, ok := m.notes[noteID]
	if !ok {
		return notes.Note{}, fmt.Errorf("lookup %s: %w", noteID, notes.ErrNoteNotFound)
	}
	return note, nil
}

func (m *memoryNotes) SaveContent(_ context.Context, noteID, content string) (notes.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return notes.Note{}, m.saveErr
	}
	note, ok := m.notes[noteID]
	if !ok {
		return notes.Note{}, notes.ErrNoteNotFound
	}
	note.Content = content
	note.UpdatedAt = m.savedAt
	m.notes[noteID] = note
	m.saves++
	return note, nil
}

func (m *memoryNotes) update(noteID string, mutate func(*notes.Note)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note := m.notes[noteID]
	mutate(&note)
	m.notes[noteID] = note
}

func (m *memoryNotes) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memoryChat struct {
	mu        sync.Mutex
	messages  map[string][]chat.Message
	appendErr error
	recentErr error
	sequence  int
	start     time.Time
}

func newMemoryChat() *memoryChat {
	return &memoryChat{
		messages: make(map[string][]chat.Message),
		start:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memoryChat) Append(_ context.Context, noteID, senderID, senderDisplayName, text string) (chat.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return chat.Message{}, false, nil
	}
	if utf8.RuneCountInString(trimmed) > chat.MaxMessageLength {
		return chat.Message{}, false, chat.ErrMessageTooLong
	}
	if m.appendErr != nil {
		return chat.Message{}, false, m.appendErr
	}
	m.sequence++
	message := chat.Message{
		ID:                fmt.Sprintf("msg-%03d", m.sequence),
		NoteID:            noteID,
		SenderID:          senderID,
		SenderDisplayName: senderDisplayName,
		Text:              trimmed,
		SentAt:            m.start.Add(time.Duration(m.sequence) * time.Second),
	}
	m.messages[noteID] = append(m.messages[noteID], message)
	return message, true, nil
}

func (m *memoryChat) Recent(_ context.Context, noteID string, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	all := m.messages[noteID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]chat.Message(nil), all...), nil
}
