package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultHistoryLimit is the replay size used when callers pass a non-positive limit.
	DefaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// MaxMessageLength bounds a single message in characters.
	MaxMessageLength = 4000
)

var (
	// ErrMessageTooLong indicates the trimmed text exceeds MaxMessageLength.
	ErrMessageTooLong = errors.New("chat: message too long")
	// ErrMissingSender indicates an append without a sender id.
	ErrMissingSender = errors.New("chat: sender required")
)

// ServiceConfig describes the dependencies of the chat log.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() (string, error)
	Logger   *zap.Logger
}

// Service persists chat messages and serves recent history per note.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewService constructs the chat log service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("chat: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() (string, error) {
			value, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return value.String(), nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, newID: newID, logger: logger}, nil
}

// Append trims and stores a message. Blank text is ignored and reported with ok=false.
func (s *Service) Append(ctx context.Context, noteID, senderID, senderDisplayName, text string) (Message, bool, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, false, nil
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return Message{}, false, ErrMessageTooLong
	}
	if strings.TrimSpace(senderID) == "" {
		return Message{}, false, ErrMissingSender
	}
	id, err := s.newID()
	if err != nil {
		return Message{}, false, fmt.Errorf("chat: generate id: %w", err)
	}
	message := Message{
		ID:                id,
		NoteID:            noteID,
		SenderID:          senderID,
		SenderDisplayName: senderDisplayName,
		Text:              trimmed,
		SentAt:            s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logger.Error("chat append failed", zap.String("note_id", noteID), zap.Error(err))
		return Message{}, false, fmt.Errorf("chat: append: %w", err)
	}
	return message, true, nil
}

// Recent returns up to limit of the newest messages for the note, oldest first.
func (s *Service) Recent(ctx context.Context, noteID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var messages []Message
	if err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		s.logger.Error("chat history query failed", zap.String("note_id", noteID), zap.Error(err))
		return nil, fmt.Errorf("chat: recent: %w", err)
	}
	for left, right := 0, len(messages)-1; left < right; left, right = left+1, right-1 {
		messages[left], messages[right] = messages[right], messages[left]
	}
	return messages, nil
}
