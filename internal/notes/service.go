package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "notes.service.new"
	opCreate           = "notes.create"
	opGet              = "notes.get"
	opList             = "notes.list"
	opUpdate           = "notes.update"
	opDelete           = "notes.delete"
	opSetReadOnly      = "notes.set_read_only"
	opAddCollaborator  = "notes.add_collaborator"
	opSaveContent      = "notes.save_content"
	reasonNotFound     = "not_found"
	reasonQueryFailed  = "query_failed"
	reasonWriteFailed  = "write_failed"
	reasonOwnerOnly    = "owner_only"
	reasonInvalidInput = "invalid_input"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// UserDirectory confirms that collaborator ids refer to registered users.
type UserDirectory interface {
	Exists(ctx context.Context, userIDs []string) (bool, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Users      UserDirectory
	Logger     *zap.Logger
}

// Service is the note store shared by the REST API and the realtime hub.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	users      UserDirectory
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		users:      cfg.Users,
		logger:     logger,
	}, nil
}

// Create stores a new note owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, input NoteInput) (Note, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || strings.TrimSpace(input.Content) == "" || len(title) > maxTitleLength {
		return Note{}, newServiceError(opCreate, reasonInvalidInput, ErrInvalidNote)
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return Note{}, newServiceError(opCreate, reasonInvalidInput, err)
	}
	collaboratorIDs := normalizeCollaborators(ownerID, input.CollaboratorIDs)
	if err := s.verifyCollaborators(ctx, opCreate, collaboratorIDs); err != nil {
		return Note{}, err
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Note{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		ID:            noteID,
		OwnerID:       ownerID,
		Title:         title,
		Content:       input.Content,
		Tags:          tags,
		CreatedAt:     now,
		UpdatedAt:     now,
		Collaborators: buildCollaborators(noteID, collaboratorIDs, now),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, reasonWriteFailed, err, zap.String("owner_id", ownerID))
		return Note{}, newServiceError(opCreate, reasonWriteFailed, err)
	}
	return note, nil
}

// Get loads a note with its collaborators regardless of the caller.
func (s *Service) Get(ctx context.Context, noteID string) (Note, error) {
	id, err := normalizeID(noteID)
	if err != nil {
		return Note{}, newServiceError(opGet, reasonNotFound, ErrNoteNotFound)
	}
	var note Note
	err = s.db.WithContext(ctx).Preload("Collaborators").Where("id = ?", id).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, newServiceError(opGet, reasonNotFound, ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String("note_id", id))
		return Note{}, newServiceError(opGet, reasonQueryFailed, err)
	}
	return note, nil
}

// GetForUser loads a note visible to the user; invisible notes report ErrNoteNotFound.
func (s *Service) GetForUser(ctx context.Context, userID, noteID string) (Note, error) {
	note, err := s.Get(ctx, noteID)
	if err != nil {
		return Note{}, err
	}
	if !note.HasAccess(userID) {
		return Note{}, newServiceError(opGet, reasonNotFound, ErrNoteNotFound)
	}
	return note, nil
}

// ListForUser returns one page of the notes the user owns or collaborates on,
// most recently updated first.
func (s *Service) ListForUser(ctx context.Context, userID string, page Page) (NotePage, error) {
	page = page.normalized()
	visible := func() *gorm.DB {
		collaborating := s.db.Model(&Collaborator{}).Select("note_id").Where("user_id = ?", userID)
		return s.db.WithContext(ctx).Model(&Note{}).Where("owner_id = ? OR id IN (?)", userID, collaborating)
	}

	var total int64
	if err := visible().Count(&total).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String("user_id", userID))
		return NotePage{}, newServiceError(opList, reasonQueryFailed, err)
	}

	notes := []Note{}
	if err := visible().
		Preload("Collaborators").
		Order("updated_at DESC").
		Order("id DESC").
		Limit(page.Size).
		Offset(page.offset()).
		Find(&notes).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String("user_id", userID))
		return NotePage{}, newServiceError(opList, reasonQueryFailed, err)
	}
	return NotePage{Notes: notes, Page: page, Total: total}, nil
}

// Update applies field replacements; only the owner may replace collaborators.
func (s *Service) Update(ctx context.Context, userID, noteID string, update NoteUpdate) (Note, error) {
	note, err := s.GetForUser(ctx, userID, noteID)
	if err != nil {
		return Note{}, err
	}
	if update.CollaboratorIDs != nil && !note.IsOwner(userID) {
		return Note{}, newServiceError(opUpdate, reasonOwnerOnly, ErrOwnerOnly)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" || len(title) > maxTitleLength {
			return Note{}, newServiceError(opUpdate, reasonInvalidInput, ErrInvalidNote)
		}
		note.Title = title
	}
	if update.Content != nil && strings.TrimSpace(*update.Content) != "" {
		note.Content = *update.Content
	}
	if update.Tags != nil {
		tags, err := normalizeTags(*update.Tags)
		if err != nil {
			return Note{}, newServiceError(opUpdate, reasonInvalidInput, err)
		}
		note.Tags = tags
	}
	now := s.clock().UTC()
	note.UpdatedAt = now

	var collaboratorIDs []string
	if update.CollaboratorIDs != nil {
		collaboratorIDs = normalizeCollaborators(note.OwnerID, *update.CollaboratorIDs)
		if err := s.verifyCollaborators(ctx, opUpdate, collaboratorIDs); err != nil {
			return Note{}, err
		}
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Note{}).Where("id = ?", note.ID).Updates(map[string]interface{}{
			"title":      note.Title,
			"content":    note.Content,
			"tags":       note.Tags,
			"updated_at": note.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		if update.CollaboratorIDs == nil {
			return nil
		}
		if err := tx.Where("note_id = ?", note.ID).Delete(&Collaborator{}).Error; err != nil {
			return err
		}
		note.Collaborators = buildCollaborators(note.ID, collaboratorIDs, now)
		if len(note.Collaborators) == 0 {
			return nil
		}
		return tx.Create(&note.Collaborators).Error
	})
	if txErr != nil {
		s.logError(opUpdate, reasonWriteFailed, txErr, zap.String("note_id", note.ID))
		return Note{}, newServiceError(opUpdate, reasonWriteFailed, txErr)
	}
	return note, nil
}

// Delete removes a note owned by the user.
func (s *Service) Delete(ctx context.Context, userID, noteID string) error {
	note, err := s.GetForUser(ctx, userID, noteID)
	if err != nil {
		return err
	}
	if !note.IsOwner(userID) {
		return newServiceError(opDelete, reasonOwnerOnly, ErrOwnerOnly)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", note.ID).Delete(&Collaborator{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", note.ID).Delete(&Note{}).Error
	})
	if txErr != nil {
		s.logError(opDelete, reasonWriteFailed, txErr, zap.String("note_id", note.ID))
		return newServiceError(opDelete, reasonWriteFailed, txErr)
	}
	return nil
}

// SetReadOnly toggles the read-only flag; only the owner may do so.
func (s *Service) SetReadOnly(ctx context.Context, userID, noteID string, readOnly bool) (Note, error) {
	note, err := s.GetForUser(ctx, userID, noteID)
	if err != nil {
		return Note{}, err
	}
	if !note.IsOwner(userID) {
		return Note{}, newServiceError(opSetReadOnly, reasonOwnerOnly, ErrOwnerOnly)
	}
	note.ReadOnly = readOnly
	note.UpdatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&Note{}).Where("id = ?", note.ID).Updates(map[string]interface{}{
		"read_only":  note.ReadOnly,
		"updated_at": note.UpdatedAt,
	}).Error; err != nil {
		s.logError(opSetReadOnly, reasonWriteFailed, err, zap.String("note_id", note.ID))
		return Note{}, newServiceError(opSetReadOnly, reasonWriteFailed, err)
	}
	return note, nil
}

// AddCollaborator grants collaboratorID access to the owner's note.
func (s *Service) AddCollaborator(ctx context.Context, userID, noteID, collaboratorID string) (Note, error) {
	note, err := s.GetForUser(ctx, userID, noteID)
	if err != nil {
		return Note{}, err
	}
	if !note.IsOwner(userID) {
		return Note{}, newServiceError(opAddCollaborator, reasonOwnerOnly, ErrOwnerOnly)
	}
	candidates := normalizeCollaborators(note.OwnerID, []string{collaboratorID})
	if len(candidates) == 0 {
		return Note{}, newServiceError(opAddCollaborator, reasonInvalidInput, ErrUnknownCollaborator)
	}
	if note.IsCollaborator(candidates[0]) {
		return note, nil
	}
	if err := s.verifyCollaborators(ctx, opAddCollaborator, candidates); err != nil {
		return Note{}, err
	}
	collaborator := Collaborator{NoteID: note.ID, UserID: candidates[0], AddedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&collaborator).Error; err != nil {
		s.logError(opAddCollaborator, reasonWriteFailed, err, zap.String("note_id", note.ID))
		return Note{}, newServiceError(opAddCollaborator, reasonWriteFailed, err)
	}
	note.Collaborators = append(note.Collaborators, collaborator)
	return note, nil
}

// SaveContent replaces the note body; last writer wins. Once the write commits the
// save is reported as successful even if reloading the note fails.
func (s *Service) SaveContent(ctx context.Context, noteID, content string) (Note, error) {
	id, err := normalizeID(noteID)
	if err != nil {
		return Note{}, newServiceError(opSaveContent, reasonNotFound, ErrNoteNotFound)
	}
	updatedAt := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Note{}).Where("id = ?", id).Updates(map[string]interface{}{
		"content":    content,
		"updated_at": updatedAt,
	})
	if result.Error != nil {
		s.logError(opSaveContent, reasonWriteFailed, result.Error, zap.String("note_id", id))
		return Note{}, newServiceError(opSaveContent, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return Note{}, newServiceError(opSaveContent, reasonNotFound, ErrNoteNotFound)
	}
	saved, err := s.Get(ctx, id)
	if err != nil {
		s.loggerOrDefault().Warn("reload after save failed",
			zap.String("operation", opSaveContent),
			zap.String("note_id", id),
			zap.Error(err),
		)
		return Note{ID: id, Content: content, UpdatedAt: updatedAt}, nil
	}
	return saved, nil
}

func (s *Service) verifyCollaborators(ctx context.Context, operation string, ids []string) error {
	if s.users == nil || len(ids) == 0 {
		return nil
	}
	ok, err := s.users.Exists(ctx, ids)
	if err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return newServiceError(operation, reasonQueryFailed, err)
	}
	if !ok {
		return newServiceError(operation, reasonInvalidInput, ErrUnknownCollaborator)
	}
	return nil
}

func buildCollaborators(noteID string, ids []string, addedAt time.Time) []Collaborator {
	collaborators := make([]Collaborator, 0, len(ids))
	for _, id := range ids {
		collaborators = append(collaborators, Collaborator{NoteID: noteID, UserID: id, AddedAt: addedAt})
	}
	return collaborators
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
