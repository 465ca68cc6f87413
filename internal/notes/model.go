package notes

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 512
	maxTags             = 20
	maxTagLength        = 64
	defaultPageSize     = 20
	maxPageSize         = 100
)

var (
	// ErrNoteNotFound indicates the note does not exist or is not visible to the caller.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrOwnerOnly indicates the operation is reserved for the note owner.
	ErrOwnerOnly = errors.New("notes: owner only")
	// ErrInvalidNote indicates missing or oversized note fields.
	ErrInvalidNote = errors.New("notes: invalid note")
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrUnknownCollaborator indicates a collaborator id that is not a registered user.
	ErrUnknownCollaborator = errors.New("notes: unknown collaborator")
)

// Note is a persisted note together with its collaborator list.
type Note struct {
	ID            string         `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID       string         `gorm:"column:owner_id;size:190;not null;index"`
	Title         string         `gorm:"column:title;size:512;not null"`
	Content       string         `gorm:"column:content;type:text;not null"`
	Tags          TagList        `gorm:"column:tags;type:text;not null;default:'[]'"`
	ReadOnly      bool           `gorm:"column:read_only;not null;default:false"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null;index;autoUpdateTime:false"`
	Collaborators []Collaborator `gorm:"foreignKey:NoteID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Collaborator grants a non-owner user access to a note.
type Collaborator struct {
	NoteID  string    `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID  string    `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	AddedAt time.Time `gorm:"column:added_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Collaborator) TableName() string {
	return "note_collaborators"
}

// CollaboratorIDs lists the collaborator user ids in insertion order.
func (n Note) CollaboratorIDs() []string {
	ids := make([]string, 0, len(n.Collaborators))
	for _, collaborator := range n.Collaborators {
		ids = append(ids, collaborator.UserID)
	}
	return ids
}

// IsOwner reports whether the user owns the note.
func (n Note) IsOwner(userID string) bool {
	return userID != "" && n.OwnerID == userID
}

// IsCollaborator reports whether the user was granted access by the owner.
func (n Note) IsCollaborator(userID string) bool {
	if userID == "" {
		return false
	}
	for _, collaborator := range n.Collaborators {
		if collaborator.UserID == userID {
			return true
		}
	}
	return false
}

// HasAccess reports whether the user is the owner or a collaborator.
func (n Note) HasAccess(userID string) bool {
	return n.IsOwner(userID) || n.IsCollaborator(userID)
}

// TagList is stored as a JSON array in a single text column.
type TagList []string

// Value implements driver.Valuer.
func (t TagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (t *TagList) Scan(value interface{}) error {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		*t = TagList{}
		return nil
	case string:
		raw = []byte(typed)
	case []byte:
		raw = typed
	default:
		return fmt.Errorf("notes: unsupported tags value %T", value)
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return err
	}
	if tags == nil {
		tags = []string{}
	}
	*t = tags
	return nil
}

// NoteInput describes a note to create.
type NoteInput struct {
	Title           string
	Content         string
	Tags            []string
	CollaboratorIDs []string
}

// NoteUpdate carries optional field replacements; nil fields stay unchanged.
type NoteUpdate struct {
	Title           *string
	Content         *string
	Tags            *[]string
	CollaboratorIDs *[]string
}

// Page selects a window of a listing. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// NotePage is one window of a listing together with the total match count.
type NotePage struct {
	Notes []Note
	Page  Page
	Total int64
}

func normalizeID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return "", ErrInvalidNoteID
	}
	return trimmed, nil
}

func normalizeTags(raw []string) (TagList, error) {
	seen := make(map[string]struct{}, len(raw))
	tags := make(TagList, 0, len(raw))
	for _, value := range raw {
		tag := strings.TrimSpace(value)
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, ErrInvalidNote
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) > maxTags {
		return nil, ErrInvalidNote
	}
	return tags, nil
}

func normalizeCollaborators(ownerID string, ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || id == ownerID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
