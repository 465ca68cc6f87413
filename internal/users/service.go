package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidUsername indicates the username was empty or too long.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrUsernameTaken indicates another user already owns the username.
	ErrUsernameTaken = errors.New("users: username taken")
)

const (
	maxUsernameLength = 190
	// DefaultListLimit bounds a directory listing when callers pass a non-positive limit.
	DefaultListLimit = 50
	maxListLimit     = 200
)

// ServiceConfig describes the dependencies required by the user directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// NewUser carries the fields needed to register a user.
type NewUser struct {
	Username    string
	DisplayName string
	Email       string
}

// Service manages the user directory.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the user directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Create registers a user with a fresh UUIDv7 identifier.
func (s *Service) Create(ctx context.Context, input NewUser) (User, error) {
	username := strings.ToLower(normalize(input.Username))
	if username == "" || len(username) > maxUsernameLength {
		return User{}, ErrInvalidUsername
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return User{}, err
	}
	if existing > 0 {
		return User{}, ErrUsernameTaken
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:          id.String(),
		Username:    username,
		DisplayName: normalize(input.DisplayName),
		Email:       strings.ToLower(normalize(input.Email)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// Lookup returns the user with the given id or auth.ErrUserNotFound.
func (s *Service) Lookup(ctx context.Context, userID string) (User, error) {
	id := normalize(userID)
	if id == "" {
		return User{}, auth.ErrUserNotFound
	}
	if cached, ok := s.cache.Load(id); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	s.cache.Store(id, user)
	return user, nil
}

// LookupIdentity resolves a token subject to the identity attached to connections.
func (s *Service) LookupIdentity(ctx context.Context, userID string) (auth.Identity, error) {
	user, err := s.Lookup(ctx, userID)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{ID: user.ID, DisplayName: user.PublicName()}, nil
}

// Exists reports whether every id refers to a registered user.
func (s *Service) Exists(ctx context.Context, userIDs []string) (bool, error) {
	if len(userIDs) == 0 {
		return true, nil
	}
	unique := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		unique[normalize(id)] = struct{}{}
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return false, err
	}
	return count == int64(len(ids)), nil
}

// List returns users whose username or display name contains query, ordered by username.
// An empty query lists the whole directory up to limit.
func (s *Service) List(ctx context.Context, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	statement := s.db.WithContext(ctx).Model(&User{})
	if term := strings.ToLower(normalize(query)); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		statement = statement.Where(
			"username LIKE ? ESCAPE '\\' OR LOWER(display_name) LIKE ? ESCAPE '\\'",
			pattern, pattern,
		)
	}
	users := []User{}
	if err := statement.Order("username ASC").Limit(limit).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return replacer.Replace(value)
}
