package users

import (
	"strings"
	"time"
)

// User is a directory entry that tokens are issued for.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username    string    `gorm:"column:username;size:190;not null;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// PublicName is the name shown to collaborators; it falls back to the username.
func (u User) PublicName() string {
	if name := normalize(u.DisplayName); name != "" {
		return name
	}
	return u.Username
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
