package users

import (
	"strings"
	"time"
)

// User is a site account. Email is stored normalized; username is case-sensitive.
type User struct {
	ID                string        `gorm:"column:id;primaryKey;size:36;not null"`
	Email             string        `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	Username          string        `gorm:"column:username;size:20;not null;uniqueIndex:idx_users_username"`
	Name              string        `gorm:"column:name;size:40;not null"`
	AcceptsPromotions bool          `gorm:"column:accepts_promotions;not null"`
	CreatedAt         time.Time     `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time     `gorm:"column:updated_at;not null"`
	PasswordHash      *PasswordHash `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Connections       []Connection  `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

func (User) TableName() string {
	return "users"
}

// HasPassword reports whether the account can sign in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && u.PasswordHash.Hash != ""
}

// PasswordHash stores the bcrypt digest of a user's password. A user owns at most one.
type PasswordHash struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:36;not null"`
	Hash      string    `gorm:"column:hash;size:100;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (PasswordHash) TableName() string {
	return "password_hashes"
}

// Connection links a third-party account to a user.
type Connection struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:32;not null"`
	ProviderID string    `gorm:"column:provider_id;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;size:36;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (Connection) TableName() string {
	return "user_connections"
}

// ConnectionSpec names the provider account to link at creation time.
type ConnectionSpec struct {
	Provider   string
	ProviderID string
}

// NewUser describes an account to create together with its credentials.
type NewUser struct {
	Email        string
	Username     string
	Name         string
	PasswordHash string
	Promotions   bool
	Connection   *ConnectionSpec
}

// NormalizeEmail trims and lower-cases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
