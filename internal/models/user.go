package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User is a campus profile. It is the "profile document" the matcher and the
// session registry resolve when pairing users.
type User struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	TelegramID      *int64         `gorm:"uniqueIndex" json:"-"` // nil for web-only users
	DisplayName     string         `json:"display_name"`
	AvatarURL       string         `json:"avatar_url"`
	Language        string         `gorm:"default:en" json:"language"`
	BlockedUsers    pq.StringArray `gorm:"type:text[]" json:"blocked_users"`
	ReputationScore int            `json:"reputation_score"`
	BanLevel        int            `json:"-"`
	BannedUntil     *time.Time     `json:"banned_until,omitempty"`
	LastBanAt       *time.Time     `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
}

// BeforeCreate assigns a UUID when the profile has no ID yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// HasBlocked reports whether u blocked userID.
func (u *User) HasBlocked(userID string) bool {
	for _, id := range u.BlockedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// IsBanned reports whether a ban is in force at now.
func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && now.Before(*u.BannedUntil)
}

// AsMember builds the chat member view of the profile.
func (u *User) AsMember() Member {
	return Member{Name: u.DisplayName, Avatar: u.AvatarURL}
}
