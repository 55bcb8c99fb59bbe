package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq" // pq.StringArray for the interests column
	"gorm.io/gorm"
)

// User holds the public profile and moderation state for one user. Account
// management itself is federated; this record only carries what the random
// matching and moderation subsystems need.
type User struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	DisplayName string         `json:"display_name"`
	AvatarRef   string         `json:"avatar_ref,omitempty"`
	Interests   pq.StringArray `gorm:"type:text[]" json:"interests,omitempty"`

	// ReputationScore starts at the configured initial value and is reduced
	// by confirmed reports against the user.
	ReputationScore int   `json:"-"`
	IsBlocked       bool  `json:"-"`
	BlockEndTime    int64 `json:"-"`
	BlockLevel      int   `json:"-"`
	LastBanDate     int64 `json:"-"`
}

// BeforeCreate is a GORM hook that assigns a fresh anonymous UUID when the
// record is created without an id.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
