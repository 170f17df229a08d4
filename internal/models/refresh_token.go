package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one half of the access+refresh credential pair. Tokens
// are opaque random values, rotated on every refresh.
type RefreshToken struct {
	BaseModel
	UserID    uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	Token     string    `json:"-" gorm:"type:varchar(128);uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}
