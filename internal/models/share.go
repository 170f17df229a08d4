package models

import (
	"time"

	"github.com/google/uuid"
)

type SharePermission string

const (
	SharePermissionView     SharePermission = "view"
	SharePermissionDownload SharePermission = "download"
)

// Share is a grant on a file. A nil SharedWithID makes it a link share:
// any authenticated holder of the token may resolve it, subject to expiry
// and permission. Shares are immutable after creation; expiry is computed,
// never stored back.
type Share struct {
	BaseModel
	FileID       uuid.UUID       `json:"fileID" gorm:"type:uuid;not null;index"`
	SharedByID   uuid.UUID       `json:"sharedByID" gorm:"type:uuid;not null;index"`
	SharedWithID *uuid.UUID      `json:"sharedWithID,omitempty" gorm:"type:uuid;index"`
	ShareToken   string          `json:"shareToken" gorm:"type:varchar(64);uniqueIndex;not null"`
	Permission   SharePermission `json:"permission" gorm:"type:varchar(20);not null;default:'view'"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	EncryptedKey string          `json:"encryptedKey" gorm:"type:text;not null"`

	File       File  `json:"file,omitempty" gorm:"foreignKey:FileID;references:ID"`
	SharedBy   User  `json:"sharedBy,omitempty" gorm:"foreignKey:SharedByID;references:ID"`
	SharedWith *User `json:"sharedWith,omitempty" gorm:"foreignKey:SharedWithID;references:ID"`
}

func (Share) TableName() string {
	return "shares"
}

// IsLinkShare reports whether the share has no bound recipient.
func (s *Share) IsLinkShare() bool {
	return s.SharedWithID == nil
}

func (s *Share) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
