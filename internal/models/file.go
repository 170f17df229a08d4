package models

import "github.com/google/uuid"

// File is the metadata record for an uploaded ciphertext blob. The content
// key is wrapped client-side; the server never sees it in the clear.
type File struct {
	BaseModel
	OwnerID      uuid.UUID `json:"ownerID" gorm:"type:uuid;not null;index"`
	Name         string    `json:"name" gorm:"type:varchar(255);not null"`
	StoragePath  string    `json:"-" gorm:"type:text;uniqueIndex;not null"`
	EncryptedKey string    `json:"encryptedKey" gorm:"type:text;not null"`
	Size         int64     `json:"size" gorm:"not null;default:0"`
	MimeType     string    `json:"mimeType" gorm:"type:varchar(255);not null"`

	Owner  User    `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Shares []Share `json:"-" gorm:"foreignKey:FileID"`
}
