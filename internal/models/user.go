package models

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
	UserRoleGuest UserRole = "guest"
)

type User struct {
	BaseModel
	Username      string   `json:"username" gorm:"type:varchar(150);uniqueIndex;not null"`
	Email         string   `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash  string   `json:"-" gorm:"type:text;not null"`
	Role          UserRole `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	MFASecret     string   `json:"-" gorm:"type:text"`
	MFAEnabled    bool     `json:"mfaEnabled" gorm:"not null;default:false"`
	EmailVerified bool     `json:"emailVerified" gorm:"not null;default:false"`

	Files  []File  `json:"-" gorm:"foreignKey:OwnerID"`
	Shares []Share `json:"-" gorm:"foreignKey:SharedByID"`
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
