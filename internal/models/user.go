package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// The slice of the external profile store this service reads: account
// subscription state for tier resolution. Account lifecycle (signup,
// billing) is owned elsewhere.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Tier      string    `gorm:"default:'free'" json:"tier"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (User) TableName() string {
	return "users"
}
