package models

import (
	"time"
)

// User is an operator account allowed to scan cards.
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
	Username       string     `gorm:"size:255;not null;unique"`
	HashedPassword []byte     `gorm:"not null" json:"-"`
	Sessions       []Session  `json:"-"`
	RoleID         *uint      `gorm:"index"`
	Role           Role       `gorm:"foreignKey:RoleID;references:ID" json:"-"`
}
