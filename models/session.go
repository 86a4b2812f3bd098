package models

import "time"

// Session is one interactive scanning session. Records and scans hang off it,
// so "clear all" or a fresh login start from an empty list.
type Session struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Records   []Record  `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Scans     []Scan    `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}
