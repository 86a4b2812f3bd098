package models

import "time"

// Record is one row of the session table: the name read from a card, possibly
// corrected by hand.
type Record struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex:idx_session_position" json:"session_id"`
	Position  int       `gorm:"not null;uniqueIndex:idx_session_position" json:"position"` // 0-based row index
	FirstName string    `gorm:"size:255" json:"first_name"`
	LastName  string    `gorm:"size:255" json:"last_name"`
	ScanID    *uint     `gorm:"index" json:"scan_id,omitempty"` // nil for rows typed in by hand
}
