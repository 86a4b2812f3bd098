package models

import (
	"time"
)

// Scan sources.
const (
	SourceCamera = "camera"
	SourceFile   = "file"
)

// Scan is one processed card image. The image itself is not kept; only what
// was read from it.
type Scan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SessionID   string    `gorm:"size:64;index;not null" json:"session_id"`
	FileName    string    `gorm:"size:255" json:"file_name"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	Source      string    `gorm:"size:16;not null" json:"source"`
	Profile     string    `gorm:"size:32" json:"profile"`
	RawText     string    `gorm:"type:text" json:"raw_text"`
	RecordID    *uint     `gorm:"index" json:"record_id,omitempty"`
	// Failed scans are kept so the operator can see why a card was not read.
	Failed       bool   `gorm:"default:false;index" json:"failed"`
	FailedReason string `gorm:"size:255" json:"failed_reason,omitempty"`
}
