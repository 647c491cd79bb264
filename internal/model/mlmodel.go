package model

import (
	"time"

	"gorm.io/datatypes"
)

// Model represents an uploaded machine-learning model. The binary
// itself lives in object storage; Bucket and Key locate it and are
// never exposed on the wire.
type Model struct {
	ID               string         `gorm:"type:uuid;primaryKey" json:"model_id"`
	DisplayName      string         `gorm:"size:255;not null" json:"display_name"`
	UploadedAt       time.Time      `gorm:"not null" json:"uploaded_at"`
	Bucket           string         `gorm:"size:255;not null" json:"-"`
	Key              string         `gorm:"size:1024;not null" json:"-"`
	OriginalFilename string         `gorm:"size:255;not null" json:"original_filename"`
	Metadata         datatypes.JSON `gorm:"type:json" json:"metadata"`
	IsActive         bool           `gorm:"not null;default:true" json:"is_active"`

	// ActiveDeviceCount is computed on reads, not stored.
	ActiveDeviceCount int64 `gorm:"-" json:"active_device_count"`
}
