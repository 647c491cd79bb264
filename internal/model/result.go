package model

import (
	"time"

	"gorm.io/datatypes"
)

// Result is a single classification outcome reported by a device.
// Results are append-only and reference their device and model by id
// only; deleting either parent leaves the result row in place.
type Result struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"result_id"`
	DeviceID   string         `gorm:"type:uuid;not null;index" json:"device_id"`
	ModelID    string         `gorm:"type:uuid;not null;index" json:"model_id"`
	Timestamp  time.Time      `gorm:"not null;index" json:"timestamp"`
	Label      string         `gorm:"size:255;not null" json:"result"`
	Confidence float64        `gorm:"not null" json:"confidence"`
	Extra      datatypes.JSON `gorm:"type:json" json:"metadata"`
}
