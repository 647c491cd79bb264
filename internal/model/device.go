package model

import "time"

// Device statuses the backend itself writes. Devices may report any
// free-text status through the heartbeat endpoint.
const (
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

// Device represents a registered Raspberry Pi running the classifier.
type Device struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"device_id"`
	Name            string    `gorm:"size:255;not null" json:"device_name"`
	RegisteredAt    time.Time `gorm:"not null" json:"registered_at"`
	LastSeenAt      time.Time `gorm:"not null" json:"last_seen_at"`
	AssignedModelID *string   `gorm:"type:uuid;index" json:"assigned_model_id"`
	Status          string    `gorm:"size:50;not null" json:"status"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
}
