package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"classifier-fleet-backend/internal/model"
)

// CreateDevice registers a new device with a fresh id. Names are not
// unique; registering the same name twice yields two devices.
func (s *gormStore) CreateDevice(ctx context.Context, name string) (*model.Device, error) {
	now := time.Now().UTC()
	device := model.Device{
		ID:           uuid.NewString(),
		Name:         name,
		RegisteredAt: now,
		LastSeenAt:   now,
		Status:       model.StatusIdle,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	return &device, nil
}

// GetDevice fetches a device by id, hiding soft-deleted rows unless
// includeInactive is set.
func (s *gormStore) GetDevice(ctx context.Context, id string, includeInactive bool) (*model.Device, error) {
	q := s.db.WithContext(ctx)
	if !includeInactive {
		q = q.Scopes(activeOnly)
	}

	var device model.Device
	if err := q.First(&device, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

// ListDevices returns all devices, excluding soft-deleted ones by default.
func (s *gormStore) ListDevices(ctx context.Context, includeInactive bool) ([]model.Device, error) {
	q := s.db.WithContext(ctx)
	if !includeInactive {
		q = q.Scopes(activeOnly)
	}

	var devices []model.Device
	if err := q.Order("registered_at").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// AssignDeviceModel sets or clears the device's assignment. The model
// check and the device write commit in one transaction so a concurrent
// model delete either sees the assignment and unassigns it, or beats
// this call entirely and the model reads as inactive here. A stale
// assignment can never land after the delete's unassignment sweep.
func (s *gormStore) AssignDeviceModel(ctx context.Context, deviceID string, modelID *string) (*model.Device, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if modelID != nil {
			// Row lock on Postgres; SQLite has a single writer and
			// rejects FOR UPDATE syntax.
			q := tx.Scopes(activeOnly)
			if tx.Dialector.Name() == "postgres" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var m model.Model
			if err := q.First(&m, "id = ?", *modelID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrModelNotFound
				}
				return err
			}
		}

		res := tx.Model(&model.Device{}).
			Scopes(activeOnly).
			Where("id = ?", deviceID).
			Updates(map[string]any{
				"assigned_model_id": modelID,
				"last_seen_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrModelNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to assign model to device %s: %w", deviceID, err)
	}
	return s.GetDevice(ctx, deviceID, false)
}

// TouchDevice refreshes the device's liveness timestamp; status is
// updated only when non-empty.
func (s *gormStore) TouchDevice(ctx context.Context, deviceID, status string) (*model.Device, error) {
	updates := map[string]any{"last_seen_at": time.Now().UTC()}
	if status != "" {
		updates["status"] = status
	}

	res := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Scopes(activeOnly).
		Where("id = ?", deviceID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetDevice(ctx, deviceID, false)
}

// SoftDeleteDevice deactivates a device. Returns false when the id is
// unknown.
func (s *gormStore) SoftDeleteDevice(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active": false,
			"status":    "inactive",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// HardDeleteDevice removes the device record entirely. Results that
// reference it are left in place as history.
func (s *gormStore) HardDeleteDevice(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&model.Device{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkStaleDevicesOffline flips the status of active devices whose last
// heartbeat predates cutoff. Returns the ids of the devices it flipped
// so the caller can notify subscribers.
func (s *gormStore) MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Device{}).
			Scopes(activeOnly).
			Where("status <> ? AND last_seen_at < ?", model.StatusOffline, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&model.Device{}).
			Where("id IN ?", ids).
			Update("status", model.StatusOffline).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark stale devices offline: %w", err)
	}
	return ids, nil
}
