package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"classifier-fleet-backend/internal/model"
)

// CreateModel persists a model record. The caller must have durably
// stored the artifact first; a failed upload must never leave a row
// behind.
func (s *gormStore) CreateModel(ctx context.Context, m *model.Model) error {
	if m.UploadedAt.IsZero() {
		m.UploadedAt = time.Now().UTC()
	}
	m.IsActive = true
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	return nil
}

// GetModel fetches a model by id with its derived active device count.
func (s *gormStore) GetModel(ctx context.Context, id string, includeInactive bool) (*model.Model, error) {
	q := s.db.WithContext(ctx)
	if !includeInactive {
		q = q.Scopes(activeOnly)
	}

	var m model.Model
	if err := q.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Scopes(activeOnly).
		Where("assigned_model_id = ?", m.ID).
		Count(&m.ActiveDeviceCount).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListModels returns all models with their derived active device
// counts, computed in a single grouped query.
func (s *gormStore) ListModels(ctx context.Context, includeInactive bool) ([]model.Model, error) {
	q := s.db.WithContext(ctx)
	if !includeInactive {
		q = q.Scopes(activeOnly)
	}

	var models []model.Model
	if err := q.Order("uploaded_at").Find(&models).Error; err != nil {
		return nil, err
	}

	type aggRow struct {
		AssignedModelID string
		DeviceCount     int64
	}
	var aggs []aggRow
	if err := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Scopes(activeOnly).
		Select("assigned_model_id, COUNT(*) as device_count").
		Where("assigned_model_id IS NOT NULL").
		Group("assigned_model_id").
		Scan(&aggs).Error; err != nil {
		return nil, err
	}

	aggMap := make(map[string]int64, len(aggs))
	for _, a := range aggs {
		aggMap[a.AssignedModelID] = a.DeviceCount
	}
	for i := range models {
		models[i].ActiveDeviceCount = aggMap[models[i].ID]
	}
	return models, nil
}

// SoftDeleteModel deactivates a model. The device unassignment sweep
// and the flag flip commit in one transaction so no device can end up
// pointing at an inactive model. Returns false when the id is unknown.
func (s *gormStore) SoftDeleteModel(ctx context.Context, id string) (bool, error) {
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := unassignDevices(tx, id); err != nil {
			return err
		}

		res := tx.Model(&model.Model{}).
			Where("id = ?", id).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to soft-delete model %s: %w", id, err)
	}
	return found, nil
}

// HardDeleteModel removes the model record, unassigning all devices
// that pointed at it in the same transaction. The deleted record is
// returned so the caller can remove the backing artifact (best-effort,
// outside the transaction). Returns nil when the id is unknown.
func (s *gormStore) HardDeleteModel(ctx context.Context, id string) (*model.Model, error) {
	var deleted *model.Model
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Model
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if err := unassignDevices(tx, id); err != nil {
			return err
		}

		if err := tx.Delete(&model.Model{}, "id = ?", id).Error; err != nil {
			return err
		}
		deleted = &m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hard-delete model %s: %w", id, err)
	}
	return deleted, nil
}

// unassignDevices clears the assignment on every device referencing the
// model and resets their status to idle.
func unassignDevices(tx *gorm.DB, modelID string) error {
	return tx.Model(&model.Device{}).
		Where("assigned_model_id = ?", modelID).
		Updates(map[string]any{
			"assigned_model_id": nil,
			"status":            model.StatusIdle,
		}).Error
}
