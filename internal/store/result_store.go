package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"classifier-fleet-backend/internal/model"
)

// CreateResult records a classification outcome. Both the device and
// the model must exist and be active; the device's liveness timestamp
// is refreshed in the same transaction. Confidence is stored as
// reported, without range validation.
func (s *gormStore) CreateResult(ctx context.Context, deviceID, modelID, label string, confidence float64, extra datatypes.JSON) (*model.Result, error) {
	result := model.Result{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		ModelID:    modelID,
		Timestamp:  time.Now().UTC(),
		Label:      label,
		Confidence: confidence,
		Extra:      extra,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device model.Device
		if err := tx.Scopes(activeOnly).First(&device, "id = ?", deviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var m model.Model
		if err := tx.Scopes(activeOnly).First(&m, "id = ?", modelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := tx.Create(&result).Error; err != nil {
			return err
		}

		return tx.Model(&model.Device{}).
			Where("id = ?", deviceID).
			Update("last_seen_at", result.Timestamp).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create result: %w", err)
	}
	return &result, nil
}

// GetResult fetches a single result by id. Like the listing, it hides
// results whose device or model is currently inactive.
func (s *gormStore) GetResult(ctx context.Context, id string) (*model.Result, error) {
	var result model.Result
	err := s.db.WithContext(ctx).
		Model(&model.Result{}).
		Joins("JOIN devices ON devices.id = results.device_id").
		Joins("JOIN models ON models.id = results.model_id").
		Where("devices.is_active = ? AND models.is_active = ?", true, true).
		First(&result, "results.id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ListResults returns results newest-first, capped at the filter's
// limit (DefaultResultLimit when unset). Results whose device or model
// is currently inactive are hidden even though their rows remain.
func (s *gormStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.Result, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}

	q := s.db.WithContext(ctx).
		Model(&model.Result{}).
		Joins("JOIN devices ON devices.id = results.device_id").
		Joins("JOIN models ON models.id = results.model_id").
		Where("devices.is_active = ? AND models.is_active = ?", true, true)

	if filter.DeviceID != nil {
		q = q.Where("results.device_id = ?", *filter.DeviceID)
	}
	if filter.ModelID != nil {
		q = q.Where("results.model_id = ?", *filter.ModelID)
	}

	var results []model.Result
	if err := q.Order("results.timestamp DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteResultsByDevice purges all results for a device. Destructive
// admin path; rarely used.
func (s *gormStore) DeleteResultsByDevice(ctx context.Context, deviceID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.Result{}, "device_id = ?", deviceID)
	return res.RowsAffected, res.Error
}

// DeleteResultsByModel purges all results for a model. Destructive
// admin path; rarely used.
func (s *gormStore) DeleteResultsByModel(ctx context.Context, modelID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.Result{}, "model_id = ?", modelID)
	return res.RowsAffected, res.Error
}
