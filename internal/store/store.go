package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"classifier-fleet-backend/internal/model"
)

// ErrNotFound is returned when the requested entity does not exist or
// is soft-deleted. Any other error from the store is a storage failure
// the caller should surface as a 5xx.
var ErrNotFound = errors.New("entity not found")

// ErrModelNotFound is returned by AssignDeviceModel when the target
// model is missing or soft-deleted, so callers can tell which side of
// the assignment was bad.
var ErrModelNotFound = errors.New("model not found")

// DefaultResultLimit caps result listings when the caller does not
// supply a limit.
const DefaultResultLimit = 50

// ResultFilter narrows a result listing. Nil fields are ignored.
type ResultFilter struct {
	DeviceID *string
	ModelID  *string
	Limit    int
}

// Store defines the interface for all database operations.
type Store interface {
	// Devices
	CreateDevice(ctx context.Context, name string) (*model.Device, error)
	GetDevice(ctx context.Context, id string, includeInactive bool) (*model.Device, error)
	ListDevices(ctx context.Context, includeInactive bool) ([]model.Device, error)
	AssignDeviceModel(ctx context.Context, deviceID string, modelID *string) (*model.Device, error)
	TouchDevice(ctx context.Context, deviceID, status string) (*model.Device, error)
	SoftDeleteDevice(ctx context.Context, id string) (bool, error)
	HardDeleteDevice(ctx context.Context, id string) (bool, error)
	MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) ([]string, error)

	// Models
	CreateModel(ctx context.Context, m *model.Model) error
	GetModel(ctx context.Context, id string, includeInactive bool) (*model.Model, error)
	ListModels(ctx context.Context, includeInactive bool) ([]model.Model, error)
	SoftDeleteModel(ctx context.Context, id string) (bool, error)
	HardDeleteModel(ctx context.Context, id string) (*model.Model, error)

	// Results
	CreateResult(ctx context.Context, deviceID, modelID, label string, confidence float64, extra datatypes.JSON) (*model.Result, error)
	GetResult(ctx context.Context, id string) (*model.Result, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.Result, error)
	DeleteResultsByDevice(ctx context.Context, deviceID string) (int64, error)
	DeleteResultsByModel(ctx context.Context, modelID string) (int64, error)

	// DB exposes the underlying handle for components that run their
	// own queries (subscriptions, notification worker).
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB returns the underlying gorm handle.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// activeOnly is the soft-delete predicate. Every read path that should
// hide soft-deleted rows goes through this scope so none can forget it.
func activeOnly(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ?", true)
}
