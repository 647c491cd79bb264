// Package assignment decides which model a device should be running,
// validating the referential integrity the raw store does not.
package assignment

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"classifier-fleet-backend/internal/store"
)

var (
	// ErrDeviceNotFound means the device is missing or soft-deleted.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrModelNotFound means the model is missing or soft-deleted.
	ErrModelNotFound = errors.New("model not found")
)

// Assignment is the heartbeat reply: the model the device should run,
// whether a download is available, and the model's metadata document.
type Assignment struct {
	ModelID        *string        `json:"model_id"`
	ShouldDownload bool           `json:"should_download"`
	Metadata       datatypes.JSON `json:"metadata"`
}

// Resolver validates and applies model assignments.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Assign points the device at a model, or clears the assignment when
// modelID is nil. A non-nil model must exist and be active; the store
// enforces that atomically with the device write, so an assignment can
// never slip in behind a concurrent model delete.
func (r *Resolver) Assign(ctx context.Context, deviceID string, modelID *string) error {
	if _, err := r.store.AssignDeviceModel(ctx, deviceID, modelID); err != nil {
		switch {
		case errors.Is(err, store.ErrModelNotFound):
			return ErrModelNotFound
		case errors.Is(err, store.ErrNotFound):
			return ErrDeviceNotFound
		}
		return err
	}
	return nil
}

// ResolveHeartbeat refreshes the device's liveness and status and
// returns its current assignment.
//
// When an assignment exists and the model is live, ShouldDownload is
// always true; the server does not track which model version a device
// last fetched, so the client is responsible for skipping downloads it
// already has.
func (r *Resolver) ResolveHeartbeat(ctx context.Context, deviceID, reportedStatus string) (*Assignment, error) {
	device, err := r.store.TouchDevice(ctx, deviceID, reportedStatus)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if device.AssignedModelID == nil {
		return &Assignment{}, nil
	}

	m, err := r.store.GetModel(ctx, *device.AssignedModelID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Orphaned reference: the assigned model vanished between
			// the deletion cascade and this read. Report "no
			// assignment" so the device clears its local state.
			log.WithFields(log.Fields{
				"device_id": deviceID,
				"model_id":  *device.AssignedModelID,
			}).Warn("heartbeat found assignment to a missing or inactive model")
			return &Assignment{}, nil
		}
		return nil, err
	}

	return &Assignment{
		ModelID:        &m.ID,
		ShouldDownload: true,
		Metadata:       m.Metadata,
	}, nil
}
