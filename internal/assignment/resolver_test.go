package assignment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"classifier-fleet-backend/internal/db"
	"classifier-fleet-backend/internal/model"
	"classifier-fleet-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))

	t.Cleanup(func() {
		sqlDB, err := testDB.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return store.NewGormStore(testDB)
}

func TestAssign_ValidatesReferences(t *testing.T) {
	s := newTestStore(t)
	resolver := NewResolver(s)
	ctx := context.Background()

	m := &model.Model{
		ID:          "m1",
		DisplayName: "classifier-v1",
		Metadata:    datatypes.JSON(`{"labels":["cat","dog"]}`),
	}
	require.NoError(t, s.CreateModel(ctx, m))
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	err = resolver.Assign(ctx, device.ID, &m.ID)
	require.NoError(t, err)
	reloaded, err := s.GetDevice(ctx, device.ID, false)
	require.NoError(t, err)
	require.NotNil(t, reloaded.AssignedModelID)
	assert.Equal(t, m.ID, *reloaded.AssignedModelID)

	// Unknown or inactive models are rejected before the device is touched.
	missing := "no-such-model"
	assert.ErrorIs(t, resolver.Assign(ctx, device.ID, &missing), ErrModelNotFound)

	_, err = s.SoftDeleteModel(ctx, m.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, resolver.Assign(ctx, device.ID, &m.ID), ErrModelNotFound)

	// Unknown devices are rejected too.
	assert.ErrorIs(t, resolver.Assign(ctx, "no-such-device", nil), ErrDeviceNotFound)
}

func TestAssign_ClearAssignment(t *testing.T) {
	s := newTestStore(t)
	resolver := NewResolver(s)
	ctx := context.Background()

	m := &model.Model{ID: "m1", DisplayName: "classifier-v1"}
	require.NoError(t, s.CreateModel(ctx, m))
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	require.NoError(t, resolver.Assign(ctx, device.ID, &m.ID))
	require.NoError(t, resolver.Assign(ctx, device.ID, nil))

	reloaded, err := s.GetDevice(ctx, device.ID, false)
	require.NoError(t, err)
	assert.Nil(t, reloaded.AssignedModelID)
}

func TestResolveHeartbeat(t *testing.T) {
	s := newTestStore(t)
	resolver := NewResolver(s)
	ctx := context.Background()

	m := &model.Model{
		ID:          "m1",
		DisplayName: "classifier-v1",
		Metadata:    datatypes.JSON(`{"input_size":224}`),
	}
	require.NoError(t, s.CreateModel(ctx, m))
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	t.Run("no assignment", func(t *testing.T) {
		hb, err := resolver.ResolveHeartbeat(ctx, device.ID, "")
		require.NoError(t, err)
		assert.Nil(t, hb.ModelID)
		assert.False(t, hb.ShouldDownload)
	})

	t.Run("live assignment", func(t *testing.T) {
		require.NoError(t, resolver.Assign(ctx, device.ID, &m.ID))

		hb, err := resolver.ResolveHeartbeat(ctx, device.ID, "running")
		require.NoError(t, err)
		require.NotNil(t, hb.ModelID)
		assert.Equal(t, m.ID, *hb.ModelID)
		assert.True(t, hb.ShouldDownload)
		assert.JSONEq(t, `{"input_size":224}`, string(hb.Metadata))

		// The reported status sticks.
		reloaded, err := s.GetDevice(ctx, device.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "running", reloaded.Status)
	})

	t.Run("assignment to deleted model reads as none", func(t *testing.T) {
		// Simulate the reference going stale between the cascade and the
		// read by writing it directly, bypassing the resolver.
		orphan := "vanished-model"
		require.NoError(t, s.DB().Model(&model.Device{}).
			Where("id = ?", device.ID).
			Update("assigned_model_id", orphan).Error)

		hb, err := resolver.ResolveHeartbeat(ctx, device.ID, "")
		require.NoError(t, err)
		assert.Nil(t, hb.ModelID)
		assert.False(t, hb.ShouldDownload)
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := resolver.ResolveHeartbeat(ctx, "no-such-device", "")
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})
}
