package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"classifier-fleet-backend/internal/db"
	"classifier-fleet-backend/internal/model"
)

// newTestDB opens a fresh in-memory SQLite database for one test. Each
// test gets its own named database so parallel tests cannot see each
// other's rows.
func newTestDB(t *testing.T) *gorm.DB {
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
	return testDB
}

func seedModel(t *testing.T, s Store, displayName string) *model.Model {
	t.Helper()
	m := &model.Model{
		ID:               fmt.Sprintf("model-%s-%s", t.Name(), displayName),
		DisplayName:      displayName,
		Bucket:           "models",
		Key:              "models/" + displayName + "/weights.tflite",
		OriginalFilename: "weights.tflite",
		Metadata:         datatypes.JSON(`{"labels":["cat","dog"]}`),
	}
	require.NoError(t, s.CreateModel(context.Background(), m))
	return m
}

func TestCreateDevice_DistinctIDsForSameName(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	first, err := s.CreateDevice(ctx, "pi-lab")
	require.NoError(t, err)
	second, err := s.CreateDevice(ctx, "pi-lab")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "same name must yield distinct devices")
	assert.Equal(t, model.StatusIdle, first.Status)
	assert.True(t, first.IsActive)
	assert.Nil(t, first.AssignedModelID)

	devices, err := s.ListDevices(ctx, false)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestGetDevice_HidesSoftDeleted(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	ok, err := s.SoftDeleteDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetDevice(ctx, device.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)

	// The row is still there for admin views.
	hidden, err := s.GetDevice(ctx, device.ID, true)
	require.NoError(t, err)
	assert.False(t, hidden.IsActive)
	assert.Equal(t, "inactive", hidden.Status)

	devices, err := s.ListDevices(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestSoftDeleteModel_UnassignsDevices(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "classifier-v1")
	deviceA, err := s.CreateDevice(ctx, "pi-a")
	require.NoError(t, err)
	deviceB, err := s.CreateDevice(ctx, "pi-b")
	require.NoError(t, err)

	_, err = s.AssignDeviceModel(ctx, deviceA.ID, &m.ID)
	require.NoError(t, err)
	_, err = s.AssignDeviceModel(ctx, deviceB.ID, &m.ID)
	require.NoError(t, err)
	_, err = s.TouchDevice(ctx, deviceA.ID, "running")
	require.NoError(t, err)

	found, err := s.SoftDeleteModel(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = s.GetModel(ctx, m.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{deviceA.ID, deviceB.ID} {
		device, err := s.GetDevice(ctx, id, false)
		require.NoError(t, err)
		assert.Nil(t, device.AssignedModelID, "device %s should be unassigned", id)
		assert.Equal(t, model.StatusIdle, device.Status)
	}
}

func TestAssignDeviceModel_SerializesWithModelDelete(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "classifier-v1")
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	// An assign that saw the model as active before a delete committed
	// must still fail: the assign re-reads the model inside its own
	// transaction, after the delete's unassignment sweep.
	fetched, err := s.GetModel(ctx, m.ID, false)
	require.NoError(t, err)
	require.True(t, fetched.IsActive)

	found, err := s.SoftDeleteModel(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, found)

	_, err = s.AssignDeviceModel(ctx, device.ID, &m.ID)
	assert.ErrorIs(t, err, ErrModelNotFound)

	// No device row may reference a model once it is inactive.
	var count int64
	require.NoError(t, s.DB().Model(&model.Device{}).
		Where("assigned_model_id = ?", m.ID).
		Count(&count).Error)
	assert.Zero(t, count)

	untouched, err := s.GetDevice(ctx, device.ID, false)
	require.NoError(t, err)
	assert.Nil(t, untouched.AssignedModelID)

	// Unknown devices surface as the device-side error.
	_, err = s.AssignDeviceModel(ctx, "no-such-device", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteModel_UnknownID(t *testing.T) {
	s := NewGormStore(newTestDB(t))

	found, err := s.SoftDeleteModel(context.Background(), "no-such-model")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHardDeleteModel_UnassignsAndReturnsRecord(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "classifier-v2")
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)
	_, err = s.AssignDeviceModel(ctx, device.ID, &m.ID)
	require.NoError(t, err)

	deleted, err := s.HardDeleteModel(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, m.Bucket, deleted.Bucket)
	assert.Equal(t, m.Key, deleted.Key)

	_, err = s.GetModel(ctx, m.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)

	reloaded, err := s.GetDevice(ctx, device.ID, false)
	require.NoError(t, err)
	assert.Nil(t, reloaded.AssignedModelID)
	assert.Equal(t, model.StatusIdle, reloaded.Status)

	// Unknown ids come back as nil, not an error.
	missing, err := s.HardDeleteModel(ctx, "no-such-model")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListModels_ActiveDeviceCounts(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	busy := seedModel(t, s, "busy")
	idle := seedModel(t, s, "idle")

	for i := 0; i < 3; i++ {
		device, err := s.CreateDevice(ctx, fmt.Sprintf("pi-%d", i))
		require.NoError(t, err)
		_, err = s.AssignDeviceModel(ctx, device.ID, &busy.ID)
		require.NoError(t, err)
	}

	// A soft-deleted device must not count.
	ghost, err := s.CreateDevice(ctx, "pi-ghost")
	require.NoError(t, err)
	_, err = s.AssignDeviceModel(ctx, ghost.ID, &busy.ID)
	require.NoError(t, err)
	_, err = s.SoftDeleteDevice(ctx, ghost.ID)
	require.NoError(t, err)

	models, err := s.ListModels(ctx, false)
	require.NoError(t, err)
	require.Len(t, models, 2)

	counts := map[string]int64{}
	for _, m := range models {
		counts[m.ID] = m.ActiveDeviceCount
	}
	assert.Equal(t, int64(3), counts[busy.ID])
	assert.Equal(t, int64(0), counts[idle.ID])

	single, err := s.GetModel(ctx, busy.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), single.ActiveDeviceCount)
}

func TestCreateResult_RequiresActiveParents(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "classifier-v1")
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	result, err := s.CreateResult(ctx, device.ID, m.ID, "cat", 0.92, datatypes.JSON(`{"frame":12}`))
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "cat", result.Label)

	// Submitting refreshes the device's liveness timestamp.
	reloaded, err := s.GetDevice(ctx, device.ID, false)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), reloaded.LastSeenAt, 5*time.Second)

	_, err = s.CreateResult(ctx, "no-such-device", m.ID, "cat", 0.5, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateResult(ctx, device.ID, "no-such-model", "cat", 0.5, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	// Inactive parents are rejected the same way.
	_, err = s.SoftDeleteModel(ctx, m.ID)
	require.NoError(t, err)
	_, err = s.CreateResult(ctx, device.ID, m.ID, "cat", 0.5, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListResults_FiltersAndHidesInactiveParents(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m1 := seedModel(t, s, "m1")
	m2 := seedModel(t, s, "m2")
	deviceA, err := s.CreateDevice(ctx, "pi-a")
	require.NoError(t, err)
	deviceB, err := s.CreateDevice(ctx, "pi-b")
	require.NoError(t, err)

	_, err = s.CreateResult(ctx, deviceA.ID, m1.ID, "cat", 0.9, nil)
	require.NoError(t, err)
	_, err = s.CreateResult(ctx, deviceA.ID, m2.ID, "dog", 0.8, nil)
	require.NoError(t, err)
	_, err = s.CreateResult(ctx, deviceB.ID, m1.ID, "cat", 0.7, nil)
	require.NoError(t, err)

	all, err := s.ListResults(ctx, ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byDevice, err := s.ListResults(ctx, ResultFilter{DeviceID: &deviceA.ID})
	require.NoError(t, err)
	assert.Len(t, byDevice, 2)

	byBoth, err := s.ListResults(ctx, ResultFilter{DeviceID: &deviceA.ID, ModelID: &m1.ID})
	require.NoError(t, err)
	require.Len(t, byBoth, 1)
	assert.Equal(t, "cat", byBoth[0].Label)

	// Soft-deleting a parent hides its results without deleting rows.
	_, err = s.SoftDeleteModel(ctx, m2.ID)
	require.NoError(t, err)
	visible, err := s.ListResults(ctx, ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	_, err = s.SoftDeleteDevice(ctx, deviceB.ID)
	require.NoError(t, err)
	visible, err = s.ListResults(ctx, ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestGetResult(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "m1")
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)
	created, err := s.CreateResult(ctx, device.ID, m.ID, "cat", 0.9, datatypes.JSON(`{"frame":4}`))
	require.NoError(t, err)

	fetched, err := s.GetResult(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat", fetched.Label)
	assert.Equal(t, device.ID, fetched.DeviceID)
	assert.Equal(t, m.ID, fetched.ModelID)

	_, err = s.GetResult(ctx, "no-such-result")
	assert.ErrorIs(t, err, ErrNotFound)

	// Hidden once a parent goes inactive, consistent with the listing.
	_, err = s.SoftDeleteModel(ctx, m.ID)
	require.NoError(t, err)
	_, err = s.GetResult(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListResults_LimitDefaultsTo50(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "m1")
	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)

	for i := 0; i < DefaultResultLimit+5; i++ {
		_, err := s.CreateResult(ctx, device.ID, m.ID, fmt.Sprintf("label-%d", i), 0.5, nil)
		require.NoError(t, err)
	}

	results, err := s.ListResults(ctx, ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, results, DefaultResultLimit)

	capped, err := s.ListResults(ctx, ResultFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}

func TestDeleteResults_Purge(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	m := seedModel(t, s, "m1")
	deviceA, err := s.CreateDevice(ctx, "pi-a")
	require.NoError(t, err)
	deviceB, err := s.CreateDevice(ctx, "pi-b")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.CreateResult(ctx, deviceA.ID, m.ID, "cat", 0.5, nil)
		require.NoError(t, err)
	}
	_, err = s.CreateResult(ctx, deviceB.ID, m.ID, "dog", 0.5, nil)
	require.NoError(t, err)

	deleted, err := s.DeleteResultsByDevice(ctx, deviceA.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = s.DeleteResultsByModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestMarkStaleDevicesOffline(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)
	ctx := context.Background()

	stale, err := s.CreateDevice(ctx, "pi-stale")
	require.NoError(t, err)
	fresh, err := s.CreateDevice(ctx, "pi-fresh")
	require.NoError(t, err)
	alreadyOffline, err := s.CreateDevice(ctx, "pi-gone")
	require.NoError(t, err)

	old := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, testDB.Model(&model.Device{}).
		Where("id = ?", stale.ID).
		Update("last_seen_at", old).Error)
	require.NoError(t, testDB.Model(&model.Device{}).
		Where("id = ?", alreadyOffline.ID).
		Updates(map[string]any{"last_seen_at": old, "status": model.StatusOffline}).Error)

	flipped, err := s.MarkStaleDevicesOffline(ctx, time.Now().UTC().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, flipped, "already-offline devices must not be reported again")

	reloaded, err := s.GetDevice(ctx, stale.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, reloaded.Status)

	untouched, err := s.GetDevice(ctx, fresh.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, untouched.Status)

	// A second sweep finds nothing new.
	flipped, err = s.MarkStaleDevicesOffline(ctx, time.Now().UTC().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, flipped)
}
