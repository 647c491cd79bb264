package liveness

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"classifier-fleet-backend/config"
	"classifier-fleet-backend/internal/db"
	"classifier-fleet-backend/internal/model"
	"classifier-fleet-backend/internal/notification"
	"classifier-fleet-backend/internal/store"
)

func newTestStore(t *testing.T) (store.Store, *gorm.DB) {
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
	return store.NewGormStore(testDB), testDB
}

func TestSweepOnce(t *testing.T) {
	s, testDB := newTestStore(t)
	ctx := context.Background()

	stale, err := s.CreateDevice(ctx, "pi-stale")
	require.NoError(t, err)
	fresh, err := s.CreateDevice(ctx, "pi-fresh")
	require.NoError(t, err)

	require.NoError(t, testDB.Model(&model.Device{}).
		Where("id = ?", stale.ID).
		Update("last_seen_at", time.Now().UTC().Add(-10*time.Minute)).Error)

	cfg := &config.LivenessConfig{
		Enabled:      true,
		Interval:     time.Minute,
		OfflineAfter: 5 * time.Minute,
	}

	// The stale device's id must land in the notification queue.
	wp := notification.NewWorkerPool(4, testDB, &webpush.Options{})
	sweeper := NewSweeper(cfg, s, wp)
	sweeper.SweepOnce(ctx)

	select {
	case id := <-wp.Jobs():
		assert.Equal(t, stale.ID, id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an offline notification job")
	}

	flipped, err := s.GetDevice(ctx, stale.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, flipped.Status)

	untouched, err := s.GetDevice(ctx, fresh.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, untouched.Status)

	// A second sweep dispatches nothing new.
	sweeper.SweepOnce(ctx)
	select {
	case id := <-wp.Jobs():
		t.Fatalf("unexpected job for device %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSweepOnce_NilWorkerPool(t *testing.T) {
	s, testDB := newTestStore(t)
	ctx := context.Background()

	device, err := s.CreateDevice(ctx, "pi-1")
	require.NoError(t, err)
	require.NoError(t, testDB.Model(&model.Device{}).
		Where("id = ?", device.ID).
		Update("last_seen_at", time.Now().UTC().Add(-time.Hour)).Error)

	cfg := &config.LivenessConfig{
		Enabled:      true,
		Interval:     time.Minute,
		OfflineAfter: 5 * time.Minute,
	}
	sweeper := NewSweeper(cfg, s, nil)
	sweeper.SweepOnce(ctx)

	flipped, err := s.GetDevice(ctx, device.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, flipped.Status)
}

func TestRun_Disabled(t *testing.T) {
	s, _ := newTestStore(t)

	cfg := &config.LivenessConfig{Enabled: false}
	sweeper := NewSweeper(cfg, s, nil)

	done := make(chan struct{})
	go func() {
		sweeper.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when disabled")
	}
}
