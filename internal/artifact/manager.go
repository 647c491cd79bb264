// Package artifact bridges a model's logical identity and the physical
// bytes in object storage. It never performs downloads itself; it only
// stores, removes, and issues time-limited download grants.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"classifier-fleet-backend/config"
)

// Location identifies an artifact in object storage. Opaque to callers.
type Location struct {
	Bucket string
	Key    string
}

// Manager is the interface between model records and artifact bytes.
type Manager interface {
	// StoreArtifact uploads the artifact and returns its location.
	// Callers must only create the model record after this succeeds.
	StoreArtifact(ctx context.Context, modelID, filename string, r io.Reader, size int64, contentType string) (Location, error)
	// IssueDownloadGrant returns a time-limited URL for fetching the
	// artifact, with a disposition hint carrying the original filename.
	IssueDownloadGrant(ctx context.Context, loc Location, filename string) (string, error)
	// RemoveArtifact deletes the artifact. Best-effort at call sites:
	// a dangling blob is less harmful than a stuck database delete.
	RemoveArtifact(ctx context.Context, loc Location) error
}

// minioManager stores artifacts in an S3-compatible object store.
type minioManager struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioManager connects to the configured object store and ensures
// the artifact bucket exists.
func NewMinioManager(ctx context.Context, cfg *config.StorageConfig) (Manager, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		log.Infof("Bucket %q does not exist, creating it", cfg.Bucket)
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &minioManager{
		client: client,
		bucket: cfg.Bucket,
		expiry: cfg.URLExpiry,
	}, nil
}

// objectKey builds the storage key for a model artifact. The model id
// prefix keeps uploads with identical filenames apart.
func objectKey(modelID, filename string) string {
	return fmt.Sprintf("models/%s/%s", modelID, path.Base(filename))
}

func (m *minioManager) StoreArtifact(ctx context.Context, modelID, filename string, r io.Reader, size int64, contentType string) (Location, error) {
	loc := Location{Bucket: m.bucket, Key: objectKey(modelID, filename)}

	_, err := m.client.PutObject(ctx, loc.Bucket, loc.Key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Location{}, fmt.Errorf("failed to upload artifact %q: %w", loc.Key, err)
	}
	return loc, nil
}

func (m *minioManager) IssueDownloadGrant(ctx context.Context, loc Location, filename string) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(filename)))

	u, err := m.client.PresignedGetObject(ctx, loc.Bucket, loc.Key, m.expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", loc.Key, err)
	}
	return u.String(), nil
}

func (m *minioManager) RemoveArtifact(ctx context.Context, loc Location) error {
	if err := m.client.RemoveObject(ctx, loc.Bucket, loc.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove artifact %q: %w", loc.Key, err)
	}
	return nil
}
