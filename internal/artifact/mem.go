package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
)

type memObject struct {
	data        []byte
	filename    string
	contentType string
}

// MemoryManager keeps artifacts in process memory and serves them over
// plain HTTP. It exists for tests and local development; production
// deployments use the object-store backed manager.
type MemoryManager struct {
	mu      sync.RWMutex
	bucket  string
	baseURL string
	objects map[string]memObject
}

// NewMemoryManager creates an empty in-memory artifact store.
func NewMemoryManager(bucket string) *MemoryManager {
	return &MemoryManager{
		bucket:  bucket,
		objects: make(map[string]memObject),
	}
}

// SetBaseURL sets the host prefix used in download grants, typically an
// httptest server wrapping Handler().
func (m *MemoryManager) SetBaseURL(u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseURL = strings.TrimRight(u, "/")
}

func (m *MemoryManager) StoreArtifact(ctx context.Context, modelID, filename string, r io.Reader, size int64, contentType string) (Location, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Location{}, fmt.Errorf("failed to read artifact: %w", err)
	}

	loc := Location{Bucket: m.bucket, Key: objectKey(modelID, filename)}
	m.mu.Lock()
	m.objects[loc.Key] = memObject{
		data:        data,
		filename:    path.Base(filename),
		contentType: contentType,
	}
	m.mu.Unlock()
	return loc, nil
}

func (m *MemoryManager) IssueDownloadGrant(ctx context.Context, loc Location, filename string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[loc.Key]; !ok {
		return "", fmt.Errorf("artifact %q not found", loc.Key)
	}
	return fmt.Sprintf("%s/%s/%s", m.baseURL, loc.Bucket, loc.Key), nil
}

func (m *MemoryManager) RemoveArtifact(ctx context.Context, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[loc.Key]; !ok {
		return fmt.Errorf("artifact %q not found", loc.Key)
	}
	delete(m.objects, loc.Key)
	return nil
}

// Handler serves stored artifacts at GET /<bucket>/<key>.
func (m *MemoryManager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/"+m.bucket+"/")

		m.mu.RLock()
		obj, ok := m.objects[key]
		m.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", obj.filename))
		w.Write(bytes.Clone(obj.data))
	})
}
