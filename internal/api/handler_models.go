package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"classifier-fleet-backend/internal/artifact"
	"classifier-fleet-backend/internal/model"
	"classifier-fleet-backend/internal/store"
)

// ListModels handles GET /api/models.
func (h *Handler) ListModels(c *gin.Context) {
	includeInactive := strings.EqualFold(c.Query("include_inactive"), "true")

	models, err := h.store.ListModels(c.Request.Context(), includeInactive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve models"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"models": models})
}

// GetModel handles GET /api/models/{id}.
func (h *Handler) GetModel(c *gin.Context) {
	m, err := h.store.GetModel(c.Request.Context(), c.Param("id"), false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve model"})
		}
		return
	}

	c.JSON(http.StatusOK, m)
}

// CreateModel handles POST /api/models/create: a multipart upload with
// the model binary under "model" and a JSON metadata document under
// "metadata". The artifact is stored first; the database record is only
// created once the upload has succeeded, so a failed upload can never
// leave a dangling row.
func (h *Handler) CreateModel(c *gin.Context) {
	modelFile, err := c.FormFile("model")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing model or metadata"})
		return
	}
	if modelFile.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return
	}
	metadataFile, err := c.FormFile("metadata")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing model or metadata"})
		return
	}

	mf, err := metadataFile.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rawMeta, err := io.ReadAll(mf)
	mf.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var meta map[string]any
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid metadata JSON: " + err.Error()})
		return
	}

	displayName := "Unknown"
	for _, key := range []string{"display_name", "project_name"} {
		if v, ok := meta[key].(string); ok && v != "" {
			displayName = v
			break
		}
	}

	contentType := modelFile.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	f, err := modelFile.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	modelID := uuid.NewString()

	loc, err := h.artifacts.StoreArtifact(ctx, modelID, modelFile.Filename, f, modelFile.Size, contentType)
	if err != nil {
		log.Errorf("Error storing model artifact: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	m := &model.Model{
		ID:               modelID,
		DisplayName:      displayName,
		Bucket:           loc.Bucket,
		Key:              loc.Key,
		OriginalFilename: path.Base(modelFile.Filename),
		Metadata:         datatypes.JSON(rawMeta),
	}
	if err := h.store.CreateModel(ctx, m); err != nil {
		log.Errorf("Error creating model record: %v", err)
		// The record failed after the upload; clean the blob up so it
		// does not dangle.
		if rmErr := h.artifacts.RemoveArtifact(ctx, loc); rmErr != nil {
			log.Warnf("Failed to remove artifact after record failure: %v", rmErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"model_id": modelID,
		"message":  "Model uploaded successfully",
	})
}

// DownloadModel handles GET /api/models/{id}/download. It returns a
// time-limited URL; the device fetches the bytes from object storage
// directly.
func (h *Handler) DownloadModel(c *gin.Context) {
	ctx := c.Request.Context()

	m, err := h.store.GetModel(ctx, c.Param("id"), false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found or URL generation failed"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve model"})
		}
		return
	}

	url, err := h.artifacts.IssueDownloadGrant(ctx, artifact.Location{Bucket: m.Bucket, Key: m.Key}, m.OriginalFilename)
	if err != nil {
		log.Errorf("Error issuing download grant for model %s: %v", m.ID, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found or URL generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"download_url": url,
		"expires_in":   int(h.urlExpiry.Seconds()),
	})
}

// DeleteModel handles DELETE /api/models/{id}?hard=true|false. Both
// variants unassign every device pointing at the model. The hard
// variant additionally removes the artifact, best-effort: a failure
// there is logged, never propagated, since a dangling blob is less
// harmful than a stuck database delete.
func (h *Handler) DeleteModel(c *gin.Context) {
	hard := strings.EqualFold(c.Query("hard"), "true")
	ctx := c.Request.Context()
	id := c.Param("id")

	if hard {
		m, err := h.store.HardDeleteModel(ctx, id)
		if err != nil {
			log.Errorf("Error deleting model %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if m == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found or could not be deleted"})
			return
		}
		if err := h.artifacts.RemoveArtifact(ctx, artifact.Location{Bucket: m.Bucket, Key: m.Key}); err != nil {
			log.Warnf("Failed to remove artifact for model %s: %v", id, err)
		}
	} else {
		ok, err := h.store.SoftDeleteModel(ctx, id)
		if err != nil {
			log.Errorf("Error deleting model %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found or could not be deleted"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Model deleted successfully"})
}
