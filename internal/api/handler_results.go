package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"classifier-fleet-backend/internal/store"
)

// ListResults handles GET /api/results?device_id&model_id&limit.
func (h *Handler) ListResults(c *gin.Context) {
	filter := store.ResultFilter{}
	if v := c.Query("device_id"); v != "" {
		filter.DeviceID = &v
	}
	if v := c.Query("model_id"); v != "" {
		filter.ModelID = &v
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = limit
	}

	results, err := h.store.ListResults(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve results"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// GetResult handles GET /api/results/{id}.
func (h *Handler) GetResult(c *gin.Context) {
	result, err := h.store.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve result"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// CreateResult handles POST /api/results. Required fields: device_id,
// model_id, result. Any other keys besides confidence travel along as
// the result's extra metadata document. Confidence is stored as
// reported; the server does not enforce the [0,1] range.
func (h *Handler) CreateResult(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceID, okDevice := body["device_id"].(string)
	modelID, okModel := body["model_id"].(string)
	label, okLabel := body["result"].(string)
	if !okDevice || !okModel || !okLabel {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	confidence := 0.0
	if v, ok := body["confidence"].(float64); ok {
		confidence = v
	}

	extra := make(map[string]any)
	for k, v := range body {
		switch k {
		case "device_id", "model_id", "result", "confidence":
		default:
			extra[k] = v
		}
	}
	rawExtra, err := json.Marshal(extra)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.store.CreateResult(c.Request.Context(), deviceID, modelID, label, confidence, datatypes.JSON(rawExtra))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device or model not found"})
		} else {
			log.Errorf("Error creating result: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"result_id": result.ID,
		"message":   "Result uploaded successfully",
	})
}

// PurgeResults handles DELETE /api/results?device_id=|model_id=, the
// destructive bulk cleanup path.
func (h *Handler) PurgeResults(c *gin.Context) {
	deviceID := c.Query("device_id")
	modelID := c.Query("model_id")
	if deviceID == "" && modelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id or model_id is required"})
		return
	}

	var (
		count int64
		err   error
	)
	if deviceID != "" {
		count, err = h.store.DeleteResultsByDevice(c.Request.Context(), deviceID)
	} else {
		count, err = h.store.DeleteResultsByModel(c.Request.Context(), modelID)
	}
	if err != nil {
		log.Errorf("Error purging results: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": count})
}
