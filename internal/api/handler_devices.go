package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"classifier-fleet-backend/internal/assignment"
	"classifier-fleet-backend/internal/store"
)

type registerDeviceRequest struct {
	DeviceName string `json:"device_name" binding:"required"`
}

// RegisterDevice handles POST /api/devices/register.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing device name"})
		return
	}

	device, err := h.store.CreateDevice(c.Request.Context(), req.DeviceName)
	if err != nil {
		log.Errorf("Error registering device: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"device_id": device.ID,
		"message":   "Device registered successfully",
	})
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	includeInactive := strings.EqualFold(c.Query("include_inactive"), "true")

	devices, err := h.store.ListDevices(c.Request.Context(), includeInactive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// GetDevice handles GET /api/devices/{id}.
func (h *Handler) GetDevice(c *gin.Context) {
	device, err := h.store.GetDevice(c.Request.Context(), c.Param("id"), false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device"})
		}
		return
	}

	c.JSON(http.StatusOK, device)
}

type heartbeatRequest struct {
	Status string `json:"status"`
}

// Heartbeat handles POST /api/devices/{id}/heartbeat: the device
// reports liveness and its current status, and receives its model
// assignment in return.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	// The body is optional; a bare heartbeat carries no status.
	_ = c.ShouldBindJSON(&req)

	asg, err := h.resolver.ResolveHeartbeat(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, assignment.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		} else {
			log.Errorf("Error resolving heartbeat: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, asg)
}

// SetDeviceModel handles POST /api/devices/{id}/set_model. The
// model_id key is required; null (or the literal strings "null"/"None",
// which deployed clients send) clears the assignment.
func (h *Handler) SetDeviceModel(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, ok := body["model_id"]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing model ID"})
		return
	}

	var modelID *string
	switch v := raw.(type) {
	case nil:
	case string:
		if v != "" && v != "null" && v != "None" {
			modelID = &v
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid model ID"})
		return
	}

	if err := h.resolver.Assign(c.Request.Context(), c.Param("id"), modelID); err != nil {
		switch {
		case errors.Is(err, assignment.ErrModelNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
		case errors.Is(err, assignment.ErrDeviceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		default:
			log.Errorf("Error setting device model: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Model set successfully"})
}

// DeleteDevice handles DELETE /api/devices/{id}?hard=true|false.
func (h *Handler) DeleteDevice(c *gin.Context) {
	hard := strings.EqualFold(c.Query("hard"), "true")
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		ok  bool
		err error
	)
	if hard {
		ok, err = h.store.HardDeleteDevice(ctx, id)
	} else {
		ok, err = h.store.SoftDeleteDevice(ctx, id)
	}
	if err != nil {
		log.Errorf("Error deleting device %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found or could not be deleted"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Device deleted successfully"})
}
