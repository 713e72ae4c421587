package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sparkyapp/sparky/pkg/service"
)

// ActivationHandler relays activation and surface focus notifications from
// shells that own the hotkey or the window.
type ActivationHandler struct {
	activation *service.ActivationService
}

func NewActivationHandler(activation *service.ActivationService) *ActivationHandler {
	return &ActivationHandler{activation: activation}
}

// RegisterRoutes registers activation routes
func (h *ActivationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/activate", h.Activate)
	r.POST("/surface/blur", h.Blur)
	r.POST("/surface/hide", h.Hide)
	r.POST("/surface/inspector", h.Inspector)
}

// Activate triggers one hotkey cycle. The optional body carries the pointer
// position when the caller knows it.
// POST /api/v1/activate
func (h *ActivationHandler) Activate(c *gin.Context) {
	// Both coordinates must be present; an empty or partial body means the
	// caller does not know the pointer and the surface centers itself.
	var body struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}
	var pointer *service.Pointer
	if err := c.ShouldBindJSON(&body); err == nil && body.X != nil && body.Y != nil {
		pointer = &service.Pointer{X: *body.X, Y: *body.Y}
	}

	// Activation runs the capture protocol, which takes up to a second of
	// fixed delays; do not block the HTTP caller on it.
	go h.activation.Activate(pointer)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Blur notifies the machine that the surface lost focus.
// POST /api/v1/surface/blur
func (h *ActivationHandler) Blur(c *gin.Context) {
	h.activation.NotifyBlur()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Hide hides the surface explicitly.
// POST /api/v1/surface/hide
func (h *ActivationHandler) Hide(c *gin.Context) {
	h.activation.Hide()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Inspector records whether an inspection tool currently holds focus.
// POST /api/v1/surface/inspector
func (h *ActivationHandler) Inspector(c *gin.Context) {
	var req struct {
		Open bool `json:"open"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.activation.NotifyInspector(req.Open)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
