// Chat HTTP handlers - sessions, history and streaming submissions
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sparkyapp/sparky/pkg/service"
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat/completions", h.SubmitChat)

	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.POST("", h.CreateSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.GET("/:id/messages", h.GetHistory)
	}

	r.DELETE("/history", h.ClearAllHistory)
}

// SubmitChat handles a streaming chat submission.
// POST /api/v1/chat/completions
//
// The response is an SSE stream mirroring the submission's event sequence:
// an optional session_created, then chunks, then done or error.
func (h *ChatHandler) SubmitChat(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// The stream must not die with the HTTP connection: hiding the surface
	// (or closing the SSE consumer) does not cancel an in-flight request.
	// Cancellation happens only through session deletion or shutdown.
	events, err := h.chatService.SubmitChat(context.Background(), &req)
	if err != nil {
		writeSSE(c, service.StreamEvent{Type: service.EventError, Error: err.Error()})
		return
	}

	for ev := range events {
		writeSSE(c, ev)
	}
}

func writeSSE(c *gin.Context, ev service.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// ListSessions returns all sessions, most recent first.
// GET /api/v1/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.chatService.ListSessions())
}

// CreateSession creates a new session.
// POST /api/v1/sessions
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	// Body is optional; an empty title falls back to the default.
	_ = c.ShouldBindJSON(&req)

	sess, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GetHistory returns the ordered message history for a session.
// GET /api/v1/sessions/:id/messages
func (h *ChatHandler) GetHistory(c *gin.Context) {
	id, err := parseSessionID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	c.JSON(http.StatusOK, h.chatService.GetHistory(id))
}

// DeleteSession deletes a session and its messages.
// DELETE /api/v1/sessions/:id
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id, err := parseSessionID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := h.chatService.DeleteSession(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ClearAllHistory deletes every session and message.
// DELETE /api/v1/history
func (h *ChatHandler) ClearAllHistory(c *gin.Context) {
	if err := h.chatService.ClearAllHistory(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func parseSessionID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
