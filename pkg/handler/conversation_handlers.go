// Conversation HTTP handlers
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/chatengine/pkg/models"
	"github.com/choraleia/chatengine/pkg/service"
	"github.com/choraleia/chatengine/pkg/store"
	"github.com/choraleia/chatengine/pkg/utils"
)

// ConversationHandler handles conversation lifecycle and turn requests
type ConversationHandler struct {
	svc    *service.ConversationService
	logger *slog.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(svc *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		svc:    svc,
		logger: utils.GetLogger(),
	}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	conversation := r.Group("/conversation")
	{
		conversation.POST("/create", h.Create)
		conversation.POST("/send", h.Send)
		conversation.POST("/update", h.Update)
		conversation.POST("/end", h.End)
		conversation.POST("/finish", h.End) // SDK name for /end
	}
}

// Create starts or resumes a conversation
// POST /api/conversation/create
func (h *ConversationHandler) Create(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request: " + err.Error()})
		return
	}

	resp, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Send submits one message and returns the reply
// POST /api/conversation/send
func (h *ConversationHandler) Send(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request: " + err.Error()})
		return
	}

	result, err := h.svc.Send(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Update replaces the participant roster
// POST /api/conversation/update
func (h *ConversationHandler) Update(c *gin.Context) {
	var req models.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request: " + err.Error()})
		return
	}

	if err := h.svc.UpdateUsers(c.Request.Context(), req.Secret, req.Users); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// End deletes a conversation
// POST /api/conversation/end, POST /api/conversation/finish
func (h *ConversationHandler) End(c *gin.Context) {
	var req models.EndConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request: " + err.Error()})
		return
	}

	if err := h.svc.End(c.Request.Context(), req.Secret); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *ConversationHandler) writeError(c *gin.Context, err error) {
	status, message := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"message": message})
}

// StatusForError maps service errors to an HTTP status and a client message.
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound, "Conversation not found"
	case errors.Is(err, service.ErrSenderNotFound):
		return http.StatusNotFound, "Player is not part of the conversation"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrConversationBusy):
		return http.StatusConflict, "Conversation is busy"
	case errors.Is(err, service.ErrInvalidPersonality):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrModelFailure), errors.Is(err, service.ErrModerationFailure):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
