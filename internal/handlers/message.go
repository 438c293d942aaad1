package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"securelink/internal/delivery"
	"securelink/internal/models"
	"securelink/internal/telemetry"
)

// MessageHandler exposes the synchronous send path and the status-update
// endpoints.
type MessageHandler struct {
	coordinator *delivery.Coordinator
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. A nil emitter disables audit
// records without changing behaviour.
func NewMessageHandler(coordinator *delivery.Coordinator, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{coordinator: coordinator, audit: audit}
}

// SendMessage is the authoritative send endpoint. The channel send_message
// event is the fallback for clients without a working HTTP route.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req struct {
		RecipientContactID string `json:"recipient_contact_id" binding:"required"`
		Content            string `json:"content" binding:"required"`
		Type               string `json:"type"`
		ClientMessageID    string `json:"client_message_id" binding:"required"`
		Silent             bool   `json:"silent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.coordinator.Send(c.Request.Context(), delivery.SendInput{
		SenderContactID:    c.GetString("contactID"),
		RecipientContactID: req.RecipientContactID,
		Content:            req.Content,
		Type:               req.Type,
		ClientMessageID:    req.ClientMessageID,
		Silent:             req.Silent,
	})
	if err != nil {
		h.audit.Emit(c.Request.Context(), "WARN",
			fmt.Sprintf("message send rejected: %v", err),
			requestIDFromContext(c), contactIDFromContext(c))
		switch {
		case errors.Is(err, delivery.ErrUnknownRecipient):
			c.JSON(http.StatusNotFound, gin.H{"error": "recipient not found"})
		case errors.Is(err, delivery.ErrEmptyContent),
			errors.Is(err, delivery.ErrContentTooLong),
			errors.Is(err, delivery.ErrSelfSend),
			errors.Is(err, delivery.ErrBadMessageID):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message", "status": models.StatusFailed})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("message %s sent to %s", res.MessageID, req.RecipientContactID),
		requestIDFromContext(c), contactIDFromContext(c))
	c.JSON(http.StatusCreated, res)
}

// MarkDelivered records a delivery receipt for a single message.
func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	if err := h.coordinator.MarkDelivered(c.Request.Context(), c.Param("message_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update status"})
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead records a read receipt for a single message.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	if err := h.coordinator.MarkRead(c.Request.Context(), c.Param("message_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update status"})
		return
	}
	c.Status(http.StatusNoContent)
}
