package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"securelink/internal/delivery"
	"securelink/internal/models"
	"securelink/internal/presence"
	"securelink/internal/registry"
	"securelink/internal/repositories"
	"securelink/internal/telemetry"
)

// ChatHandler serves conversation summaries, message history and per-contact
// presence.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	contactRepo repositories.ContactRepository
	coordinator *delivery.Coordinator
	tracker     *presence.Tracker
	registry    *registry.Registry
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. A nil emitter disables audit records
// without changing behaviour.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, contactRepo repositories.ContactRepository, coordinator *delivery.Coordinator, tracker *presence.Tracker, reg *registry.Registry, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		contactRepo: contactRepo,
		coordinator: coordinator,
		tracker:     tracker,
		registry:    reg,
		audit:       audit,
	}
}

// ListChats returns the caller's chat list with live online flags merged in.
func (h *ChatHandler) ListChats(c *gin.Context) {
	owner := c.GetString("contactID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	chats = lo.Map(chats, func(chat models.ChatSummary, _ int) models.ChatSummary {
		_, online := h.registry.Lookup(chat.ContactID)
		chat.IsOnline = online
		return chat
	})

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetConversation returns the caller's copy of one conversation in send
// order.
func (h *ChatHandler) GetConversation(c *gin.Context) {
	owner := c.GetString("contactID")
	counterpart := c.Param("contact_id")

	msgs, err := h.messageRepo.ListConversation(c.Request.Context(), owner, counterpart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkConversationRead marks everything the counterpart sent as read and
// resets the unread counter.
func (h *ChatHandler) MarkConversationRead(c *gin.Context) {
	owner := c.GetString("contactID")
	counterpart := c.Param("contact_id")

	count, err := h.coordinator.MarkConversationRead(c.Request.Context(), owner, counterpart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark conversation read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked_read": count})
}

// SetPushToken stores the caller's device push token and notification
// preference.
func (h *ChatHandler) SetPushToken(c *gin.Context) {
	var req struct {
		Token   string `json:"token"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	err := h.contactRepo.SetPushToken(c.Request.Context(), c.GetString("contactID"), req.Token, enabled)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrContactNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not store push token"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "push token updated",
		requestIDFromContext(c), contactIDFromContext(c))
	c.Status(http.StatusNoContent)
}

// GetPresence returns the persisted presence record for a contact, with the
// registry consulted for the live online flag.
func (h *ChatHandler) GetPresence(c *gin.Context) {
	contactID := c.Param("contact_id")

	p, err := h.tracker.Get(c.Request.Context(), contactID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	if _, online := h.registry.Lookup(contactID); online {
		p.IsOnline = true
	}

	c.JSON(http.StatusOK, p)
}
