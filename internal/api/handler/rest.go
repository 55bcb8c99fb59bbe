package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"randolink/backend/internal/chat"
	"randolink/backend/internal/models"
	"randolink/backend/internal/session"
	"randolink/backend/internal/store"
)

func anonIDFrom(c *gin.Context) string {
	return c.GetString("anon_id")
}

// conversationFor loads a conversation and verifies the caller belongs to
// it. Writes the error response itself and returns nil on failure.
func (h *Handler) conversationFor(c *gin.Context) *models.Conversation {
	conv, err := h.Store.GetConversation(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		}
		return nil
	}

	anonID := anonIDFrom(c)
	for _, p := range conv.Participants {
		if p == anonID {
			return conv
		}
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant"})
	return nil
}

type createConversationRequest struct {
	PartnerID string `json:"partnerId" binding:"required"`
}

// CreateConversation creates or returns the canonical conversation between
// the caller and a partner.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "partnerId is required"})
		return
	}

	anonID := anonIDFrom(c)
	if req.PartnerID == anonID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot converse with yourself"})
		return
	}

	a, b := models.SortPair(anonID, req.PartnerID)
	conv := &models.Conversation{
		ConversationID: chat.ChatID(anonID, req.PartnerID),
		Participants:   []string{a, b},
	}
	if err := h.Store.EnsureConversation(conv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages returns a conversation's messages in thread order.
func (h *Handler) ListMessages(c *gin.Context) {
	conv := h.conversationFor(c)
	if conv == nil {
		return
	}

	messages, err := h.Chat.List(conv.ConversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage appends a message to a conversation.
func (h *Handler) SendMessage(c *gin.Context) {
	conv := h.conversationFor(c)
	if conv == nil {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return
	}

	msg, err := h.Chat.Send(conv.ConversationID, anonIDFrom(c), req.Content)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is empty"})
	case errors.Is(err, chat.ErrConversationEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "Conversation has ended"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
	default:
		c.JSON(http.StatusOK, msg)
	}
}

// DeleteMessage removes one of the caller's own messages.
func (h *Handler) DeleteMessage(c *gin.Context) {
	conv := h.conversationFor(c)
	if conv == nil {
		return
	}

	err := h.Chat.Delete(conv.ConversationID, c.Param("messageId"), anonIDFrom(c))
	switch {
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case errors.Is(err, chat.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the sender can delete a message"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
	default:
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// MarkRead zeroes the caller's unread counter for a conversation.
func (h *Handler) MarkRead(c *gin.Context) {
	conv := h.conversationFor(c)
	if conv == nil {
		return
	}

	if err := h.Chat.MarkRead(conv.ConversationID, anonIDFrom(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": 0})
}

// GetUnread returns the caller's unread counter for a conversation.
func (h *Handler) GetUnread(c *gin.Context) {
	conv := h.conversationFor(c)
	if conv == nil {
		return
	}

	count, err := h.Chat.Unread(conv.ConversationID, anonIDFrom(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load unread count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// GetProfile returns the public subset of a user profile.
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.Store.GetUserByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"avatarRef":   user.AvatarRef,
		"interests":   user.Interests,
	})
}

// GetSessionStatus reports whether a session is live and who is in it.
func (h *Handler) GetSessionStatus(c *gin.Context) {
	status, err := h.Registry.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		}
		return
	}
	c.JSON(http.StatusOK, status)
}

type reportRequest struct {
	Category string `json:"category" binding:"required"`
	Comment  string `json:"comment"`
}

// ReportPartner files a report against the other participant of a session
// the caller was part of.
func (h *Handler) ReportPartner(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}

	sess, err := h.Store.GetSession(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		}
		return
	}

	anonID := anonIDFrom(c)
	if !sess.HasParticipant(anonID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant"})
		return
	}

	rep := &models.Report{
		ReporterID:     anonID,
		ReportedUserID: sess.PartnerOf(anonID),
		SessionID:      sess.SessionID,
		Category:       req.Category,
		Comment:        req.Comment,
		Status:         "new",
	}
	if err := h.Reports.HandleReport(rep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to file report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reportId": rep.ID, "status": rep.Status})
}
