package http_api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kasia-im/kasiad/internal/conversation"
	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/validation"
)

// InitiateRequest represents the JSON body for starting a handshake
type InitiateRequest struct {
	RecipientAddress string `json:"recipient_address" binding:"required"`
}

// HandshakeResponse represents the wire payload the wallet must send
type HandshakeResponse struct {
	Success      bool                 `json:"success"`
	Payload      string               `json:"payload"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
}

// ConversationResponse pairs a conversation with its resolved contact
type ConversationResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Contact      *models.Contact      `json:"contact"`
}

// initiateHandshake is a handler for the POST /handshakes endpoint.
func (s *HTTPServer) initiateHandshake(c *gin.Context) {
	var req InitiateRequest

	// Parse and validate JSON request body
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	payload, conv, err := s.manager.InitiateHandshake(req.RecipientAddress)
	if err != nil {
		s.fail(c, err, "Failed to initiate handshake")
		return
	}

	s.logger.Info("Handshake initiated via API", "conversation", conv.ID)
	c.JSON(http.StatusCreated, HandshakeResponse{
		Success:      true,
		Payload:      payload,
		Conversation: conv,
	})
}

// respondHandshake is a handler for the POST /handshakes/:id/response
// endpoint.
func (s *HTTPServer) respondHandshake(c *gin.Context) {
	id := c.Param("id")

	payload, err := s.manager.CreateHandshakeResponse(id)
	if err != nil {
		s.fail(c, err, "Failed to create handshake response")
		return
	}

	c.JSON(http.StatusOK, HandshakeResponse{
		Success: true,
		Payload: payload,
	})
}

// rejectHandshake is a handler for the POST /handshakes/:id/reject endpoint.
func (s *HTTPServer) rejectHandshake(c *gin.Context) {
	id := c.Param("id")

	if err := s.manager.RejectHandshake(id); err != nil {
		s.fail(c, err, "Failed to reject handshake")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// listConversations is a handler for the GET /conversations endpoint. An
// optional status query narrows the result to pending or active pairings.
func (s *HTTPServer) listConversations(c *gin.Context) {
	var conversations []*models.Conversation

	switch c.Query("status") {
	case "":
		conversations = append(s.manager.ActiveConversations(), s.manager.PendingConversations()...)
	case string(models.StatusActive):
		conversations = s.manager.ActiveConversations()
	case string(models.StatusPending):
		conversations = s.manager.PendingConversations()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// getConversation is a handler for the GET /conversations/:id endpoint.
func (s *HTTPServer) getConversation(c *gin.Context) {
	conv, contact, err := s.manager.ConversationByID(c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to get conversation")
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{Conversation: conv, Contact: contact})
}

// getConversationByAlias is a handler for the
// GET /conversations/by-alias/:alias endpoint.
func (s *HTTPServer) getConversationByAlias(c *gin.Context) {
	conv, contact, err := s.manager.ConversationByAlias(c.Param("alias"))
	if err != nil {
		s.fail(c, err, "Failed to get conversation by alias")
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{Conversation: conv, Contact: contact})
}

// getConversationByAddress is a handler for the
// GET /conversations/by-address/:address endpoint.
func (s *HTTPServer) getConversationByAddress(c *gin.Context) {
	address := c.Param("address")
	if err := validation.ValidateAddress(address); err != nil {
		s.logger.Debug("Invalid address", "error", err, "address", address)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address format: " + err.Error()})
		return
	}

	conv, contact, err := s.manager.ConversationByAddress(address)
	if err != nil {
		s.fail(c, err, "Failed to get conversation by address")
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{Conversation: conv, Contact: contact})
}

// removeConversation is a handler for the DELETE /conversations/:id endpoint.
func (s *HTTPServer) removeConversation(c *gin.Context) {
	if err := s.manager.RemoveConversation(c.Param("id")); err != nil {
		s.fail(c, err, "Failed to remove conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// monitoredAliases is a handler for the GET /monitored endpoint. It lists
// the alias/address pairs the wallet's transport layer should watch.
func (s *HTTPServer) monitoredAliases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"monitored": s.manager.MonitoredAliases()})
}

// fail maps manager errors onto HTTP status codes.
func (s *HTTPServer) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, conversation.ErrAlreadyActive),
		errors.Is(err, conversation.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, validation.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		s.logger.Error(message, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": message})
	}
}
