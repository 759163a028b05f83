package models

import "fmt"

// Notification kinds surfaced to the wallet owner.
const (
	NotificationHandshakeReceived  = "handshake_received"
	NotificationHandshakeCompleted = "handshake_completed"
)

type NotificationService interface {
	SendNotification(notification *Notification)
}

// Notification describes a handshake lifecycle event for delivery to the
// wallet owner.
type Notification struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id"`
	KaspaAddress   string `json:"kaspa_address"`
	Alias          string `json:"alias"`
}

func (n *Notification) String() string {
	switch n.Kind {
	case NotificationHandshakeReceived:
		return fmt.Sprintf("New chat request from %s (alias %s)", n.KaspaAddress, n.Alias)
	case NotificationHandshakeCompleted:
		return fmt.Sprintf("Conversation with %s is now active", n.KaspaAddress)
	default:
		return fmt.Sprintf("%s: %s", n.Kind, n.ConversationID)
	}
}
