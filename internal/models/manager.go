package models

// MonitoredAlias pairs an alias with the address it belongs to, for the
// transport layer to watch.
type MonitoredAlias struct {
	Alias        string `json:"alias"`
	KaspaAddress string `json:"kaspa_address"`
}

// ConversationManager is the handshake protocol state machine for one
// tenant. All mutating operations are serialized internally.
type ConversationManager interface {
	// InitiateHandshake starts (or idempotently retries) a pairing with the
	// given address and returns the wire payload the wallet must embed in a
	// transaction to that address.
	InitiateHandshake(recipientAddress string) (string, *Conversation, error)

	// ProcessHandshake ingests one observed handshake payload. It is safe to
	// call with duplicates and in arbitrary order.
	ProcessHandshake(senderAddress, rawPayload string) error

	// CreateHandshakeResponse answers a pending (or, for peer cache
	// recovery, an already active) pairing and returns the wire payload to
	// route through the established alias channel.
	CreateHandshakeResponse(conversationID string) (string, error)

	// RejectHandshake declines a pending pairing.
	RejectHandshake(conversationID string) error

	// RemoveConversation deletes a conversation, its contact when no other
	// conversation references it, and all index entries.
	RemoveConversation(conversationID string) error

	// UpdateLastActivity bumps the activity timestamp of a conversation.
	UpdateLastActivity(conversationID string) error

	ConversationByID(id string) (*Conversation, *Contact, error)
	ConversationByAlias(alias string) (*Conversation, *Contact, error)
	ConversationByAddress(address string) (*Conversation, *Contact, error)
	ActiveConversations() []*Conversation
	PendingConversations() []*Conversation
	MonitoredAliases() []MonitoredAlias
}

// ConversationEvents is the notification surface of the manager. All methods
// are required; a sink that does not care about an event implements it as a
// no-op.
type ConversationEvents interface {
	// HandshakeInitiated fires once when a brand-new pairing is started
	// locally. Idempotent retries do not re-fire it.
	HandshakeInitiated(conversation *Conversation, contact *Contact)
	// HandshakeCompleted fires once when a conversation becomes active.
	HandshakeCompleted(conversation *Conversation, contact *Contact)
	// HandshakeFailed reports a locally recoverable protocol failure.
	HandshakeFailed(err error)
}
