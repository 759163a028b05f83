package models

// ConversationStatus is the lifecycle state of a pairing session.
type ConversationStatus string

const (
	// StatusPending means the alias exchange is incomplete.
	StatusPending ConversationStatus = "pending"
	// StatusActive means both aliases are known and confirmed.
	StatusActive ConversationStatus = "active"
	// StatusRejected means the user declined the pairing.
	StatusRejected ConversationStatus = "rejected"
)

// ConversationBag holds the sensitive fields of a conversation. It is
// JSON-serialized and encrypted before it touches the database.
type ConversationBag struct {
	// MyAlias is the short hex token this wallet chose for the pairing.
	MyAlias string `json:"myAlias"`
	// TheirAlias is the counterparty's token. Empty until it is learned;
	// always known once the conversation is active.
	TheirAlias string `json:"theirAlias,omitempty"`
}

// StoredConversation is the persisted conversation row: plaintext routing
// columns plus one encrypted blob shaped as json(ConversationBag).
type StoredConversation struct {
	// ID is the protocol-level conversation identifier, chosen by whichever
	// side initiated. Both sides converge on the same value.
	ID string `json:"id" gorm:"column:id;primaryKey"`
	// TenantID is the owning wallet address.
	TenantID string `json:"tenant_id" gorm:"column:tenant_id;index;not null"`
	// ContactID references the counterparty contact.
	ContactID string `json:"contact_id" gorm:"column:contact_id;index;not null"`
	// Status is the pairing state: pending, active or rejected.
	Status ConversationStatus `json:"status" gorm:"column:status;index"`
	// InitiatedByMe records which side sent the first handshake.
	InitiatedByMe bool `json:"initiated_by_me" gorm:"column:initiated_by_me"`
	// CreatedAt is the Unix millisecond creation time.
	CreatedAt int64 `json:"created_at" gorm:"column:created_at"`
	// LastActivityAt is the Unix millisecond time of the last protocol touch.
	LastActivityAt int64 `json:"last_activity_at" gorm:"column:last_activity_at;index"`
	// EncryptedData is the sealed json(ConversationBag).
	EncryptedData string `json:"encrypted_data" gorm:"column:encrypted_data;not null"`
}

// TableName specifies the table name for GORM
func (StoredConversation) TableName() string {
	return "conversations"
}

// Conversation is the decrypted view of a conversation handed to the rest of
// the system.
type Conversation struct {
	ID             string
	TenantID       string
	ContactID      string
	Status         ConversationStatus
	InitiatedByMe  bool
	CreatedAt      int64
	LastActivityAt int64
	ConversationBag
}
