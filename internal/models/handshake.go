package models

import "fmt"

// HandshakePayload is the wire envelope body of a handshake message. It is
// carried on chain as "ciph_msg:<version>:handshake:<json>" and never
// persisted as-is.
type HandshakePayload struct {
	// Type is always "handshake".
	Type string `json:"type"`
	// Alias is the sender's own alias for this conversation.
	Alias string `json:"alias"`
	// TheirAlias echoes the recipient's alias back on a response, proving
	// the round trip.
	TheirAlias string `json:"theirAlias,omitempty"`
	// Timestamp is the Unix millisecond time the payload was built.
	Timestamp int64 `json:"timestamp"`
	// ConversationID identifies the pairing both sides converge on.
	ConversationID string `json:"conversationId"`
	// Version is the protocol version the sender speaks.
	Version int `json:"version"`
	// RecipientAddress is present only on the very first message of a
	// pairing, before the recipient knows any alias.
	RecipientAddress string `json:"recipientAddress,omitempty"`
	// SendToRecipient tells the sending layer to deliver directly to the
	// recipient address rather than through the alias-addressed channel.
	SendToRecipient bool `json:"sendToRecipient,omitempty"`
	// IsResponse marks the second message of the two-message exchange.
	IsResponse bool `json:"isResponse,omitempty"`
}

// HandshakeBag holds the sensitive fields of an observed handshake
// transaction.
type HandshakeBag struct {
	// Amount is the sompi value carried by the transaction.
	Amount uint64 `json:"amount"`
	// Fee is the transaction fee, when known.
	Fee uint64 `json:"fee,omitempty"`
}

// StoredHandshakeRecord journals one observed handshake transaction:
// plaintext routing columns plus one encrypted blob shaped as
// json(HandshakeBag).
type StoredHandshakeRecord struct {
	// ID is "<tenant>_<timestamp>_<transaction id>".
	ID string `json:"id" gorm:"column:id;primaryKey"`
	// TenantID is the owning wallet address.
	TenantID string `json:"tenant_id" gorm:"column:tenant_id;index;not null"`
	// ConversationID is the pairing the handshake belongs to.
	ConversationID string `json:"conversation_id" gorm:"column:conversation_id;index"`
	// Timestamp is the Unix millisecond time the transaction was observed.
	Timestamp int64 `json:"timestamp" gorm:"column:timestamp;index"`
	// TransactionID is the on-chain transaction id.
	TransactionID string `json:"transaction_id" gorm:"column:transaction_id"`
	// SenderAddress is the observed author address.
	SenderAddress string `json:"sender_address" gorm:"column:sender_address"`
	// EncryptedData is the sealed json(HandshakeBag).
	EncryptedData string `json:"encrypted_data" gorm:"column:encrypted_data;not null"`
}

// TableName specifies the table name for GORM
func (StoredHandshakeRecord) TableName() string {
	return "handshakes"
}

// HandshakeRecord is the decrypted view of an observed handshake
// transaction.
type HandshakeRecord struct {
	ID             string
	TenantID       string
	ConversationID string
	Timestamp      int64
	TransactionID  string
	SenderAddress  string
	HandshakeBag
}

// HandshakeRecordID builds the journal key for an observed transaction.
func HandshakeRecordID(tenantID string, timestamp int64, transactionID string) string {
	return fmt.Sprintf("%s_%d_%s", tenantID, timestamp, transactionID)
}
