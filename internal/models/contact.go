package models

// UnknownSender is the placeholder address stored when a handshake is
// observed before the real sender address could be resolved. The first
// payload that arrives with a concrete address replaces it.
const UnknownSender = "Unknown"

// ContactBag holds the sensitive fields of a contact. It is JSON-serialized
// and encrypted before it touches the database.
type ContactBag struct {
	// KaspaAddress is the counterparty's on-chain address.
	KaspaAddress string `json:"kaspaAddress"`
	// Name is an optional display label chosen by the user.
	Name string `json:"name,omitempty"`
}

// StoredContact is the persisted contact row: plaintext routing columns plus
// one encrypted blob shaped as json(ContactBag).
type StoredContact struct {
	// ID is the unique identifier of the contact.
	ID string `json:"id" gorm:"column:id;primaryKey"`
	// TenantID is the owning wallet address. It partitions storage.
	TenantID string `json:"tenant_id" gorm:"column:tenant_id;index;not null"`
	// Timestamp is the Unix millisecond time the contact was created.
	Timestamp int64 `json:"timestamp" gorm:"column:timestamp;index"`
	// EncryptedData is the sealed json(ContactBag).
	EncryptedData string `json:"encrypted_data" gorm:"column:encrypted_data;not null"`
}

// TableName specifies the table name for GORM
func (StoredContact) TableName() string {
	return "contacts"
}

// Contact is the decrypted view of a contact handed to the rest of the
// system.
type Contact struct {
	ID        string
	TenantID  string
	Timestamp int64
	ContactBag
}
