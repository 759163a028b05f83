package models

// ContactRepository stores contacts for one tenant. Implementations seal the
// ContactBag before writing and open it on read.
type ContactRepository interface {
	Get(id string) (*Contact, error)
	GetAll() ([]*Contact, error)
	Save(contact *Contact) error
	Delete(id string) error
}

// ConversationRepository stores conversations for one tenant.
type ConversationRepository interface {
	Get(id string) (*Conversation, error)
	GetAll() ([]*Conversation, error)
	GetByStatus(status ConversationStatus) ([]*Conversation, error)
	GetByContact(contactID string) ([]*Conversation, error)
	Save(conversation *Conversation) error
	Delete(id string) error
}

// HandshakeRecordRepository journals observed handshake transactions for one
// tenant.
type HandshakeRecordRepository interface {
	Save(record *HandshakeRecord) error
	GetByConversation(conversationID string) ([]*HandshakeRecord, error)
}
