// Package conversation implements the handshake protocol state machine: it
// negotiates pseudonymous aliases between two addresses over an unordered,
// replay-prone transport and tracks each pairing through pending, active and
// rejected states.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/internal/protocol"
	"github.com/kasia-im/kasiad/pkg/logger"
	"github.com/kasia-im/kasiad/pkg/validation"
)

// entry couples a conversation with its resolved contact inside the
// in-memory indices.
type entry struct {
	conv    *models.Conversation
	contact *models.Contact
}

// Manager owns the pairing state of one tenant. The repositories are
// authoritative; the three index maps are derived and rebuilt from them at
// construction. Every mutation updates all three maps together under the
// mutex, after persistence has succeeded.
type Manager struct {
	logger *logger.Logger

	tenantID      string
	contacts      models.ContactRepository
	conversations models.ConversationRepository
	events        models.ConversationEvents
	aliases       *AliasGenerator

	mu        sync.Mutex
	byID      map[string]*entry  // conversationID -> entry
	byAddress map[string]string  // kaspaAddress -> conversationID
	byAlias   map[string]string  // alias (mine and theirs) -> conversationID
}

// NewManager builds a manager for one tenant and rebuilds the indices from
// the repositories. One manager exists per unlocked wallet; it is torn down
// on lock.
func NewManager(
	tenantID string,
	contacts models.ContactRepository,
	conversations models.ConversationRepository,
	events models.ConversationEvents,
	aliases *AliasGenerator,
	logger *logger.Logger,
) (*Manager, error) {
	m := &Manager{
		logger:        logger,
		tenantID:      tenantID,
		contacts:      contacts,
		conversations: conversations,
		events:        events,
		aliases:       aliases,
		byID:          make(map[string]*entry),
		byAddress:     make(map[string]string),
		byAlias:       make(map[string]string),
	}

	if err := m.rebuild(); err != nil {
		return nil, fmt.Errorf("failed to rebuild conversation indices: %w", err)
	}

	return m, nil
}

var _ models.ConversationManager = (*Manager)(nil)

// rebuild loads every conversation and contact of the tenant and
// reconstructs the index maps. The result must match what incremental
// maintenance would have produced.
func (m *Manager) rebuild() error {
	convs, err := m.conversations.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	contacts, err := m.contacts.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	contactsByID := make(map[string]*models.Contact, len(contacts))
	for _, c := range contacts {
		contactsByID[c.ID] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID = make(map[string]*entry)
	m.byAddress = make(map[string]string)
	m.byAlias = make(map[string]string)

	for _, conv := range convs {
		contact := contactsByID[conv.ContactID]
		if contact == nil {
			// Orphan rows violate the contact invariant; skip them rather
			// than crash the whole tenant.
			m.logger.Error("Conversation references missing contact ", "conversation ", conv.ID, "contact ", conv.ContactID)
			continue
		}
		m.indexLocked(&entry{conv: conv, contact: contact})
	}

	m.logger.Debug("Conversation indices rebuilt ", "tenant ", m.tenantID, "conversations ", len(m.byID))
	return nil
}

// indexLocked registers an entry in all three maps. Rejected conversations
// keep their id and address entries but do not occupy alias space.
func (m *Manager) indexLocked(e *entry) {
	m.byID[e.conv.ID] = e
	m.byAddress[e.contact.KaspaAddress] = e.conv.ID

	if e.conv.Status == models.StatusRejected {
		return
	}
	m.byAlias[e.conv.MyAlias] = e.conv.ID
	if e.conv.TheirAlias != "" {
		m.byAlias[e.conv.TheirAlias] = e.conv.ID
	}
}

// unindexLocked removes an entry from all three maps. Address and alias
// entries are only removed if they still point at this conversation, so a
// newer pairing for the same address is not clobbered.
func (m *Manager) unindexLocked(e *entry) {
	delete(m.byID, e.conv.ID)
	if m.byAddress[e.contact.KaspaAddress] == e.conv.ID {
		delete(m.byAddress, e.contact.KaspaAddress)
	}
	m.unindexAliasesLocked(e)
}

func (m *Manager) unindexAliasesLocked(e *entry) {
	if m.byAlias[e.conv.MyAlias] == e.conv.ID {
		delete(m.byAlias, e.conv.MyAlias)
	}
	if e.conv.TheirAlias != "" && m.byAlias[e.conv.TheirAlias] == e.conv.ID {
		delete(m.byAlias, e.conv.TheirAlias)
	}
}

func (m *Manager) aliasTakenLocked(alias string) bool {
	_, taken := m.byAlias[alias]
	return taken
}

// InitiateHandshake starts a pairing with recipientAddress. Re-running it
// against a still-pending recipient is an idempotent retry: the existing
// alias is reused, no second conversation is created and no event re-fires.
func (m *Manager) InitiateHandshake(recipientAddress string) (string, *models.Conversation, error) {
	if err := validation.ValidateAddress(recipientAddress); err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	payload, conv, fire, err := m.initiateLocked(recipientAddress)
	m.mu.Unlock()

	if fire != nil {
		fire()
	}
	return payload, conv, err
}

func (m *Manager) initiateLocked(recipientAddress string) (string, *models.Conversation, func(), error) {
	now := time.Now().UnixMilli()

	var existingContact *models.Contact
	if id, ok := m.byAddress[recipientAddress]; ok {
		e := m.byID[id]
		switch e.conv.Status {
		case models.StatusActive:
			return "", nil, nil, ErrAlreadyActive
		case models.StatusPending:
			// Retry of an unanswered handshake: keep the first alias.
			raw, err := m.encodeInitiation(e.conv, recipientAddress, now)
			if err != nil {
				return "", nil, nil, err
			}
			e.conv.LastActivityAt = now
			if err := m.conversations.Save(e.conv); err != nil {
				return "", nil, nil, fmt.Errorf("failed to persist conversation: %w", err)
			}
			m.logger.Debug("Handshake retry ", "conversation ", e.conv.ID)
			return raw, cloneConversation(e.conv), nil, nil
		default:
			// A rejected pairing does not block a fresh attempt; reuse its
			// contact for the new conversation.
			existingContact = e.contact
		}
	}

	myAlias, err := m.aliases.Generate(m.aliasTakenLocked)
	if err != nil {
		return "", nil, nil, err
	}

	contact := existingContact
	if contact == nil {
		contact = &models.Contact{
			ID:        uuid.NewString(),
			TenantID:  m.tenantID,
			Timestamp: now,
			ContactBag: models.ContactBag{
				KaspaAddress: recipientAddress,
			},
		}
	}

	conv := &models.Conversation{
		ID:             uuid.NewString(),
		TenantID:       m.tenantID,
		ContactID:      contact.ID,
		Status:         models.StatusPending,
		InitiatedByMe:  true,
		CreatedAt:      now,
		LastActivityAt: now,
		ConversationBag: models.ConversationBag{
			MyAlias: myAlias,
		},
	}

	raw, err := m.encodeInitiation(conv, recipientAddress, now)
	if err != nil {
		return "", nil, nil, err
	}

	// Persist before touching the indices so a storage failure leaves no
	// partial in-memory state.
	if existingContact == nil {
		if err := m.contacts.Save(contact); err != nil {
			return "", nil, nil, fmt.Errorf("failed to persist contact: %w", err)
		}
	}
	if err := m.conversations.Save(conv); err != nil {
		return "", nil, nil, fmt.Errorf("failed to persist conversation: %w", err)
	}

	m.indexLocked(&entry{conv: conv, contact: contact})
	m.logger.Info("Handshake initiated ", "conversation ", conv.ID, "address ", recipientAddress)

	convCopy, contactCopy := cloneConversation(conv), cloneContact(contact)
	fire := func() { m.events.HandshakeInitiated(convCopy, contactCopy) }
	return raw, cloneConversation(conv), fire, nil
}

func (m *Manager) encodeInitiation(conv *models.Conversation, recipientAddress string, now int64) (string, error) {
	return protocol.EncodeHandshake(&models.HandshakePayload{
		Type:             "handshake",
		Alias:            conv.MyAlias,
		Timestamp:        now,
		ConversationID:   conv.ID,
		Version:          protocol.Version,
		RecipientAddress: recipientAddress,
		SendToRecipient:  true,
	})
}

// ProcessHandshake ingests one observed handshake payload. Decode and
// validation failures are reported through the events sink and returned;
// they never mutate state. Replays are no-ops.
func (m *Manager) ProcessHandshake(senderAddress, rawPayload string) error {
	payload, err := protocol.DecodeHandshake(rawPayload)
	if err != nil {
		m.events.HandshakeFailed(err)
		return err
	}
	if err := protocol.Validate(payload, m.aliases.Length); err != nil {
		m.events.HandshakeFailed(err)
		return err
	}

	m.mu.Lock()
	fire, err := m.processLocked(payload, senderAddress)
	m.mu.Unlock()

	if fire != nil {
		fire()
	}
	return err
}

func (m *Manager) processLocked(payload *models.HandshakePayload, senderAddress string) (func(), error) {
	// Lookup by conversation id first: a hit means either a replay of
	// something already processed or the confirmation of our own pending
	// pairing.
	if e, ok := m.byID[payload.ConversationID]; ok {
		return m.processKnownLocked(e, payload, senderAddress)
	}

	// A known sender re-initiating under a brand-new conversation id has
	// lost its local state. Start a genuinely new pairing under the new id;
	// never merge into the old conversation.
	if id, ok := m.byAddress[senderAddress]; ok && !payload.IsResponse {
		return m.processNewLocked(payload, senderAddress, m.byID[id].contact)
	}

	// First contact ever for this conversation id / sender pair.
	return m.processNewLocked(payload, senderAddress, nil)
}

func (m *Manager) processKnownLocked(e *entry, payload *models.HandshakePayload, senderAddress string) (func(), error) {
	// A concrete sender address that contradicts the stored one is a real
	// mismatch: drop the payload. The placeholder on either side is not a
	// contradiction; the first message often arrives before the sender can
	// be resolved.
	stored := e.contact.KaspaAddress
	if stored != senderAddress && stored != models.UnknownSender && senderAddress != models.UnknownSender {
		err := fmt.Errorf("handshake address mismatch: %s != %s", stored, senderAddress)
		m.events.HandshakeFailed(err)
		return nil, nil
	}

	if stored == models.UnknownSender && senderAddress != models.UnknownSender {
		if err := m.adoptSenderLocked(e, senderAddress); err != nil {
			return nil, err
		}
	}

	if payload.IsResponse && e.conv.Status == models.StatusPending {
		// Confirmation of our own pending pairing: promote the existing
		// conversation in place.
		e.conv.TheirAlias = payload.Alias
		e.conv.Status = models.StatusActive
		e.conv.LastActivityAt = time.Now().UnixMilli()
		if err := m.conversations.Save(e.conv); err != nil {
			return nil, fmt.Errorf("failed to persist conversation: %w", err)
		}
		m.byAlias[e.conv.TheirAlias] = e.conv.ID
		m.logger.Info("Handshake completed ", "conversation ", e.conv.ID)

		convCopy, contactCopy := cloneConversation(e.conv), cloneContact(e.contact)
		return func() { m.events.HandshakeCompleted(convCopy, contactCopy) }, nil
	}

	// Duplicate delivery: already active, or a repeated non-response. The
	// protocol is idempotent under at-least-once delivery, so this is a
	// silent no-op.
	m.logger.Debug("Duplicate handshake ignored ", "conversation ", e.conv.ID)
	return nil, nil
}

// adoptSenderLocked replaces the Unknown placeholder with the first
// concretely observed sender address.
func (m *Manager) adoptSenderLocked(e *entry, senderAddress string) error {
	e.contact.KaspaAddress = senderAddress
	if err := m.contacts.Save(e.contact); err != nil {
		return fmt.Errorf("failed to persist contact: %w", err)
	}
	if m.byAddress[models.UnknownSender] == e.conv.ID {
		delete(m.byAddress, models.UnknownSender)
	}
	m.byAddress[senderAddress] = e.conv.ID
	return nil
}

// processNewLocked creates a conversation for a handshake we have never seen
// under this id. Callers must have established that the id is unknown.
func (m *Manager) processNewLocked(payload *models.HandshakePayload, senderAddress string, contact *models.Contact) (func(), error) {
	now := time.Now().UnixMilli()

	// On a response, the peer echoes back the alias we originally sent. If
	// the echo is valid we adopt it verbatim as our alias, closing the round
	// trip; otherwise the pairing stays pending under a fresh alias.
	echoValid := payload.IsResponse && protocol.IsAlias(payload.TheirAlias, m.aliases.Length)

	myAlias := payload.TheirAlias
	if !echoValid {
		minted, err := m.aliases.Generate(m.aliasTakenLocked)
		if err != nil {
			return nil, err
		}
		myAlias = minted
	}

	status := models.StatusPending
	if echoValid {
		status = models.StatusActive
	}

	newContact := false
	if contact == nil {
		newContact = true
		contact = &models.Contact{
			ID:        uuid.NewString(),
			TenantID:  m.tenantID,
			Timestamp: now,
			ContactBag: models.ContactBag{
				KaspaAddress: senderAddress,
			},
		}
	}

	conv := &models.Conversation{
		ID:             payload.ConversationID,
		TenantID:       m.tenantID,
		ContactID:      contact.ID,
		Status:         status,
		InitiatedByMe:  false,
		CreatedAt:      now,
		LastActivityAt: now,
		ConversationBag: models.ConversationBag{
			MyAlias:    myAlias,
			TheirAlias: payload.Alias,
		},
	}

	if newContact {
		if err := m.contacts.Save(contact); err != nil {
			return nil, fmt.Errorf("failed to persist contact: %w", err)
		}
	}
	if err := m.conversations.Save(conv); err != nil {
		return nil, fmt.Errorf("failed to persist conversation: %w", err)
	}

	m.indexLocked(&entry{conv: conv, contact: contact})
	m.logger.Info("Handshake received ", "conversation ", conv.ID, "address ", senderAddress, "status ", status)

	if status == models.StatusActive {
		convCopy, contactCopy := cloneConversation(conv), cloneContact(contact)
		return func() { m.events.HandshakeCompleted(convCopy, contactCopy) }, nil
	}
	return nil, nil
}

// CreateHandshakeResponse answers a pairing. Responding to a pending
// conversation activates it; responding to an already active one only bumps
// activity, which lets the user re-send a response after the peer lost its
// cache.
func (m *Manager) CreateHandshakeResponse(conversationID string) (string, error) {
	m.mu.Lock()
	payload, fire, err := m.respondLocked(conversationID)
	m.mu.Unlock()

	if fire != nil {
		fire()
	}
	return payload, err
}

func (m *Manager) respondLocked(conversationID string) (string, func(), error) {
	e, ok := m.byID[conversationID]
	if !ok {
		return "", nil, ErrConversationNotFound
	}
	if e.conv.TheirAlias == "" {
		return "", nil, fmt.Errorf("%w: peer alias not yet known", ErrInvalidState)
	}

	now := time.Now().UnixMilli()
	var fire func()

	switch e.conv.Status {
	case models.StatusPending:
		e.conv.Status = models.StatusActive
		e.conv.LastActivityAt = now
		if err := m.conversations.Save(e.conv); err != nil {
			return "", nil, fmt.Errorf("failed to persist conversation: %w", err)
		}
		m.logger.Info("Handshake accepted ", "conversation ", e.conv.ID)
		convCopy, contactCopy := cloneConversation(e.conv), cloneContact(e.contact)
		fire = func() { m.events.HandshakeCompleted(convCopy, contactCopy) }
	case models.StatusActive:
		e.conv.LastActivityAt = now
		if err := m.conversations.Save(e.conv); err != nil {
			return "", nil, fmt.Errorf("failed to persist conversation: %w", err)
		}
	default:
		return "", nil, fmt.Errorf("%w: conversation is %s", ErrInvalidState, e.conv.Status)
	}

	// SendToRecipient is false: the response travels through the
	// now-established alias-addressed channel, not the cold direct channel
	// used for the very first message.
	raw, err := protocol.EncodeHandshake(&models.HandshakePayload{
		Type:             "handshake",
		Alias:            e.conv.MyAlias,
		TheirAlias:       e.conv.TheirAlias,
		Timestamp:        now,
		ConversationID:   e.conv.ID,
		Version:          protocol.Version,
		RecipientAddress: e.contact.KaspaAddress,
		SendToRecipient:  false,
		IsResponse:       true,
	})
	if err != nil {
		return "", nil, err
	}

	return raw, fire, nil
}

// RejectHandshake declines a pending pairing. The conversation keeps its row
// with status rejected; its aliases leave the index so they may be minted
// again.
func (m *Manager) RejectHandshake(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if e.conv.Status != models.StatusPending {
		return fmt.Errorf("%w: only pending conversations can be rejected, got %s", ErrInvalidState, e.conv.Status)
	}

	e.conv.Status = models.StatusRejected
	e.conv.LastActivityAt = time.Now().UnixMilli()
	if err := m.conversations.Save(e.conv); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}

	m.unindexAliasesLocked(e)
	m.logger.Info("Handshake rejected ", "conversation ", e.conv.ID)
	return nil
}

// RemoveConversation deletes a conversation and purges all index entries.
// The contact is deleted with it unless another conversation still
// references it.
func (m *Manager) RemoveConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[conversationID]
	if !ok {
		return ErrConversationNotFound
	}

	if err := m.conversations.Delete(e.conv.ID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	shared := false
	for id, other := range m.byID {
		if id != e.conv.ID && other.conv.ContactID == e.conv.ContactID {
			shared = true
			break
		}
	}
	if !shared {
		if err := m.contacts.Delete(e.conv.ContactID); err != nil {
			return fmt.Errorf("failed to delete contact: %w", err)
		}
	}

	m.unindexLocked(e)
	m.logger.Info("Conversation removed ", "conversation ", conversationID)
	return nil
}

// UpdateLastActivity bumps the activity timestamp, for the message layer to
// call when ordinary traffic flows through an active conversation.
func (m *Manager) UpdateLastActivity(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[conversationID]
	if !ok {
		return ErrConversationNotFound
	}

	e.conv.LastActivityAt = time.Now().UnixMilli()
	if err := m.conversations.Save(e.conv); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}
	return nil
}

// ConversationByID returns copies of the conversation and its contact.
func (m *Manager) ConversationByID(id string) (*models.Conversation, *models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, nil, ErrConversationNotFound
	}
	return cloneConversation(e.conv), cloneContact(e.contact), nil
}

// ConversationByAlias resolves either side's alias to its conversation.
func (m *Manager) ConversationByAlias(alias string) (*models.Conversation, *models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAlias[alias]
	if !ok {
		return nil, nil, ErrConversationNotFound
	}
	e := m.byID[id]
	return cloneConversation(e.conv), cloneContact(e.contact), nil
}

// ConversationByAddress resolves a counterparty address to its conversation.
func (m *Manager) ConversationByAddress(address string) (*models.Conversation, *models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAddress[address]
	if !ok {
		return nil, nil, ErrConversationNotFound
	}
	e := m.byID[id]
	return cloneConversation(e.conv), cloneContact(e.contact), nil
}

// ActiveConversations lists the tenant's active conversations.
func (m *Manager) ActiveConversations() []*models.Conversation {
	return m.conversationsByStatus(models.StatusActive)
}

// PendingConversations lists the tenant's pending conversations.
func (m *Manager) PendingConversations() []*models.Conversation {
	return m.conversationsByStatus(models.StatusPending)
}

func (m *Manager) conversationsByStatus(status models.ConversationStatus) []*models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*models.Conversation, 0)
	for _, e := range m.byID {
		if e.conv.Status == status {
			result = append(result, cloneConversation(e.conv))
		}
	}
	return result
}

// MonitoredAliases lists the alias/address pairs the transport should watch:
// both sides' aliases of every active conversation.
func (m *Manager) MonitoredAliases() []models.MonitoredAlias {
	m.mu.Lock()
	defer m.mu.Unlock()

	monitored := make([]models.MonitoredAlias, 0)
	for _, e := range m.byID {
		if e.conv.Status != models.StatusActive {
			continue
		}
		monitored = append(monitored, models.MonitoredAlias{Alias: e.conv.MyAlias, KaspaAddress: e.contact.KaspaAddress})
		if e.conv.TheirAlias != "" {
			monitored = append(monitored, models.MonitoredAlias{Alias: e.conv.TheirAlias, KaspaAddress: e.contact.KaspaAddress})
		}
	}
	return monitored
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	return &cp
}

func cloneContact(c *models.Contact) *models.Contact {
	cp := *c
	return &cp
}

// IsProtocolError reports whether err is a locally recoverable protocol
// failure the ingestion loop should log and drop, as opposed to a
// persistence failure that signals a real inability to make progress.
func IsProtocolError(err error) bool {
	return errors.Is(err, protocol.ErrMalformedPayload) ||
		errors.Is(err, protocol.ErrUnsupportedVersion) ||
		errors.Is(err, validation.ErrInvalidAddress)
}
