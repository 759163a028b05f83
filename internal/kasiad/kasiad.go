// Package kasiad wires one tenant session together: the encrypted
// repositories, the handshake state machine and the ingestion loop that
// feeds it observed payloads from the node listener.
package kasiad

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/kasia-im/kasiad/internal/config"
	"github.com/kasia-im/kasiad/internal/conversation"
	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/internal/protocol"
	"github.com/kasia-im/kasiad/internal/repository"
	"github.com/kasia-im/kasiad/pkg/cipher"
	"github.com/kasia-im/kasiad/pkg/logger"
)

const resubscribeDelay = 5 * time.Second

// Kasiad is the application core for one unlocked wallet. It owns the
// manager, journals observed handshakes and fans manager events out to the
// notification service.
type Kasiad struct {
	logger *logger.Logger
	config *config.Config

	manager     models.ConversationManager
	records     models.HandshakeRecordRepository
	source      models.PayloadSource
	notificator models.NotificationService

	mu       sync.Mutex
	notified map[string]struct{}
}

var _ models.ConversationEvents = (*Kasiad)(nil)

// New builds the tenant session: derives the storage key from the wallet
// passphrase, constructs the encrypted repositories and rebuilds the
// manager's indices from them.
func New(
	cfg *config.Config,
	db *gorm.DB,
	source models.PayloadSource,
	notificator models.NotificationService,
	logger *logger.Logger,
) (*Kasiad, error) {
	box, err := cipher.NewBox(cfg.WalletPassphrase, cfg.WalletAddress)
	if err != nil {
		return nil, err
	}

	tenant := cfg.WalletAddress
	contacts := repository.NewContacts(db, tenant, box, logger)
	conversations := repository.NewConversations(db, tenant, box, logger)
	records := repository.NewHandshakeRecords(db, tenant, box, logger)

	k := &Kasiad{
		logger:      logger,
		config:      cfg,
		records:     records,
		source:      source,
		notificator: notificator,
		notified:    make(map[string]struct{}),
	}

	aliases := conversation.NewAliasGenerator(cfg.AliasLength, cfg.AliasMaxAttempts)
	manager, err := conversation.NewManager(tenant, contacts, conversations, k, aliases, logger)
	if err != nil {
		return nil, err
	}
	k.manager = manager

	return k, nil
}

// Manager exposes the tenant's conversation manager to the API layer.
func (k *Kasiad) Manager() models.ConversationManager {
	return k.manager
}

// Start runs the ingestion loop: every observed payload that carries the
// handshake prefix is handed to the state machine. The loop resubscribes
// when the envelope channel closes and never stops on a bad payload.
func (k *Kasiad) Start() {
	for {
		channel, err := k.source.Subscribe()
		if err != nil {
			k.logger.Fatal("Failed to subscribe to node payloads: ", err)
		}

		for envelope := range channel {
			if !protocol.IsHandshake(envelope.Payload) {
				continue
			}
			k.handleHandshake(envelope)
		}

		k.logger.Error("Envelope channel closed, restarting subscription")
		time.Sleep(resubscribeDelay)
	}
}

func (k *Kasiad) handleHandshake(envelope *models.TxEnvelope) {
	k.logger.Debug("Handshake payload observed ", "tx ", envelope.TransactionID, "sender ", envelope.SenderAddress)

	if err := k.manager.ProcessHandshake(envelope.SenderAddress, envelope.Payload); err != nil {
		// Malformed or incompatible payloads are dropped; one bad payload
		// must not stop processing of subsequent ones. Anything else is a
		// persistence failure worth shouting about.
		if conversation.IsProtocolError(err) {
			k.logger.Warn("Dropped handshake payload ", "tx ", envelope.TransactionID, "error ", err)
		} else {
			k.logger.Error("Failed to process handshake ", "tx ", envelope.TransactionID, "error ", err)
		}
		return
	}

	payload, err := protocol.DecodeHandshake(envelope.Payload)
	if err != nil {
		return
	}

	k.journal(envelope, payload)
	k.notifyIfRequested(payload)
}

// notifyIfRequested surfaces a freshly arrived chat request to the wallet
// owner. Only an inbound first message that left the conversation pending
// qualifies, and each conversation is announced at most once per process so
// replayed deliveries stay quiet.
func (k *Kasiad) notifyIfRequested(payload *models.HandshakePayload) {
	if payload.IsResponse {
		return
	}
	conv, contact, err := k.manager.ConversationByID(payload.ConversationID)
	if err != nil || conv.Status != models.StatusPending || conv.InitiatedByMe {
		return
	}

	k.mu.Lock()
	if _, seen := k.notified[conv.ID]; seen {
		k.mu.Unlock()
		return
	}
	k.notified[conv.ID] = struct{}{}
	k.mu.Unlock()

	notification := &models.Notification{
		Kind:           models.NotificationHandshakeReceived,
		ConversationID: conv.ID,
		KaspaAddress:   contact.KaspaAddress,
		Alias:          conv.TheirAlias,
	}
	go k.notificator.SendNotification(notification)
}

// journal records the observed handshake transaction alongside the
// conversation it touched.
func (k *Kasiad) journal(envelope *models.TxEnvelope, payload *models.HandshakePayload) {
	timestamp := envelope.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	record := &models.HandshakeRecord{
		ID:             models.HandshakeRecordID(k.config.WalletAddress, timestamp, envelope.TransactionID),
		TenantID:       k.config.WalletAddress,
		ConversationID: payload.ConversationID,
		Timestamp:      timestamp,
		TransactionID:  envelope.TransactionID,
		SenderAddress:  envelope.SenderAddress,
		HandshakeBag: models.HandshakeBag{
			Amount: envelope.Amount,
			Fee:    envelope.Fee,
		},
	}
	if err := k.records.Save(record); err != nil {
		k.logger.Error("Failed to journal handshake ", "tx ", envelope.TransactionID, "error ", err)
	}
}

// HandshakeInitiated implements models.ConversationEvents.
func (k *Kasiad) HandshakeInitiated(conv *models.Conversation, contact *models.Contact) {
	k.logger.Info("Conversation initiated ", "conversation ", conv.ID, "address ", contact.KaspaAddress)
}

// HandshakeCompleted implements models.ConversationEvents.
func (k *Kasiad) HandshakeCompleted(conv *models.Conversation, contact *models.Contact) {
	k.logger.Info("Conversation active ", "conversation ", conv.ID, "address ", contact.KaspaAddress)

	notification := &models.Notification{
		Kind:           models.NotificationHandshakeCompleted,
		ConversationID: conv.ID,
		KaspaAddress:   contact.KaspaAddress,
		Alias:          conv.TheirAlias,
	}
	go k.notificator.SendNotification(notification)
}

// HandshakeFailed implements models.ConversationEvents.
func (k *Kasiad) HandshakeFailed(err error) {
	k.logger.Warn("Handshake failure ", "error ", err)
}
