package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/cipher"
	"github.com/kasia-im/kasiad/pkg/logger"
)

// Conversations stores the conversations of one tenant. Routing columns
// (status, contact, timestamps) stay plaintext for querying; the alias pair
// lives in the encrypted bag.
type Conversations struct {
	db       *gorm.DB
	tenantID string
	box      *cipher.Box
	logger   *logger.Logger
}

var _ models.ConversationRepository = (*Conversations)(nil)

func NewConversations(db *gorm.DB, tenantID string, box *cipher.Box, logger *logger.Logger) *Conversations {
	return &Conversations{db: db, tenantID: tenantID, box: box, logger: logger}
}

func (r *Conversations) Get(id string) (*models.Conversation, error) {
	var row models.StoredConversation
	if err := r.db.Where("id = ? AND tenant_id = ?", id, r.tenantID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %s", err)
	}
	return r.open(&row)
}

func (r *Conversations) GetAll() ([]*models.Conversation, error) {
	var rows []*models.StoredConversation
	if err := r.db.Where("tenant_id = ?", r.tenantID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %s", err)
	}
	return r.openAll(rows)
}

func (r *Conversations) GetByStatus(status models.ConversationStatus) ([]*models.Conversation, error) {
	var rows []*models.StoredConversation
	if err := r.db.Where("tenant_id = ? AND status = ?", r.tenantID, status).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations by status: %s", err)
	}
	return r.openAll(rows)
}

func (r *Conversations) GetByContact(contactID string) ([]*models.Conversation, error) {
	var rows []*models.StoredConversation
	if err := r.db.Where("tenant_id = ? AND contact_id = ?", r.tenantID, contactID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations by contact: %s", err)
	}
	return r.openAll(rows)
}

func (r *Conversations) Save(conversation *models.Conversation) error {
	blob, err := sealBag(r.box, &conversation.ConversationBag)
	if err != nil {
		return fmt.Errorf("failed to seal conversation bag: %w", err)
	}

	row := models.StoredConversation{
		ID:             conversation.ID,
		TenantID:       r.tenantID,
		ContactID:      conversation.ContactID,
		Status:         conversation.Status,
		InitiatedByMe:  conversation.InitiatedByMe,
		CreatedAt:      conversation.CreatedAt,
		LastActivityAt: conversation.LastActivityAt,
		EncryptedData:  blob,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save conversation: %s", err)
	}
	return nil
}

func (r *Conversations) Delete(id string) error {
	if err := r.db.Where("id = ? AND tenant_id = ?", id, r.tenantID).Delete(&models.StoredConversation{}).Error; err != nil {
		return fmt.Errorf("failed to delete conversation: %s", err)
	}
	return nil
}

func (r *Conversations) open(row *models.StoredConversation) (*models.Conversation, error) {
	conversation := &models.Conversation{
		ID:             row.ID,
		TenantID:       row.TenantID,
		ContactID:      row.ContactID,
		Status:         row.Status,
		InitiatedByMe:  row.InitiatedByMe,
		CreatedAt:      row.CreatedAt,
		LastActivityAt: row.LastActivityAt,
	}
	if err := openBag(r.box, row.EncryptedData, &conversation.ConversationBag); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", row.ID, err)
	}
	return conversation, nil
}

func (r *Conversations) openAll(rows []*models.StoredConversation) ([]*models.Conversation, error) {
	conversations := make([]*models.Conversation, 0, len(rows))
	for _, row := range rows {
		conversation, err := r.open(row)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}
