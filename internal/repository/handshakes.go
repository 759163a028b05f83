package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/cipher"
	"github.com/kasia-im/kasiad/pkg/logger"
)

// HandshakeRecords journals the observed handshake transactions of one
// tenant, by the same encrypted-bag pattern as the other entities.
type HandshakeRecords struct {
	db       *gorm.DB
	tenantID string
	box      *cipher.Box
	logger   *logger.Logger
}

var _ models.HandshakeRecordRepository = (*HandshakeRecords)(nil)

func NewHandshakeRecords(db *gorm.DB, tenantID string, box *cipher.Box, logger *logger.Logger) *HandshakeRecords {
	return &HandshakeRecords{db: db, tenantID: tenantID, box: box, logger: logger}
}

func (r *HandshakeRecords) Save(record *models.HandshakeRecord) error {
	blob, err := sealBag(r.box, &record.HandshakeBag)
	if err != nil {
		return fmt.Errorf("failed to seal handshake bag: %w", err)
	}

	row := models.StoredHandshakeRecord{
		ID:             record.ID,
		TenantID:       r.tenantID,
		ConversationID: record.ConversationID,
		Timestamp:      record.Timestamp,
		TransactionID:  record.TransactionID,
		SenderAddress:  record.SenderAddress,
		EncryptedData:  blob,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save handshake record: %s", err)
	}
	return nil
}

func (r *HandshakeRecords) GetByConversation(conversationID string) ([]*models.HandshakeRecord, error) {
	var rows []*models.StoredHandshakeRecord
	if err := r.db.Where("tenant_id = ? AND conversation_id = ?", r.tenantID, conversationID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list handshake records: %s", err)
	}

	records := make([]*models.HandshakeRecord, 0, len(rows))
	for _, row := range rows {
		record := &models.HandshakeRecord{
			ID:             row.ID,
			TenantID:       row.TenantID,
			ConversationID: row.ConversationID,
			Timestamp:      row.Timestamp,
			TransactionID:  row.TransactionID,
			SenderAddress:  row.SenderAddress,
		}
		if err := openBag(r.box, row.EncryptedData, &record.HandshakeBag); err != nil {
			return nil, fmt.Errorf("handshake record %s: %w", row.ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}
