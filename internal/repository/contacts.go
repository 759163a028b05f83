package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/cipher"
	"github.com/kasia-im/kasiad/pkg/logger"
)

// Contacts stores the contacts of one tenant with their sensitive bag
// encrypted at rest.
type Contacts struct {
	db       *gorm.DB
	tenantID string
	box      *cipher.Box
	logger   *logger.Logger
}

var _ models.ContactRepository = (*Contacts)(nil)

func NewContacts(db *gorm.DB, tenantID string, box *cipher.Box, logger *logger.Logger) *Contacts {
	return &Contacts{db: db, tenantID: tenantID, box: box, logger: logger}
}

func (r *Contacts) Get(id string) (*models.Contact, error) {
	var row models.StoredContact
	if err := r.db.Where("id = ? AND tenant_id = ?", id, r.tenantID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %s", err)
	}
	return r.open(&row)
}

func (r *Contacts) GetAll() ([]*models.Contact, error) {
	var rows []*models.StoredContact
	if err := r.db.Where("tenant_id = ?", r.tenantID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts: %s", err)
	}

	contacts := make([]*models.Contact, 0, len(rows))
	for _, row := range rows {
		contact, err := r.open(row)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func (r *Contacts) Save(contact *models.Contact) error {
	blob, err := sealBag(r.box, &contact.ContactBag)
	if err != nil {
		return fmt.Errorf("failed to seal contact bag: %w", err)
	}

	row := models.StoredContact{
		ID:            contact.ID,
		TenantID:      r.tenantID,
		Timestamp:     contact.Timestamp,
		EncryptedData: blob,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save contact: %s", err)
	}
	return nil
}

func (r *Contacts) Delete(id string) error {
	if err := r.db.Where("id = ? AND tenant_id = ?", id, r.tenantID).Delete(&models.StoredContact{}).Error; err != nil {
		return fmt.Errorf("failed to delete contact: %s", err)
	}
	return nil
}

// open decrypts a stored row into its domain view. Decryption failures are
// propagated untouched; a wrong key must never degrade into a zero value.
func (r *Contacts) open(row *models.StoredContact) (*models.Contact, error) {
	contact := &models.Contact{
		ID:        row.ID,
		TenantID:  row.TenantID,
		Timestamp: row.Timestamp,
	}
	if err := openBag(r.box, row.EncryptedData, &contact.ContactBag); err != nil {
		return nil, fmt.Errorf("contact %s: %w", row.ID, err)
	}
	return contact, nil
}

// sealBag serializes a bag to JSON and encrypts it.
func sealBag(box *cipher.Box, bag any) (string, error) {
	plain, err := json.Marshal(bag)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bag: %w", err)
	}
	return box.Seal(plain)
}

// openBag decrypts a blob and deserializes it into bag.
func openBag(box *cipher.Box, blob string, bag any) error {
	plain, err := box.Open(blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, bag); err != nil {
		return fmt.Errorf("failed to unmarshal bag: %w", err)
	}
	return nil
}
