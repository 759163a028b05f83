// Package repository provides the tenant-scoped encrypted repositories.
// Each entity row carries plaintext routing columns for indexing and one
// encrypted blob holding the entity's sensitive bag; the bag is sealed with
// the tenant's passphrase-derived key before it touches the database.
package repository

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/logger"
)

// ErrNotFound is returned when the requested id does not exist for this
// tenant.
var ErrNotFound = errors.New("record not found")

// Open connects to PostgreSQL and migrates the messaging tables.
func Open(user, password, dbname, host string, port int, logger *logger.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %s", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return db, nil
}

// Migrate creates or updates the messaging tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.StoredContact{}, &models.StoredConversation{}, &models.StoredHandshakeRecord{}); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %s", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %s", err)
	}
	return sqlDB.Close()
}
