package services

import (
	"path/filepath"
	"testing"

	"stayhub-sync-server/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB creates a throwaway sqlite database with the full schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Property{},
		&models.Guest{},
		&models.Reservation{},
		&models.Block{},
		&models.WebhookEvent{},
		&models.ChannelConfig{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// seedProperty inserts a property resolvable by the given external listing id.
func seedProperty(t *testing.T, db *gorm.DB, organizationID, listingID string) *models.Property {
	t.Helper()
	property := models.Property{
		OrganizationID:     organizationID,
		Title:              "Test Unit " + listingID,
		ExternalListingID:  listingID,
		ExternalPropertyID: listingID,
	}
	if err := db.Create(&property).Error; err != nil {
		t.Fatalf("failed to seed property: %v", err)
	}
	return &property
}
