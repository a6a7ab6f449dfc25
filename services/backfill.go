package services

import (
	"fmt"

	"stayhub-sync-server/models"

	"gorm.io/gorm"
)

// RebuildResult is the outcome of re-running the mapping pipeline over a
// stored reservation's raw payload.
type RebuildResult int

const (
	RebuildUpdated RebuildResult = iota
	RebuildDeleted
)

// RebuildReservationFromRaw re-maps one stored reservation from its raw
// source payload: re-resolves the property and guest and re-applies the
// canonical upsert. Rows whose property no longer resolves are deleted, the
// same rule the live pipeline enforces. Used by the guest backfill endpoint
// to link guests on history imported before guest resolution existed.
func RebuildReservationFromRaw(db *gorm.DB, organizationID string, row *models.Reservation, raw map[string]interface{}) (RebuildResult, error) {
	listing := ExtractListingCandidate(raw)

	var property *models.Property
	if listing != "" {
		property = ResolveProperty(db, organizationID, listing)
	}
	if property == nil && row.PropertyID != nil {
		// Raw payload may predate the listing fields; trust the stored link.
		var prior models.Property
		if err := db.First(&prior, *row.PropertyID).Error; err == nil {
			property = &prior
		}
	}
	if property == nil {
		if err := db.Where("organization_id = ? AND id = ?", organizationID, row.ID).
			Delete(&models.Reservation{}).Error; err != nil {
			return RebuildDeleted, fmt.Errorf("failed to delete unresolvable reservation: %w", err)
		}
		return RebuildDeleted, nil
	}

	var guest *models.Guest
	if row.GuestID != nil {
		guest = &models.Guest{Model: gorm.Model{ID: *row.GuestID}}
	} else {
		guest = ResolveOrCreateGuest(db, organizationID, raw)
	}

	reservation, err := mapReservation(raw, organizationID, property, guest, row)
	if err != nil {
		return RebuildUpdated, err
	}
	if err := upsertReservation(db, reservation); err != nil {
		return RebuildUpdated, fmt.Errorf("upsert failed: %w", err)
	}
	return RebuildUpdated, nil
}
