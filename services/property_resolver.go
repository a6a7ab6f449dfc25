package services

import (
	"errors"
	"log"

	"stayhub-sync-server/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// propertyLookup is one strategy in the resolution chain. The chain order is
// a contract (tested): external property id, then listing id, then the raw
// payload ids, then the legacy code.
type propertyLookup struct {
	label string
	apply func(*gorm.DB, string) *gorm.DB
}

var propertyLookups = []propertyLookup{
	{"external_property_id", func(q *gorm.DB, id string) *gorm.DB {
		return q.Where("external_property_id = ?", id)
	}},
	{"external_listing_id", func(q *gorm.DB, id string) *gorm.DB {
		return q.Where("external_listing_id = ?", id)
	}},
	{"raw_data._id", func(q *gorm.DB, id string) *gorm.DB {
		return q.Where(datatypes.JSONQuery("raw_data").Equals(id, "_id"))
	}},
	{"raw_data.id", func(q *gorm.DB, id string) *gorm.DB {
		return q.Where(datatypes.JSONQuery("raw_data").Equals(id, "id"))
	}},
	{"legacy_code", func(q *gorm.DB, id string) *gorm.DB {
		return q.Where("legacy_code = ?", id)
	}},
}

// ResolveProperty maps an external listing/property identifier onto the
// internal property row, trying each lookup in order and returning the first
// match. No match yields nil, never an error: the caller must treat nil as
// "this record must not be persisted as a reservation".
func ResolveProperty(db *gorm.DB, organizationID, externalID string) *models.Property {
	if externalID == "" {
		return nil
	}
	for _, lookup := range propertyLookups {
		var property models.Property
		q := db.Where("organization_id = ?", organizationID)
		err := lookup.apply(q, externalID).First(&property).Error
		if err == nil {
			return &property
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[StayHub] property lookup via %s failed: %v", lookup.label, err)
		}
	}
	return nil
}
