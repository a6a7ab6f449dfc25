package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"stayhub-sync-server/models"
	"stayhub-sync-server/utils"

	"gorm.io/gorm"
)

// channelAPI is the slice of the StayHub client the reconciliation job uses.
type channelAPI interface {
	GetReservation(ctx context.Context, reservationID string) (interface{}, error)
	ListReservations(ctx context.Context, checkInFrom, checkInTo string, limit int) ([]interface{}, error)
}

// ReconcileOptions bound one reconciliation run.
type ReconcileOptions struct {
	Limit             int
	AutoCancelOrphans bool
	CheckInFrom       string
	CheckInTo         string
}

// ReconciliationStats are the counters of one run.
type ReconciliationStats struct {
	TotalScanned     int `json:"totalScanned"`
	ValidatedOK      int `json:"validatedOk"`
	OrphansDetected  int `json:"orphansDetected"`
	OrphansCancelled int `json:"orphansCancelled"`
	ErrorsFromSource int `json:"errorsFromSource"`
	CancelsPropagated int `json:"cancelsPropagated"`
}

// OrphanReservation is one local reservation with no counterpart in the
// source.
type OrphanReservation struct {
	ID              string `json:"id"`
	ExternalID      string `json:"externalId"`
	ReservationCode string `json:"reservationCode"`
	PropertyID      *uint  `json:"propertyId"`
	CheckIn         string `json:"checkIn"`
	CheckOut        string `json:"checkOut"`
	Status          string `json:"status"`
	Platform        string `json:"platform"`
	Reason          string `json:"reason"`
	ActionTaken     string `json:"actionTaken"` // cancelled | flagged | none
}

// ReconciliationReport is the structured result; data is only mutated when
// AutoCancelOrphans is set.
type ReconciliationReport struct {
	Success bool                `json:"success"`
	Stats   ReconciliationStats `json:"stats"`
	Orphans []OrphanReservation `json:"orphans"`
	Errors  []string            `json:"errors"`
}

// ReconcileReservations validates the active local reservations for a
// check-in window against the source. A 404 from the source marks the row
// orphaned (auto-cancel gated by options); a source-side cancellation is
// propagated. Per-item failures are collected and do not abort the run.
func ReconcileReservations(db *gorm.DB, client channelAPI, organizationID string, opts ReconcileOptions) *ReconciliationReport {
	limit := opts.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	report := &ReconciliationReport{
		Success: true,
		Orphans: []OrphanReservation{},
		Errors:  []string{},
	}

	q := db.Where("organization_id = ?", organizationID).
		Where("status IN ?", []string{
			models.ReservationConfirmed, models.ReservationPending, models.ReservationCheckedIn,
		}).
		Order("check_in asc").
		Limit(limit)
	if opts.CheckInFrom != "" {
		q = q.Where("check_in >= ?", opts.CheckInFrom)
	}
	if opts.CheckInTo != "" {
		q = q.Where("check_in <= ?", opts.CheckInTo)
	}

	var reservations []models.Reservation
	if err := q.Find(&reservations).Error; err != nil {
		report.Success = false
		report.Errors = append(report.Errors, fmt.Sprintf("failed to query reservations: %v", err))
		return report
	}
	report.Stats.TotalScanned = len(reservations)

	for i := range reservations {
		reservation := &reservations[i]
		externalID := reservation.ExternalID
		if externalID == "" {
			externalID = reservation.ReservationCode
		}
		if externalID == "" {
			// No external identifier at all: likely created manually,
			// nothing to validate against.
			report.Stats.ValidatedOK++
			continue
		}

		detail, err := client.GetReservation(context.Background(), externalID)
		if err != nil && !errors.Is(err, ErrReservationNotFound) {
			// Communication failure, possibly transient: never cancel on it.
			report.Stats.ErrorsFromSource++
			report.Errors = append(report.Errors, fmt.Sprintf("reservation %s: %v", externalID, err))
			continue
		}

		if errors.Is(err, ErrReservationNotFound) {
			report.Stats.OrphansDetected++
			orphan := OrphanReservation{
				ID:              reservation.ID,
				ExternalID:      reservation.ExternalID,
				ReservationCode: reservation.ReservationCode,
				PropertyID:      reservation.PropertyID,
				CheckIn:         reservation.CheckIn,
				CheckOut:        reservation.CheckOut,
				Status:          reservation.Status,
				Platform:        reservation.Platform,
				Reason:          "reservation does not exist in source (404)",
				ActionTaken:     "flagged",
			}
			if opts.AutoCancelOrphans {
				if err := cancelWithReason(db, organizationID, reservation.ID,
					"RECONCILIATION: reservation not found in source system (orphan)"); err != nil {
					orphan.ActionTaken = "none"
					report.Errors = append(report.Errors, fmt.Sprintf("failed to cancel orphan %s: %v", reservation.ID, err))
				} else {
					orphan.ActionTaken = "cancelled"
					report.Stats.OrphansCancelled++
				}
			}
			report.Orphans = append(report.Orphans, orphan)
			continue
		}

		if sourceCancelled(detail) && reservation.Status != models.ReservationCancelled {
			if err := cancelWithReason(db, organizationID, reservation.ID,
				"RECONCILIATION: cancelled in source system"); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("failed to propagate cancellation for %s: %v", reservation.ID, err))
			} else {
				report.Stats.CancelsPropagated++
			}
			continue
		}

		report.Stats.ValidatedOK++
	}

	return report
}

func cancelWithReason(db *gorm.DB, organizationID, reservationID, reason string) error {
	now := time.Now().UTC()
	return db.Model(&models.Reservation{}).
		Where("organization_id = ? AND id = ?", organizationID, reservationID).
		Updates(map[string]interface{}{
			"status":              models.ReservationCancelled,
			"cancelled_at":        &now,
			"cancellation_reason": reason,
		}).Error
}

func sourceCancelled(detail interface{}) bool {
	obj, ok := detail.(map[string]interface{})
	if !ok {
		return false
	}
	status := strings.ToLower(utils.Stringify(obj["status"]))
	if status == "" {
		status = strings.ToLower(utils.Stringify(obj["type"]))
	}
	return strings.Contains(status, "cancel") || strings.Contains(status, "deleted")
}

// MissingReservation is a source reservation with no local counterpart.
type MissingReservation struct {
	SourceID         string `json:"sourceId"`
	ConfirmationCode string `json:"confirmationCode"`
	CheckIn          string `json:"checkIn"`
	CheckOut         string `json:"checkOut"`
	Status           string `json:"status"`
	ListingID        string `json:"listingId"`
	Repaired         bool   `json:"repaired"`
	RepairNote       string `json:"repairNote,omitempty"`
}

// MissingReport is the reverse-direction reconciliation result.
type MissingReport struct {
	Success bool                 `json:"success"`
	Scanned int                  `json:"scanned"`
	Missing []MissingReservation `json:"missing"`
	Errors  []string             `json:"errors"`
}

const sourceListLimit = 500

// FindMissingReservations lists the source's reservations for a check-in
// range and reports the ones with no local row — typically webhooks that
// failed or never arrived. With repair enabled, each missing reservation is
// run through the same resolver + upsert path the webhook pipeline uses;
// records whose property cannot be resolved stay report-only.
func FindMissingReservations(db *gorm.DB, client channelAPI, organizationID, checkInFrom, checkInTo string, repair bool) *MissingReport {
	report := &MissingReport{Success: true, Missing: []MissingReservation{}, Errors: []string{}}

	sourceReservations, err := client.ListReservations(context.Background(), checkInFrom, checkInTo, sourceListLimit)
	if err != nil {
		report.Success = false
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Scanned = len(sourceReservations)

	for _, item := range sourceReservations {
		source, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sourceID := utils.Stringify(source["_id"])
		if sourceID == "" {
			sourceID = utils.Stringify(source["id"])
		}
		if sourceID == "" {
			continue
		}

		var count int64
		err := db.Model(&models.Reservation{}).
			Where("organization_id = ? AND external_id = ?", organizationID, sourceID).
			Count(&count).Error
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("lookup %s: %v", sourceID, err))
			continue
		}
		if count > 0 {
			continue
		}

		checkIn, checkOut := ExtractDateRange(source)
		missing := MissingReservation{
			SourceID:         sourceID,
			ConfirmationCode: utils.Stringify(firstPresent(source, "id", "confirmationCode")),
			CheckIn:          checkIn,
			CheckOut:         checkOut,
			Status:           utils.Stringify(firstPresent(source, "status", "type")),
			ListingID:        ExtractListingCandidate(source),
		}

		if repair {
			missing.Repaired, missing.RepairNote = repairMissing(db, organizationID, source)
		}
		report.Missing = append(report.Missing, missing)
	}

	return report
}

// repairMissing imports one source reservation through the regular resolver
// and upsert path.
func repairMissing(db *gorm.DB, organizationID string, source map[string]interface{}) (bool, string) {
	if utils.IsBlockLikeType(source["type"]) {
		outcome, err := processPayloadBlock(db, organizationID, source)
		if err != nil {
			return false, err.Error()
		}
		return outcome.kind == outcomeUpdated, outcome.note
	}

	var property *models.Property
	if listing := ExtractListingCandidate(source); listing != "" {
		property = ResolveProperty(db, organizationID, listing)
	}
	if property == nil {
		return false, "property not resolved; reservation not persisted"
	}
	guest := ResolveOrCreateGuest(db, organizationID, source)

	reservation, err := mapReservation(source, organizationID, property, guest, nil)
	if err != nil {
		return false, err.Error()
	}
	if err := upsertReservation(db, reservation); err != nil {
		log.Printf("[StayHub] repair upsert failed for %s: %v", reservation.ExternalID, err)
		return false, err.Error()
	}
	return true, "imported"
}
