package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"stayhub-sync-server/models"
	"stayhub-sync-server/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessResult is the per-batch outcome of a pending-queue drain.
type ProcessResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// detailFetcher is the slice of the channel API the processor needs; the
// tests swap in an httptest-backed client through the same interface.
type detailFetcher interface {
	GetReservation(ctx context.Context, reservationID string) (interface{}, error)
}

// ProcessPendingWebhooks drains up to limit unprocessed events for one
// organization. Re-running it over the same events is safe: every mutation
// below is an idempotent upsert or a state-checked update, and an event is
// only marked processed after its outcome is decided. Errors are recorded
// per event and the loop continues.
func ProcessPendingWebhooks(db *gorm.DB, organizationID string, limit int) (ProcessResult, error) {
	if limit < 1 {
		limit = 25
	}
	if limit > 200 {
		limit = 200
	}

	var result ProcessResult

	var pending []models.WebhookEvent
	err := db.Where("organization_id = ? AND processed = ?", organizationID, false).
		Order("received_at asc").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return result, fmt.Errorf("failed to list pending webhooks: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	cfg, err := LoadChannelConfig(db, organizationID)
	if err != nil {
		return result, err
	}
	client := NewChannelClientFromConfig(cfg)

	for i := range pending {
		event := &pending[i]
		result.Processed++
		outcome, err := processEventSafe(db, client, organizationID, event)
		if err != nil {
			result.Errors++
			markEventProcessed(db, event, err.Error())
			continue
		}
		switch outcome.kind {
		case outcomeUpdated:
			result.Updated++
		case outcomeSkipped:
			result.Skipped++
		}
		markEventProcessed(db, event, outcome.note)
	}

	return result, nil
}

type outcomeKind int

const (
	outcomeUpdated outcomeKind = iota
	outcomeSkipped
)

type eventOutcome struct {
	kind outcomeKind
	note string
}

func updatedOutcome(format string, args ...interface{}) (eventOutcome, error) {
	return eventOutcome{kind: outcomeUpdated, note: fmt.Sprintf(format, args...)}, nil
}

func skippedOutcome(format string, args ...interface{}) (eventOutcome, error) {
	return eventOutcome{kind: outcomeSkipped, note: fmt.Sprintf(format, args...)}, nil
}

func markEventProcessed(db *gorm.DB, event *models.WebhookEvent, note string) {
	now := time.Now().UTC()
	update := map[string]interface{}{
		"processed":    true,
		"processed_at": &now,
	}
	if note != "" {
		update["error_message"] = note
	}
	if err := db.Model(&models.WebhookEvent{}).Where("id = ?", event.ID).Updates(update).Error; err != nil {
		log.Printf("[StayHub] failed to mark webhook %d processed: %v", event.ID, err)
	}
}

// processEventSafe contains a panic to the one event that caused it: the
// failure is recorded on that event and the drain keeps going. Without this
// a malformed payload would kill the whole batch, and on the realtime path
// the goroutine with it.
func processEventSafe(db *gorm.DB, client detailFetcher, organizationID string, event *models.WebhookEvent) (outcome eventOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing webhook %d: %v", event.ID, r)
			log.Printf("[StayHub] %v", err)
		}
	}()
	return processEvent(db, client, organizationID, event)
}

// processEvent classifies one stored event and applies it. Every branch ends
// in either an update, a delete, or an explicit skipped note; silent drops
// are not permitted.
func processEvent(db *gorm.DB, client detailFetcher, organizationID string, event *models.WebhookEvent) (eventOutcome, error) {
	var payload interface{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return eventOutcome{}, fmt.Errorf("unreadable payload: %w", err)
		}
	}

	switch ClassifyEvent(event.Action, payload) {
	case ClassIgnored:
		return skippedOutcome("skipped: action %q is not a reservation event", event.Action)
	case ClassPaymentSkip:
		// Payment notifications carry payment ids, not reservation ids;
		// financial line items are not reconciled from this stream.
		return skippedOutcome("skipped: payment notification")
	case ClassCancellation:
		return processCancellation(db, client, organizationID, payload)
	case ClassBlock:
		return processPayloadBlock(db, organizationID, payload)
	default:
		return processReservation(db, client, organizationID, payload)
	}
}

// ---------------------------------------------------------------------------
// Cancellation propagation

func processCancellation(db *gorm.DB, client detailFetcher, organizationID string, payload interface{}) (eventOutcome, error) {
	candidates := ExtractIDCandidates(payload)
	reservationID := ExtractReservationID(payload)

	matched, cancelled, deletedMisclassified := applyCancellation(db, organizationID, candidates)
	if matched > 0 {
		return updatedOutcome("cancellation applied (matched=%d, cancelled=%d, deletedBlocks=%d)",
			matched, cancelled, deletedMisclassified)
	}

	// No reservation matched; a correctly-stored block may still exist.
	// Notes-based deletion is idempotent, and property/dates from the
	// payload narrow it further when present.
	var propertyID *uint
	if listing := ExtractListingCandidate(payload); listing != "" {
		if property := ResolveProperty(db, organizationID, listing); property != nil {
			propertyID = &property.ID
		}
	}
	startDate, endDate := ExtractDateRange(payload)

	if deleted := deleteBlocksByNotes(db, organizationID, candidates, propertyID, startDate, endDate); deleted > 0 {
		cleaned := cleanupMisclassifiedBlockReservations(db, organizationID, candidates)
		return updatedOutcome("cancellation: deleted %d blocks (notes match), cleaned %d misclassified reservations", deleted, cleaned)
	}

	// The payload itself may already identify a block by type+property+dates.
	payloadType := UnwrapPayload(payload)["type"]
	if utils.IsBlockLikeType(payloadType) && propertyID != nil && startDate != "" && endDate != "" {
		subtype := utils.BlockSubtypeFromType(payloadType)
		if deleted := deleteBlocksByPropertyDates(db, organizationID, *propertyID, startDate, endDate, subtype); deleted > 0 {
			cleaned := cleanupMisclassifiedBlockReservations(db, organizationID, candidates)
			return updatedOutcome("cancellation (payload block): deleted %d blocks, cleaned %d misclassified reservations", deleted, cleaned)
		}
	}

	// Nothing local matched. Fetch the detail so a cancellation for an
	// object never created locally is still recorded as cancelled.
	if reservationID != "" {
		detail, err := client.GetReservation(context.Background(), reservationID)
		if err == nil {
			return applyCancellationFromDetail(db, organizationID, payload, detail, candidates)
		}
		if !errors.Is(err, ErrReservationNotFound) {
			log.Printf("[StayHub] cancellation detail fetch failed for %s: %v", reservationID, err)
		}
	}

	return skippedOutcome("cancellation: no matching reservation or block found")
}

func applyCancellationFromDetail(db *gorm.DB, organizationID string, payload, detail interface{}, candidates []string) (eventOutcome, error) {
	detailObj, _ := detail.(map[string]interface{})
	detailType := detailObj["type"]

	listing := ExtractListingCandidate(detail)
	if listing == "" {
		listing = ExtractListingCandidate(payload)
	}
	var property *models.Property
	if listing != "" {
		property = ResolveProperty(db, organizationID, listing)
	}

	// A cancellation for a block-like record means removing the block, not
	// cancelling a reservation.
	if utils.IsBlockLikeType(detailType) {
		startDate := utils.ToYMD(detailObj["checkInDate"])
		if startDate == "" {
			startDate = utils.ToYMD(detailObj["checkIn"])
		}
		endDate := utils.ToYMD(detailObj["checkOutDate"])
		if endDate == "" {
			endDate = utils.ToYMD(detailObj["checkOut"])
		}
		subtype := utils.BlockSubtypeFromType(detailType)
		cleaned := cleanupMisclassifiedBlockReservations(db, organizationID, candidates)

		var propertyID *uint
		if property != nil {
			propertyID = &property.ID
		}
		deleted := deleteBlocksByNotes(db, organizationID, candidates, propertyID, startDate, endDate)
		if deleted == 0 && property != nil && startDate != "" && endDate != "" {
			deleted = deleteBlocksByPropertyDates(db, organizationID, property.ID, startDate, endDate, subtype)
		}
		if deleted == 0 {
			return skippedOutcome("cancellation (block): no matching blocks found to delete")
		}
		return updatedOutcome("cancellation (block): deleted %d blocks, cleaned %d misclassified reservations", deleted, cleaned)
	}

	guest := ResolveOrCreateGuest(db, organizationID, detail)

	reservation, err := mapReservation(detail, organizationID, property, guest, nil)
	if err != nil {
		return eventOutcome{}, fmt.Errorf("cancellation fallback mapping failed: %w", err)
	}
	reservation.Status = models.ReservationCancelled
	if reservation.CancelledAt == nil {
		now := time.Now().UTC()
		reservation.CancelledAt = &now
	}

	if reservation.PropertyID == nil {
		return skippedOutcome("cancellation: no local match and property not resolved (cannot persist reservation without property)")
	}
	if err := upsertReservation(db, reservation); err != nil {
		return eventOutcome{}, fmt.Errorf("upsert failed (cancelled fallback): %w", err)
	}
	return updatedOutcome("cancellation: created/updated cancelled reservation")
}

// applyCancellation marks matched reservations cancelled. Rows that are
// themselves misclassified blocks are deleted instead.
func applyCancellation(db *gorm.DB, organizationID string, candidates []string) (matched, cancelled, deletedBlocks int) {
	rows := findReservationsByCandidates(db, organizationID, candidates)
	if len(rows) == 0 {
		return 0, 0, 0
	}
	now := time.Now().UTC()

	for i := range rows {
		r := &rows[i]
		if isMisclassifiedBlock(r) {
			err := db.Where("organization_id = ? AND id = ?", organizationID, r.ID).
				Delete(&models.Reservation{}).Error
			if err != nil {
				log.Printf("[StayHub] failed to delete misclassified block reservation %s: %v", r.ID, err)
			} else {
				deletedBlocks++
			}
			continue
		}
		err := db.Model(&models.Reservation{}).
			Where("organization_id = ? AND id = ?", organizationID, r.ID).
			Updates(map[string]interface{}{"status": models.ReservationCancelled, "cancelled_at": &now}).Error
		if err != nil {
			log.Printf("[StayHub] failed to mark reservation %s cancelled: %v", r.ID, err)
		} else {
			cancelled++
		}
	}
	return len(rows), cancelled, deletedBlocks
}

// findReservationsByCandidates searches the three identifying columns in
// priority order (external_id, id, reservation_code), deduplicating rows.
// The column order is a documented contract; see classifier candidates.
func findReservationsByCandidates(db *gorm.DB, organizationID string, candidates []string) []models.Reservation {
	if len(candidates) == 0 {
		return nil
	}
	var found []models.Reservation
	seen := map[string]bool{}

	for _, column := range []string{"external_id", "id", "reservation_code"} {
		var rows []models.Reservation
		err := db.Where("organization_id = ?", organizationID).
			Where(column+" IN ?", candidates).
			Limit(25).
			Find(&rows).Error
		if err != nil {
			log.Printf("[StayHub] reservation search by %s failed: %v", column, err)
			continue
		}
		for i := range rows {
			if seen[rows[i].ID] {
				continue
			}
			seen[rows[i].ID] = true
			found = append(found, rows[i])
		}
	}
	return found
}

func isMisclassifiedBlock(r *models.Reservation) bool {
	if utils.IsBlockLikeType(r.SourceType) {
		return true
	}
	if len(r.RawPayload) > 0 {
		var raw map[string]interface{}
		if json.Unmarshal(r.RawPayload, &raw) == nil && utils.IsBlockLikeType(raw["type"]) {
			return true
		}
	}
	return false
}

// cleanupMisclassifiedBlockReservations deletes reservation rows that an
// earlier run persisted for payloads that were actually blocks.
func cleanupMisclassifiedBlockReservations(db *gorm.DB, organizationID string, candidates []string) int {
	rows := findReservationsByCandidates(db, organizationID, candidates)
	deleted := 0
	for i := range rows {
		if !isMisclassifiedBlock(&rows[i]) {
			continue
		}
		err := db.Where("organization_id = ? AND id = ?", organizationID, rows[i].ID).
			Delete(&models.Reservation{}).Error
		if err == nil {
			deleted++
		}
	}
	return deleted
}

// ---------------------------------------------------------------------------
// Block upsert & deletion

const maxNotesCandidates = 10

// deleteBlocksByNotes removes StayHub-created blocks whose notes reference
// any candidate id. The reason filter keeps manually-created blocks safe.
func deleteBlocksByNotes(db *gorm.DB, organizationID string, candidates []string, propertyID *uint, startDate, endDate string) int {
	if len(candidates) > maxNotesCandidates {
		candidates = candidates[:maxNotesCandidates]
	}
	deleted := 0
	for _, id := range candidates {
		patterns := []string{
			`%"reservationId":"` + id + `"%`,
			`%"_id":"` + id + `"%`,
			`%"id":"` + id + `"%`,
		}
		for _, pattern := range patterns {
			q := db.Where("organization_id = ?", organizationID).
				Where("CAST(notes AS TEXT) LIKE ?", pattern).
				Where("reason LIKE ?", "%StayHub%")
			if propertyID != nil {
				q = q.Where("property_id = ?", *propertyID)
			}
			if startDate != "" {
				q = q.Where("start_date = ?", startDate)
			}
			if endDate != "" {
				q = q.Where("end_date = ?", endDate)
			}
			res := q.Delete(&models.Block{})
			if res.Error != nil {
				continue
			}
			deleted += int(res.RowsAffected)
		}
	}
	return deleted
}

func deleteBlocksByPropertyDates(db *gorm.DB, organizationID string, propertyID uint, startDate, endDate, subtype string) int {
	q := db.Where("organization_id = ? AND property_id = ? AND start_date = ? AND end_date = ?",
		organizationID, propertyID, startDate, endDate).
		Where("reason LIKE ?", "%StayHub%")
	if subtype != "" {
		q = q.Where("subtype = ?", subtype)
	}
	res := q.Delete(&models.Block{})
	if res.Error != nil {
		return 0
	}
	return int(res.RowsAffected)
}

// upsertBlock deduplicates on (org, property, start, end, subtype): update
// metadata when found, insert otherwise.
func upsertBlock(db *gorm.DB, organizationID string, propertyID uint, startDate, endDate, subtype, reason string, meta map[string]interface{}) (bool, string, error) {
	notesJSON, _ := json.Marshal(map[string]interface{}{"stayhub": meta})

	var existing models.Block
	err := db.Where("organization_id = ? AND property_id = ? AND start_date = ? AND end_date = ? AND subtype = ?",
		organizationID, propertyID, startDate, endDate, subtype).
		First(&existing).Error
	if err == nil {
		update := map[string]interface{}{"reason": reason, "notes": datatypes.JSON(notesJSON)}
		if err := db.Model(&models.Block{}).Where("id = ?", existing.ID).Updates(update).Error; err != nil {
			return false, "", err
		}
		return false, existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[StayHub] failed to check existing block: %v", err)
	}

	nights := utils.CalcNights(startDate, endDate)
	if nights < 1 {
		nights = 1
	}
	block := models.Block{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		PropertyID:     propertyID,
		StartDate:      startDate,
		EndDate:        endDate,
		Nights:         nights,
		Subtype:        subtype,
		Reason:         reason,
		Notes:          datatypes.JSON(notesJSON),
	}
	if err := db.Create(&block).Error; err != nil {
		return false, "", err
	}
	return true, block.ID, nil
}

// processPayloadBlock persists a block directly from the payload, without a
// detail fetch. StayHub sometimes deletes and recreates a block so fast the
// id no longer resolves on the detail endpoint; depending on the fetch here
// would lose the block.
func processPayloadBlock(db *gorm.DB, organizationID string, payload interface{}) (eventOutcome, error) {
	payloadObj := UnwrapPayload(payload)
	payloadType := payloadObj["type"]

	var property *models.Property
	if listing := ExtractListingCandidate(payload); listing != "" {
		property = ResolveProperty(db, organizationID, listing)
	}
	startDate, endDate := ExtractDateRange(payload)

	if property == nil || startDate == "" || endDate == "" {
		return skippedOutcome("block: property/date not resolved; skipping")
	}

	subtype := utils.BlockSubtypeFromType(payloadType)
	reason := utils.BlockReasonFromType(payloadType)

	reservationID := ExtractReservationID(payload)
	candidates := ExtractIDCandidates(payload)

	meta := map[string]interface{}{
		"_id":            utils.Stringify(payloadObj["_id"]),
		"type":           utils.Stringify(payloadType),
		"reservationId":  reservationID,
		"partner":        payloadObj["partner"],
		"partnerCode":    payloadObj["partnerCode"],
		"reservationUrl": payloadObj["reservationUrl"],
	}

	created, _, err := upsertBlock(db, organizationID, property.ID, startDate, endDate, subtype, reason, meta)
	cleaned := cleanupMisclassifiedBlockReservations(db, organizationID, candidates)
	if err != nil {
		return eventOutcome{}, fmt.Errorf("block: failed to upsert: %w", err)
	}
	return updatedOutcome("block: upserted (created=%t), cleaned %d misclassified reservations", created, cleaned)
}

// ---------------------------------------------------------------------------
// Reservation upsert

func processReservation(db *gorm.DB, client detailFetcher, organizationID string, payload interface{}) (eventOutcome, error) {
	reservationID := ExtractReservationID(payload)
	if reservationID == "" {
		return eventOutcome{}, errors.New("could not extract reservation id from webhook payload")
	}

	detail, err := client.GetReservation(context.Background(), reservationID)
	if err != nil {
		return eventOutcome{}, fmt.Errorf("failed to fetch reservation detail: %w", err)
	}
	// The client tolerates non-JSON 2xx bodies and hands them back as a
	// string; that is never a usable reservation detail.
	detailObj, ok := detail.(map[string]interface{})
	if !ok {
		return eventOutcome{}, fmt.Errorf("reservation detail for %s is not a JSON object", reservationID)
	}

	listing := ExtractListingCandidate(detail)
	if listing == "" {
		listing = ExtractListingCandidate(payload)
	}

	// The same booking may surface under different ids over time
	// (confirmation code vs internal _id); match on all of them so the
	// unique (org, platform, external_id) key is never violated.
	candidates := dedupeCandidates(detailObj, reservationID, ExtractIDCandidates(payload))

	// Detail says block: persist in blocks, not reservations.
	if utils.IsBlockLikeType(detailObj["type"]) {
		return processDetailBlock(db, organizationID, detailObj, listing, reservationID, candidates)
	}

	existing := findExistingReservation(db, organizationID, candidates)

	// Without an external id in the detail, keep the existing identity
	// rather than deleting what is already there.
	if utils.Stringify(detailObj["_id"]) == "" && existing != nil && existing.ExternalID != "" {
		detailObj["_id"] = existing.ExternalID
	}

	var property *models.Property
	if listing != "" {
		property = ResolveProperty(db, organizationID, listing)
	}

	var guest *models.Guest
	if existing != nil && existing.GuestID != nil {
		guest = &models.Guest{Model: gorm.Model{ID: *existing.GuestID}}
	} else {
		guest = ResolveOrCreateGuest(db, organizationID, detail)
	}

	reservation, err := mapReservation(detail, organizationID, property, guest, existing)
	if err != nil {
		return eventOutcome{}, err
	}

	// Canonical rule: reservations without a property do not exist. With no
	// resolvable property we either skip persistence or delete the prior
	// record so it is not left dangling.
	if reservation.PropertyID == nil {
		if existing != nil {
			if err := db.Where("organization_id = ? AND id = ?", organizationID, existing.ID).
				Delete(&models.Reservation{}).Error; err != nil {
				return eventOutcome{}, fmt.Errorf("failed to delete unresolvable reservation: %w", err)
			}
			return skippedOutcome("skipped: property not resolved, deleted prior record %s", existing.ID)
		}
		return skippedOutcome("skipped: property not resolved (reservation without property is forbidden)")
	}

	if err := upsertReservation(db, reservation); err != nil {
		return eventOutcome{}, fmt.Errorf("upsert failed: %w", err)
	}
	return updatedOutcome("reservation upserted (external_id=%s, status=%s)", reservation.ExternalID, reservation.Status)
}

func processDetailBlock(db *gorm.DB, organizationID string, detailObj map[string]interface{}, listing, reservationID string, candidates []string) (eventOutcome, error) {
	var property *models.Property
	if listing != "" {
		property = ResolveProperty(db, organizationID, listing)
	}
	startDate := utils.ToYMD(detailObj["checkInDate"])
	if startDate == "" {
		startDate = utils.ToYMD(detailObj["checkIn"])
	}
	endDate := utils.ToYMD(detailObj["checkOutDate"])
	if endDate == "" {
		endDate = utils.ToYMD(detailObj["checkOut"])
	}
	if property == nil || startDate == "" || endDate == "" {
		return skippedOutcome("block (detail): property/date not resolved; skipping")
	}

	blockType := detailObj["type"]
	meta := map[string]interface{}{
		"_id":            utils.Stringify(detailObj["_id"]),
		"type":           utils.Stringify(blockType),
		"reservationId":  reservationID,
		"partner":        detailObj["partner"],
		"partnerCode":    detailObj["partnerCode"],
		"reservationUrl": detailObj["reservationUrl"],
	}
	created, _, err := upsertBlock(db, organizationID, property.ID, startDate, endDate,
		utils.BlockSubtypeFromType(blockType), utils.BlockReasonFromType(blockType), meta)
	cleaned := cleanupMisclassifiedBlockReservations(db, organizationID, candidates)
	if err != nil {
		return eventOutcome{}, fmt.Errorf("block (detail): failed to upsert: %w", err)
	}
	return updatedOutcome("block (detail): upserted (created=%t), cleaned %d misclassified reservations", created, cleaned)
}

func dedupeCandidates(detailObj map[string]interface{}, reservationID string, payloadCandidates []string) []string {
	raw := []string{}
	if detailObj != nil {
		raw = append(raw,
			utils.Stringify(detailObj["_id"]),
			utils.Stringify(detailObj["id"]),
			utils.Stringify(detailObj["reservationId"]),
			utils.Stringify(detailObj["confirmationCode"]),
		)
	}
	raw = append(raw, reservationID)
	raw = append(raw, payloadCandidates...)

	seen := map[string]bool{}
	out := []string{}
	for _, s := range raw {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func findExistingReservation(db *gorm.DB, organizationID string, candidates []string) *models.Reservation {
	if len(candidates) == 0 {
		return nil
	}
	for _, column := range []string{"external_id", "id", "reservation_code"} {
		var row models.Reservation
		err := db.Where("organization_id = ?", organizationID).
			Where(column+" IN ?", candidates).
			Order("updated_at desc").
			First(&row).Error
		if err == nil {
			return &row
		}
	}
	return nil
}

// upsertReservation applies the single canonical upsert keyed on
// (organization_id, platform, external_id). A row matched by primary key is
// updated in place even when its external identity changed; the conflict
// clause covers concurrent first inserts of the same booking.
func upsertReservation(db *gorm.DB, r *models.Reservation) error {
	var existing models.Reservation
	err := db.Where("id = ?", r.ID).
		Or("organization_id = ? AND platform = ? AND external_id = ?", r.OrganizationID, r.Platform, r.ExternalID).
		First(&existing).Error
	switch {
	case err == nil:
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
		return db.Save(r).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "organization_id"}, {Name: "platform"}, {Name: "external_id"},
			},
			UpdateAll: true,
		}).Create(r).Error
	default:
		return err
	}
}
