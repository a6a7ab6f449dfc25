package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stayhub-sync-server/models"

	"gorm.io/datatypes"
)

// fakeFetcher serves a canned reservation detail. raw, when set, is returned
// as-is (the real client passes non-JSON 2xx bodies through as strings).
type fakeFetcher struct {
	detail map[string]interface{}
	raw    interface{}
	err    error
	calls  int
}

func (f *fakeFetcher) GetReservation(ctx context.Context, reservationID string) (interface{}, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.raw != nil {
		return f.raw, nil
	}
	// Decode through JSON so the fetcher returns fresh maps like the real
	// client does; the processor mutates the detail object.
	encoded, _ := json.Marshal(f.detail)
	var out interface{}
	json.Unmarshal(encoded, &out)
	return out, nil
}

func bookingDetail(externalID, listingID string) map[string]interface{} {
	return map[string]interface{}{
		"_id":          externalID,
		"id":           "CODE-" + externalID,
		"type":         "booked",
		"checkInDate":  "2026-04-01",
		"checkOutDate": "2026-04-04",
		"_idlisting":   listingID,
		"price": map[string]interface{}{
			"_f_total":    "1.200,00",
			"_f_expected": "1.000,00",
			"currency":    "BRL",
		},
		"guestName":  "Pedro Alves",
		"guestEmail": "pedro@example.com",
	}
}

func TestProcessReservationUpsertIdempotent(t *testing.T) {
	db := openTestDB(t)
	seedProperty(t, db, "org-1", "L-1")
	client := &fakeFetcher{detail: bookingDetail("ext-1", "L-1")}

	payload := map[string]interface{}{"_id": "ext-1"}
	for run := 0; run < 2; run++ {
		outcome, err := processReservation(db, client, "org-1", payload)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if outcome.kind != outcomeUpdated {
			t.Fatalf("run %d: expected updated outcome, got %q", run, outcome.note)
		}
	}

	var rows []models.Reservation
	if err := db.Where("organization_id = ?", "org-1").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 reservation after reprocessing, got %d", len(rows))
	}

	r := rows[0]
	if r.ExternalID != "ext-1" || r.ReservationCode != "CODE-ext-1" {
		t.Fatalf("identity fields wrong: %q / %q", r.ExternalID, r.ReservationCode)
	}
	if r.Status != models.ReservationConfirmed {
		t.Fatalf("type=booked should confirm, got %q", r.Status)
	}
	if r.Nights != 3 {
		t.Fatalf("nights = %d", r.Nights)
	}
	if r.Total != 1200 || r.BaseTotal != 1000 {
		t.Fatalf("money mapping wrong: total=%d base=%d", r.Total, r.BaseTotal)
	}
	if r.PropertyID == nil || r.GuestID == nil {
		t.Fatal("property and guest must be linked")
	}
}

func TestProcessReservationWithoutPropertyNeverPersists(t *testing.T) {
	db := openTestDB(t)
	// No property seeded: the listing cannot resolve.
	client := &fakeFetcher{detail: bookingDetail("ext-2", "L-unknown")}

	outcome, err := processReservation(db, client, "org-1", map[string]interface{}{"_id": "ext-2"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.kind != outcomeSkipped {
		t.Fatalf("expected skip, got %q", outcome.note)
	}

	var count int64
	db.Model(&models.Reservation{}).Count(&count)
	if count != 0 {
		t.Fatalf("reservation without property was persisted (%d rows)", count)
	}
}

func TestProcessReservationDeletesPriorWhenPropertyUnresolvable(t *testing.T) {
	db := openTestDB(t)
	client := &fakeFetcher{detail: bookingDetail("ext-3", "L-unknown")}

	prior := models.Reservation{
		ID:             "11111111-1111-1111-1111-111111111111",
		OrganizationID: "org-1",
		ExternalID:     "ext-3",
		CheckIn:        "2026-04-01",
		CheckOut:       "2026-04-04",
		Status:         models.ReservationConfirmed,
		Platform:       "direct",
	}
	if err := db.Create(&prior).Error; err != nil {
		t.Fatalf("seed prior: %v", err)
	}

	outcome, err := processReservation(db, client, "org-1", map[string]interface{}{"_id": "ext-3"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.kind != outcomeSkipped {
		t.Fatalf("expected skip outcome, got %q", outcome.note)
	}

	var count int64
	db.Model(&models.Reservation{}).Where("external_id = ?", "ext-3").Count(&count)
	if count != 0 {
		t.Fatal("prior record should have been deleted when the property no longer resolves")
	}
}

func TestProcessReservationRejectsNonObjectDetail(t *testing.T) {
	db := openTestDB(t)
	// An existing row matching the candidates is what used to make the
	// non-object path fatal instead of merely useless.
	prior := models.Reservation{
		ID:             "66666666-6666-6666-6666-666666666666",
		OrganizationID: "org-1",
		ExternalID:     "ext-text",
		CheckIn:        "2026-04-01",
		CheckOut:       "2026-04-04",
		Status:         models.ReservationConfirmed,
		Platform:       "direct",
	}
	if err := db.Create(&prior).Error; err != nil {
		t.Fatalf("seed prior: %v", err)
	}
	client := &fakeFetcher{raw: "upstream says: maintenance window"}

	_, err := processReservation(db, client, "org-1", map[string]interface{}{"_id": "ext-text"})
	if err == nil {
		t.Fatal("non-object detail must be a typed error")
	}

	var r models.Reservation
	if dbErr := db.First(&r, "external_id = ?", "ext-text").Error; dbErr != nil {
		t.Fatalf("prior row must survive: %v", dbErr)
	}
	if r.Status != models.ReservationConfirmed {
		t.Fatalf("prior row mutated: status = %q", r.Status)
	}
}

type panickyFetcher struct{}

func (panickyFetcher) GetReservation(ctx context.Context, reservationID string) (interface{}, error) {
	panic("boom")
}

func TestProcessEventSafeContainsPanic(t *testing.T) {
	db := openTestDB(t)

	payload, _ := json.Marshal(map[string]interface{}{"_id": "ext-panic"})
	event := models.WebhookEvent{
		OrganizationID: "org-1",
		Action:         "reservation.created",
		Payload:        datatypes.JSON(payload),
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatal(err)
	}

	_, err := processEventSafe(db, panickyFetcher{}, "org-1", &event)
	if err == nil {
		t.Fatal("panic must surface as an error, not propagate")
	}
}

func TestPaymentEventsAreSkipped(t *testing.T) {
	db := openTestDB(t)
	client := &fakeFetcher{detail: bookingDetail("pay-1", "L-1")}

	payload, _ := json.Marshal(map[string]interface{}{"_id": "pay-1"})
	event := models.WebhookEvent{
		OrganizationID: "org-1",
		Action:         "reservation.payments.created",
		Payload:        datatypes.JSON(payload),
	}
	outcome, err := processEvent(db, client, "org-1", &event)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.kind != outcomeSkipped {
		t.Fatalf("payment event must be skipped, got %q", outcome.note)
	}
	if client.calls != 0 {
		t.Fatal("payment events must not trigger detail fetches")
	}
}

func TestBlockPayloadCreatesBlockNotReservation(t *testing.T) {
	db := openTestDB(t)
	property := seedProperty(t, db, "org-1", "L-1")
	client := &fakeFetcher{}

	payload, _ := json.Marshal(map[string]interface{}{
		"_id":          "blk-1",
		"type":         "maintenance",
		"_idlisting":   "L-1",
		"checkInDate":  "2026-05-10",
		"checkOutDate": "2026-05-12",
	})
	event := models.WebhookEvent{
		OrganizationID: "org-1",
		Action:         "reservation.created",
		Payload:        datatypes.JSON(payload),
	}

	for run := 0; run < 2; run++ {
		outcome, err := processEvent(db, client, "org-1", &event)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if outcome.kind != outcomeUpdated {
			t.Fatalf("run %d: expected update, got %q", run, outcome.note)
		}
	}
	if client.calls != 0 {
		t.Fatal("block payloads must be persisted without a detail fetch")
	}

	var blocks []models.Block
	db.Find(&blocks)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block after reprocessing, got %d", len(blocks))
	}
	b := blocks[0]
	if b.PropertyID != property.ID || b.Subtype != models.BlockMaintenance {
		t.Fatalf("block mapped wrong: %+v", b)
	}
	if b.Reason != "Maintenance (StayHub)" {
		t.Fatalf("reason = %q", b.Reason)
	}
	if b.Nights != 2 {
		t.Fatalf("nights = %d", b.Nights)
	}

	var reservations int64
	db.Model(&models.Reservation{}).Count(&reservations)
	if reservations != 0 {
		t.Fatal("block payload must not create a reservation")
	}
}

func TestCancellationMarksReservationCancelled(t *testing.T) {
	db := openTestDB(t)
	seedProperty(t, db, "org-1", "L-1")
	client := &fakeFetcher{detail: bookingDetail("ext-9", "L-1")}

	// Create through the normal path first.
	if _, err := processReservation(db, client, "org-1", map[string]interface{}{"_id": "ext-9"}); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{"_id": "ext-9"})
	event := models.WebhookEvent{
		OrganizationID: "org-1",
		Action:         "reservation.deleted",
		Payload:        datatypes.JSON(payload),
	}
	// Deliveries are at-least-once; a duplicate cancel must land on the
	// same terminal state.
	for run := 0; run < 2; run++ {
		outcome, err := processEvent(db, client, "org-1", &event)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if outcome.kind != outcomeUpdated {
			t.Fatalf("run %d: expected update, got %q", run, outcome.note)
		}

		var r models.Reservation
		if err := db.Where("external_id = ?", "ext-9").First(&r).Error; err != nil {
			t.Fatal(err)
		}
		if r.Status != models.ReservationCancelled {
			t.Fatalf("run %d: status = %q", run, r.Status)
		}
		if r.CancelledAt == nil {
			t.Fatalf("run %d: cancelled_at not set", run)
		}
	}

	var count int64
	db.Model(&models.Reservation{}).Where("external_id = ?", "ext-9").Count(&count)
	if count != 1 {
		t.Fatalf("duplicate delivery must not add rows, got %d", count)
	}
}

func TestCancellationDeletesOwnedBlockOnly(t *testing.T) {
	db := openTestDB(t)
	property := seedProperty(t, db, "org-1", "L-1")
	client := &fakeFetcher{err: ErrReservationNotFound}

	ownedNotes, _ := json.Marshal(map[string]interface{}{
		"stayhub": map[string]interface{}{"reservationId": "blk-7"},
	})
	owned := models.Block{
		ID:             "22222222-2222-2222-2222-222222222222",
		OrganizationID: "org-1",
		PropertyID:     property.ID,
		StartDate:      "2026-06-01",
		EndDate:        "2026-06-05",
		Subtype:        models.BlockSimple,
		Reason:         "Block (StayHub)",
		Notes:          datatypes.JSON(ownedNotes),
	}
	manual := models.Block{
		ID:             "33333333-3333-3333-3333-333333333333",
		OrganizationID: "org-1",
		PropertyID:     property.ID,
		StartDate:      "2026-06-01",
		EndDate:        "2026-06-05",
		Subtype:        models.BlockMaintenance,
		Reason:         "Owner vacation",
		Notes:          datatypes.JSON(ownedNotes),
	}
	if err := db.Create(&owned).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&manual).Error; err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{"_id": "blk-7", "type": "blocked"})
	event := models.WebhookEvent{
		OrganizationID: "org-1",
		Action:         "reservation.canceled",
		Payload:        datatypes.JSON(payload),
	}
	outcome, err := processEvent(db, client, "org-1", &event)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.kind != outcomeUpdated {
		t.Fatalf("expected update, got %q", outcome.note)
	}

	var remaining []models.Block
	db.Find(&remaining)
	if len(remaining) != 1 || remaining[0].ID != manual.ID {
		t.Fatalf("only the integration-owned block should be deleted, remaining: %+v", remaining)
	}
}

func TestCancellationDeletesMisclassifiedBlockReservation(t *testing.T) {
	db := openTestDB(t)
	client := &fakeFetcher{err: ErrReservationNotFound}

	raw, _ := json.Marshal(map[string]interface{}{"type": "blocked"})
	row := models.Reservation{
		ID:             "44444444-4444-4444-4444-444444444444",
		OrganizationID: "org-1",
		ExternalID:     "mis-1",
		CheckIn:        "2026-07-01",
		CheckOut:       "2026-07-03",
		Status:         models.ReservationConfirmed,
		Platform:       "direct",
		SourceType:     "blocked",
		RawPayload:     datatypes.JSON(raw),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{"_id": "mis-1"})
	event := models.WebhookEvent{
		OrganizationID: "org-1",
		Action:         "reservation.deleted",
		Payload:        datatypes.JSON(payload),
	}
	if _, err := processEvent(db, client, "org-1", &event); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.Model(&models.Reservation{}).Where("external_id = ?", "mis-1").Count(&count)
	if count != 0 {
		t.Fatal("misclassified block row should be deleted, not cancelled")
	}
}

func TestProcessPendingWebhooksEndToEnd(t *testing.T) {
	db := openTestDB(t)
	seedProperty(t, db, "org-1", "L-1")

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(bookingDetail("ext-e2e", "L-1"))
	}))
	defer source.Close()

	cfg := models.ChannelConfig{
		OrganizationID: "org-1",
		APIKey:         "key",
		APISecret:      "secret",
		BaseURL:        source.URL,
		Enabled:        true,
	}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{"_id": "ext-e2e"})
	events := []models.WebhookEvent{
		{OrganizationID: "org-1", Action: "reservation.created", Payload: datatypes.JSON(payload), ReceivedAt: time.Now().Add(-2 * time.Minute)},
		{OrganizationID: "org-1", Action: "listing.modified", Payload: datatypes.JSON(payload), ReceivedAt: time.Now().Add(-1 * time.Minute)},
	}
	for i := range events {
		if err := db.Create(&events[i]).Error; err != nil {
			t.Fatal(err)
		}
	}

	result, err := ProcessPendingWebhooks(db, "org-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 2 || result.Updated != 1 || result.Skipped != 1 || result.Errors != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var pending int64
	db.Model(&models.WebhookEvent{}).Where("processed = ?", false).Count(&pending)
	if pending != 0 {
		t.Fatalf("%d events left unprocessed", pending)
	}

	// Second drain is a no-op: nothing pending.
	again, err := ProcessPendingWebhooks(db, "org-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if again.Processed != 0 {
		t.Fatalf("expected empty drain, got %+v", again)
	}
}
