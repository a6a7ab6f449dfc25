package routes

import (
	"encoding/json"

	"stayhub-sync-server/models"
	"stayhub-sync-server/services"
	"stayhub-sync-server/storage"
	"stayhub-sync-server/utils"

	"github.com/kataras/iris/v12"
)

// BackfillReservationGuests is POST /api/webhooks/backfill/guests/{organizationId}.
// Re-resolves guests (and pricing) for stored reservations whose guest
// reference is still null — fixes history from before guest linking was
// enabled. Reservations whose property no longer resolves are deleted, same
// rule as the live pipeline.
func BackfillReservationGuests(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}
	limit := ctx.URLParamIntDefault("limit", 200)
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	var rows []models.Reservation
	err := storage.DB.Where("organization_id = ?", organizationID).
		Where("raw_payload IS NOT NULL").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to list reservations")
		return
	}

	scanned, updated, linked, skipped, errored := 0, 0, 0, 0, 0

	for i := range rows {
		row := &rows[i]
		scanned++

		var raw map[string]interface{}
		if len(row.RawPayload) == 0 || json.Unmarshal(row.RawPayload, &raw) != nil {
			skipped++
			continue
		}

		result, err := services.RebuildReservationFromRaw(storage.DB, organizationID, row, raw)
		if err != nil {
			errored++
			continue
		}
		switch result {
		case services.RebuildDeleted:
			skipped++
		case services.RebuildUpdated:
			updated++
			linked++
		}
	}

	utils.JSONOK(ctx, iris.Map{
		"scanned":      scanned,
		"updated":      updated,
		"guestsLinked": linked,
		"skipped":      skipped,
		"errors":       errored,
	})
}
