package routes

import (
	"stayhub-sync-server/services"
	"stayhub-sync-server/storage"
	"stayhub-sync-server/utils"

	"github.com/kataras/iris/v12"
)

// TriggerReconciliationInput bounds one forward reconciliation run.
// Auto-cancel is opt-in: by default the run only reports.
type TriggerReconciliationInput struct {
	Limit             int    `json:"limit" validate:"omitempty,min=1,max=500"`
	AutoCancelOrphans bool   `json:"autoCancelOrphans"`
	CheckInFrom       string `json:"checkInFrom" validate:"omitempty,datetime=2006-01-02"`
	CheckInTo         string `json:"checkInTo" validate:"omitempty,datetime=2006-01-02"`
}

// TriggerReconciliation is POST /api/reconciliation/run/{organizationId}.
// Runs to completion or fails as a whole; the scheduler retries.
func TriggerReconciliation(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}

	var input TriggerReconciliationInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	cfg, err := services.LoadChannelConfig(storage.DB, organizationID)
	if err != nil {
		utils.JSONError(ctx, iris.StatusBadRequest, "config", err.Error())
		return
	}
	client := services.NewChannelClientFromConfig(cfg)

	report := services.ReconcileReservations(storage.DB, client, organizationID, services.ReconcileOptions{
		Limit:             input.Limit,
		AutoCancelOrphans: input.AutoCancelOrphans,
		CheckInFrom:       input.CheckInFrom,
		CheckInTo:         input.CheckInTo,
	})
	utils.JSONOK(ctx, report)
}

// FindMissingInput requires the date range; listing the entire source
// history is never intended.
type FindMissingInput struct {
	CheckInFrom string `json:"checkInFrom" validate:"required,datetime=2006-01-02"`
	CheckInTo   string `json:"checkInTo" validate:"required,datetime=2006-01-02"`
	Repair      bool   `json:"repair"`
}

// FindMissingReservations is POST /api/reconciliation/missing/{organizationId}.
func FindMissingReservations(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}

	var input FindMissingInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	cfg, err := services.LoadChannelConfig(storage.DB, organizationID)
	if err != nil {
		utils.JSONError(ctx, iris.StatusBadRequest, "config", err.Error())
		return
	}
	client := services.NewChannelClientFromConfig(cfg)

	report := services.FindMissingReservations(storage.DB, client, organizationID,
		input.CheckInFrom, input.CheckInTo, input.Repair)
	utils.JSONOK(ctx, report)
}
