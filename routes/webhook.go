package routes

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"stayhub-sync-server/models"
	"stayhub-sync-server/services"
	"stayhub-sync-server/storage"
	"stayhub-sync-server/utils"

	"github.com/kataras/iris/v12"
	"gorm.io/datatypes"
)

// ReceiveWebhook is POST /webhook/{organizationId}: the StayHub receiver.
// Acceptance only guarantees durable storage; classification happens later
// (or on the async drain below) and its failures never surface here.
func ReceiveWebhook(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}

	clientID := ctx.GetHeader("x-stayhub-client-id")
	signature := ctx.GetHeader("x-stayhub-signature")

	// The exact raw bytes are what the signature covers; re-serialized JSON
	// would not verify.
	rawBody, err := ctx.GetBody()
	if err != nil {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	action := "unknown"
	var payload interface{} = string(rawBody)
	var body map[string]interface{}
	if err := json.Unmarshal(rawBody, &body); err == nil {
		if a, ok := body["action"].(string); ok && a != "" {
			action = a
		}
		// The payload may be wrapped or appear unwrapped at the top level.
		if nested, ok := body["payload"]; ok && nested != nil {
			payload = nested
		} else {
			payload = body
		}
	}

	enabled, secret := webhookVerificationSettings(organizationID)
	verification := services.VerifySignature(rawBody, signature, enabled, secret)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		payloadJSON = []byte(`{}`)
	}
	metadataJSON, _ := json.Marshal(iris.Map{
		"headers": iris.Map{
			"x-stayhub-client-id": clientID,
			"x-stayhub-signature": signature,
			"user-agent":          ctx.GetHeader("User-Agent"),
		},
		"signature_verification": verification,
	})

	event := models.WebhookEvent{
		OrganizationID:  organizationID,
		Action:          action,
		Payload:         datatypes.JSON(payloadJSON),
		Metadata:        datatypes.JSON(metadataJSON),
		ReceivedAt:      time.Now().UTC(),
		SignatureStatus: verification.Status,
		SignatureReason: verification.Reason,
	}
	if err := storage.DB.Create(&event).Error; err != nil {
		log.Printf("[StayHub] failed to save webhook: %v", err)
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to save webhook")
		return
	}

	// With verification on, a failed event is stored for the audit trail but
	// marked processed and rejected; it must never enter the queue.
	if enabled {
		switch verification.Status {
		case models.SignatureMisconfigured:
			rejectEvent(&event, "signature verification misconfigured")
			utils.JSONError(ctx, iris.StatusInternalServerError, "signature", "webhook signature verification misconfigured")
			return
		case models.SignatureMissingHeader:
			rejectEvent(&event, "missing x-stayhub-signature")
			utils.JSONError(ctx, iris.StatusUnauthorized, "signature", "missing webhook signature")
			return
		case models.SignatureMismatch:
			rejectEvent(&event, "invalid webhook signature")
			utils.JSONError(ctx, iris.StatusUnauthorized, "signature", "invalid webhook signature")
			return
		}
	}

	// Realtime drain: consume the queue right away so cancellations land
	// within seconds; the cron trigger remains the safety net.
	if realtimeDrainEnabled() {
		go func() {
			if _, err := services.ProcessPendingWebhooks(storage.DB, organizationID, realtimeDrainLimit()); err != nil {
				log.Printf("[StayHub] realtime process failed: %v", err)
			}
		}()
	}

	ctx.JSON(iris.Map{"ok": true, "id": event.ID})
}

func rejectEvent(event *models.WebhookEvent, note string) {
	now := time.Now().UTC()
	err := storage.DB.Model(&models.WebhookEvent{}).Where("id = ?", event.ID).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now, "error_message": note}).Error
	if err != nil {
		log.Printf("[StayHub] failed to mark rejected webhook %d: %v", event.ID, err)
	}
}

// webhookVerificationSettings reads the per-organization config, falling
// back to env for installations that have not stored one yet.
func webhookVerificationSettings(organizationID string) (bool, string) {
	var cfg models.ChannelConfig
	err := storage.DB.Where("organization_id = ?", organizationID).First(&cfg).Error
	if err == nil {
		return cfg.VerifySignature, cfg.WebhookSecret
	}
	enabled := strings.EqualFold(strings.TrimSpace(os.Getenv("STAYHUB_WEBHOOK_VERIFY_SIGNATURE")), "true")
	return enabled, strings.TrimSpace(os.Getenv("STAYHUB_WEBHOOK_SECRET"))
}

func realtimeDrainEnabled() bool {
	v := strings.TrimSpace(os.Getenv("STAYHUB_WEBHOOK_REALTIME_PROCESS"))
	return v == "" || strings.EqualFold(v, "true")
}

func realtimeDrainLimit() int {
	limit := 10
	if v := os.Getenv("STAYHUB_WEBHOOK_REALTIME_LIMIT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 50 {
		limit = 50
	}
	return limit
}

// ProcessWebhooks is POST /api/webhooks/process/{organizationId}: drains the
// pending queue, normally called by the scheduler.
func ProcessWebhooks(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}
	limit := ctx.URLParamIntDefault("limit", 25)

	result, err := services.ProcessPendingWebhooks(storage.DB, organizationID, limit)
	if err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "processing", err.Error())
		return
	}
	utils.JSONOK(ctx, result)
}

// WebhookDiagnostics is GET /api/webhooks/diagnostics/{organizationId}:
// pending count, processed-with-error count and the recent events with the
// derived reservation id and signature status. Consumed by the dashboard.
func WebhookDiagnostics(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}
	limit := ctx.URLParamIntDefault("limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	var pendingCount int64
	if err := storage.DB.Model(&models.WebhookEvent{}).
		Where("organization_id = ? AND processed = ?", organizationID, false).
		Count(&pendingCount).Error; err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to load diagnostics")
		return
	}

	var errorCount int64
	if err := storage.DB.Model(&models.WebhookEvent{}).
		Where("organization_id = ? AND processed = ? AND error_message <> ''", organizationID, true).
		Count(&errorCount).Error; err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to load diagnostics")
		return
	}

	var recent []models.WebhookEvent
	if err := storage.DB.Where("organization_id = ?", organizationID).
		Order("received_at desc").
		Limit(limit).
		Find(&recent).Error; err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to load diagnostics")
		return
	}

	rows := make([]iris.Map, 0, len(recent))
	for i := range recent {
		event := &recent[i]
		var payload interface{}
		if len(event.Payload) > 0 {
			json.Unmarshal(event.Payload, &payload)
		}
		rows = append(rows, iris.Map{
			"id":               event.ID,
			"action":           event.Action,
			"reservationId":    services.ExtractReservationID(payload),
			"receivedAt":       event.ReceivedAt,
			"processed":        event.Processed,
			"processedAt":      event.ProcessedAt,
			"errorMessage":     event.ErrorMessage,
			"signatureStatus":  event.SignatureStatus,
			"signatureReason":  event.SignatureReason,
		})
	}

	utils.JSONOK(ctx, iris.Map{
		"organizationId": organizationID,
		"counts": iris.Map{
			"pending":            pendingCount,
			"processedWithError": errorCount,
			"recentReturned":     len(rows),
		},
		"recent": rows,
	})
}
