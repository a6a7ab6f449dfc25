package routes

import (
	"errors"

	"stayhub-sync-server/models"
	"stayhub-sync-server/services"
	"stayhub-sync-server/storage"
	"stayhub-sync-server/utils"

	"github.com/kataras/iris/v12"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveChannelConfigInput is the admin payload for the per-organization
// StayHub credentials.
type SaveChannelConfigInput struct {
	APIKey          string `json:"apiKey" validate:"required"`
	APISecret       string `json:"apiSecret"`
	BaseURL         string `json:"baseUrl" validate:"required,url"`
	AccountName     string `json:"accountName"`
	WebhookSecret   string `json:"webhookSecret"`
	VerifySignature bool   `json:"verifySignature"`
	Enabled         bool   `json:"enabled"`
}

// SaveChannelConfig is PUT /api/channel/config/{organizationId}.
func SaveChannelConfig(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}

	var input SaveChannelConfigInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	cfg := models.ChannelConfig{
		OrganizationID:  organizationID,
		APIKey:          input.APIKey,
		APISecret:       input.APISecret,
		BaseURL:         input.BaseURL,
		AccountName:     input.AccountName,
		WebhookSecret:   input.WebhookSecret,
		VerifySignature: input.VerifySignature,
		Enabled:         input.Enabled,
	}
	err := storage.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}},
		UpdateAll: true,
	}).Create(&cfg).Error
	if err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to save channel config")
		return
	}

	services.InvalidateChannelConfigCache(organizationID)
	utils.JSONOK(ctx, cfg)
}

// GetChannelConfig is GET /api/channel/config/{organizationId}. The secrets
// are masked; the dashboard only needs to know whether they are set.
func GetChannelConfig(ctx iris.Context) {
	organizationID := ctx.Params().Get("organizationId")
	if organizationID == "" {
		utils.JSONError(ctx, iris.StatusBadRequest, "bad_request", "organizationId is required")
		return
	}

	var cfg models.ChannelConfig
	err := storage.DB.Where("organization_id = ?", organizationID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.JSONError(ctx, iris.StatusNotFound, "not_found", "no channel config for organization")
		return
	}
	if err != nil {
		utils.JSONError(ctx, iris.StatusInternalServerError, "storage", "failed to load channel config")
		return
	}

	utils.JSONOK(ctx, iris.Map{
		"organizationId":  cfg.OrganizationID,
		"baseUrl":         cfg.BaseURL,
		"accountName":     cfg.AccountName,
		"verifySignature": cfg.VerifySignature,
		"enabled":         cfg.Enabled,
		"lastSync":        cfg.LastSync,
		"hasApiKey":       cfg.APIKey != "",
		"hasApiSecret":    cfg.APISecret != "",
		"hasWebhookSecret": cfg.WebhookSecret != "",
	})
}
