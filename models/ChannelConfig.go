package models

import "gorm.io/gorm"

// ChannelConfig holds the per-organization StayHub API credentials and
// webhook settings. One row per organization.
type ChannelConfig struct {
	gorm.Model
	OrganizationID  string `json:"organizationId" gorm:"type:varchar(64);not null;uniqueIndex"`
	APIKey          string `json:"apiKey" gorm:"type:varchar(200)"`
	APISecret       string `json:"apiSecret" gorm:"type:varchar(200)"`
	BaseURL         string `json:"baseUrl" gorm:"type:varchar(300)"`
	AccountName     string `json:"accountName"`
	WebhookSecret   string `json:"webhookSecret" gorm:"type:varchar(200)"`
	VerifySignature bool   `json:"verifySignature" gorm:"default:false"`
	Enabled         bool   `json:"enabled" gorm:"default:false"`
	LastSync        string `json:"lastSync" gorm:"type:varchar(40)"`
}
