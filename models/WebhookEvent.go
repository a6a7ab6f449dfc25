package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Signature verification outcomes recorded on each stored event.
const (
	SignatureVerified      = "verified"
	SignatureMismatch      = "mismatch"
	SignatureMissingHeader = "missing_header"
	SignatureMisconfigured = "misconfigured"
	SignatureNotApplicable = "not_applicable"
)

// WebhookEvent stores one inbound StayHub notification verbatim, before any
// interpretation happens. The payload is immutable after save; only the
// processed flag and outcome are ever mutated. Rows are never deleted so the
// table doubles as the audit trail for the integration.
type WebhookEvent struct {
	gorm.Model
	OrganizationID  string         `json:"organizationId" gorm:"type:varchar(64);not null;index:idx_webhook_events_org_pending,priority:1"`
	Action          string         `json:"action" gorm:"type:varchar(100);not null;index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Metadata        datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	ReceivedAt      time.Time      `json:"receivedAt" gorm:"index"`
	Processed       bool           `json:"processed" gorm:"default:false;index:idx_webhook_events_org_pending,priority:2"`
	ProcessedAt     *time.Time     `json:"processedAt"`
	ErrorMessage    string         `json:"errorMessage" gorm:"type:text"`
	SignatureStatus string         `json:"signatureStatus" gorm:"type:varchar(30)"`
	SignatureReason string         `json:"signatureReason" gorm:"type:varchar(120)"`
}
