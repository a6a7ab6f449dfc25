package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Guest is a person who has stayed or will stay. (organization_id, email) is
// the dedup key; when StayHub sends no email a deterministic placeholder is
// synthesized from the identity fragments so repeated deliveries of the same
// person resolve to the same row.
type Guest struct {
	gorm.Model
	OrganizationID  string         `json:"organizationId" gorm:"type:varchar(64);not null;uniqueIndex:ux_guests_org_email,priority:1"`
	FirstName       string         `json:"firstName"`
	LastName        string         `json:"lastName"`
	Email           string         `json:"email" gorm:"type:varchar(254);not null;uniqueIndex:ux_guests_org_email,priority:2"`
	Phone           string         `json:"phone"`
	DocumentID      string         `json:"documentId"` // CPF or equivalent national id
	Passport        string         `json:"passport"`
	BirthDate       string         `json:"birthDate" gorm:"type:varchar(10)"`
	Nationality     string         `json:"nationality"`
	Language        string         `json:"language" gorm:"type:varchar(10);default:'pt-BR'"`
	Source          string         `json:"source" gorm:"type:varchar(30);default:'other'"`
	StayHubClientID string         `json:"stayhubClientId" gorm:"type:varchar(120);index"`
	RawPayload      datatypes.JSON `json:"rawPayload" gorm:"type:jsonb"`

	TotalReservations int `json:"totalReservations"`
	TotalNights       int `json:"totalNights"`
	TotalSpent        int `json:"totalSpent"`
}
