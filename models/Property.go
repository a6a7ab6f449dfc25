package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Property is the internally-owned listing record that StayHub reservations
// and blocks attach to. StayHub refers to the same unit under several ids
// across payload versions, so we keep every known external identifier plus
// the raw listing payload for the resolver's lookup chain.
type Property struct {
	gorm.Model
	OrganizationID string `json:"organizationId" gorm:"type:varchar(64);not null;index"`
	Title          string `json:"title"`
	InternalName   string `json:"internalName"`
	City           string `json:"city"`
	State          string `json:"state"`
	Country        string `json:"country"`

	// External identity (resolution chain, in lookup order).
	ExternalPropertyID string `json:"externalPropertyId" gorm:"type:varchar(120);index"`
	ExternalListingID  string `json:"externalListingId" gorm:"type:varchar(120);index"`
	LegacyCode         string `json:"legacyCode" gorm:"type:varchar(60);index"`

	NightlyPrice int    `json:"nightlyPrice"`
	CleaningFee  int    `json:"cleaningFee"`
	Currency     string `json:"currency" gorm:"type:varchar(8);default:'BRL'"`
	IsActive     *bool  `json:"isActive"`

	RawData datatypes.JSON `json:"rawData" gorm:"type:jsonb"`
}
