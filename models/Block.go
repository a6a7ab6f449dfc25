package models

import (
	"time"

	"gorm.io/datatypes"
)

// Block subtypes.
const (
	BlockSimple      = "simple"
	BlockMaintenance = "maintenance"
)

// Block is a non-bookable period on a property (owner block or maintenance).
// Identity is positional: (organization, property, start, end, subtype) is
// the dedup key, cross-checked against Notes carrying the originating
// StayHub ids. Deletion is restricted to blocks whose Reason marks them as
// StayHub-created so manually entered blocks are never touched.
type Block struct {
	ID             string         `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizationID string         `json:"organizationId" gorm:"type:varchar(64);not null;index:idx_blocks_identity,priority:1"`
	PropertyID     uint           `json:"propertyId" gorm:"not null;index:idx_blocks_identity,priority:2"`
	StartDate      string         `json:"startDate" gorm:"type:varchar(10);not null;index:idx_blocks_identity,priority:3"`
	EndDate        string         `json:"endDate" gorm:"type:varchar(10);not null;index:idx_blocks_identity,priority:4"`
	Nights         int            `json:"nights"`
	Subtype        string         `json:"subtype" gorm:"type:varchar(20);default:'simple';index:idx_blocks_identity,priority:5"`
	Reason         string         `json:"reason" gorm:"type:varchar(120)"`
	Notes          datatypes.JSON `json:"notes" gorm:"type:jsonb"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
