package models

import (
	"time"

	"gorm.io/datatypes"
)

// Reservation statuses (canonical set; StayHub spellings are mapped onto
// these in utils/normalize.go).
const (
	ReservationPending    = "pending"
	ReservationConfirmed  = "confirmed"
	ReservationCheckedIn  = "checked_in"
	ReservationCheckedOut = "checked_out"
	ReservationCancelled  = "cancelled"
	ReservationNoShow     = "no_show"
)

// Reservation is a booked stay synced from StayHub. External identity is
// (organization_id, platform, external_id); all upserts target that key.
// A reservation without a resolvable property must never be persisted.
type Reservation struct {
	ID             string  `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizationID string  `json:"organizationId" gorm:"type:varchar(64);not null;uniqueIndex:ux_reservations_identity,priority:1;index:idx_reservations_org_checkin,priority:1"`
	PropertyID     *uint   `json:"propertyId" gorm:"index"`
	GuestID        *uint   `json:"guestId" gorm:"index"`
	Property       *Property `json:"property,omitempty" gorm:"foreignKey:PropertyID;references:ID"`
	Guest          *Guest    `json:"guest,omitempty" gorm:"foreignKey:GuestID;references:ID"`

	CheckIn  string `json:"checkIn" gorm:"type:varchar(10);not null;index:idx_reservations_org_checkin,priority:2"`
	CheckOut string `json:"checkOut" gorm:"type:varchar(10);not null"`
	Nights   int    `json:"nights"`

	GuestsAdults   int `json:"guestsAdults" gorm:"default:1"`
	GuestsChildren int `json:"guestsChildren"`
	GuestsInfants  int `json:"guestsInfants"`
	GuestsPets     int `json:"guestsPets"`
	GuestsTotal    int `json:"guestsTotal"`

	// Money fields are rounded integers in the reservation currency; StayHub
	// sends decimal strings ("813.38") that would fail the integer cast.
	PricePerNight int    `json:"pricePerNight"`
	BaseTotal     int    `json:"baseTotal"`
	CleaningFee   int    `json:"cleaningFee"`
	ServiceFee    int    `json:"serviceFee"`
	Taxes         int    `json:"taxes"`
	Discount      int    `json:"discount"`
	Total         int    `json:"total"`
	Currency      string `json:"currency" gorm:"type:varchar(8);default:'BRL'"`

	Status             string     `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Platform           string     `json:"platform" gorm:"type:varchar(30);uniqueIndex:ux_reservations_identity,priority:2"`
	ExternalID         string     `json:"externalId" gorm:"type:varchar(120);uniqueIndex:ux_reservations_identity,priority:3;index"`
	ExternalURL        string     `json:"externalUrl"`
	ReservationCode    string     `json:"reservationCode" gorm:"type:varchar(120);index"` // short confirmation code, distinct from ExternalID
	PaymentStatus      string     `json:"paymentStatus" gorm:"type:varchar(20);default:'pending'"`
	PaymentMethod      string     `json:"paymentMethod"`
	Notes              string     `json:"notes" gorm:"type:text"`
	SpecialRequests    string     `json:"specialRequests" gorm:"type:text"`
	CancelledAt        *time.Time `json:"cancelledAt"`
	CancellationReason string     `json:"cancellationReason"`
	ConfirmedAt        *time.Time `json:"confirmedAt"`
	SourceCreatedAt    *time.Time `json:"sourceCreatedAt"`

	// Original payload, kept verbatim for audit/debug and misclassification
	// sweeps (Type check on cancellation).
	SourceType string         `json:"sourceType" gorm:"type:varchar(40)"`
	RawPayload datatypes.JSON `json:"rawPayload" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
