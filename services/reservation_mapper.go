package services

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"stayhub-sync-server/models"
	"stayhub-sync-server/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// mapReservation builds the full canonical reservation row from a StayHub
// reservation object (webhook payload or detail fetch). Pure with respect to
// the store: resolution results come in as arguments.
func mapReservation(detail interface{}, organizationID string, property *models.Property, guest *models.Guest, existing *models.Reservation) (*models.Reservation, error) {
	input := UnwrapPayload(detail)

	checkIn := utils.ToYMD(firstPresent(input, "checkInDate", "checkIn", "check_in"))
	checkOut := utils.ToYMD(firstPresent(input, "checkOutDate", "checkOut", "check_out"))
	if checkIn == "" || checkOut == "" {
		return nil, errors.New("reservation without check-in/check-out dates")
	}

	nights := utils.SafeInt(input["nights"], utils.CalcNights(checkIn, checkOut))
	if nights < 1 {
		return nil, errors.New("reservation with invalid nights")
	}

	// reservations.id is always an internal UUID; external identity lives in
	// (organization_id, platform, external_id).
	id := uuid.NewString()
	if existing != nil && existing.ID != "" {
		id = existing.ID
	}

	priceObj, _ := input["price"].(map[string]interface{})
	currency := utils.Stringify(input["currency"])
	if currency == "" && priceObj != nil {
		currency = utils.Stringify(priceObj["currency"])
	}
	if currency == "" {
		currency = "BRL"
	}

	var hostingDetails map[string]interface{}
	if priceObj != nil {
		hostingDetails, _ = priceObj["hostingDetails"].(map[string]interface{})
		if hostingDetails == nil {
			hostingDetails, _ = priceObj["hosting_details"].(map[string]interface{})
		}
	}

	// Sum per-stay fees (cleaning etc.) listed under hostingDetails.fees;
	// used when no explicit cleaning fee field is present.
	hostingFeesTotal := 0.0
	if hostingDetails != nil {
		if fees, ok := hostingDetails["fees"].([]interface{}); ok {
			for _, fee := range fees {
				if n, ok := utils.PickMoney(fee, "_f_val", "value", "val", "amount", "price"); ok {
					hostingFeesTotal += n
				}
			}
		}
	}

	pricePerNight := utils.ParseMoneyInt(input["pricePerNight"], 0)
	if pricePerNight == 0 {
		if n, ok := utils.PickMoney(hostingDetails, "_f_nightPrice", "nightPrice", "pricePerNight", "perNight", "per_night"); ok {
			pricePerNight = int(math.Round(n))
		} else if n, ok := utils.PickMoney(priceObj, "pricePerNight", "price_per_night", "perNight", "per_night", "_f_nightPrice"); ok {
			pricePerNight = int(math.Round(n))
		}
	}

	// price._f_total is usually the final total including fees; for the
	// accommodation base we prefer _f_expected.
	accommodationTotal, haveAccommodation := utils.PickMoney(priceObj,
		"_f_expected", "expected", "expectedTotal", "expected_total",
		"accommodation", "accommodationTotal", "accommodation_total", "subtotal", "sub_total")
	if !haveAccommodation {
		accommodationTotal, haveAccommodation = utils.PickMoney(hostingDetails,
			"_f_nightPrice", "nightPrice", "pricePerNight", "perNight", "per_night")
	}

	baseTotal, haveBase := utils.PickMoney(priceObj, "baseTotal", "base_total", "accommodation",
		"accommodationTotal", "accommodation_total", "subtotal", "sub_total")
	if !haveBase {
		n := utils.ParseMoney(input["baseTotal"], math.NaN())
		if !math.IsNaN(n) {
			baseTotal, haveBase = n, true
		}
	}

	cleaningFee := utils.ParseMoneyInt(input["cleaningFee"], 0)
	if cleaningFee == 0 {
		if n, ok := utils.PickMoney(priceObj, "cleaningFee", "cleaning_fee", "cleaning"); ok {
			cleaningFee = int(math.Round(n))
		}
	}
	serviceFee := utils.ParseMoneyInt(input["serviceFee"], 0)
	if serviceFee == 0 {
		if n, ok := utils.PickMoney(priceObj, "serviceFee", "service_fee", "service"); ok {
			serviceFee = int(math.Round(n))
		}
	}
	taxes := utils.ParseMoneyInt(input["taxes"], 0)
	if taxes == 0 {
		if n, ok := utils.PickMoney(priceObj, "taxes", "tax", "vat"); ok {
			taxes = int(math.Round(n))
		}
	}
	discount := utils.ParseMoneyInt(input["discount"], 0)
	if discount == 0 {
		if n, ok := utils.PickMoney(priceObj, "discount", "discounts", "coupon", "promotion"); ok {
			discount = int(math.Round(n))
		}
	}

	resolvedBaseTotal := pricePerNight * nights
	if haveAccommodation {
		resolvedBaseTotal = int(math.Round(accommodationTotal))
	} else if haveBase {
		resolvedBaseTotal = int(math.Round(baseTotal))
	}

	if cleaningFee == 0 && hostingFeesTotal > 0 {
		cleaningFee = int(math.Round(hostingFeesTotal))
	}

	rawType := utils.Stringify(firstPresent(input, "type", "reservationType", "typeReservation"))
	rawStatus := utils.Stringify(firstPresent(input,
		"status", "reservationStatus", "statusReservation", "bookingStatus", "status_reservation", "reservation_status"))
	derivedStatus := utils.DeriveReservationStatus(rawType, rawStatus)

	cancelledAt := utils.ParseOptionalTime(firstPresent(input,
		"cancelledAt", "canceledAt", "cancellationDate", "cancelDate", "cancelled_at"))
	if cancelledAt == nil && derivedStatus == models.ReservationCancelled {
		now := time.Now().UTC()
		cancelledAt = &now
	}
	cancellationReason := utils.Stringify(firstPresent(input,
		"cancellationReason", "cancellation_reason", "cancelReason", "cancel_reason"))

	guestsDetails, _ := input["guestsDetails"].(map[string]interface{})
	if guestsDetails == nil {
		guestsDetails, _ = input["guests_details"].(map[string]interface{})
	}
	if guestsDetails == nil {
		guestsDetails, _ = input["guests"].(map[string]interface{})
	}
	guestsAdults := utils.SafeInt(guestCount(guestsDetails, "adults"), 1)
	if guestsAdults < 1 {
		guestsAdults = 1
	}
	guestsChildren := utils.SafeInt(guestCount(guestsDetails, "children"), 0)
	guestsInfants := utils.SafeInt(guestCount(guestsDetails, "infants"), 0)
	guestsPets := utils.SafeInt(guestCount(guestsDetails, "pets"), 0)
	guestsTotal := utils.SafeInt(guestCount(guestsDetails, "total"), guestsAdults)

	// external_id carries the stable StayHub _id (used for API fetches);
	// the short confirmation code goes to reservation_code.
	externalID := utils.Stringify(firstPresent(input, "_id", "reservationId", "reserveId", "id"))
	if externalID == "" {
		externalID = id
	}
	reservationCode := utils.Stringify(firstPresent(input, "id", "confirmationCode"))
	externalURL := utils.Stringify(firstPresent(input, "reservationUrl", "url", "externalUrl"))

	var propertyID *uint
	if property != nil {
		propertyID = &property.ID
	} else if existing != nil {
		propertyID = existing.PropertyID
	}
	var guestID *uint
	if guest != nil {
		guestID = &guest.ID
	} else if existing != nil {
		guestID = existing.GuestID
	}

	total := resolvedBaseTotal + cleaningFee + serviceFee + taxes - discount
	if explicit, ok := utils.PickMoney(priceObj, "_f_total", "total", "grandTotal", "grand_total"); ok {
		total = int(math.Round(explicit))
	} else {
		n := utils.ParseMoney(input["total"], math.NaN())
		if !math.IsNaN(n) {
			total = int(math.Round(n))
		}
	}

	existingPlatform := ""
	if existing != nil {
		existingPlatform = existing.Platform
	}
	platform := derivePlatform(input, existingPlatform)

	var confirmedAt *time.Time
	if derivedStatus == models.ReservationConfirmed {
		now := time.Now().UTC()
		confirmedAt = &now
	}

	rawJSON, err := json.Marshal(input)
	if err != nil {
		rawJSON = []byte("{}")
	}

	return &models.Reservation{
		ID:             id,
		OrganizationID: organizationID,
		PropertyID:     propertyID,
		GuestID:        guestID,

		CheckIn:  checkIn,
		CheckOut: checkOut,
		Nights:   nights,

		GuestsAdults:   guestsAdults,
		GuestsChildren: guestsChildren,
		GuestsInfants:  guestsInfants,
		GuestsPets:     guestsPets,
		GuestsTotal:    guestsTotal,

		PricePerNight: pricePerNight,
		BaseTotal:     resolvedBaseTotal,
		CleaningFee:   cleaningFee,
		ServiceFee:    serviceFee,
		Taxes:         taxes,
		Discount:      discount,
		Total:         total,
		Currency:      currency,

		Status:             derivedStatus,
		Platform:           platform,
		ExternalID:         externalID,
		ExternalURL:        externalURL,
		ReservationCode:    reservationCode,
		PaymentStatus:      utils.MapPaymentStatus(utils.Stringify(input["paymentStatus"]), "pending"),
		PaymentMethod:      utils.Stringify(input["paymentMethod"]),
		Notes:              utils.Stringify(input["notes"]),
		SpecialRequests:    utils.Stringify(input["specialRequests"]),
		CancelledAt:        cancelledAt,
		CancellationReason: cancellationReason,
		ConfirmedAt:        confirmedAt,
		SourceCreatedAt:    utils.ParseOptionalTime(firstPresent(input, "createdAt", "created_at", "_dt")),

		SourceType: rawType,
		RawPayload: datatypes.JSON(rawJSON),
	}, nil
}

// derivePlatform keeps a concrete existing platform, otherwise maps the
// first recognizable candidate field. Most StayHub reservations with no
// channel marker are direct bookings.
func derivePlatform(input map[string]interface{}, existingPlatform string) string {
	if existingPlatform != "" && existingPlatform != "other" {
		return existingPlatform
	}
	for _, key := range []string{"platform", "source", "partner", "partnerName", "partnerCode", "ota", "channel", "channelName", "origin"} {
		if mapped := utils.MapPlatform(input[key]); mapped != "" {
			return mapped
		}
	}
	return "direct"
}

func firstPresent(obj map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			if s, isString := v.(string); isString && s == "" {
				continue
			}
			return v
		}
	}
	return nil
}

func guestCount(details map[string]interface{}, key string) interface{} {
	if details == nil {
		return nil
	}
	return details[key]
}
