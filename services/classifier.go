package services

import (
	"strings"

	"stayhub-sync-server/utils"
)

// EventClass is the terminal classification of one webhook event.
type EventClass int

const (
	// ClassIgnored: the action is not a reservation lifecycle event.
	ClassIgnored EventClass = iota
	// ClassPaymentSkip: payment-line notifications are recognized and
	// short-circuited; treating a payment id as a reservation id would
	// corrupt the cancellation-candidate search.
	ClassPaymentSkip
	// ClassCancellation: the action itself denotes delete/cancel.
	ClassCancellation
	// ClassBlock: the payload type matches the block vocabulary. Checked
	// before any reservation-shaped mapping because block payloads do not
	// reliably carry reservation fields.
	ClassBlock
	// ClassReservation: default reservation create/update.
	ClassReservation
)

// ClassifyEvent decides which record class an event represents. Cancellation
// wins over block: a cancel/delete action for a block-like payload means the
// target is a Block deletion.
func ClassifyEvent(action string, payload interface{}) EventClass {
	a := strings.ToLower(strings.TrimSpace(action))
	if !strings.HasPrefix(a, "reservation.") {
		return ClassIgnored
	}
	if strings.HasPrefix(a, "reservation.payments.") {
		return ClassPaymentSkip
	}
	if IsCancellationAction(a) {
		return ClassCancellation
	}
	if utils.IsBlockLikeType(payloadType(payload)) {
		return ClassBlock
	}
	return ClassReservation
}

// IsCancellationAction reports whether the action name denotes delete/cancel,
// independent of the payload's internal type field. StayHub sends
// `reservation.deleted` when a reservation is cancelled.
func IsCancellationAction(action string) bool {
	a := strings.ToLower(strings.TrimSpace(action))
	switch a {
	case "reservation.canceled", "reservation.cancelled", "reservation.deleted":
		return true
	}
	// Some integrations send suffixed variants.
	if strings.HasPrefix(a, "reservation.") &&
		(strings.HasSuffix(a, ".deleted") || strings.HasSuffix(a, ".canceled") || strings.HasSuffix(a, ".cancelled")) {
		return true
	}
	return false
}

// UnwrapPayload peels the common webhook envelopes (payload/data and
// reservation/booking nesting) and returns the object most likely to be the
// reservation itself. Non-objects come back as an empty map.
func UnwrapPayload(input interface{}) map[string]interface{} {
	obj, ok := input.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	for _, key := range []string{"payload", "data", "reservation", "booking"} {
		if nested, ok := obj[key].(map[string]interface{}); ok {
			return nested
		}
	}
	return obj
}

func payloadType(payload interface{}) interface{} {
	return UnwrapPayload(payload)["type"]
}

// ExtractReservationID returns the first usable external reservation id from
// the payload, or "".
func ExtractReservationID(payload interface{}) string {
	candidates := ExtractIDCandidates(payload)
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0]
}

// ExtractIDCandidates collects every spelling under which the payload may
// carry the reservation id, deduplicated and in priority order. The same
// underlying booking arrives under different identifiers across payload
// versions (internal _id vs confirmation code), so cancellation and dedup
// searches must try them all.
func ExtractIDCandidates(payload interface{}) []string {
	p := UnwrapPayload(payload)

	raw := []interface{}{
		p["_id"],
		p["id"],
		p["reservationId"],
		p["reserveId"],
		p["_idreservation"],
		p["_id_reservation"],
		p["idreservation"],
		p["id_reservation"],
		p["confirmationCode"],
		p["partnerCode"],
	}
	if nested, ok := p["reservation"].(map[string]interface{}); ok {
		raw = append(raw, nested["_id"], nested["id"], nested["confirmationCode"])
	}

	seen := map[string]bool{}
	out := []string{}
	for _, v := range raw {
		s := strings.TrimSpace(utils.Stringify(v))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ExtractListingCandidate pulls the external listing/property identifier out
// of whichever shape the payload uses: direct id fields, a nested
// listing/property/unit object, or the raw sub-object.
func ExtractListingCandidate(payload interface{}) string {
	r := UnwrapPayload(payload)

	direct := []string{
		"_idlisting", "_id_listing", "idlisting", "id_listing",
		"listingId", "listing_id", "propertyId", "property_id",
		"_idproperty", "_id_property", "idproperty", "id_property",
	}
	for _, key := range direct {
		if s := strings.TrimSpace(utils.Stringify(r[key])); s != "" {
			return s
		}
	}

	for _, key := range []string{"listing", "property", "apartment", "unit"} {
		nested, ok := r[key].(map[string]interface{})
		if !ok {
			continue
		}
		for _, nkey := range []string{"_id", "id", "_idlisting", "listingId", "listing_id", "propertyId", "property_id", "code"} {
			if s := strings.TrimSpace(utils.Stringify(nested[nkey])); s != "" {
				return s
			}
		}
	}

	// Some payloads come enveloped in the stored raw object
	if rawObj, ok := r["raw"].(map[string]interface{}); ok {
		for _, key := range []string{"_idlisting", "_id_listing", "listingId", "listing_id", "propertyId", "property_id"} {
			if s := strings.TrimSpace(utils.Stringify(rawObj[key])); s != "" {
				return s
			}
		}
	}

	return ""
}

// ExtractDateRange normalizes the stay range out of the payload; either side
// may come back "".
func ExtractDateRange(payload interface{}) (string, string) {
	r := UnwrapPayload(payload)
	start := ""
	for _, key := range []string{"checkInDate", "checkIn", "check_in", "startDate", "start_date"} {
		if start = utils.ToYMD(r[key]); start != "" {
			break
		}
	}
	end := ""
	for _, key := range []string{"checkOutDate", "checkOut", "check_out", "endDate", "end_date"} {
		if end = utils.ToYMD(r[key]); end != "" {
			break
		}
	}
	return start, end
}
