package utils

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalization helpers for the loosely-typed values StayHub sends. Every
// function is total: malformed input degrades to the caller's fallback,
// never to an error.

// SafeInt coerces any JSON-decoded value to a rounded int.
func SafeInt(value interface{}, fallback int) int {
	if value == nil {
		return fallback
	}
	n := ParseMoney(value, math.NaN())
	if math.IsNaN(n) {
		return fallback
	}
	return int(math.Round(n))
}

// moneyObjectKeys are the spellings under which StayHub nests a total,
// depending on payload version. Order matters: the "_f_" fields are the
// formatted finals and win over the generic names.
var moneyObjectKeys = []string{
	"_f_total", "_f_val", "total", "amount", "value", "price", "grandTotal", "grand_total",
}

// ParseMoney coerces numbers, nested money objects and decimal strings to a
// float amount. Strings may use either "," or "." as the decimal separator;
// whichever appears last is treated as decimal ("1.234,56" and "1,234.56"
// both mean 1234.56).
func ParseMoney(value interface{}, fallback float64) float64 {
	switch v := value.(type) {
	case nil:
		return fallback
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fallback
		}
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case bool:
		return fallback
	case map[string]interface{}:
		for _, key := range moneyObjectKeys {
			if inner, ok := v[key]; ok {
				n := ParseMoney(inner, math.NaN())
				if !math.IsNaN(n) {
					return n
				}
			}
		}
		return fallback
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return fallback
		}
		var b strings.Builder
		for _, r := range s {
			if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
				b.WriteRune(r)
			}
		}
		s = b.String()
		if s == "" || s == "-" {
			return fallback
		}
		lastComma := strings.LastIndex(s, ",")
		lastDot := strings.LastIndex(s, ".")
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

// ParseMoneyInt parses a money value and rounds it to a whole unit. The
// pricing columns are integers; StayHub sends decimals ("813.38") that would
// otherwise fail the cast.
func ParseMoneyInt(value interface{}, fallback int) int {
	n := ParseMoney(value, math.NaN())
	if math.IsNaN(n) {
		return fallback
	}
	return int(math.Round(n))
}

// PickMoney tries keys in order on a decoded JSON object and returns the
// first parsable money value.
func PickMoney(obj interface{}, keys ...string) (float64, bool) {
	m, ok := obj.(map[string]interface{})
	if !ok {
		return 0, false
	}
	for _, key := range keys {
		if inner, present := m[key]; present {
			n := ParseMoney(inner, math.NaN())
			if !math.IsNaN(n) {
				return n, true
			}
		}
	}
	return 0, false
}

// ToYMD normalizes an ISO date or date-time value to "YYYY-MM-DD". Returns
// "" for anything that does not parse; never a half-parsed value.
func ToYMD(value interface{}) string {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	s = strings.TrimSpace(s)
	datePart := s
	if i := strings.IndexByte(s, 'T'); i > 0 {
		datePart = s[:i]
	}
	if _, err := time.Parse("2006-01-02", datePart); err != nil {
		return ""
	}
	return datePart
}

// CalcNights counts the nights between two YMD dates, rounding partial days
// up. Invalid input yields 0.
func CalcNights(startDate, endDate string) int {
	start, err1 := time.Parse("2006-01-02", startDate)
	end, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return 0
	}
	hours := end.Sub(start).Hours()
	return int(math.Ceil(hours / 24))
}

// ParseOptionalTime parses a timestamp-ish value to *time.Time, nil when the
// value is absent or unparsable.
func ParseOptionalTime(value interface{}) *time.Time {
	s, ok := value.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	s = strings.TrimSpace(s)
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

var reservationStatusMap = map[string]string{
	"pending":   "pending",
	"inquiry":   "pending",
	"confirmed": "confirmed",
	"checked_in":  "checked_in",
	"checked_out": "checked_out",
	"cancelled": "cancelled",
	"canceled":  "cancelled",
	// PT-BR (StayHub UI)
	"cancelada": "cancelled",
	"cancelado": "cancelled",
	"declined":  "cancelled",
	"expired":   "cancelled",
	"no_show":   "no_show",
}

// MapReservationStatus maps the many StayHub status spellings onto the
// canonical set. Unknown values fall back to "pending".
func MapReservationStatus(status string) string {
	v := strings.ToLower(strings.TrimSpace(status))
	if v == "" {
		return "pending"
	}
	if mapped, ok := reservationStatusMap[v]; ok {
		return mapped
	}
	return "pending"
}

// DeriveReservationStatus derives the canonical status from the type field
// first, then from the status field. StayHub overloads "type" to carry state
// transitions its "status" field does not reliably reflect: an explicit
// cancellation/no-show type always wins over a generic "pending".
func DeriveReservationStatus(typ, status string) string {
	typeLower := strings.ToLower(strings.TrimSpace(typ))
	switch typeLower {
	case "canceled", "cancelled", "cancelada", "cancelado":
		return "cancelled"
	case "no_show":
		return "no_show"
	}

	fromStatus := MapReservationStatus(status)
	if fromStatus == "pending" {
		switch typeLower {
		case "booked", "contract", "reserva", "contrato":
			return "confirmed"
		case "reserved", "pré-reserva", "pre-reserva", "prereserva":
			return "pending"
		}
	}
	return fromStatus
}

// IsBlockLikeType reports whether a StayHub type value denotes a calendar
// block (owner block, maintenance, unavailable) rather than a reservation.
// Includes the PT-BR spellings the StayHub UI produces.
func IsBlockLikeType(rawType interface{}) bool {
	t := strings.ToLower(strings.TrimSpace(stringify(rawType)))
	if t == "" {
		return false
	}

	switch t {
	case "blocked", "maintenance", "unavailable", "owner_block", "ownerblock", "block":
		return true
	case "bloqueado", "bloqueio", "indisponivel", "indisponível", "manutenção", "manutencao":
		return true
	}

	// Some payloads use compound tokens
	if strings.Contains(t, "maintenance") || strings.Contains(t, "manut") {
		return true
	}
	if strings.Contains(t, "owner") && strings.Contains(t, "block") {
		return true
	}
	if strings.Contains(t, "bloq") {
		return true
	}

	return false
}

// BlockSubtypeFromType splits the block vocabulary into maintenance vs simple.
func BlockSubtypeFromType(rawType interface{}) string {
	t := strings.ToLower(strings.TrimSpace(stringify(rawType)))
	if t == "maintenance" || t == "manutenção" || t == "manutencao" {
		return "maintenance"
	}
	return "simple"
}

// BlockReasonFromType builds the reason string stored on StayHub-created
// blocks. The "(StayHub)" marker is what scopes later deletions to blocks
// this integration owns.
func BlockReasonFromType(rawType interface{}) string {
	if BlockSubtypeFromType(rawType) == "maintenance" {
		return "Maintenance (StayHub)"
	}
	return "Block (StayHub)"
}

// MapPlatform maps a free-form platform/partner token onto the known
// platform tags; "" when unrecognized.
func MapPlatform(input interface{}) string {
	if input == nil {
		return ""
	}
	var token string
	switch v := input.(type) {
	case string:
		token = v
	case map[string]interface{}:
		parts := []string{}
		for _, key := range []string{"name", "code", "platform", "source"} {
			if s := stringify(v[key]); s != "" {
				parts = append(parts, s)
			}
		}
		token = strings.Join(parts, " ")
	default:
		token = stringify(input)
	}
	s := strings.ToLower(token)
	switch {
	case strings.Contains(s, "airbnb"):
		return "airbnb"
	case strings.Contains(s, "booking"):
		return "booking"
	case strings.Contains(s, "decolar"):
		return "decolar"
	case strings.Contains(s, "direct"):
		return "direct"
	}
	return ""
}

var paymentStatusMap = map[string]string{
	"pending":        "pending",
	"paid":           "paid",
	"completed":      "paid",
	"partial":        "partial",
	"partially_paid": "partial",
	"refunded":       "refunded",
	"refund":         "refunded",
}

// MapPaymentStatus maps StayHub payment statuses; unknown spellings fall
// back to the supplied default.
func MapPaymentStatus(raw, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return fallback
	}
	if mapped, ok := paymentStatusMap[v]; ok {
		return mapped
	}
	return fallback
}

// SanitizeDigits strips everything but digits.
func SanitizeDigits(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitName splits a free-form full name into first and last parts.
func SplitName(fullName string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(fullName))
	switch {
	case len(parts) >= 2:
		return parts[0], strings.Join(parts[1:], " ")
	case len(parts) == 1:
		return parts[0], ""
	default:
		return "", ""
	}
}

// stringify renders scalar JSON values as strings; "" for nil.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Stringify is the exported form used by the payload extractors.
func Stringify(value interface{}) string { return stringify(value) }
