package services

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"stayhub-sync-server/models"
	"stayhub-sync-server/utils"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExtractedGuest is the normalized guest identity pulled out of a StayHub
// reservation payload.
type ExtractedGuest struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DocumentID  string
	Passport    string
	BirthDate   string
	Nationality string
	Language    string
	Source      string
	ClientID    string
	Raw         map[string]interface{}
}

// hash32Hex is djb2 over the identity seed. Non-cryptographic on purpose:
// the goal is a stable dedup address, not secrecy. Two genuinely different
// guests sharing every identity fragment would collide, which matches the
// upstream dedup-by-email behavior.
func hash32Hex(input string) string {
	var hash uint32 = 5381
	for _, b := range []byte(input) {
		hash = ((hash << 5) + hash) ^ uint32(b)
	}
	return fmt.Sprintf("%08x", hash)
}

func firstNonEmpty(values ...interface{}) string {
	for _, v := range values {
		if s := strings.TrimSpace(utils.Stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

// ExtractGuestData pulls name/email/phone/documents out of the several
// payload shapes StayHub uses and synthesizes a deterministic placeholder
// email when the source provides none, so repeated deliveries of the same
// person resolve to the same Guest.
func ExtractGuestData(payload interface{}) ExtractedGuest {
	res := UnwrapPayload(payload)
	guestObj, _ := res["guest"].(map[string]interface{})
	if guestObj == nil {
		guestObj = map[string]interface{}{}
	}

	// guestsDetails.list may carry the primary occupant when no guest
	// object is present.
	var primaryName, primaryPhone string
	if details, ok := res["guestsDetails"].(map[string]interface{}); ok {
		if list, ok := details["list"].([]interface{}); ok && len(list) > 0 {
			var primary map[string]interface{}
			for _, item := range list {
				entry, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if primary == nil {
					primary = entry
				}
				if isPrimary, _ := entry["primary"].(bool); isPrimary {
					primary = entry
					break
				}
			}
			if primary != nil {
				primaryName = strings.TrimSpace(utils.Stringify(primary["name"]))
				if phones, ok := primary["phones"].([]interface{}); ok && len(phones) > 0 {
					if p0, ok := phones[0].(map[string]interface{}); ok {
						primaryPhone = strings.TrimSpace(utils.Stringify(p0["iso"]))
					}
				}
			}
		}
	}

	clientID := strings.TrimSpace(utils.Stringify(res["_idclient"]))

	email := firstNonEmpty(
		res["guestEmail"], res["email"], res["clientEmail"], res["customerEmail"], res["contactEmail"],
		guestObj["email"], guestObj["mail"], guestObj["emailAddress"], guestObj["contactEmail"],
	)

	firstName := firstNonEmpty(res["guestFirstName"], guestObj["firstName"], guestObj["first_name"])
	lastName := firstNonEmpty(res["guestLastName"], guestObj["lastName"], guestObj["last_name"])
	if firstName == "" && lastName == "" {
		fullName := firstNonEmpty(res["guestName"], guestObj["name"], guestObj["fullName"], guestObj["full_name"])
		if fullName == "" {
			fullName = primaryName
		}
		firstName, lastName = utils.SplitName(fullName)
	}
	if firstName == "" {
		if email != "" && strings.Contains(email, "@") {
			firstName = strings.SplitN(email, "@", 2)[0]
		} else {
			firstName = "Guest"
		}
	}

	rawSource := firstNonEmpty(res["platform"], res["source"])
	if rawSource == "" {
		if partner, ok := res["partner"].(map[string]interface{}); ok {
			rawSource = firstNonEmpty(partner["name"], partner["code"])
		}
	}
	source := utils.MapPlatform(rawSource)
	if source == "" {
		source = "other"
	}

	documentID := firstNonEmpty(res["guestCpf"], guestObj["cpf"], guestObj["documentId"])
	passport := firstNonEmpty(res["guestPassport"], guestObj["passport"])
	phone := firstNonEmpty(
		res["guestPhone"], res["phone"], res["clientPhone"], res["customerPhone"], res["contactPhone"],
		guestObj["phone"], guestObj["phoneNumber"], guestObj["phone_number"],
		guestObj["mobile"], guestObj["cellphone"], guestObj["telephone"],
	)
	if phone == "" {
		phone = primaryPhone
	}

	if email == "" || !strings.Contains(email, "@") {
		seed := []string{}
		if documentID != "" {
			seed = append(seed, "doc:"+utils.SanitizeDigits(documentID))
		}
		if passport != "" {
			seed = append(seed, "passport:"+passport)
		}
		if phone != "" {
			seed = append(seed, "phone:"+utils.SanitizeDigits(phone))
		}
		seed = append(seed, "name:"+firstName+" "+lastName)
		seed = append(seed, "res:"+firstNonEmpty(res["_id"], res["id"], res["confirmationCode"], res["reservationId"]))
		email = "noemail-" + hash32Hex(strings.Join(seed, "|")) + "@stayhub.local"
	}

	language := firstNonEmpty(guestObj["language"])
	if language == "" {
		language = "pt-BR"
	}

	return ExtractedGuest{
		FirstName:   firstName,
		LastName:    lastName,
		Email:       email,
		Phone:       phone,
		DocumentID:  documentID,
		Passport:    passport,
		BirthDate:   utils.ToYMD(guestObj["birthDate"]),
		Nationality: firstNonEmpty(guestObj["nationality"]),
		Language:    language,
		Source:      source,
		ClientID:    clientID,
		Raw: map[string]interface{}{
			"_idclient":  clientID,
			"guest":      guestObj,
			"guestEmail": firstNonEmpty(res["guestEmail"], res["email"]),
			"guestName":  firstNonEmpty(res["guestName"], guestObj["name"], guestObj["fullName"], primaryName),
			"platform":   strings.TrimSpace(utils.Stringify(res["platform"])),
			"source":     strings.TrimSpace(utils.Stringify(res["source"])),
			"partner":    res["partner"],
		},
	}
}

// enrichGuest fills fields the existing row is missing. Existing values are
// never overwritten; StayHub data only ever adds.
func enrichGuest(db *gorm.DB, existing *models.Guest, extracted ExtractedGuest) {
	update := map[string]interface{}{}
	if existing.Phone == "" && extracted.Phone != "" {
		update["phone"] = extracted.Phone
	}
	if existing.FirstName == "" && extracted.FirstName != "" {
		update["first_name"] = extracted.FirstName
	}
	if existing.LastName == "" && extracted.LastName != "" {
		update["last_name"] = extracted.LastName
	}
	if existing.StayHubClientID == "" && extracted.ClientID != "" {
		update["stay_hub_client_id"] = extracted.ClientID
	}
	if len(update) == 0 {
		return
	}
	if err := db.Model(&models.Guest{}).Where("id = ?", existing.ID).Updates(update).Error; err != nil {
		log.Printf("[StayHub] failed enriching guest %d: %v", existing.ID, err)
	}
}

// ResolveOrCreateGuest looks up the guest by StayHub client id, then by
// (organization, email); on miss it inserts, and on insert failure (unique
// race with a concurrent resolution) re-attempts the lookup once. Returns
// nil only when nothing could be resolved or created; a reservation may
// exist briefly without a guest.
func ResolveOrCreateGuest(db *gorm.DB, organizationID string, payload interface{}) *models.Guest {
	extracted := ExtractGuestData(payload)
	if extracted.Email == "" {
		return nil
	}

	if extracted.ClientID != "" {
		var existing models.Guest
		err := db.Where("organization_id = ? AND stay_hub_client_id = ?", organizationID, extracted.ClientID).
			First(&existing).Error
		if err == nil {
			enrichGuest(db, &existing, extracted)
			return &existing
		}
	}

	var existing models.Guest
	err := db.Where("organization_id = ? AND email = ?", organizationID, extracted.Email).First(&existing).Error
	if err == nil {
		enrichGuest(db, &existing, extracted)
		return &existing
	}

	rawJSON, _ := json.Marshal(extracted.Raw)
	guest := models.Guest{
		OrganizationID:  organizationID,
		FirstName:       extracted.FirstName,
		LastName:        extracted.LastName,
		Email:           extracted.Email,
		Phone:           extracted.Phone,
		DocumentID:      extracted.DocumentID,
		Passport:        extracted.Passport,
		BirthDate:       extracted.BirthDate,
		Nationality:     extracted.Nationality,
		Language:        extracted.Language,
		Source:          extracted.Source,
		StayHubClientID: extracted.ClientID,
		RawPayload:      datatypes.JSON(rawJSON),
	}
	if err := db.Create(&guest).Error; err != nil {
		// Likely the (organization, email) unique constraint firing under
		// concurrent resolution of the same person; the winner's row is
		// what we want.
		log.Printf("[StayHub] guest insert failed, retrying lookup: %v", err)
		var retried models.Guest
		if err := db.Where("organization_id = ? AND email = ?", organizationID, extracted.Email).
			First(&retried).Error; err == nil {
			return &retried
		}
		return nil
	}
	return &guest
}
