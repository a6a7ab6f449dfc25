package services

import (
	"strings"
	"testing"

	"stayhub-sync-server/models"
)

func TestExtractGuestDataWithEmail(t *testing.T) {
	payload := map[string]interface{}{
		"guest": map[string]interface{}{
			"name":  "João Pereira",
			"email": "joao@example.com",
			"phone": "+55 11 99999-0000",
		},
	}
	extracted := ExtractGuestData(payload)
	if extracted.Email != "joao@example.com" {
		t.Fatalf("email: got %q", extracted.Email)
	}
	if extracted.FirstName != "João" || extracted.LastName != "Pereira" {
		t.Fatalf("name split: got %q / %q", extracted.FirstName, extracted.LastName)
	}
}

func TestExtractGuestDataSyntheticEmailDeterministic(t *testing.T) {
	payload := map[string]interface{}{
		"_id":       "RES-100",
		"guestName": "Maria Souza",
		"guestCpf":  "123.456.789-00",
	}
	first := ExtractGuestData(payload)
	second := ExtractGuestData(payload)

	if first.Email == "" || !strings.HasPrefix(first.Email, "noemail-") || !strings.HasSuffix(first.Email, "@stayhub.local") {
		t.Fatalf("synthetic email malformed: %q", first.Email)
	}
	if first.Email != second.Email {
		t.Fatalf("synthetic email not deterministic: %q vs %q", first.Email, second.Email)
	}

	// A different identity seed must produce a different address.
	other := ExtractGuestData(map[string]interface{}{
		"_id":       "RES-100",
		"guestName": "Maria Souza",
		"guestCpf":  "999.999.999-99",
	})
	if other.Email == first.Email {
		t.Fatalf("different documents should not collide: %q", other.Email)
	}
}

func TestExtractGuestDataPrimaryOccupantFallback(t *testing.T) {
	payload := map[string]interface{}{
		"guestsDetails": map[string]interface{}{
			"list": []interface{}{
				map[string]interface{}{"name": "Extra Guest"},
				map[string]interface{}{
					"name":    "Ana Lima",
					"primary": true,
					"phones":  []interface{}{map[string]interface{}{"iso": "+5511988887777"}},
				},
			},
		},
	}
	extracted := ExtractGuestData(payload)
	if extracted.FirstName != "Ana" || extracted.LastName != "Lima" {
		t.Fatalf("primary occupant not used: %q / %q", extracted.FirstName, extracted.LastName)
	}
	if extracted.Phone != "+5511988887777" {
		t.Fatalf("primary phone not used: %q", extracted.Phone)
	}
}

func TestResolveOrCreateGuestDeduplicates(t *testing.T) {
	db := openTestDB(t)

	payload := map[string]interface{}{
		"guestName":  "Carlos Mendes",
		"guestEmail": "carlos@example.com",
	}

	first := ResolveOrCreateGuest(db, "org-1", payload)
	if first == nil {
		t.Fatal("expected a guest on first resolution")
	}
	second := ResolveOrCreateGuest(db, "org-1", payload)
	if second == nil || second.ID != first.ID {
		t.Fatalf("same email should resolve to same guest: %v vs %v", first, second)
	}

	var count int64
	db.Model(&models.Guest{}).Where("organization_id = ?", "org-1").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 guest row, got %d", count)
	}

	// Same email, different organization: separate guest.
	other := ResolveOrCreateGuest(db, "org-2", payload)
	if other == nil || other.ID == first.ID {
		t.Fatal("guests must be scoped per organization")
	}
}

func TestResolveOrCreateGuestByClientID(t *testing.T) {
	db := openTestDB(t)

	created := ResolveOrCreateGuest(db, "org-1", map[string]interface{}{
		"_idclient":  "client-77",
		"guestName":  "Beatriz Rocha",
		"guestEmail": "bia@example.com",
	})
	if created == nil {
		t.Fatal("expected guest")
	}

	// Later payload: same client id, no email at all.
	resolved := ResolveOrCreateGuest(db, "org-1", map[string]interface{}{
		"_idclient": "client-77",
		"guestName": "Beatriz Rocha",
	})
	if resolved == nil || resolved.ID != created.ID {
		t.Fatal("client id lookup should resolve to the existing guest")
	}
}

func TestEnrichGuestFillsOnlyMissing(t *testing.T) {
	db := openTestDB(t)

	guest := models.Guest{
		OrganizationID: "org-1",
		FirstName:      "Original",
		Email:          "orig@example.com",
	}
	if err := db.Create(&guest).Error; err != nil {
		t.Fatalf("seed guest: %v", err)
	}

	resolved := ResolveOrCreateGuest(db, "org-1", map[string]interface{}{
		"guestEmail": "orig@example.com",
		"guestName":  "Replacement Name",
		"guestPhone": "+551100000000",
	})
	if resolved == nil || resolved.ID != guest.ID {
		t.Fatal("should resolve the existing row")
	}

	var reloaded models.Guest
	db.First(&reloaded, guest.ID)
	if reloaded.FirstName != "Original" {
		t.Fatalf("existing first name overwritten: %q", reloaded.FirstName)
	}
	if reloaded.Phone != "+551100000000" {
		t.Fatalf("missing phone not filled: %q", reloaded.Phone)
	}
}
