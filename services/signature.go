package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"stayhub-sync-server/models"
)

// SignatureResult is the typed verification outcome recorded on the stored
// event. Verification never fails with an error; malformed signatures are
// outcomes, not exceptions.
type SignatureResult struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// VerifySignature checks the webhook signature header against an
// HMAC-SHA256 of the exact raw body bytes. The header value may be hex or
// base64, with or without a "sha256="/"hmac-sha256=" prefix. Comparison is
// constant-time. When verification is disabled the event is accepted
// unauthenticated and that is recorded, not silently ignored.
func VerifySignature(rawBody []byte, header string, enabled bool, secret string) SignatureResult {
	if !enabled {
		return SignatureResult{Status: models.SignatureNotApplicable, Reason: "verification disabled"}
	}
	if secret == "" {
		return SignatureResult{Status: models.SignatureMisconfigured, Reason: "verify enabled but secret missing"}
	}
	provided := strings.TrimSpace(header)
	if provided == "" {
		return SignatureResult{Status: models.SignatureMissingHeader, Reason: "missing signature header"}
	}

	cleaned := provided
	for _, prefix := range []string{"sha256=", "hmac-sha256=", "SHA256=", "HMAC-SHA256="} {
		if strings.HasPrefix(cleaned, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			break
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	computed := mac.Sum(nil)

	expected, reason := decodeSignature(cleaned)
	if expected == nil {
		return SignatureResult{Status: models.SignatureMismatch, Reason: reason}
	}
	if !hmac.Equal(expected, computed) {
		return SignatureResult{Status: models.SignatureMismatch, Reason: "mismatch"}
	}
	return SignatureResult{Status: models.SignatureVerified, Reason: "ok"}
}

// decodeSignature accepts hex first (unambiguous alphabet), then strict
// base64.
func decodeSignature(value string) ([]byte, string) {
	if value == "" {
		return nil, "empty signature"
	}
	if isHexString(value) && len(value)%2 == 0 {
		decoded, err := hex.DecodeString(value)
		if err == nil {
			return decoded, ""
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, "undecodable signature encoding"
	}
	return decoded, ""
}

func isHexString(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(value) > 0
}
