package utils

import (
	"os"
	"time"

	"github.com/kataras/iris/v12/middleware/jwt"
)

// AccessToken is the claims shape carried by the operational API tokens.
// Only operators (the dashboard backend and the scheduler) hold these; the
// webhook receiver itself is authenticated by signature, not JWT.
type AccessToken struct {
	ID   uint   `json:"id"`
	Role string `json:"role"`
}

func CreateAccessToken(id uint, role string) (string, error) {
	signer := jwt.NewSigner(jwt.HS256, os.Getenv("ACCESS_TOKEN_SECRET"), 24*time.Hour)
	token, err := signer.Sign(AccessToken{ID: id, Role: role})
	if err != nil {
		return "", err
	}
	return string(token), nil
}

func NewAccessTokenVerifier() *jwt.Verifier {
	return jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
}
