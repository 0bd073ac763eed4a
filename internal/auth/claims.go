package auth

import (
	"time"

	"github.com/shelfieapp/shelfie/internal/identity"
)

// Claims is the decrypted payload of an identity token. The subject is the
// owner id that scopes every document the bearer may touch.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`

	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}

// Identity returns the signed-in identity the claims describe.
func (c *Claims) Identity() identity.Identity {
	return identity.Identity{UserID: c.Subject, Email: c.Email}
}
