package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/id"
	"github.com/shelfieapp/shelfie/internal/identity"
)

const (
	tokenIssuer   = "shelfd"
	tokenAudience = "shelfie"

	// PASETO v4 symmetric key requirements.
	keyBytesSize = 32 // 256 bits
	keyHexSize   = 64 // 32 bytes as hex string
)

// TokenService handles PASETO token generation and verification.
type TokenService struct {
	symmetricKey paseto.V4SymmetricKey
	duration     time.Duration
	now          func() time.Time
}

// NewTokenService creates a token service from a hex-encoded 32-byte key.
func NewTokenService(keyHex string, duration time.Duration) (*TokenService, error) {
	if len(keyHex) != keyHexSize {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d hex characters (%d bytes), got %d", keyHexSize, keyBytesSize, len(keyHex))
	}

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string for PASETO key: %w", err)
	}

	return NewTokenServiceFromKey(keyBytes, duration)
}

// NewTokenServiceFromKey creates a token service from raw key bytes.
func NewTokenServiceFromKey(key []byte, duration time.Duration) (*TokenService, error) {
	if len(key) != keyBytesSize {
		return nil, fmt.Errorf("decoded key must be exactly %d bytes, got %d", keyBytesSize, len(key))
	}

	symmetricKey, err := paseto.V4SymmetricKeyFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	return &TokenService{
		symmetricKey: symmetricKey,
		duration:     duration,
		now:          time.Now,
	}, nil
}

// Generate creates a PASETO v4.local token whose subject is userID.
func (s *TokenService) Generate(userID, email string) (string, error) {
	if userID == "" {
		return "", domainerrors.Validation("user id is required")
	}
	now := s.now()

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetSubject(userID)
	token.SetAudience(tokenAudience)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(s.duration))

	tokenID, err := id.Generate(id.PrefixToken)
	if err != nil {
		return "", fmt.Errorf("generate token ID: %w", err)
	}
	token.SetJti(tokenID)

	//nolint:errcheck // Token.Set only errors on invalid types, which we control
	_ = token.Set("user_id", userID)
	if email != "" {
		//nolint:errcheck // Token.Set only errors on invalid types, which we control
		_ = token.Set("email", email)
	}

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// VerifyToken decrypts and validates a token, returning its claims.
func (s *TokenService) VerifyToken(tokenString string) (*Claims, error) {
	parser := paseto.NewParser()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.NotExpired())
	parser.AddRule(paseto.ValidAt(s.now()))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return nil, domainerrors.Unauthorized("invalid token").WithCause(err)
	}

	var claims Claims
	if err := json.Unmarshal(token.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, domainerrors.Unauthorized("token has no subject")
	}

	return &claims, nil
}

// Verify implements identity.Verifier for in-process sign-in.
func (s *TokenService) Verify(_ context.Context, token string) (identity.Identity, error) {
	claims, err := s.VerifyToken(token)
	if err != nil {
		return identity.Identity{}, err
	}
	return claims.Identity(), nil
}

// Duration returns the configured token lifetime.
func (s *TokenService) Duration() time.Duration {
	return s.duration
}
