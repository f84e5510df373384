// Package auth issues and verifies the signed session tokens used by both
// the portal cookie and the API bearer header.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erazemk/knjiznica/internal/model"
)

// Issuer is set on every token and required on validation.
const Issuer = "knjiznica"

// DefaultTokenExpiry is used when an Issuer is configured without a TTL.
const DefaultTokenExpiry = 7 * 24 * time.Hour

// Claims represents the JWT claims.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// LibrarianID returns the signed-in user's ID for recording on loans.
func (c *Claims) LibrarianID() *int64 {
	id := c.UserID
	return &id
}

// Tokens signs and verifies session tokens with a shared secret.
type Tokens struct {
	Secret string
	TTL    time.Duration
}

// Generate creates a token for the user with a unique JTI.
func (t Tokens) Generate(user *model.User) (string, *Claims, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", nil, fmt.Errorf("generating JTI: %w", err)
	}

	ttl := t.TTL
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}
	now := time.Now()

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    Issuer,
			Subject:   fmt.Sprint(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims, nil
}

// Validate parses and validates a token, returning the claims.
func (t Tokens) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(t.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !model.ValidRole(claims.Role) {
		return nil, fmt.Errorf("invalid role %q", claims.Role)
	}

	return claims, nil
}

// generateJTI creates a random token ID.
func generateJTI() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
