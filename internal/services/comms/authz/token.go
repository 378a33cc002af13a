package authz

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// Claims is the identity token payload: the registered claims plus the
// caller's role. The subject carries the user ID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer is the expected iss claim on identity tokens.
const TokenIssuer = "classpulse"

// NewToken signs an HS256 identity token.
func NewToken(secret []byte, userID string, role domain.Role, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("signing secret is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now = now.UTC()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseIdentity validates an identity token and returns the caller identity.
// Only HS256 tokens from the expected issuer are accepted.
func ParseIdentity(tokenString string, secret []byte) (domain.Identity, error) {
	if len(secret) == 0 {
		return domain.Identity{}, fmt.Errorf("signing secret is required")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse identity token: %w", err)
	}

	role := domain.Role(claims.Role)
	if !role.Valid() {
		return domain.Identity{}, fmt.Errorf("unknown role %q in token", claims.Role)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("token subject is required")
	}
	return domain.Identity{UserID: claims.Subject, Role: role}, nil
}
