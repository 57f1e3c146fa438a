package auth

import (
	"context"
	"errors"
	"fmt"
	"ms-booking/internal/models"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authorization header is missing")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("token carries no booking role")
)

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

type roleMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims is the JWT payload issued by the identity provider. The booking role
// may sit in app_metadata, user_metadata or the top-level role claim.
type Claims struct {
	jwt.RegisteredClaims
	Role         string       `json:"role,omitempty"`
	AppMetadata  roleMetadata `json:"app_metadata,omitempty"`
	UserMetadata roleMetadata `json:"user_metadata,omitempty"`
}

// Actor resolves the caller from verified claims.
func (c Claims) Actor() (models.Actor, error) {
	if c.Subject == "" {
		return models.Actor{}, fmt.Errorf("%w: subject claim not found", ErrInvalidToken)
	}
	for _, candidate := range []string{c.AppMetadata.Role, c.UserMetadata.Role, c.Role} {
		role := models.Role(strings.ToLower(candidate))
		if role.Valid() {
			return models.Actor{ID: c.Subject, Role: role}, nil
		}
	}
	return models.Actor{}, ErrUnknownRole
}

// HS256Verifier checks tokens signed with a shared secret.
type HS256Verifier struct {
	secret []byte
}

func NewHS256Verifier(secret string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret)}
}

func (v *HS256Verifier) Verify(ctx context.Context, raw string) (models.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Actor()
}

// SignHS256 issues a token for actor. Used by tests and local tooling only.
func SignHS256(secret string, actor models.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.ID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: claims,
		AppMetadata:      roleMetadata{Role: string(actor.Role)},
	})
	return token.SignedString([]byte(secret))
}
