package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMissing is returned when no identity token was supplied.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenInvalid is returned when the supplied token fails verification.
	ErrTokenInvalid = errors.New("invalid or expired token")
)

// TokenVerifier validates an opaque identity token issued by the identity
// service and returns the profile ID it carries. This service never mints
// tokens, it only consumes them.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type jwtTokenVerifier struct {
	secret []byte
}

// NewJWTTokenVerifier creates a verifier for HMAC-signed identity tokens.
func NewJWTTokenVerifier(secret string) TokenVerifier {
	return &jwtTokenVerifier{secret: []byte(secret)}
}

func (v *jwtTokenVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrTokenInvalid
	}

	profileID, err := parsed.Claims.GetSubject()
	if err != nil || profileID == "" {
		return "", ErrTokenInvalid
	}

	return profileID, nil
}

// ProfileIDFromRequest extracts and verifies the bearer token on a read-side
// HTTP request, returning the authenticated profile ID.
func ProfileIDFromRequest(r *http.Request, verifier TokenVerifier) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrTokenMissing
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", ErrTokenMissing
	}

	return verifier.Verify(r.Context(), token)
}
