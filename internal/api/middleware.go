package api

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type keyType string

const userIDKey keyType = "userID"

// ctxWithUserID adds a user ID to the context
func ctxWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id set by Authenticator.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// Authenticator verifies session tokens issued by the identity provider.
// HS256 tokens are checked against a shared secret, RS256 tokens against a PEM public key.
type Authenticator struct {
	secret    []byte
	publicKey *rsa.PublicKey
}

func NewAuthenticator(secret, publicKeyPEM string) (*Authenticator, error) {
	a := &Authenticator{}
	if secret != "" {
		a.secret = []byte(secret)
	}
	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
		}
		a.publicKey = key
	}
	if a.secret == nil && a.publicKey == nil {
		return nil, fmt.Errorf("no JWT verification key configured")
	}
	return a, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if a.secret != nil {
			return a.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if a.publicKey != nil {
			return a.publicKey, nil
		}
	}
	return nil, jwt.ErrSignatureInvalid
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject as the user id.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			respondError(w, http.StatusUnauthorized, "Empty token")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, a.keyFunc,
			jwt.WithValidMethods([]string{"HS256", "RS256"}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			respondError(w, http.StatusUnauthorized, "Missing user id in token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ctxWithUserID(r.Context(), sub)))
	})
}
