package mw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/3xpluto/batch-recorder/internal/httpx"
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid token")
	errMissingSub    = errors.New("missing sub")
)

type subjectKeyType string

const subjectKey subjectKeyType = "sub"

type AuthHandler interface {
	ValidateBearer(r *http.Request) (string, error)
}

// Authenticator accepts HS256 JWTs signed with a shared secret and returns
// their "sub" claim. exp and nbf are enforced by the parser when present.
type Authenticator struct {
	Secret []byte
}

func (a Authenticator) ValidateBearer(r *http.Request) (string, error) {
	tokStr, ok := bearerToken(r)
	if !ok {
		return "", errMissingBearer
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.ParseWithClaims(tokStr, claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	})
	if err != nil || tok == nil || !tok.Valid {
		return "", errInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errMissingSub
	}
	return sub, nil
}

func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	return tok, tok != ""
}

func RequireAuth(auth AuthHandler, m *Metrics, next http.Handler) http.Handler {
	if auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := auth.ValidateBearer(r)
		if err != nil {
			m.Reject("unauthorized")
			w.Header().Set("WWW-Authenticate", `Bearer realm="batch-recorder"`)
			httpx.Error(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	return v, ok && v != ""
}
