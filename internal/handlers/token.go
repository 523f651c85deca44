package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL    = 24 * time.Hour
	clientSecretHeader = "X-Client-Secret"
)

// TokenHandler issues tokens for broker subscribers and for the runs API.
type TokenHandler struct {
	secret           []byte
	clientSecretHash []byte
	tokenTTL         time.Duration
	channel          string
}

// NewTokenHandler constructs a TokenHandler. An empty clientSecretHash
// issues tokens to any caller.
func NewTokenHandler(jwtSecret, clientSecretHash, channel string, ttl time.Duration) *TokenHandler {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	h := &TokenHandler{
		secret:   []byte(jwtSecret),
		tokenTTL: ttl,
		channel:  channel,
	}
	if clientSecretHash != "" {
		h.clientSecretHash = []byte(clientSecretHash)
	}
	return h
}

// TokenRouter registers token routes on the given router.
func TokenRouter(r chi.Router, handler *TokenHandler) {
	r.Get("/subscriber-token", handler.SubscriberToken)
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Channel   string    `json:"channel,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubscriberToken returns a signed token with a fresh anonymous subject.
func (h *TokenHandler) SubscriberToken(w http.ResponseWriter, r *http.Request) {
	if h.clientSecretHash != nil {
		provided := strings.TrimSpace(r.Header.Get(clientSecretHeader))
		if provided == "" || bcrypt.CompareHashAndPassword(h.clientSecretHash, []byte(provided)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid client secret")
			return
		}
	}

	expires := time.Now().Add(h.tokenTTL)
	token, err := issueToken("subscriber-"+uuid.NewString(), h.secret, expires)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, Channel: h.channel, ExpiresAt: expires.UTC().Truncate(time.Second)})
}

// RequireAuth constructs middleware that rejects requests without a valid
// bearer token and injects its subject into the context.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			subject, err := parseTokenSubject(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the token subject set by RequireAuth.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	return subject, ok && subject != ""
}

// HashClientSecret returns the bcrypt hash for TOKEN_CLIENT_SECRET_HASH.
func HashClientSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func issueToken(subject string, secret []byte, expires time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
