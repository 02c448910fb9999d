package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	GuestHeader = "X-Guest-Session"
	GuestCookie = "guest_session"
)

var (
	ErrNoCredentials = errors.New("no credentials presented")
	ErrInvalidToken  = errors.New("invalid bearer token")
)

// Authenticator resolves owners from HS256 bearer tokens and guests from a
// session id carried in a header or cookie.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// ResolveCaller is the single identity check shared by every entry point.
func (a *Authenticator) ResolveCaller(r *http.Request) (models.Identity, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			return models.Identity{}, fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
		}
		subject, err := a.verify(tokenString)
		if err != nil {
			return models.Identity{}, err
		}
		return models.Identity{Kind: models.IdentityOwner, ID: subject}, nil
	}

	guestID := r.Header.Get(GuestHeader)
	if guestID == "" {
		if c, err := r.Cookie(GuestCookie); err == nil {
			guestID = c.Value
		}
	}
	if guestID == "" {
		return models.Identity{}, ErrNoCredentials
	}
	if _, err := uuid.Parse(guestID); err != nil {
		return models.Identity{}, fmt.Errorf("%w: guest session id is not a uuid", ErrInvalidToken)
	}
	return models.Identity{Kind: models.IdentityGuest, ID: guestID}, nil
}

func (a *Authenticator) verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: owner tokens are not enabled", ErrInvalidToken)
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// IssueOwnerToken signs a token for subject, valid for ttl.
func (a *Authenticator) IssueOwnerToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

type identityKey struct{}

func withIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller resolved by the Identify middleware.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}

// Identify rejects requests without a resolvable caller.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.ResolveCaller(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "A signed-in account or guest session is required.")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}
