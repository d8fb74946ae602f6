package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type Role = string

const (
	RoleMaintenance Role = "mantenimiento"
	RoleClerk       Role = "oficinista"
	RoleAdmin       Role = "administrador"

	DefaultTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
	ErrBadPassword  = errors.New("auth: wrong password")
)

func ValidRole(r string) bool {
	return r == RoleMaintenance || r == RoleClerk || r == RoleAdmin
}

// Principal is the authenticated caller.
type Principal struct {
	UserID int64 `json:"sub"`
	Role   Role  `json:"role"`
}

type claims struct {
	Principal
	Expires int64 `json:"exp"`
}

// Tokens issues and verifies HMAC-SHA256 signed bearer tokens of the form
// <payload>.<signature>, both base64url without padding.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tokens{Secret: []byte(secret), TTL: ttl}
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tokens) Issue(userID int64, role Role) (string, time.Time, error) {
	exp := t.now().Add(t.TTL)
	payload, err := json.Marshal(claims{Principal{userID, role}, exp.Unix()})
	if err != nil {
		return "", time.Time{}, err
	}
	p := base64.RawURLEncoding.EncodeToString(payload)
	return p + "." + t.sign(p), exp, nil
}

func (t *Tokens) Verify(token string) (Principal, error) {
	p, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || p == "" || sig == "" {
		return Principal{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(t.sign(p))) {
		return Principal{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil || c.UserID <= 0 || !ValidRole(c.Role) {
		return Principal{}, ErrInvalidToken
	}
	if t.now().Unix() >= c.Expires {
		return Principal{}, ErrExpiredToken
	}
	return c.Principal, nil
}

func (t *Tokens) sign(payload string) string {
	mac := hmac.New(sha256.New, t.Secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func HashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func CheckPassword(hash, pw string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)); err != nil {
		return ErrBadPassword
	}
	return nil
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Middleware requires a valid "Authorization: Bearer" token.
func Middleware(t *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			scheme, token, _ := strings.Cut(h, " ")
			if !strings.EqualFold(scheme, "Bearer") || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			p, err := t.Verify(token)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole lets only the listed roles through. It must run after
// Middleware.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				unauthorized(w, "not authenticated")
				return
			}
			if !slices.Contains(roles, p.Role) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "insufficient role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
