package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidPassphrase = errors.New("invalid admin passphrase")
	ErrInvalidToken      = errors.New("invalid or expired session token")
	ErrLoginRateLimited  = errors.New("too many login attempts")
)

const adminSubject = "admin"

// AuthorityConfig configures NewAuthority.
type AuthorityConfig struct {
	PassphraseHash string
	TokenSecret    []byte
	TokenTTL       time.Duration
	// LoginEvery and LoginBurst bound passphrase attempts per process.
	LoginEvery time.Duration
	LoginBurst int
}

// Authority issues and verifies admin sessions.
type Authority struct {
	passphraseHash string
	secret         []byte
	ttl            time.Duration
	limiter        *rate.Limiter
	now            func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Capabilities []Capability `json:"caps"`
}

func NewAuthority(cfg AuthorityConfig) (*Authority, error) {
	if cfg.PassphraseHash == "" {
		return nil, fmt.Errorf("admin passphrase hash is required")
	}
	if len(cfg.TokenSecret) < 16 {
		return nil, fmt.Errorf("admin token secret must be at least 16 bytes")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if cfg.LoginEvery <= 0 {
		cfg.LoginEvery = 12 * time.Second
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 5
	}
	return &Authority{
		passphraseHash: cfg.PassphraseHash,
		secret:         cfg.TokenSecret,
		ttl:            cfg.TokenTTL,
		limiter:        rate.NewLimiter(rate.Every(cfg.LoginEvery), cfg.LoginBurst),
		now:            time.Now,
	}, nil
}

// Login checks the passphrase and returns a signed token for a new session.
func (a *Authority) Login(_ context.Context, passphrase string) (string, *Session, error) {
	if !a.limiter.Allow() {
		return "", nil, ErrLoginRateLimited
	}

	ok, err := VerifyPassphrase(passphrase, a.passphraseHash)
	if err != nil {
		return "", nil, fmt.Errorf("verify passphrase: %w", err)
	}
	if !ok {
		return "", nil, ErrInvalidPassphrase
	}

	now := a.now()
	s := &Session{
		ID:           uuid.NewString(),
		Subject:      adminSubject,
		Capabilities: slices.Clone(AdminCapabilities),
		IssuedAt:     now,
		ExpiresAt:    now.Add(a.ttl),
	}
	token, err := a.sign(s)
	if err != nil {
		return "", nil, err
	}
	return token, s, nil
}

func (a *Authority) sign(s *Session) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.Subject,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		Capabilities: s.Capabilities,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// Verify parses a token issued by Login.
func (a *Authority) Verify(token string) (*Session, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	s := &Session{
		ID:           c.ID,
		Subject:      c.Subject,
		Capabilities: c.Capabilities,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s, nil
}

// Middleware attaches the session named by an "Authorization: Bearer" header
// to the request context. Requests without a header pass through without a
// session; a bad token is rejected with 401.
func (a *Authority) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		s, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

// RequireSession rejects requests that carry no session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
