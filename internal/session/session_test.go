package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAuthority(t *testing.T, passphrase string) *Authority {
	t.Helper()
	hash, err := HashPassphrase(passphrase)
	require.NoError(t, err)
	a, err := NewAuthority(AuthorityConfig{
		PassphraseHash: hash,
		TokenSecret:    testSecret,
		TokenTTL:       time.Hour,
		LoginEvery:     time.Millisecond,
		LoginBurst:     10,
	})
	require.NoError(t, err)
	return a
}

func TestPassphraseRoundTrip(t *testing.T) {
	hash, err := HashPassphrase("court-side")
	require.NoError(t, err)

	ok, err := VerifyPassphrase("court-side", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassphrase("court side", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := HashPassphrase("court-side")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "hashes must be salted")
}

func TestVerifyPassphraseMalformed(t *testing.T) {
	for _, encoded := range []string{"", "plain", "bcrypt$a$b", "argon2id$!!$abc", "argon2id$c2FsdA$!!"} {
		_, err := VerifyPassphrase("x", encoded)
		assert.Error(t, err, encoded)
	}
}

func TestSessionRequire(t *testing.T) {
	var none *Session
	assert.ErrorIs(t, none.Require(CapReadLog), ErrUnauthorized)
	assert.False(t, none.Can(CapReadLog))
	assert.Empty(t, none.Actor())

	limited := &Session{Subject: "viewer", Capabilities: []Capability{CapReadLog}}
	assert.NoError(t, limited.Require(CapReadLog))
	assert.ErrorIs(t, limited.Require(CapManageRoster), ErrForbidden)

	local := Local("kioskctl")
	for _, c := range AdminCapabilities {
		assert.NoError(t, local.Require(c))
	}
	assert.Equal(t, "kioskctl", local.Actor())
}

func TestLoginAndVerify(t *testing.T) {
	a := newTestAuthority(t, "court-side")

	_, _, err := a.Login(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	token, s, err := a.Login(context.Background(), "court-side")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, adminSubject, s.Subject)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.ElementsMatch(t, AdminCapabilities, got.Capabilities)

	_, err = a.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := newTestAuthority(t, "court-side")
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := a.Login(context.Background(), "court-side")
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginRateLimited(t *testing.T) {
	hash, err := HashPassphrase("court-side")
	require.NoError(t, err)
	a, err := NewAuthority(AuthorityConfig{
		PassphraseHash: hash,
		TokenSecret:    testSecret,
		LoginEvery:     time.Hour,
		LoginBurst:     1,
	})
	require.NoError(t, err)

	_, _, err = a.Login(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
	_, _, err = a.Login(context.Background(), "court-side")
	assert.ErrorIs(t, err, ErrLoginRateLimited)
}

func TestNewAuthorityValidation(t *testing.T) {
	_, err := NewAuthority(AuthorityConfig{TokenSecret: testSecret})
	assert.Error(t, err)

	_, err = NewAuthority(AuthorityConfig{PassphraseHash: "argon2id$a$b", TokenSecret: []byte("short")})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthority(t, "court-side")
	token, _, err := a.Login(context.Background(), "court-side")
	require.NoError(t, err)

	var seen *Session
	handler := a.Middleware(RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + token, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/admin/log", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, adminSubject, seen.Subject)
			}
		})
	}
}

func TestHandleLogin(t *testing.T) {
	a := newTestAuthority(t, "court-side")

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"passphrase":"court-side"}`, want: http.StatusOK},
		{name: "wrong passphrase", body: `{"passphrase":"net-side"}`, want: http.StatusUnauthorized},
		{name: "empty passphrase", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			a.HandleLogin(rec, req)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())

			if tt.want == http.StatusOK {
				var resp loginResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				s, err := a.Verify(resp.Token)
				require.NoError(t, err)
				assert.True(t, s.Can(CapReadLog))
				assert.WithinDuration(t, resp.ExpiresAt, s.ExpiresAt, time.Second)
			}
		})
	}
}

func TestHandleLoginRateLimited(t *testing.T) {
	hash, err := HashPassphrase("court-side")
	require.NoError(t, err)
	a, err := NewAuthority(AuthorityConfig{
		PassphraseHash: hash,
		TokenSecret:    testSecret,
		LoginEvery:     time.Hour,
		LoginBurst:     1,
	})
	require.NoError(t, err)

	login := func() int {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"passphrase":"wrong"}`))
		rec := httptest.NewRecorder()
		a.HandleLogin(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, login())
	assert.Equal(t, http.StatusTooManyRequests, login())
}
