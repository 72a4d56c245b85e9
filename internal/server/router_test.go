package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joinrecs/internal/attendance"
	"joinrecs/internal/config"
	"joinrecs/internal/daywindow"
	"joinrecs/internal/eventstore"
	"joinrecs/internal/roster"
	"joinrecs/internal/session"
)

type testServer struct {
	srv     *httptest.Server
	members *roster.MemoryRepository
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	loc, err := daywindow.LoadLocation(daywindow.DefaultTimezone)
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)

	hash, err := session.HashPassphrase("court-side")
	require.NoError(t, err)
	authority, err := session.NewAuthority(session.AuthorityConfig{
		PassphraseHash: hash,
		TokenSecret:    []byte("0123456789abcdef0123456789abcdef"),
		LoginEvery:     time.Millisecond,
		LoginBurst:     10,
	})
	require.NoError(t, err)

	members := roster.NewMemoryRepository()
	stack := NewStack(StackConfig{
		Store:     attendance.NewMemoryStore(),
		Members:   members,
		Journal:   eventstore.NewMemoryStore(),
		Location:  loc,
		GuestMode: attendance.GuestModeStandalone,
		Clock:     func() time.Time { return now },
	}, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(Deps{
		Roster:     stack.Roster,
		Attendance: stack.Attendance,
		Authority:  authority,
		Location:   loc,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return now },
	}))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, members: members}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRouterPublicRoutes(t *testing.T) {
	s := newTestServer(t)
	s.members.Seed(roster.Member{Name: "Kim", Phone: "87654321", Status: roster.StatusActiveFull})

	resp := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	resp = s.do(t, http.MethodGet, "/keepalive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alive := decode[keepaliveResponse](t, resp)
	assert.True(t, alive.Success)
	assert.Equal(t, "Asia/Seoul", alive.Timezone)

	resp = s.do(t, http.MethodGet, "/members/search?q=K", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[[]map[string]any](t, resp)
	require.Len(t, found, 1)
	assert.Equal(t, "Kim", found[0]["name"])
	assert.NotContains(t, found[0], "phone")

	resp = s.do(t, http.MethodPost, "/checkin", map[string]any{"name": "Kim"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/admin/log", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouterKeepaliveFailure(t *testing.T) {
	s := newTestServer(t)
	s.members.FailReads = errors.New("connection refused")

	resp := s.do(t, http.MethodGet, "/keepalive", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, decode[keepaliveResponse](t, resp).Success)
}

func TestRouterAdminFlow(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/admin/login", map[string]string{"passphrase": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/admin/login", map[string]string{"passphrase": "court-side"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[struct {
		Token string `json:"token"`
	}](t, resp)
	require.NotEmpty(t, login.Token)
	s.token = login.Token

	resp = s.do(t, http.MethodPost, "/admin/members", map[string]string{"name": "Kim", "phone": "87654321"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	kim := decode[map[string]any](t, resp)
	assert.Equal(t, "010-8765-4321", kim["phone_display"])
	id := kim["id"].(string)

	resp = s.do(t, http.MethodPost, "/admin/members", map[string]string{"name": "Kim", "phone": "11112222"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "active names are unique")

	resp = s.do(t, http.MethodPost, "/checkin", map[string]any{
		"name":   "Kim",
		"guests": []map[string]string{{"name": "Lee", "phone": "12345678"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/admin/log?date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	day := decode[attendance.DayLog](t, resp)
	require.Len(t, day.Records, 2)
	assert.Equal(t, attendance.KindMember, day.Records[0].Kind)
	assert.Equal(t, attendance.KindGuestAttached, day.Records[1].Kind)

	resp = s.do(t, http.MethodPatch, "/admin/members/"+id+"/status", map[string]string{"status": "suspended"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/admin/members/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, resp), 2)

	resp = s.do(t, http.MethodDelete, "/admin/log/member/"+day.Records[0].ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/admin/log?date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[attendance.DayLog](t, resp).Records, "attached guests go with their attendance")

	s.token = "forged"
	resp = s.do(t, http.MethodGet, "/admin/members", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpenStackMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = MemoryURL

	stack, closeFn, err := OpenStack(t.Context(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, closeFn()) })

	_, err = stack.Roster.AddMember(t.Context(), session.Local("test"), "Kim", "87654321", "")
	require.NoError(t, err)
	result, err := stack.Attendance.SubmitCheckIn(t.Context(), attendance.CheckInRequest{Name: "Kim"})
	require.NoError(t, err)
	assert.True(t, result.OK)

	cfg.Kiosk.GuestMode = "vip"
	_, _, err = OpenStack(t.Context(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
