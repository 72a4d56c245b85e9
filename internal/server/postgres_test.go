package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joinrecs/internal/attendance"
	"joinrecs/internal/clients"
	"joinrecs/internal/database/dbtest"
	"joinrecs/internal/daywindow"
	"joinrecs/internal/eventstore"
	"joinrecs/internal/roster"
	"joinrecs/internal/server"
	"joinrecs/internal/session"
)

func startPostgresKiosk(t *testing.T) (*httptest.Server, *clients.KioskClient) {
	t.Helper()
	db := dbtest.Postgres(t)
	loc, err := daywindow.LoadLocation(daywindow.DefaultTimezone)
	require.NoError(t, err)

	stack := server.NewStack(server.StackConfig{
		Store:     attendance.NewPostgresStore(db),
		Members:   roster.NewPostgresRepository(db),
		Journal:   eventstore.NewEventStore(db),
		Location:  loc,
		GuestMode: attendance.GuestModeStandalone,
	}, zerolog.Nop())

	hash, err := session.HashPassphrase("court-side")
	require.NoError(t, err)
	authority, err := session.NewAuthority(session.AuthorityConfig{
		PassphraseHash: hash,
		TokenSecret:    []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Roster:     stack.Roster,
		Attendance: stack.Attendance,
		Authority:  authority,
		Location:   loc,
		Logger:     zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)

	admin := clients.NewKioskClient(srv.URL, srv.Client())
	require.NoError(t, admin.Login(t.Context(), "court-side"))
	return srv, admin
}

func addMember(t *testing.T, srv *httptest.Server, token, name, phone string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"name": name, "phone": phone})
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/admin/members", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+"/admin/login", "application/json", bytes.NewBufferString(`{"passphrase":"court-side"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

func TestPostgresCheckInFlow(t *testing.T) {
	srv, admin := startPostgresKiosk(t)
	ctx := t.Context()
	addMember(t, srv, login(t, srv), "Kim", "87654321")

	kiosk := clients.NewKioskClient(srv.URL, srv.Client())
	require.NoError(t, kiosk.Keepalive(ctx))

	result, err := kiosk.CheckIn(ctx, attendance.CheckInRequest{
		Name:   "Kim",
		Guests: []attendance.Guest{{Name: "Lee", Phone: "12345678"}},
	})
	require.NoError(t, err)
	assert.True(t, result.OK)

	_, err = kiosk.CheckIn(ctx, attendance.CheckInRequest{Name: "Lee", Phone: "010-1234-5678"})
	var status *clients.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusConflict, status.StatusCode)

	day, err := admin.DailyLog(ctx, "")
	require.NoError(t, err)
	require.Len(t, day.Records, 2)
	assert.Equal(t, "Kim", day.Records[0].Name)
	assert.Equal(t, roster.StatusActiveFull.Label(), attendance.PrintLabel(day.Records[0]))
	assert.Equal(t, "Lee", day.Records[1].Name)
	assert.WithinDuration(t, day.Records[0].RecordTime, day.Records[1].RecordTime, time.Millisecond)
}

func TestPostgresConcurrentCheckInStoresOne(t *testing.T) {
	srv, admin := startPostgresKiosk(t)
	ctx := t.Context()
	addMember(t, srv, login(t, srv), "Kim", "87654321")

	const kiosks = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range kiosks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := clients.NewKioskClient(srv.URL, srv.Client()).CheckIn(ctx, attendance.CheckInRequest{Name: "Kim"})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted, "only one concurrent check-in should succeed")
	day, err := admin.DailyLog(ctx, "")
	require.NoError(t, err)
	assert.Len(t, day.Records, 1)
}
