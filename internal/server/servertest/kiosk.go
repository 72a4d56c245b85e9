// Package servertest starts an in-process kiosk on memory storage.
package servertest

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"joinrecs/internal/attendance"
	"joinrecs/internal/daywindow"
	"joinrecs/internal/eventstore"
	"joinrecs/internal/roster"
	"joinrecs/internal/server"
	"joinrecs/internal/session"
)

const Passphrase = "court-side"

type Kiosk struct {
	URL     string
	Server  *httptest.Server
	Members *roster.MemoryRepository
}

// Options tune Start. The zero value gives standalone guests, no submit
// limit and the current time.
type Options struct {
	GuestMode   attendance.GuestMode
	SubmitRate  float64
	SubmitBurst int
	Clock       func() time.Time
}

func Start(t *testing.T, opts Options) *Kiosk {
	t.Helper()
	loc, err := daywindow.LoadLocation(daywindow.DefaultTimezone)
	require.NoError(t, err)

	hash, err := session.HashPassphrase(Passphrase)
	require.NoError(t, err)
	authority, err := session.NewAuthority(session.AuthorityConfig{
		PassphraseHash: hash,
		TokenSecret:    []byte("servertest-secret-0123456789abcdef"),
		LoginEvery:     time.Millisecond,
		LoginBurst:     100,
	})
	require.NoError(t, err)

	members := roster.NewMemoryRepository()
	stack := server.NewStack(server.StackConfig{
		Store:       attendance.NewMemoryStore(),
		Members:     members,
		Journal:     eventstore.NewMemoryStore(),
		Location:    loc,
		GuestMode:   opts.GuestMode,
		SubmitRate:  opts.SubmitRate,
		SubmitBurst: opts.SubmitBurst,
		Clock:       opts.Clock,
	}, zerolog.Nop())

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Roster:     stack.Roster,
		Attendance: stack.Attendance,
		Authority:  authority,
		Location:   loc,
		Logger:     zerolog.Nop(),
		Now:        opts.Clock,
	}))
	t.Cleanup(srv.Close)
	return &Kiosk{URL: srv.URL, Server: srv, Members: members}
}
