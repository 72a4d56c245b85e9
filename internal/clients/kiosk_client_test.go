package clients_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joinrecs/internal/attendance"
	"joinrecs/internal/clients"
	"joinrecs/internal/roster"
	"joinrecs/internal/server/servertest"
)

func TestKioskClient(t *testing.T) {
	ctx := context.Background()
	kiosk := servertest.Start(t, servertest.Options{})
	kiosk.Members.Seed(
		roster.Member{Name: "Kim", Phone: "87654321", Status: roster.StatusActiveFull},
		roster.Member{Name: "Kang", Phone: "11112222", Status: roster.StatusSuspended},
	)
	c := clients.NewKioskClient(kiosk.URL, kiosk.Server.Client()).WithUserAgent("front-desk")

	require.NoError(t, c.Keepalive(ctx))

	found, err := c.SearchMembers(ctx, "K")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	result, err := c.CheckIn(ctx, attendance.CheckInRequest{
		Name:   "Kim",
		Guests: []attendance.Guest{{Name: "Lee", Phone: "1234-5678"}},
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	require.NotNil(t, result.Receipt)
	assert.Len(t, result.Receipt.Guests, 1)

	_, err = c.CheckIn(ctx, attendance.CheckInRequest{Name: "Kim"})
	var status *clients.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusConflict, status.StatusCode)
	assert.Equal(t, "Already checked in today.", status.Message)

	_, err = c.CheckIn(ctx, attendance.CheckInRequest{Name: "Kang"})
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusForbidden, status.StatusCode)

	_, err = c.DailyLog(ctx, "")
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)

	require.Error(t, c.Login(ctx, "wrong"))
	require.NoError(t, c.Login(ctx, servertest.Passphrase))

	day, err := c.DailyLog(ctx, "")
	require.NoError(t, err)
	require.Len(t, day.Records, 2)
	assert.Equal(t, "Kim", day.Records[0].Name)
	assert.Equal(t, "Lee", day.Records[1].Name)

	require.NoError(t, c.DeleteRecord(ctx, day.Records[1].Kind, day.Records[1].ID))
	err = c.DeleteRecord(ctx, day.Records[1].Kind, day.Records[1].ID)
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusNotFound, status.StatusCode)

	day, err = c.DailyLog(ctx, "")
	require.NoError(t, err)
	assert.Len(t, day.Records, 1)
}
