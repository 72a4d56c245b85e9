package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"joinrecs/internal/daywindow"
	"joinrecs/internal/roster"
)

var seoul = mustLocation("Asia/Seoul")

func mustLocation(name string) *time.Location {
	loc, err := daywindow.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// testClock is a settable clock shared by a fixture.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	store    *MemoryStore
	roster   *roster.MemoryRepository
	clock    *testClock
	recorder *Recorder
	daily    *DailyLog
}

func newFixture(t *testing.T, mode GuestMode) *fixture {
	t.Helper()
	f := &fixture{
		store:  NewMemoryStore(),
		roster: roster.NewMemoryRepository(),
		clock:  &testClock{t: seoulTime(2025, 3, 10, 9, 0, 0, 0)},
	}
	f.recorder = NewRecorder(f.store, RecorderConfig{Location: seoul, GuestMode: mode, Clock: f.clock.Now}, zerolog.Nop())
	f.daily = NewDailyLog(f.store, f.roster)
	return f
}

func (f *fixture) member(name string, status roster.Status) *roster.Member {
	m := f.roster.Seed(roster.Member{Name: name, Phone: "87654321", Status: status})[0]
	return &m
}

func (f *fixture) attendanceCount(t *testing.T, w daywindow.Window) int {
	t.Helper()
	rows, err := f.store.SelectAttendance(context.Background(), AttendanceFilter{Window: w})
	require.NoError(t, err)
	return len(rows)
}

func seoulTime(y int, m time.Month, d, hh, mm, ss, ms int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, ms*int(time.Millisecond), seoul)
}

func TestRecordRejectsRestrictedMembers(t *testing.T) {
	for _, status := range []roster.Status{roster.StatusSuspended, roster.StatusWithdrawn} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, GuestModeStandalone)
			m := f.member("Kim", status)

			receipt, err := f.recorder.Record(context.Background(), CheckIn{Member: m})
			assert.ErrorIs(t, err, ErrRestrictedMember)
			assert.Nil(t, receipt)
			assert.Zero(t, f.attendanceCount(t, f.recorder.Today()))
		})
	}
}

func TestRecordAllowsActiveStatuses(t *testing.T) {
	for _, status := range []roster.Status{roster.StatusActiveFull, roster.StatusActiveAssociate, roster.StatusGuestTagged} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, GuestModeStandalone)
			receipt, err := f.recorder.Record(context.Background(), CheckIn{Member: f.member("Kim", status)})
			require.NoError(t, err)
			assert.Equal(t, KindMember, receipt.Kind)
			assert.Equal(t, "2025-03-10", receipt.CivilDate)
		})
	}
}

func TestRecordMemberOncePerCivilDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GuestModeStandalone)
	kim := f.member("Kim", roster.StatusActiveFull)

	_, err := f.recorder.Record(ctx, CheckIn{Member: kim})
	require.NoError(t, err)

	for _, at := range []time.Time{
		seoulTime(2025, 3, 10, 9, 0, 0, 1),
		seoulTime(2025, 3, 10, 18, 0, 0, 0),
		seoulTime(2025, 3, 10, 23, 59, 59, 999),
	} {
		f.clock.Set(at)
		_, err := f.recorder.Record(ctx, CheckIn{Member: kim})
		assert.ErrorIs(t, err, ErrDuplicate, "at %s", at)
	}

	f.clock.Set(seoulTime(2025, 3, 11, 0, 0, 0, 0))
	receipt, err := f.recorder.Record(ctx, CheckIn{Member: kim})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", receipt.CivilDate)
}

func TestRecordMemberDuplicateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		clock := &testClock{}
		rec := NewRecorder(store, RecorderConfig{Location: seoul, Clock: clock.Now}, zerolog.Nop())
		m := &roster.Member{ID: uuid.New(), Name: "M", Status: roster.StatusActiveFull}

		day := daywindow.ForDate(2025, time.Month(rapid.IntRange(1, 12).Draw(t, "month")), rapid.IntRange(1, 28).Draw(t, "day"), seoul)
		msInDay := int64(24 * time.Hour / time.Millisecond)
		first := rapid.Int64Range(0, msInDay-1).Draw(t, "first")
		second := rapid.Int64Range(first, msInDay-1).Draw(t, "second")

		clock.Set(day.Start().Add(time.Duration(first) * time.Millisecond))
		if _, err := rec.Record(ctx, CheckIn{Member: m}); err != nil {
			t.Fatalf("first check-in: %v", err)
		}

		clock.Set(day.Start().Add(time.Duration(second) * time.Millisecond))
		if _, err := rec.Record(ctx, CheckIn{Member: m}); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("second check-in same day: got %v", err)
		}

		clock.Set(day.Next())
		if _, err := rec.Record(ctx, CheckIn{Member: m}); err != nil {
			t.Fatalf("check-in after the boundary: %v", err)
		}
	})
}

func TestAttachedGuestBlocksStandaloneGuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GuestModeStandalone)
	kim := f.member("Kim", roster.StatusActiveFull)

	_, err := f.recorder.Record(ctx, CheckIn{Member: kim, Companions: []Guest{{Name: "Lee", Phone: "12345678"}}})
	require.NoError(t, err)

	f.clock.Set(seoulTime(2025, 3, 10, 20, 0, 0, 0))
	_, err = f.recorder.Record(ctx, CheckIn{Guest: Guest{Name: "Lee", Phone: "12345678"}})
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same name with another phone is a different guest.
	_, err = f.recorder.Record(ctx, CheckIn{Guest: Guest{Name: "Lee", Phone: "12345679"}})
	assert.NoError(t, err)
}

func TestStandaloneGuestBlocksAttachedGuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GuestModeStandalone)
	kim := f.member("Kim", roster.StatusActiveFull)

	_, err := f.recorder.Record(ctx, CheckIn{Guest: Guest{Name: "Lee", Phone: "12345678"}})
	require.NoError(t, err)

	_, err = f.recorder.Record(ctx, CheckIn{Member: kim, Companions: []Guest{{Name: "Lee", Phone: "12345678"}}})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Zero(t, f.attendanceCount(t, f.recorder.Today()), "host must not be recorded when a companion is a duplicate")
}

func TestGuestDuplicateAcrossShapesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		firstAttached := rapid.Bool().Draw(t, "firstAttached")
		mode := rapid.SampledFrom([]GuestMode{GuestModeStandalone, GuestModeAttendance}).Draw(t, "mode")
		guest := Guest{
			Name:  rapid.StringMatching(`[A-Za-z]{1,8}`).Draw(t, "name"),
			Phone: rapid.StringMatching(`[0-9]{8}`).Draw(t, "phone"),
		}

		store := NewMemoryStore()
		clock := &testClock{t: seoulTime(2025, 6, 1, 7, 0, 0, 0)}
		rec := NewRecorder(store, RecorderConfig{Location: seoul, GuestMode: mode, Clock: clock.Now}, zerolog.Nop())
		host := &roster.Member{ID: uuid.New(), Name: "Host", Status: roster.StatusActiveFull}
		other := &roster.Member{ID: uuid.New(), Name: "Other", Status: roster.StatusActiveFull}

		var err error
		if firstAttached {
			_, err = rec.Record(ctx, CheckIn{Member: host, Companions: []Guest{guest}})
		} else {
			_, err = rec.Record(ctx, CheckIn{Guest: guest})
		}
		if err != nil {
			t.Fatalf("first check-in: %v", err)
		}

		clock.Set(seoulTime(2025, 6, 1, rapid.IntRange(7, 23).Draw(t, "hour"), 30, 0, 0))
		if rapid.Bool().Draw(t, "secondAttached") {
			_, err = rec.Record(ctx, CheckIn{Member: other, Companions: []Guest{guest}})
		} else {
			_, err = rec.Record(ctx, CheckIn{Guest: guest})
		}
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("second check-in of %v: got %v", guest, err)
		}
	})
}

func TestGuestModeAttendance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GuestModeAttendance)

	receipt, err := f.recorder.Record(ctx, CheckIn{
		Guest:      Guest{Name: "Lee", Phone: "12345678"},
		Companions: []Guest{{Name: "Park", Phone: "11112222"}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindGuestAttached, receipt.Kind)
	require.Len(t, receipt.Guests, 2)
	assert.Equal(t, receipt.Guests[0].AttendanceID, receipt.Guests[1].AttendanceID)

	rows, err := f.store.SelectAttendance(ctx, AttendanceFilter{Window: f.recorder.Today()})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].MemberID)

	_, err = f.recorder.Record(ctx, CheckIn{Guest: Guest{Name: "Park", Phone: "11112222"}})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRecordValidation(t *testing.T) {
	tests := []struct {
		name    string
		checkIn func(m *roster.Member) CheckIn
		wantErr error
	}{
		{
			name: "companion without phone",
			checkIn: func(m *roster.Member) CheckIn {
				return CheckIn{Member: m, Companions: []Guest{{Name: "Lee"}}}
			},
			wantErr: ErrMissingPhone,
		},
		{
			name: "companion without name",
			checkIn: func(m *roster.Member) CheckIn {
				return CheckIn{Member: m, Companions: []Guest{{Phone: "12345678"}}}
			},
			wantErr: ErrMissingName,
		},
		{
			name: "short phone",
			checkIn: func(m *roster.Member) CheckIn {
				return CheckIn{Member: m, Companions: []Guest{{Name: "Lee", Phone: "1234"}}}
			},
			wantErr: ErrInvalidPhone,
		},
		{
			name: "too many companions",
			checkIn: func(m *roster.Member) CheckIn {
				return CheckIn{Member: m, Companions: []Guest{
					{Name: "A", Phone: "11111111"}, {Name: "B", Phone: "22222222"}, {Name: "C", Phone: "33333333"},
				}}
			},
			wantErr: ErrTooManyGuests,
		},
		{
			name: "same companion twice",
			checkIn: func(m *roster.Member) CheckIn {
				return CheckIn{Member: m, Companions: []Guest{{Name: "A", Phone: "11111111"}, {Name: "A", Phone: "010-1111-1111"}}}
			},
			wantErr: ErrRepeatedGuest,
		},
		{
			name: "guest without phone",
			checkIn: func(*roster.Member) CheckIn {
				return CheckIn{Guest: Guest{Name: "Lee"}}
			},
			wantErr: ErrMissingPhone,
		},
		{
			name: "guest listed as own companion",
			checkIn: func(*roster.Member) CheckIn {
				return CheckIn{Guest: Guest{Name: "Lee", Phone: "12345678"}, Companions: []Guest{{Name: "Lee", Phone: "12345678"}}}
			},
			wantErr: ErrRepeatedGuest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, GuestModeStandalone)
			_, err := f.recorder.Record(context.Background(), tt.checkIn(f.member("Kim", roster.StatusActiveFull)))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, f.attendanceCount(t, f.recorder.Today()))

			guests, err := f.store.SelectGuestAttachments(context.Background(), GuestFilter{})
			require.NoError(t, err)
			assert.Empty(t, guests)
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "12345678", want: "12345678"},
		{in: "1234-5678", want: "12345678"},
		{in: "010-1234-5678", want: "12345678"},
		{in: "010 1234 5678", want: "12345678"},
		{in: "01012345678", want: "12345678"},
		{in: "", wantErr: ErrMissingPhone},
		{in: " - ", wantErr: ErrMissingPhone},
		{in: "011-1234-5678", wantErr: ErrInvalidPhone},
		{in: "1234567", wantErr: ErrInvalidPhone},
		{in: "1234abcd", wantErr: ErrInvalidPhone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordPartialWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GuestModeStandalone)
	kim := f.member("Kim", roster.StatusActiveFull)
	boom := errors.New("disk full")
	f.store.FailGuestWrites = boom

	receipt, err := f.recorder.Record(ctx, CheckIn{Member: kim, Companions: []Guest{{Name: "Lee", Phone: "12345678"}}})
	require.NotNil(t, receipt, "the primary attendance stands")

	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, receipt.PrimaryID, partial.PrimaryID)
	assert.ErrorIs(t, err, ErrStorageWrite)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.attendanceCount(t, f.recorder.Today()))

	// The member is checked in; a retry is a duplicate, not a second row.
	f.store.FailGuestWrites = nil
	_, err = f.recorder.Record(ctx, CheckIn{Member: kim})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRecordPrimaryWriteFailure(t *testing.T) {
	f := newFixture(t, GuestModeStandalone)
	f.store.FailAttendanceWrites = errors.New("connection refused")

	receipt, err := f.recorder.Record(context.Background(), CheckIn{Member: f.member("Kim", roster.StatusActiveFull)})
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, ErrStorageWrite)

	var partial *PartialWriteError
	assert.False(t, errors.As(err, &partial))
}

func TestRecordReadFailureIsNotDuplicate(t *testing.T) {
	f := newFixture(t, GuestModeStandalone)
	f.store.FailReads = errors.New("timeout")

	_, err := f.recorder.Record(context.Background(), CheckIn{Member: f.member("Kim", roster.StatusActiveFull)})
	assert.ErrorIs(t, err, ErrStorageRead)
	assert.NotErrorIs(t, err, ErrDuplicate)

	f.store.FailReads = nil
	assert.Zero(t, f.attendanceCount(t, f.recorder.Today()))
}

func TestConcurrentCheckInsStoreOneRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, GuestModeStandalone)
	kim := f.member("Kim", roster.StatusActiveFull)

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.recorder.Record(ctx, CheckIn{Member: kim, Companions: []Guest{{Name: "Lee", Phone: "12345678"}}})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var partial *PartialWriteError
		require.False(t, errors.As(err, &partial), "losers must not leave rows: %v", err)
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.attendanceCount(t, f.recorder.Today()))
}
