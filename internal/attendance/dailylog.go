package attendance

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"joinrecs/internal/daywindow"
	"joinrecs/internal/roster"
)

// DailyLog rebuilds the unified list of one civil day's check-ins.
type DailyLog struct {
	store   Store
	members MemberSource
}

func NewDailyLog(store Store, members MemberSource) *DailyLog {
	return &DailyLog{store: store, members: members}
}

// Entries reads the day's rows from storage as tagged entries. Anonymous
// parent attendances are containers and are represented by their guests.
func (d *DailyLog) Entries(ctx context.Context, w daywindow.Window) ([]Entry, error) {
	attendances, err := d.store.SelectAttendance(ctx, AttendanceFilter{Window: w})
	if err != nil {
		return nil, fmt.Errorf("%w: attendances for %s: %w", ErrStorageRead, w.Date(), err)
	}
	guests, err := d.store.SelectGuestAttachments(ctx, GuestFilter{Window: &w})
	if err != nil {
		return nil, fmt.Errorf("%w: guests for %s: %w", ErrStorageRead, w.Date(), err)
	}

	entries := make([]Entry, 0, len(attendances)+len(guests))
	for i := range attendances {
		if attendances[i].MemberID == nil {
			continue
		}
		entries = append(entries, Entry{Kind: KindMember, Attendance: &attendances[i]})
	}
	for i := range guests {
		entries = append(entries, Entry{Kind: guests[i].Kind(), Guest: &guests[i]})
	}
	return entries, nil
}

// ListDay returns every record of the day once, sorted by record time and
// then by kind and id. Members missing from the roster render with empty
// name, phone and status.
func (d *DailyLog) ListDay(ctx context.Context, w daywindow.Window) ([]DisplayRecord, error) {
	entries, err := d.Entries(ctx, w)
	if err != nil {
		return nil, err
	}

	members, err := d.members.SelectMembersByStatus(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: members: %w", ErrStorageRead, err)
	}
	byID := make(map[uuid.UUID]roster.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	records := make([]DisplayRecord, len(entries))
	for i, e := range entries {
		records[i] = normalize(e, byID, w)
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.RecordTime.Equal(b.RecordTime) {
			return a.RecordTime.Before(b.RecordTime)
		}
		if a.Kind != b.Kind {
			return a.Kind.rank() < b.Kind.rank()
		}
		return a.ID.String() < b.ID.String()
	})
	return records, nil
}

func normalize(e Entry, members map[uuid.UUID]roster.Member, w daywindow.Window) DisplayRecord {
	loc := w.Location()
	if e.Kind == KindMember {
		rec := DisplayRecord{
			ID:         e.Attendance.ID,
			Kind:       KindMember,
			RecordTime: e.Attendance.RecordTime.In(loc),
		}
		if m, ok := members[*e.Attendance.MemberID]; ok {
			rec.Name = m.Name
			rec.Phone = m.Phone
			rec.StatusLabel = string(m.Status)
		}
		return rec
	}
	return DisplayRecord{
		ID:          e.Guest.ID,
		Kind:        e.Kind,
		Name:        e.Guest.Name,
		Phone:       e.Guest.Phone,
		StatusLabel: StatusGuest,
		RecordTime:  e.Guest.RecordTime.In(loc),
	}
}
