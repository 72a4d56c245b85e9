package attendance

import (
	"context"
	"fmt"

	"joinrecs/internal/daywindow"
)

// Checker answers whether an identity already checked in during a civil day.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// HasAttended looks for any qualifying row inside w. Members match on their
// id; guests match the exact (name, phone) pair in both the standalone and
// the attached shape. Read failures wrap ErrStorageRead.
func (c *Checker) HasAttended(ctx context.Context, id Identity, w daywindow.Window) (bool, error) {
	if id.IsMember() {
		memberID := id.MemberID
		rows, err := c.store.SelectAttendance(ctx, AttendanceFilter{MemberID: &memberID, Window: w})
		if err != nil {
			return false, fmt.Errorf("%w: member attendance: %w", ErrStorageRead, err)
		}
		for _, a := range rows {
			if w.Contains(a.RecordTime) {
				return true, nil
			}
		}
		return false, nil
	}

	// An empty field would widen the filter to every guest.
	if id.Guest.Name == "" {
		return false, ErrMissingName
	}
	if id.Guest.Phone == "" {
		return false, ErrMissingPhone
	}

	rows, err := c.store.SelectGuestAttachments(ctx, GuestFilter{
		Name:   id.Guest.Name,
		Phone:  id.Guest.Phone,
		Window: &w,
	})
	if err != nil {
		return false, fmt.Errorf("%w: guest attendance: %w", ErrStorageRead, err)
	}
	for _, g := range rows {
		if g.Name == id.Guest.Name && g.Phone == id.Guest.Phone && w.Contains(g.RecordTime) {
			return true, nil
		}
	}
	return false, nil
}
