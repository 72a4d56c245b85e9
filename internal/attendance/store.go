package attendance

import (
	"context"

	"github.com/google/uuid"

	"joinrecs/internal/daywindow"
	"joinrecs/internal/roster"
)

// AttendanceFilter selects attendance rows recorded inside Window. A nil
// MemberID selects every row, anonymous parents included.
type AttendanceFilter struct {
	MemberID *uuid.UUID
	Window   daywindow.Window
}

// GuestFilter selects guest rows by exact name and phone, each ignored when
// empty. Window applies to the effective record time and is optional.
type GuestFilter struct {
	Name   string
	Phone  string
	Window *daywindow.Window
}

// Store is the attendance storage collaborator. Implementations enforce
// uniqueness of (member id, civil date) and (guest name, guest phone, civil
// date) and report a violation as ErrDuplicate.
type Store interface {
	SelectAttendance(ctx context.Context, filter AttendanceFilter) ([]Attendance, error)
	// SelectGuestAttachments resolves the inherited record time of attached
	// rows through their parent attendance.
	SelectGuestAttachments(ctx context.Context, filter GuestFilter) ([]GuestAttachment, error)
	InsertAttendance(ctx context.Context, a Attendance) (Attendance, error)
	// InsertGuestAttachments stores all rows or none.
	InsertGuestAttachments(ctx context.Context, guests []GuestAttachment) ([]GuestAttachment, error)
	DeleteAttendance(ctx context.Context, id uuid.UUID) error
	DeleteGuestAttachment(ctx context.Context, id uuid.UUID) error
}

// MemberSource is the roster read the daily log joins against.
type MemberSource interface {
	SelectMembersByStatus(ctx context.Context, statuses []roster.Status) ([]roster.Member, error)
}
