// Package attendance records daily check-ins and enforces the once-per-day
// rule for members and guests across every stored shape.
package attendance

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"joinrecs/internal/roster"
)

// MaxCompanions is how many guests may accompany one check-in.
const MaxCompanions = 2

// StatusGuest is the status label of every guest row in the daily log.
const StatusGuest = "guest"

// Kind tags the storage shape a log entry came from.
type Kind string

const (
	KindMember          Kind = "member"
	KindGuestAttached   Kind = "guest_attached"
	KindGuestStandalone Kind = "guest_standalone"
)

// ParseKind validates a kind taken from a URL or flag.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMember, KindGuestAttached, KindGuestStandalone:
		return k, nil
	}
	return "", ErrUnknownKind
}

func (k Kind) rank() int {
	switch k {
	case KindMember:
		return 0
	case KindGuestAttached:
		return 1
	default:
		return 2
	}
}

// Guest is a participant without a member record, identified by the exact
// (name, phone) pair.
type Guest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (g Guest) key() string { return g.Name + "\x00" + g.Phone }

// Identity is what the duplicate check looks up: a member id, or a guest.
type Identity struct {
	MemberID uuid.UUID
	Guest    Guest
}

func MemberIdentity(id uuid.UUID) Identity { return Identity{MemberID: id} }

func GuestIdentity(g Guest) Identity { return Identity{Guest: g} }

// IsMember reports whether the identity refers to a member.
func (i Identity) IsMember() bool { return i.MemberID != uuid.Nil }

// CheckIn is one submission after roster resolution. Member is nil on the
// guest path, in which case Guest is the primary participant.
type CheckIn struct {
	Member     *roster.Member
	Guest      Guest
	Companions []Guest
	UserAgent  string
}

// Attendance is a primary check-in row. MemberID is nil for the anonymous
// parent row of a guest-only check-in.
type Attendance struct {
	ID         uuid.UUID  `json:"id"`
	MemberID   *uuid.UUID `json:"member_id,omitempty"`
	UserAgent  string     `json:"user_agent"`
	RecordTime time.Time  `json:"record_time"`
	CivilDate  string     `json:"civil_date"`
}

// GuestAttachment is a guest row. Attached rows reference an Attendance and
// inherit its time; standalone rows carry OwnRecordTime. RecordTime is the
// effective time and is resolved by the store on read.
type GuestAttachment struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	AttendanceID  *uuid.UUID `json:"attendance_id,omitempty"`
	OwnRecordTime *time.Time `json:"own_record_time,omitempty"`
	RecordTime    time.Time  `json:"record_time"`
	CivilDate     string     `json:"civil_date"`
}

// Kind of the guest row.
func (g GuestAttachment) Kind() Kind {
	if g.AttendanceID != nil {
		return KindGuestAttached
	}
	return KindGuestStandalone
}

// Entry is the tagged variant read from storage. Exactly one of Attendance
// and Guest is set, according to Kind.
type Entry struct {
	Kind       Kind
	Attendance *Attendance
	Guest      *GuestAttachment
}

// DisplayRecord is the single shape the rest of the system sees.
type DisplayRecord struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	StatusLabel string    `json:"status"`
	RecordTime  time.Time `json:"record_time"`
}

// Receipt describes what a successful Record stored.
type Receipt struct {
	Kind       Kind              `json:"kind"`
	PrimaryID  uuid.UUID         `json:"id"`
	RecordTime time.Time         `json:"record_time"`
	CivilDate  string            `json:"civil_date"`
	Guests     []GuestAttachment `json:"guests,omitempty"`
}

// NormalizePhone reduces a typed phone to the 8 stored digits. Spaces,
// dashes and dots are dropped, as is a leading 010 on an 11-digit number.
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return -1
		}
		return r
	}, raw)
	if digits == "" {
		return "", ErrMissingPhone
	}
	if len(digits) == 11 && strings.HasPrefix(digits, "010") {
		digits = digits[3:]
	}
	if !roster.ValidPhone(digits) {
		return "", ErrInvalidPhone
	}
	return digits, nil
}

// normalizeGuest trims the name and normalises the phone of a guest row.
func normalizeGuest(g Guest) (Guest, error) {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return Guest{}, ErrMissingName
	}
	phone, err := NormalizePhone(g.Phone)
	if err != nil {
		return Guest{}, err
	}
	g.Phone = phone
	return g, nil
}

// CheckedInEvent is journaled for every stored check-in.
type CheckedInEvent struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	CivilDate  string    `json:"civil_date"`
	RecordTime time.Time `json:"record_time"`
	Guests     int       `json:"guests"`
}

// RecordDeletedEvent is journaled when the admin removes a log row.
type RecordDeletedEvent struct {
	ID   uuid.UUID `json:"id"`
	Kind Kind      `json:"kind"`
}
