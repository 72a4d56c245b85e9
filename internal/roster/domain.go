// internal/roster/domain.go
package roster

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrAmbiguousMember = errors.New("more than one member has this name")
	ErrInvalidMember   = errors.New("invalid member")
	ErrInvalidStatus   = errors.New("invalid member status")
	ErrDuplicateName   = errors.New("name already belongs to an active member")
)

// Status is a member's standing in the club.
type Status string

const (
	StatusActiveFull      Status = "active_full"
	StatusActiveAssociate Status = "active_associate"
	StatusGuestTagged     Status = "guest_tagged"
	StatusSuspended       Status = "suspended"
	StatusWithdrawn       Status = "withdrawn"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusActiveFull,
	StatusActiveAssociate,
	StatusGuestTagged,
	StatusSuspended,
	StatusWithdrawn,
}

// ParseStatus validates a status code.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

var statusLabels = map[Status]string{
	StatusActiveFull:      "정회원",
	StatusActiveAssociate: "준회원",
	StatusGuestTagged:     "게스트",
	StatusSuspended:       "정지",
	StatusWithdrawn:       "탈퇴",
}

// Label is the name printed on the daily log. Unknown codes print as-is.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Restricted reports whether members with this status may not check in.
func (s Status) Restricted() bool {
	return s == StatusSuspended || s == StatusWithdrawn
}

// Member represents a club member.
type Member struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

var localPhone = regexp.MustCompile(`^[0-9]{8}$`)

// ValidPhone reports whether phone is 8 local digits (no carrier prefix).
func ValidPhone(phone string) bool {
	return localPhone.MatchString(phone)
}

// FormatPhone renders an 8-digit local number as 010-XXXX-XXXX. Anything
// else is returned unchanged.
func FormatPhone(phone string) string {
	if !ValidPhone(phone) {
		return phone
	}
	return "010-" + phone[:4] + "-" + phone[4:]
}

// MemberAddedEvent is journaled when the admin adds a member.
type MemberAddedEvent struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status Status    `json:"status"`
}

// MemberStatusChangedEvent is journaled on every status transition.
type MemberStatusChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
}
