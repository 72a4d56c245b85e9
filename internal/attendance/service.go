// internal/attendance/service.go
package attendance

import (
	"context"

	"github.com/google/uuid"

	"joinrecs/internal/daywindow"
	"joinrecs/internal/session"
)

// Service is what the kiosk and admin surfaces call.
type Service interface {
	// SubmitCheckIn resolves the submitter against the roster and records the
	// check-in. A partial write returns a result with a warning and no error.
	SubmitCheckIn(ctx context.Context, req CheckInRequest) (*Result, error)
	GetDailyLog(ctx context.Context, sess *session.Session, date string) (*DayLog, error)
	DeleteRecord(ctx context.Context, sess *session.Session, kind Kind, id uuid.UUID) error
}

// CheckInRequest is one kiosk form submission. MemberID, when set, is the
// member the submitter picked from the candidate list and wins over Name.
// Phone is only used on the guest path.
type CheckInRequest struct {
	Name      string     `json:"name"`
	MemberID  *uuid.UUID `json:"member_id,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Guests    []Guest    `json:"guests,omitempty"`
	UserAgent string     `json:"-"`
}

// Result is the kiosk's feedback for an accepted check-in.
type Result struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message"`
	Warning string   `json:"warning,omitempty"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

// DayLog is one civil day of the daily log.
type DayLog struct {
	Date    string           `json:"date"`
	Window  daywindow.Window `json:"-"`
	Records []DisplayRecord  `json:"records"`
}
