package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"joinrecs/internal/daywindow"
)

// GuestMode selects how a guest-only check-in is stored.
type GuestMode string

const (
	// GuestModeStandalone stores the guest as a row with its own record time.
	GuestModeStandalone GuestMode = "standalone"
	// GuestModeAttendance stores an anonymous attendance and attaches the
	// guest to it.
	GuestModeAttendance GuestMode = "attendance"
)

// ParseGuestMode validates a configured mode. Empty means standalone.
func ParseGuestMode(s string) (GuestMode, error) {
	switch m := GuestMode(s); m {
	case "":
		return GuestModeStandalone, nil
	case GuestModeStandalone, GuestModeAttendance:
		return m, nil
	}
	return "", fmt.Errorf("unknown guest mode %q", s)
}

// RecorderConfig configures a Recorder. Location is required.
type RecorderConfig struct {
	Location  *time.Location
	GuestMode GuestMode
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Recorder writes a check-in: the primary row, then the accompanying guests.
type Recorder struct {
	store   Store
	checker *Checker
	loc     *time.Location
	mode    GuestMode
	now     func() time.Time
	log     zerolog.Logger
}

func NewRecorder(store Store, cfg RecorderConfig, logger zerolog.Logger) *Recorder {
	if cfg.GuestMode == "" {
		cfg.GuestMode = GuestModeStandalone
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Recorder{
		store:   store,
		checker: NewChecker(store),
		loc:     cfg.Location,
		mode:    cfg.GuestMode,
		now:     cfg.Clock,
		log:     logger.With().Str("component", "recorder").Logger(),
	}
}

// Location is the civil timezone records are stamped and bucketed in.
func (r *Recorder) Location() *time.Location { return r.loc }

// Today is the window containing the recorder's current time.
func (r *Recorder) Today() daywindow.Window {
	return daywindow.ForInstant(r.now(), r.loc)
}

// Record validates c, checks every participant against today's records and
// stores the check-in. When the primary row is stored but the guests are
// not, the receipt is returned together with a *PartialWriteError.
func (r *Recorder) Record(ctx context.Context, c CheckIn) (*Receipt, error) {
	c, err := r.validate(c)
	if err != nil {
		return nil, err
	}

	if c.Member != nil && c.Member.Status.Restricted() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRestrictedMember, c.Member.Name, c.Member.Status)
	}

	now := r.now().In(r.loc)
	day := daywindow.ForInstant(now, r.loc)

	if err := r.checkNotAttended(ctx, c, day); err != nil {
		return nil, err
	}

	receipt := &Receipt{RecordTime: now, CivilDate: day.Date()}
	var parentID *uuid.UUID

	switch {
	case c.Member != nil:
		memberID := c.Member.ID
		a, err := r.insertAttendance(ctx, Attendance{MemberID: &memberID, UserAgent: c.UserAgent, RecordTime: now, CivilDate: day.Date()})
		if err != nil {
			return nil, err
		}
		receipt.Kind = KindMember
		receipt.PrimaryID = a.ID
		parentID = &a.ID

	case r.mode == GuestModeAttendance:
		a, err := r.insertAttendance(ctx, Attendance{UserAgent: c.UserAgent, RecordTime: now, CivilDate: day.Date()})
		if err != nil {
			return nil, err
		}
		parentID = &a.ID
		rows, err := r.insertGuests(ctx, []Guest{c.Guest}, parentID, now, day)
		if err != nil {
			// The anonymous parent is left behind; it never shows in the log.
			r.log.Warn().Err(err).Str("attendance_id", a.ID.String()).Msg("guest row failed after parent attendance")
			return nil, err
		}
		receipt.Kind = KindGuestAttached
		receipt.PrimaryID = rows[0].ID
		receipt.Guests = append(receipt.Guests, rows[0])

	default:
		rows, err := r.insertGuests(ctx, []Guest{c.Guest}, nil, now, day)
		if err != nil {
			return nil, err
		}
		receipt.Kind = KindGuestStandalone
		receipt.PrimaryID = rows[0].ID
		receipt.Guests = append(receipt.Guests, rows[0])
	}

	if len(c.Companions) == 0 {
		return receipt, nil
	}

	rows, err := r.insertGuests(ctx, c.Companions, parentID, now, day)
	if err != nil {
		r.log.Warn().Err(err).
			Str("primary_id", receipt.PrimaryID.String()).
			Int("guests", len(c.Companions)).
			Msg("check-in recorded without its guests")
		return receipt, &PartialWriteError{PrimaryID: receipt.PrimaryID, Guests: c.Companions, Err: err}
	}
	receipt.Guests = append(receipt.Guests, rows...)
	return receipt, nil
}

// validate normalises every guest row and enforces the per-submission rules.
func (r *Recorder) validate(c CheckIn) (CheckIn, error) {
	if len(c.Companions) > MaxCompanions {
		return c, ErrTooManyGuests
	}

	seen := make(map[string]bool, len(c.Companions)+1)
	if c.Member == nil {
		g, err := normalizeGuest(c.Guest)
		if err != nil {
			return c, err
		}
		c.Guest = g
		seen[g.key()] = true
	}

	companions := make([]Guest, len(c.Companions))
	for i, g := range c.Companions {
		g, err := normalizeGuest(g)
		if err != nil {
			return c, fmt.Errorf("guest %d: %w", i+1, err)
		}
		if seen[g.key()] {
			return c, fmt.Errorf("%w: %s", ErrRepeatedGuest, g.Name)
		}
		seen[g.key()] = true
		companions[i] = g
	}
	c.Companions = companions
	return c, nil
}

// checkNotAttended runs the duplicate check for the primary participant and
// every companion before anything is written.
func (r *Recorder) checkNotAttended(ctx context.Context, c CheckIn, day daywindow.Window) error {
	primary := GuestIdentity(c.Guest)
	who := c.Guest.Name
	if c.Member != nil {
		primary = MemberIdentity(c.Member.ID)
		who = c.Member.Name
	}

	attended, err := r.checker.HasAttended(ctx, primary, day)
	if err != nil {
		return err
	}
	if attended {
		return fmt.Errorf("%w: %s on %s", ErrDuplicate, who, day.Date())
	}

	for _, g := range c.Companions {
		attended, err := r.checker.HasAttended(ctx, GuestIdentity(g), day)
		if err != nil {
			return err
		}
		if attended {
			return fmt.Errorf("%w: guest %s on %s", ErrDuplicate, g.Name, day.Date())
		}
	}
	return nil
}

func (r *Recorder) insertAttendance(ctx context.Context, a Attendance) (Attendance, error) {
	a.ID = uuid.New()
	stored, err := r.store.InsertAttendance(ctx, a)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Attendance{}, err
		}
		return Attendance{}, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return stored, nil
}

// insertGuests stores guests attached to parentID, or standalone at now when
// parentID is nil.
func (r *Recorder) insertGuests(ctx context.Context, guests []Guest, parentID *uuid.UUID, now time.Time, day daywindow.Window) ([]GuestAttachment, error) {
	rows := make([]GuestAttachment, len(guests))
	for i, g := range guests {
		row := GuestAttachment{
			ID:        uuid.New(),
			Name:      g.Name,
			Phone:     g.Phone,
			CivilDate: day.Date(),
		}
		if parentID != nil {
			id := *parentID
			row.AttendanceID = &id
		} else {
			t := now
			row.OwnRecordTime = &t
		}
		rows[i] = row
	}

	stored, err := r.store.InsertGuestAttachments(ctx, rows)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return stored, nil
}
