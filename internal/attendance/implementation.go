// internal/attendance/implementation.go
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"joinrecs/internal/daywindow"
	"joinrecs/internal/eventstore"
	"joinrecs/internal/roster"
	"joinrecs/internal/session"
)

// Deps are the collaborators of the attendance service. Limiter may be nil.
type Deps struct {
	Store    Store
	Roster   roster.Service
	Recorder *Recorder
	DailyLog *DailyLog
	Journal  eventstore.Journal
	Limiter  *rate.Limiter
}

// service implements the Service interface.
type service struct {
	store    Store
	roster   roster.Service
	recorder *Recorder
	daily    *DailyLog
	journal  eventstore.Journal
	limiter  *rate.Limiter
	log      zerolog.Logger
	tracer   trace.Tracer
	checkins metric.Int64Counter
	logSize  metric.Int64Histogram
}

// NewService creates a new attendance service instance.
func NewService(deps Deps, logger zerolog.Logger) Service {
	if deps.Limiter == nil {
		deps.Limiter = rate.NewLimiter(rate.Inf, 0)
	}

	meter := otel.Meter("joinrecs/attendance")
	checkins, err := meter.Int64Counter("kiosk.checkins",
		metric.WithDescription("Check-in submissions by outcome"),
	)
	if err != nil {
		otel.Handle(err)
		checkins = noop.Int64Counter{}
	}
	logSize, err := meter.Int64Histogram("kiosk.daily_log.size",
		metric.WithDescription("Records returned per daily log read"),
	)
	if err != nil {
		otel.Handle(err)
		logSize = noop.Int64Histogram{}
	}

	return &service{
		store:    deps.Store,
		roster:   deps.Roster,
		recorder: deps.Recorder,
		daily:    deps.DailyLog,
		journal:  deps.Journal,
		limiter:  deps.Limiter,
		log:      logger.With().Str("component", "attendance").Logger(),
		tracer:   otel.Tracer("joinrecs/attendance"),
		checkins: checkins,
		logSize:  logSize,
	}
}

func (s *service) SubmitCheckIn(ctx context.Context, req CheckInRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.submit",
		trace.WithAttributes(attribute.Int("guest.count", len(req.Guests))),
	)
	defer span.End()

	receipt, err := s.submit(ctx, req)
	outcome := outcomeOf(err)
	s.checkins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	span.SetAttributes(attribute.String("outcome", outcome))

	var partial *PartialWriteError
	switch {
	case err == nil:
		s.log.Info().
			Str("kind", string(receipt.Kind)).
			Str("id", receipt.PrimaryID.String()).
			Str("date", receipt.CivilDate).
			Int("guests", len(receipt.Guests)).
			Msg("checked in")
		return &Result{OK: true, Message: UserMessage(nil), Receipt: receipt}, nil
	case errors.As(err, &partial):
		return &Result{OK: true, Message: UserMessage(nil), Warning: UserMessage(err), Receipt: receipt}, nil
	case outcome == "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Err(err).Msg("check-in failed")
	default:
		s.log.Info().Err(err).Str("outcome", outcome).Msg("check-in rejected")
	}
	return nil, err
}

func (s *service) submit(ctx context.Context, req CheckInRequest) (*Receipt, error) {
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	c, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	receipt, err := s.recorder.Record(ctx, c)
	if receipt != nil {
		s.journalCheckIn(ctx, receipt)
	}
	return receipt, err
}

// resolve turns the form into a CheckIn: an explicit member pick, an exact
// roster name match, or a guest.
func (s *service) resolve(ctx context.Context, req CheckInRequest) (CheckIn, error) {
	c := CheckIn{Companions: compactGuests(req.Guests), UserAgent: req.UserAgent}

	if req.MemberID != nil {
		m, err := s.roster.GetMember(ctx, *req.MemberID)
		if err != nil {
			if errors.Is(err, roster.ErrMemberNotFound) {
				return c, fmt.Errorf("%w: unknown member %s", ErrValidation, *req.MemberID)
			}
			return c, fmt.Errorf("%w: member lookup: %w", ErrStorageRead, err)
		}
		c.Member = m
		return c, nil
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return c, ErrMissingName
	}
	m, err := s.roster.FindMember(ctx, name)
	switch {
	case err == nil:
		c.Member = m
	case errors.Is(err, roster.ErrMemberNotFound):
		c.Guest = Guest{Name: name, Phone: req.Phone}
	case errors.Is(err, roster.ErrAmbiguousMember):
		return c, err
	default:
		return c, fmt.Errorf("%w: member lookup: %w", ErrStorageRead, err)
	}
	return c, nil
}

// compactGuests drops the blank guest slots the form always sends.
func compactGuests(guests []Guest) []Guest {
	var out []Guest
	for _, g := range guests {
		if strings.TrimSpace(g.Name) == "" && strings.TrimSpace(g.Phone) == "" {
			continue
		}
		out = append(out, g)
	}
	return out
}

func (s *service) journalCheckIn(ctx context.Context, receipt *Receipt) {
	aggregate := "attendance"
	if receipt.Kind != KindMember {
		aggregate = "guest"
	}
	event, err := eventstore.NewEvent("CheckedIn", "kiosk", CheckedInEvent{
		ID:         receipt.PrimaryID,
		Kind:       receipt.Kind,
		CivilDate:  receipt.CivilDate,
		RecordTime: receipt.RecordTime,
		Guests:     len(receipt.Guests),
	})
	if err == nil {
		err = s.journal.AppendEvents(ctx, receipt.PrimaryID, aggregate, 0, []eventstore.Event{event})
	}
	if err != nil {
		s.log.Warn().Err(err).Str("id", receipt.PrimaryID.String()).Msg("failed to journal check-in")
	}
}

func (s *service) GetDailyLog(ctx context.Context, sess *session.Session, date string) (*DayLog, error) {
	if err := sess.Require(session.CapReadLog); err != nil {
		return nil, err
	}

	w := s.recorder.Today()
	if date != "" {
		parsed, err := daywindow.Parse(date, s.recorder.Location())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		w = parsed
	}

	records, err := s.daily.ListDay(ctx, w)
	if err != nil {
		s.log.Error().Err(err).Str("date", w.Date()).Msg("failed to read daily log")
		return nil, err
	}
	s.logSize.Record(ctx, int64(len(records)))
	return &DayLog{Date: w.Date(), Window: w, Records: records}, nil
}

// DeleteRecord removes one row of the daily log. Member rows are attendances;
// guest rows of either shape are guest attachments.
func (s *service) DeleteRecord(ctx context.Context, sess *session.Session, kind Kind, id uuid.UUID) error {
	if err := sess.Require(session.CapDeleteRecord); err != nil {
		return err
	}

	var (
		err       error
		aggregate string
		eventType string
	)
	switch kind {
	case KindMember:
		aggregate, eventType = "attendance", "AttendanceDeleted"
		err = s.store.DeleteAttendance(ctx, id)
	case KindGuestAttached, KindGuestStandalone:
		aggregate, eventType = "guest", "GuestAttachmentDeleted"
		err = s.store.DeleteGuestAttachment(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	s.log.Info().Str("kind", string(kind)).Str("id", id.String()).Str("actor", sess.Actor()).Msg("record deleted")

	event, err := eventstore.NewEvent(eventType, sess.Actor(), RecordDeletedEvent{ID: id, Kind: kind})
	if err == nil {
		var version int
		version, err = s.journal.GetCurrentVersion(ctx, id)
		if err == nil {
			err = s.journal.AppendEvents(ctx, id, aggregate, version, []eventstore.Event{event})
		}
	}
	if err != nil {
		s.log.Warn().Err(err).Str("id", id.String()).Msg("failed to journal deletion")
	}
	return nil
}

func outcomeOf(err error) string {
	var partial *PartialWriteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &partial):
		return "partial"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrRestrictedMember):
		return "restricted"
	case errors.Is(err, ErrValidation), errors.Is(err, roster.ErrAmbiguousMember):
		return "invalid"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
