// internal/attendance/postgres.go
package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

// PostgresStore keeps attendances and guest rows in Postgres. Per-day
// uniqueness lives in the attendances_member_day and guest_attachments_guest_day
// indexes.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("joinrecs/attendance"),
	}
}

func (s *PostgresStore) SelectAttendance(ctx context.Context, f AttendanceFilter) ([]Attendance, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.store.select_attendance",
		trace.WithAttributes(attribute.String("window.date", f.Window.Date())),
	)
	defer span.End()

	query := `
		SELECT id, member_id, user_agent, record_time, to_char(civil_date, 'YYYY-MM-DD')
		FROM attendances
		WHERE record_time >= $1
		AND record_time < $2
	`
	args := []any{f.Window.Start(), f.Window.Next()}
	if f.MemberID != nil {
		query += " AND member_id = $3"
		args = append(args, *f.MemberID)
		span.SetAttributes(attribute.String("member.id", f.MemberID.String()))
	}
	query += " ORDER BY record_time, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("query attendances: %w", err))
	}
	defer rows.Close()

	var out []Attendance
	for rows.Next() {
		var (
			a        Attendance
			memberID uuid.NullUUID
		)
		if err := rows.Scan(&a.ID, &memberID, &a.UserAgent, &a.RecordTime, &a.CivilDate); err != nil {
			return nil, spanError(span, fmt.Errorf("scan attendance: %w", err))
		}
		if memberID.Valid {
			id := memberID.UUID
			a.MemberID = &id
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("iterate attendances: %w", err))
	}

	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

func (s *PostgresStore) SelectGuestAttachments(ctx context.Context, f GuestFilter) ([]GuestAttachment, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.store.select_guests")
	defer span.End()

	query := `
		SELECT g.id, g.guest_name, g.guest_phone, g.attendance_id, g.record_time,
			COALESCE(g.record_time, a.record_time) AS effective_time,
			to_char(g.civil_date, 'YYYY-MM-DD')
		FROM guest_attachments g
		LEFT JOIN attendances a ON a.id = g.attendance_id
		WHERE COALESCE(g.record_time, a.record_time) IS NOT NULL
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Name != "" {
		query += " AND g.guest_name = " + arg(f.Name)
	}
	if f.Phone != "" {
		query += " AND g.guest_phone = " + arg(f.Phone)
	}
	if f.Window != nil {
		query += " AND COALESCE(g.record_time, a.record_time) >= " + arg(f.Window.Start())
		query += " AND COALESCE(g.record_time, a.record_time) < " + arg(f.Window.Next())
		span.SetAttributes(attribute.String("window.date", f.Window.Date()))
	}
	query += " ORDER BY effective_time, g.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("query guest attachments: %w", err))
	}
	defer rows.Close()

	var out []GuestAttachment
	for rows.Next() {
		var (
			g            GuestAttachment
			attendanceID uuid.NullUUID
			own          sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Phone, &attendanceID, &own, &g.RecordTime, &g.CivilDate); err != nil {
			return nil, spanError(span, fmt.Errorf("scan guest attachment: %w", err))
		}
		if attendanceID.Valid {
			id := attendanceID.UUID
			g.AttendanceID = &id
		}
		if own.Valid {
			t := own.Time
			g.OwnRecordTime = &t
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("iterate guest attachments: %w", err))
	}

	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

func (s *PostgresStore) InsertAttendance(ctx context.Context, a Attendance) (Attendance, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.store.insert_attendance")
	defer span.End()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	span.SetAttributes(attribute.String("attendance.id", a.ID.String()))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendances (id, member_id, user_agent, record_time, civil_date)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, nullUUID(a.MemberID), a.UserAgent, a.RecordTime, a.CivilDate)
	if err != nil {
		if isUniqueViolation(err) {
			return Attendance{}, fmt.Errorf("%w: member %s on %s", ErrDuplicate, a.MemberID, a.CivilDate)
		}
		return Attendance{}, spanError(span, fmt.Errorf("insert attendance: %w", err))
	}
	return a, nil
}

func (s *PostgresStore) InsertGuestAttachments(ctx context.Context, guests []GuestAttachment) ([]GuestAttachment, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.store.insert_guests",
		trace.WithAttributes(attribute.Int("guest.count", len(guests))),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO guest_attachments (id, guest_name, guest_phone, attendance_id, record_time, civil_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING COALESCE(record_time, (SELECT a.record_time FROM attendances a WHERE a.id = attendance_id))
	`)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("prepare statement: %w", err))
	}
	defer stmt.Close()

	out := make([]GuestAttachment, len(guests))
	for i, g := range guests {
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		err := stmt.QueryRowContext(ctx, g.ID, g.Name, g.Phone, nullUUID(g.AttendanceID), nullTime(g.OwnRecordTime), g.CivilDate).Scan(&g.RecordTime)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: guest %s on %s", ErrDuplicate, g.Name, g.CivilDate)
			}
			return nil, spanError(span, fmt.Errorf("insert guest %d: %w", i, err))
		}
		out[i] = g
	}

	if err := tx.Commit(); err != nil {
		return nil, spanError(span, fmt.Errorf("commit transaction: %w", err))
	}
	return out, nil
}

// DeleteAttendance removes one attendance row. Attached guests go with it
// through ON DELETE CASCADE.
func (s *PostgresStore) DeleteAttendance(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "attendance.store.delete_attendance",
		trace.WithAttributes(attribute.String("attendance.id", id.String())),
	)
	defer span.End()

	return s.deleteOne(ctx, span, `DELETE FROM attendances WHERE id = $1`, id, "attendance")
}

func (s *PostgresStore) DeleteGuestAttachment(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "attendance.store.delete_guest",
		trace.WithAttributes(attribute.String("guest.id", id.String())),
	)
	defer span.End()

	return s.deleteOne(ctx, span, `DELETE FROM guest_attachments WHERE id = $1`, id, "guest")
}

func (s *PostgresStore) deleteOne(ctx context.Context, span trace.Span, query string, id uuid.UUID, what string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return spanError(span, fmt.Errorf("delete %s: %w", what, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return spanError(span, fmt.Errorf("delete %s: %w", what, err))
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrRecordNotFound, what, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
