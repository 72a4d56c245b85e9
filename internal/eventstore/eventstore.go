// Package eventstore journals admin-visible changes (members added, status
// transitions, check-ins and deletions) as versioned events per aggregate.
//
// A stream is the ordered history of one member or one attendance record.
// Versions start at 1 and have no gaps; a writer states the version it last
// saw and loses to anyone who appended since.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("journal stream changed since it was read")
	ErrInvalidVersion      = errors.New("journal version must not be negative")
)

// Event is one journal entry.
type Event struct {
	ID            int64           `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Actor         string          `json:"actor,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Journal is implemented by the Postgres and in-memory stores.
type Journal interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
}

// NewEvent marshals data into an Event ready for AppendEvents.
func NewEvent(eventType, actor string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: raw, Actor: actor}, nil
}

const (
	// Postgres error classes that mean another writer got to the stream first.
	uniqueViolation      = "23505"
	serializationFailure = "40001"

	eventColumns = `id, aggregate_id, aggregate_type, event_type, event_data, actor, version, created_at`
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EventStore is the Postgres journal, stored in the events table.
type EventStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("joinrecs/journal"),
	}
}

// AppendEvents adds events to the end of a stream in one transaction.
// Appenders to the same stream queue on a transaction-scoped advisory lock, so
// the loser of a race sees the winner's version and gets
// ErrConcurrencyConflict instead of a serialization error.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("journal.stream", aggregateID.String()),
			attribute.String("journal.stream_type", aggregateType),
			attribute.Int("journal.expected_version", expectedVersion),
			attribute.Int("journal.entries", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return spanError(span, fmt.Errorf("open journal transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, aggregateID.String()); err != nil {
		return spanError(span, fmt.Errorf("lock %s stream %s: %w", aggregateType, aggregateID, err))
	}

	current, err := streamVersion(ctx, tx, aggregateID)
	if err != nil {
		return spanError(span, err)
	}
	if current != expectedVersion {
		span.SetAttributes(attribute.Int("journal.current_version", current))
		return fmt.Errorf("%w: %s stream %s is at version %d, not %d",
			ErrConcurrencyConflict, aggregateType, aggregateID, current, expectedVersion)
	}
	if len(events) == 0 {
		return nil
	}

	for i, event := range events {
		version := expectedVersion + i + 1
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, actor, version)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, aggregateID, aggregateType, event.EventType, []byte(event.EventData), event.Actor, version).Scan(&id)
		if err != nil {
			if lostRace(err) {
				return fmt.Errorf("%w: %s stream %s version %d already written",
					ErrConcurrencyConflict, aggregateType, aggregateID, version)
			}
			return spanError(span, fmt.Errorf("write %s at version %d: %w", event.EventType, version, err))
		}
		span.AddEvent("journal.entry", trace.WithAttributes(
			attribute.Int64("journal.entry_id", id),
			attribute.String("journal.event_type", event.EventType),
			attribute.Int("journal.version", version),
		))
	}

	if err := tx.Commit(); err != nil {
		if lostRace(err) {
			return fmt.Errorf("%w: %s stream %s", ErrConcurrencyConflict, aggregateType, aggregateID)
		}
		return spanError(span, fmt.Errorf("commit journal transaction: %w", err))
	}
	return nil
}

// LoadEvents returns a stream's events from fromVersion on, oldest first.
// toVersion <= 0 means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(
			attribute.String("journal.stream", aggregateID.String()),
			attribute.Int("journal.from_version", fromVersion),
			attribute.Int("journal.to_version", toVersion),
		),
	)
	defer span.End()

	upper := toVersion
	if upper <= 0 {
		upper = -1
	}
	rows, err := es.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE aggregate_id = $1
		AND version >= $2
		AND ($3 < 0 OR version <= $3)
		ORDER BY version
	`, aggregateID, fromVersion, upper)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("read stream %s: %w", aggregateID, err))
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, spanError(span, fmt.Errorf("read stream %s: %w", aggregateID, err))
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, fmt.Errorf("read stream %s: %w", aggregateID, err))
	}

	span.SetAttributes(attribute.Int("journal.entries", len(events)))
	return events, nil
}

// GetCurrentVersion is the version of a stream's last event, 0 for a stream
// that has none. Members imported straight into the roster start at 0.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "journal.version",
		trace.WithAttributes(attribute.String("journal.stream", aggregateID.String())),
	)
	defer span.End()

	version, err := streamVersion(ctx, es.db, aggregateID)
	if err != nil {
		return 0, spanError(span, err)
	}
	span.SetAttributes(attribute.Int("journal.current_version", version))
	return version, nil
}

func streamVersion(ctx context.Context, q queryRower, aggregateID uuid.UUID) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`, aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read version of stream %s: %w", aggregateID, err)
	}
	return version, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		e    Event
		data []byte
	)
	if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Actor, &e.Version, &e.CreatedAt); err != nil {
		return Event{}, err
	}
	e.EventData = data
	return e, nil
}

func lostRace(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation || pqErr.Code == serializationFailure
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
