// internal/roster/repository.go
package roster

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const memberColumns = `id, name, phone, status, created_at, updated_at, version`

// PostgresRepository stores members in the members table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SelectMembersByStatus(ctx context.Context, statuses []Status) ([]Member, error) {
	if len(statuses) == 0 {
		return r.queryMembers(ctx, `SELECT `+memberColumns+` FROM members ORDER BY name, created_at`)
	}

	codes := make([]string, len(statuses))
	for i, st := range statuses {
		codes[i] = string(st)
	}
	return r.queryMembers(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE status = ANY($1)
		ORDER BY name, created_at
	`, pq.Array(codes))
}

func (r *PostgresRepository) SelectMembersByName(ctx context.Context, name string) ([]Member, error) {
	return r.queryMembers(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE name = $1
		ORDER BY created_at
	`, name)
}

func (r *PostgresRepository) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	member := &Member{}
	err := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id).Scan(
		&member.ID,
		&member.Name,
		&member.Phone,
		&member.Status,
		&member.CreatedAt,
		&member.UpdatedAt,
		&member.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

func (r *PostgresRepository) InsertMember(ctx context.Context, m *Member) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, name, phone, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.Name, m.Phone, string(m.Status), m.CreatedAt, m.UpdatedAt, m.Version)
	return err
}

func (r *PostgresRepository) UpdateMemberStatus(ctx context.Context, id uuid.UUID, status Status, expectedVersion int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE members
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`, string(status), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	if n == 0 {
		return ErrStaleMember
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM members LIMIT 1`).Scan(&one)
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}

func (r *PostgresRepository) queryMembers(ctx context.Context, query string, args ...any) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Phone, &m.Status, &m.CreatedAt, &m.UpdatedAt, &m.Version); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}
