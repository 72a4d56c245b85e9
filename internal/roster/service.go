// internal/roster/service.go
package roster

import (
	"context"

	"github.com/google/uuid"

	"joinrecs/internal/eventstore"
	"joinrecs/internal/session"
)

// Service defines the roster operations. Lookups used by the check-in path
// take no session; listing and mutations require an admin session.
type Service interface {
	FindMember(ctx context.Context, name string) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	SearchMembers(ctx context.Context, prefix string, limit int) ([]Member, error)
	ListMembers(ctx context.Context, sess *session.Session) ([]Member, error)
	AddMember(ctx context.Context, sess *session.Session, name, phone string, status Status) (*Member, error)
	UpdateMemberStatus(ctx context.Context, sess *session.Session, id uuid.UUID, status Status) (*Member, error)
	History(ctx context.Context, sess *session.Session, id uuid.UUID) ([]eventstore.Event, error)
	Keepalive(ctx context.Context) error
}

// Repository is the roster's storage collaborator.
type Repository interface {
	// SelectMembersByStatus returns members in any of statuses, or all
	// members when statuses is empty.
	SelectMembersByStatus(ctx context.Context, statuses []Status) ([]Member, error)
	SelectMembersByName(ctx context.Context, name string) ([]Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	InsertMember(ctx context.Context, m *Member) error
	// UpdateMemberStatus applies the change only if the stored version is
	// expectedVersion, and bumps the version.
	UpdateMemberStatus(ctx context.Context, id uuid.UUID, status Status, expectedVersion int) error
	Ping(ctx context.Context) error
}
