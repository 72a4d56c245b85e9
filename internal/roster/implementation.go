// internal/roster/implementation.go
package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"joinrecs/internal/eventstore"
	"joinrecs/internal/session"
)

const aggregateType = "member"

// ErrStaleMember is returned when a member changed between read and update.
var ErrStaleMember = errors.New("member was modified concurrently")

// service implements the Service interface.
type service struct {
	repo    Repository
	journal eventstore.Journal
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates a new roster service instance.
func NewService(repo Repository, journal eventstore.Journal, logger zerolog.Logger) Service {
	return &service{
		repo:    repo,
		journal: journal,
		log:     logger.With().Str("component", "roster").Logger(),
		now:     time.Now,
	}
}

// FindMember resolves an exact display name. Every status is searched so a
// suspended member is recognised as such rather than as a guest. When a name
// also appears on withdrawn or suspended records, the one member allowed to
// check in wins; with no such member the newest record answers.
func (s *service) FindMember(ctx context.Context, name string) (*Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidMember)
	}

	members, err := s.repo.SelectMembersByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up member: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrMemberNotFound
	}

	var active []Member
	for _, m := range members {
		if !m.Status.Restricted() {
			active = append(active, m)
		}
	}

	switch len(active) {
	case 0:
		newest := members[0]
		for _, m := range members[1:] {
			if m.CreatedAt.After(newest.CreatedAt) {
				newest = m
			}
		}
		return &newest, nil
	case 1:
		return &active[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d members", ErrAmbiguousMember, name, len(active))
	}
}

func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.repo.GetMember(ctx, id)
}

// SearchMembers drives the kiosk's name picker: case-insensitive prefix match
// over members who have not withdrawn.
func (s *service) SearchMembers(ctx context.Context, prefix string, limit int) ([]Member, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return []Member{}, nil
	}

	members, err := s.repo.SelectMembersByStatus(ctx, []Status{
		StatusActiveFull, StatusActiveAssociate, StatusGuestTagged, StatusSuspended,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search members: %w", err)
	}

	matches := make([]Member, 0, len(members))
	for _, m := range members {
		if strings.HasPrefix(strings.ToLower(m.Name), prefix) {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *service) ListMembers(ctx context.Context, sess *session.Session) ([]Member, error) {
	if err := sess.Require(session.CapReadRoster); err != nil {
		return nil, err
	}
	members, err := s.repo.SelectMembersByStatus(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members, nil
}

// AddMember creates a new member.
func (s *service) AddMember(ctx context.Context, sess *session.Session, name, phone string, status Status) (*Member, error) {
	if err := sess.Require(session.CapManageRoster); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidMember)
	}
	if !ValidPhone(phone) {
		return nil, fmt.Errorf("%w: phone must be 8 digits", ErrInvalidMember)
	}
	if status == "" {
		status = StatusActiveFull
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	if !status.Restricted() {
		if err := s.ensureNameFree(ctx, name, uuid.Nil); err != nil {
			return nil, err
		}
	}

	now := s.now()
	member := &Member{
		ID:        uuid.New(),
		Name:      name,
		Phone:     phone,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	event, err := eventstore.NewEvent("MemberAdded", sess.Actor(), MemberAddedEvent{
		ID:     member.ID,
		Name:   member.Name,
		Status: member.Status,
	})
	if err != nil {
		return nil, err
	}
	if err := s.journal.AppendEvents(ctx, member.ID, aggregateType, 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if err := s.repo.InsertMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to insert member: %w", err)
	}

	s.log.Info().Str("member_id", member.ID.String()).Str("status", string(status)).Msg("member added")
	return member, nil
}

// UpdateMemberStatus moves a member to a new status.
func (s *service) UpdateMemberStatus(ctx context.Context, sess *session.Session, id uuid.UUID, status Status) (*Member, error) {
	if err := sess.Require(session.CapManageRoster); err != nil {
		return nil, err
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	member, err := s.repo.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if member.Status == status {
		return member, nil
	}
	if member.Status.Restricted() && !status.Restricted() {
		if err := s.ensureNameFree(ctx, member.Name, id); err != nil {
			return nil, err
		}
	}

	event, err := eventstore.NewEvent("MemberStatusChanged", sess.Actor(), MemberStatusChangedEvent{
		ID:        id,
		OldStatus: member.Status,
		NewStatus: status,
	})
	if err != nil {
		return nil, err
	}
	// Members imported outside the service have no stream yet, so the journal
	// keeps its own version and the row version guards the update.
	journalVersion, err := s.journal.GetCurrentVersion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read member history version: %w", err)
	}
	if err := s.journal.AppendEvents(ctx, id, aggregateType, journalVersion, []eventstore.Event{event}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return nil, ErrStaleMember
		}
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if err := s.repo.UpdateMemberStatus(ctx, id, status, member.Version); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("member_id", id.String()).
		Str("old_status", string(member.Status)).
		Str("new_status", string(status)).
		Msg("member status changed")

	member.Status = status
	member.Version++
	member.UpdatedAt = s.now()
	return member, nil
}

// ensureNameFree keeps check-in by name unambiguous: among members who may
// check in, each display name belongs to at most one.
func (s *service) ensureNameFree(ctx context.Context, name string, self uuid.UUID) error {
	holders, err := s.repo.SelectMembersByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up member: %w", err)
	}
	for _, m := range holders {
		if m.ID != self && !m.Status.Restricted() {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return nil
}

func (s *service) History(ctx context.Context, sess *session.Session, id uuid.UUID) ([]eventstore.Event, error) {
	if err := sess.Require(session.CapReadRoster); err != nil {
		return nil, err
	}
	events, err := s.journal.LoadEvents(ctx, id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load member history: %w", err)
	}
	return events, nil
}

// Keepalive runs the lightest roster query to keep the database awake.
func (s *service) Keepalive(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("keepalive query failed: %w", err)
	}
	return nil
}
