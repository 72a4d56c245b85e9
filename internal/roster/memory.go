package roster

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps members in process. It backs the tests and the
// database-less demo mode.
type MemoryRepository struct {
	mu      sync.RWMutex
	members map[uuid.UUID]Member
	// FailReads makes every read return this error when set.
	FailReads error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{members: make(map[uuid.UUID]Member)}
}

// Seed stores members as-is, assigning ids and versions where missing.
func (r *MemoryRepository) Seed(members ...Member) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Member, len(members))
	for i, m := range members {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.Version == 0 {
			m.Version = 1
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
			m.UpdatedAt = m.CreatedAt
		}
		r.members[m.ID] = m
		out[i] = m
	}
	return out
}

func (r *MemoryRepository) SelectMembersByStatus(_ context.Context, statuses []Status) ([]Member, error) {
	return r.filter(func(m Member) bool {
		return len(statuses) == 0 || slices.Contains(statuses, m.Status)
	})
}

func (r *MemoryRepository) SelectMembersByName(_ context.Context, name string) ([]Member, error) {
	return r.filter(func(m Member) bool { return m.Name == name })
}

func (r *MemoryRepository) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.FailReads != nil {
		return nil, r.FailReads
	}
	m, ok := r.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	return &m, nil
}

func (r *MemoryRepository) InsertMember(_ context.Context, m *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[m.ID]; exists {
		return fmt.Errorf("member %s already exists", m.ID)
	}
	r.members[m.ID] = *m
	return nil
}

func (r *MemoryRepository) UpdateMemberStatus(_ context.Context, id uuid.UUID, status Status, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	if m.Version != expectedVersion {
		return ErrStaleMember
	}
	m.Status = status
	m.Version++
	m.UpdatedAt = time.Now()
	r.members[id] = m
	return nil
}

func (r *MemoryRepository) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.FailReads
}

func (r *MemoryRepository) filter(keep func(Member) bool) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.FailReads != nil {
		return nil, r.FailReads
	}
	var out []Member
	for _, m := range r.members {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
