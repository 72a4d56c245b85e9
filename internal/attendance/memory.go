package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It enforces the same per-day
// uniqueness as the Postgres indexes, under one mutex.
type MemoryStore struct {
	mu          sync.Mutex
	attendances map[uuid.UUID]Attendance
	guests      map[uuid.UUID]GuestAttachment

	// Failure injection for tests. Each is returned as-is when set.
	FailReads            error
	FailAttendanceWrites error
	FailGuestWrites      error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attendances: make(map[uuid.UUID]Attendance),
		guests:      make(map[uuid.UUID]GuestAttachment),
	}
}

func (m *MemoryStore) SelectAttendance(_ context.Context, f AttendanceFilter) ([]Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailReads != nil {
		return nil, m.FailReads
	}
	var out []Attendance
	for _, a := range m.attendances {
		if f.MemberID != nil && (a.MemberID == nil || *a.MemberID != *f.MemberID) {
			continue
		}
		if !f.Window.Contains(a.RecordTime) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordTime.Equal(out[j].RecordTime) {
			return out[i].RecordTime.Before(out[j].RecordTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) SelectGuestAttachments(_ context.Context, f GuestFilter) ([]GuestAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailReads != nil {
		return nil, m.FailReads
	}
	var out []GuestAttachment
	for _, g := range m.guests {
		if f.Name != "" && g.Name != f.Name {
			continue
		}
		if f.Phone != "" && g.Phone != f.Phone {
			continue
		}
		resolved, ok := m.resolve(g)
		if !ok {
			continue
		}
		if f.Window != nil && !f.Window.Contains(resolved.RecordTime) {
			continue
		}
		out = append(out, resolved)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordTime.Equal(out[j].RecordTime) {
			return out[i].RecordTime.Before(out[j].RecordTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// resolve fills the effective record time. Rows without one are dropped,
// matching the Postgres store.
func (m *MemoryStore) resolve(g GuestAttachment) (GuestAttachment, bool) {
	if g.AttendanceID == nil {
		if g.OwnRecordTime == nil {
			return g, false
		}
		g.RecordTime = *g.OwnRecordTime
		return g, true
	}
	parent, ok := m.attendances[*g.AttendanceID]
	if !ok {
		return g, false
	}
	g.RecordTime = parent.RecordTime
	return g, true
}

func (m *MemoryStore) InsertAttendance(_ context.Context, a Attendance) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAttendanceWrites != nil {
		return Attendance{}, m.FailAttendanceWrites
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, exists := m.attendances[a.ID]; exists {
		return Attendance{}, fmt.Errorf("attendance %s already exists", a.ID)
	}
	if a.MemberID != nil {
		for _, other := range m.attendances {
			if other.MemberID != nil && *other.MemberID == *a.MemberID && other.CivilDate == a.CivilDate {
				return Attendance{}, fmt.Errorf("%w: member %s on %s", ErrDuplicate, *a.MemberID, a.CivilDate)
			}
		}
	}
	m.attendances[a.ID] = a
	return a, nil
}

func (m *MemoryStore) InsertGuestAttachments(_ context.Context, guests []GuestAttachment) ([]GuestAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailGuestWrites != nil {
		return nil, m.FailGuestWrites
	}

	// Validate the whole batch before storing any of it.
	seen := make(map[string]bool, len(guests))
	out := make([]GuestAttachment, len(guests))
	for i, g := range guests {
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		if (g.AttendanceID == nil) == (g.OwnRecordTime == nil) {
			return nil, fmt.Errorf("guest %s needs exactly one of attendance id and record time", g.ID)
		}
		if g.AttendanceID != nil {
			parent, ok := m.attendances[*g.AttendanceID]
			if !ok {
				return nil, fmt.Errorf("guest %s references missing attendance %s", g.ID, *g.AttendanceID)
			}
			g.RecordTime = parent.RecordTime
		} else {
			g.RecordTime = *g.OwnRecordTime
		}

		key := g.Name + "\x00" + g.Phone + "\x00" + g.CivilDate
		if seen[key] {
			return nil, fmt.Errorf("%w: guest %s on %s", ErrDuplicate, g.Name, g.CivilDate)
		}
		seen[key] = true
		for _, other := range m.guests {
			if other.Name == g.Name && other.Phone == g.Phone && other.CivilDate == g.CivilDate {
				return nil, fmt.Errorf("%w: guest %s on %s", ErrDuplicate, g.Name, g.CivilDate)
			}
		}
		out[i] = g
	}

	for _, g := range out {
		m.guests[g.ID] = g
	}
	return out, nil
}

// DeleteAttendance removes the row and, like the foreign key cascade, the
// guests attached to it.
func (m *MemoryStore) DeleteAttendance(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAttendanceWrites != nil {
		return m.FailAttendanceWrites
	}
	if _, ok := m.attendances[id]; !ok {
		return fmt.Errorf("%w: attendance %s", ErrRecordNotFound, id)
	}
	delete(m.attendances, id)
	for gid, g := range m.guests {
		if g.AttendanceID != nil && *g.AttendanceID == id {
			delete(m.guests, gid)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteGuestAttachment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailGuestWrites != nil {
		return m.FailGuestWrites
	}
	if _, ok := m.guests[id]; !ok {
		return fmt.Errorf("%w: guest %s", ErrRecordNotFound, id)
	}
	delete(m.guests, id)
	return nil
}
