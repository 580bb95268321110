package roster

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/kinsync/internal/presence/domain"
)

// MemoryStore is an in-memory domain.RosterStore suitable for tests and
// local demos.
type MemoryStore struct {
	clock domain.Clock

	mu      sync.RWMutex
	sharing map[string]bool
	live    map[string]domain.LocationSample
	members map[string]map[string]domain.FamilyMember
	alerts  map[string][]domain.EmergencyAlert
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore(clock domain.Clock) *MemoryStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryStore{
		clock:   clock,
		sharing: make(map[string]bool),
		live:    make(map[string]domain.LocationSample),
		members: make(map[string]map[string]domain.FamilyMember),
		alerts:  make(map[string][]domain.EmergencyAlert),
	}
}

func (m *MemoryStore) SetSharing(_ context.Context, uid string, sharing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing[uid] = sharing
	return nil
}

func (m *MemoryStore) SetLiveLocation(_ context.Context, uid string, sample domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[uid] = sample
	return nil
}

func (m *MemoryStore) UserState(_ context.Context, uid string) (bool, *domain.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var live *domain.LocationSample
	if sample, ok := m.live[uid]; ok {
		copyOf := sample
		live = &copyOf
	}
	return m.sharing[uid], live, nil
}

func (m *MemoryStore) CreateMember(_ context.Context, uid string, member domain.FamilyMember) (domain.FamilyMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = m.clock.Now()
	}
	if m.members[uid] == nil {
		m.members[uid] = make(map[string]domain.FamilyMember)
	}
	m.members[uid][member.ID] = member
	return member, nil
}

func (m *MemoryStore) SetMemberSharing(_ context.Context, uid, memberID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[uid][memberID]
	if !ok {
		return domain.ErrMemberNotFound
	}
	member.IsLocationShared = enabled
	m.members[uid][memberID] = member
	return nil
}

func (m *MemoryStore) SetMemberLocation(_ context.Context, uid, memberID string, sample domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[uid][memberID]
	if !ok {
		return domain.ErrMemberNotFound
	}
	copyOf := sample
	member.Location = &copyOf
	ts := sample.Timestamp
	member.LastLocationUpdate = &ts
	m.members[uid][memberID] = member
	return nil
}

func (m *MemoryStore) DeleteMember(_ context.Context, uid, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[uid], memberID)
	return nil
}

func (m *MemoryStore) ListMembers(_ context.Context, uid string) ([]domain.FamilyMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := make([]domain.FamilyMember, 0, len(m.members[uid]))
	for _, member := range m.members[uid] {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	return members, nil
}

func (m *MemoryStore) AppendAlert(_ context.Context, uid string, alert domain.EmergencyAlert) (domain.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	alert.CreatedAt = m.clock.Now()
	m.alerts[uid] = append(m.alerts[uid], alert)
	return alert, nil
}

// Alerts returns stored alerts (for tests).
func (m *MemoryStore) Alerts(uid string) []domain.EmergencyAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.EmergencyAlert(nil), m.alerts[uid]...)
}
