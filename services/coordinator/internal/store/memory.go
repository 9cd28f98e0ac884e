package store

import (
	"context"
	"sync"
	"time"

	"agentpact/pkg/domain"
)

// Memory is the in-process Store used by tests and single-node dev mode.
// It keeps the same CAS semantics as the Postgres store.
type Memory struct {
	mu          sync.Mutex
	sessions    map[string]Session
	contracts   map[string]ContractRecord
	settlements map[string]memSettlement
	events      map[string][]Event
}

type memSettlement struct {
	report     domain.SettlementReport
	reportHash string
	completed  bool
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    map[string]Session{},
		contracts:   map[string]ContractRecord{},
		settlements: map[string]memSettlement{},
		events:      map[string][]Event{},
	}
}

func (m *Memory) GetSession(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s.History = append([]Message(nil), s.History...)
	return s, nil
}

func (m *Memory) PutSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.sessions[s.SessionID]
	if s.Version == 0 {
		if exists {
			return ErrVersionConflict
		}
		s.Version = 1
		s.CreatedAt = time.Now().UTC()
	} else {
		if !exists || cur.Version != s.Version {
			return ErrVersionConflict
		}
		s.Version = cur.Version + 1
		s.CreatedAt = cur.CreatedAt
	}
	s.UpdatedAt = time.Now().UTC()
	s.History = append([]Message(nil), s.History...)
	m.sessions[s.SessionID] = s
	return nil
}

func (m *Memory) GetContract(ctx context.Context, id string) (ContractRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.contracts[id]
	if !ok {
		return ContractRecord{}, ErrContractNotFound
	}
	return rec, nil
}

func (m *Memory) PutContract(ctx context.Context, rec ContractRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.contracts[rec.Contract.ID]
	if rec.Version == 0 {
		if exists {
			return ErrVersionConflict
		}
		rec.Version = 1
	} else {
		if !exists || cur.Version != rec.Version {
			return ErrVersionConflict
		}
		rec.Version = cur.Version + 1
	}
	m.contracts[rec.Contract.ID] = rec
	return nil
}

func (m *Memory) BeginSettlement(ctx context.Context, contractID string, report domain.SettlementReport, reportHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.settlements[contractID]
	if exists {
		if cur.completed {
			return ErrAlreadySettled
		}
		return nil
	}
	m.settlements[contractID] = memSettlement{report: report, reportHash: reportHash}
	return nil
}

func (m *Memory) CompleteSettlement(ctx context.Context, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.settlements[contractID]
	if !exists {
		return ErrContractNotFound
	}
	cur.completed = true
	m.settlements[contractID] = cur
	return nil
}

func (m *Memory) GetSettlement(ctx context.Context, contractID string) (domain.SettlementReport, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.settlements[contractID]
	if !exists {
		return domain.SettlementReport{}, false, ErrContractNotFound
	}
	return cur.report, cur.completed, nil
}

func (m *Memory) AddEvent(ctx context.Context, contractID, typ, actorID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[contractID] = append(m.events[contractID], Event{
		Type:       typ,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, contractID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[contractID]...), nil
}
