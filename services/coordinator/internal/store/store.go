// Package store persists coordination state: negotiation sessions,
// the latest version of each contract, the append-only event log, and
// write-once settlement records. Updates use compare-and-swap on a
// version counter; callers retry on ErrVersionConflict so two racing
// writers can never silently drop each other's change.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentpact/pkg/domain"
)

var (
	ErrContractNotFound = errors.New("contract not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrAlreadySettled   = errors.New("contract already settled")
)

type Message struct {
	MessageID    string         `json:"message_id"`
	SessionID    string         `json:"session_id"`
	Sender       string         `json:"sender"`
	Recipient    string         `json:"recipient"`
	Performative string         `json:"performative"`
	Content      map[string]any `json:"content"`
	SentAt       time.Time      `json:"sent_at"`
}

type Session struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	History   []Message `json:"history"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContractRecord pairs an immutable contract value with the store's
// version counter. Version 0 means "not yet stored".
type ContractRecord struct {
	Contract domain.Contract `json:"contract"`
	Version  int64           `json:"version"`
}

type Event struct {
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Store interface {
	GetSession(ctx context.Context, id string) (Session, error)
	// PutSession writes s back if no concurrent writer advanced it:
	// s.Version must equal the stored version (0 inserts a new session).
	PutSession(ctx context.Context, s Session) error

	GetContract(ctx context.Context, id string) (ContractRecord, error)
	// PutContract follows the same CAS discipline as PutSession.
	PutContract(ctx context.Context, rec ContractRecord) error

	// BeginSettlement records the report write-once before any collaborator
	// effect runs. A completed settlement for the contract yields
	// ErrAlreadySettled; a pending one is a no-op so a failed attempt can
	// be retried as a unit.
	BeginSettlement(ctx context.Context, contractID string, report domain.SettlementReport, reportHash string) error
	CompleteSettlement(ctx context.Context, contractID string) error
	GetSettlement(ctx context.Context, contractID string) (domain.SettlementReport, bool, error)

	AddEvent(ctx context.Context, contractID, typ, actorID string, payload map[string]any) error
	ListEvents(ctx context.Context, contractID string) ([]Event, error)
}

type PG struct{ DB *pgxpool.Pool }

func NewPG(db *pgxpool.Pool) *PG { return &PG{DB: db} }

func (s *PG) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	var history []byte
	err := s.DB.QueryRow(ctx, `SELECT session_id,state,history,version,created_at,updated_at
FROM pact_sessions WHERE session_id=$1`, id).
		Scan(&out.SessionID, &out.State, &history, &out.Version, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(history, &out.History); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (s *PG) PutSession(ctx context.Context, sess Session) error {
	history, err := json.Marshal(sess.History)
	if err != nil {
		return err
	}
	if sess.Version == 0 {
		tag, err := s.DB.Exec(ctx, `INSERT INTO pact_sessions(session_id,state,history,version)
VALUES($1,$2,$3::jsonb,1) ON CONFLICT (session_id) DO NOTHING`, sess.SessionID, sess.State, string(history))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return nil
	}
	tag, err := s.DB.Exec(ctx, `UPDATE pact_sessions SET state=$2, history=$3::jsonb, version=version+1, updated_at=now()
WHERE session_id=$1 AND version=$4`, sess.SessionID, sess.State, string(history), sess.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PG) GetContract(ctx context.Context, id string) (ContractRecord, error) {
	var body []byte
	var version int64
	err := s.DB.QueryRow(ctx, `SELECT contract,version FROM pact_contracts WHERE contract_id=$1`, id).
		Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ContractRecord{}, ErrContractNotFound
	}
	if err != nil {
		return ContractRecord{}, err
	}
	var c domain.Contract
	if err := json.Unmarshal(body, &c); err != nil {
		return ContractRecord{}, err
	}
	return ContractRecord{Contract: c, Version: version}, nil
}

func (s *PG) PutContract(ctx context.Context, rec ContractRecord) error {
	body, err := json.Marshal(rec.Contract)
	if err != nil {
		return err
	}
	if rec.Version == 0 {
		tag, err := s.DB.Exec(ctx, `INSERT INTO pact_contracts(contract_id,status,contract,version)
VALUES($1,$2,$3::jsonb,1) ON CONFLICT (contract_id) DO NOTHING`,
			rec.Contract.ID, string(rec.Contract.Status), string(body))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return nil
	}
	tag, err := s.DB.Exec(ctx, `UPDATE pact_contracts SET status=$2, contract=$3::jsonb, version=version+1, updated_at=now()
WHERE contract_id=$1 AND version=$4`, rec.Contract.ID, string(rec.Contract.Status), string(body), rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PG) BeginSettlement(ctx context.Context, contractID string, report domain.SettlementReport, reportHash string) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `INSERT INTO pact_settlements(contract_id,report,report_hash,completed)
VALUES($1,$2::jsonb,$3,false) ON CONFLICT (contract_id) DO NOTHING`, contractID, string(body), reportHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var completed bool
	if err := s.DB.QueryRow(ctx, `SELECT completed FROM pact_settlements WHERE contract_id=$1`, contractID).Scan(&completed); err != nil {
		return err
	}
	if completed {
		return ErrAlreadySettled
	}
	// Pending record from an earlier failed attempt: the caller re-applies
	// the collaborator effects against the stored report.
	return nil
}

func (s *PG) CompleteSettlement(ctx context.Context, contractID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE pact_settlements SET completed=true, completed_at=now() WHERE contract_id=$1`, contractID)
	return err
}

func (s *PG) GetSettlement(ctx context.Context, contractID string) (domain.SettlementReport, bool, error) {
	var body []byte
	var completed bool
	err := s.DB.QueryRow(ctx, `SELECT report,completed FROM pact_settlements WHERE contract_id=$1`, contractID).
		Scan(&body, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementReport{}, false, ErrContractNotFound
	}
	if err != nil {
		return domain.SettlementReport{}, false, err
	}
	var report domain.SettlementReport
	if err := json.Unmarshal(body, &report); err != nil {
		return domain.SettlementReport{}, false, err
	}
	return report, completed, nil
}

func (s *PG) AddEvent(ctx context.Context, contractID, typ, actorID string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	_, err := s.DB.Exec(ctx, `INSERT INTO pact_events(contract_id,type,actor_id,payload) VALUES($1,$2,$3,$4::jsonb)`,
		contractID, typ, actorID, string(b))
	return err
}

func (s *PG) ListEvents(ctx context.Context, contractID string) ([]Event, error) {
	rows, err := s.DB.Query(ctx, `SELECT type,actor_id,occurred_at,payload FROM pact_events WHERE contract_id=$1 ORDER BY occurred_at ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.Type, &ev.ActorID, &ev.OccurredAt, &payload); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
