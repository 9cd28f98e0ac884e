package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrIncompleteSignatureSet = errors.New("incomplete signature set")
)

// CreateSpec carries the caller-supplied fields of a new contract.
// Anything unset takes its zero value: empty scope, empty deliverable,
// penalty, rollback and audit lists, zero-amount compensation. ID is the
// only field the lifecycle layer ever invents, and only when absent.
type CreateSpec struct {
	ID            string              `json:"contract_id,omitempty"`
	CorrelationID string              `json:"correlation_id"`
	Scope         ScopeOfWork         `json:"scope"`
	Deliverables  []DeliverableSpec   `json:"deliverables"`
	Deadline      Deadline            `json:"deadline"`
	Compensation  Compensation        `json:"compensation"`
	Penalties     []PenaltyClause     `json:"penalties"`
	Rollback      []RollbackCondition `json:"rollback"`
	AuditRefs     []AuditRef          `json:"audit_refs"`
	Participants  []string            `json:"participants"`
}

// Create builds a DRAFT contract from spec. Pure: no store access, no
// process-wide state.
func Create(spec CreateSpec) Contract {
	id := spec.ID
	if id == "" {
		id = "agr_" + uuid.NewString()
	}
	now := time.Now().UTC()
	c := Contract{
		ID:            id,
		SchemaVersion: SchemaVersion,
		CorrelationID: spec.CorrelationID,
		Scope:         spec.Scope,
		Deliverables:  spec.Deliverables,
		Deadline:      spec.Deadline,
		Compensation:  spec.Compensation,
		Penalties:     spec.Penalties,
		Rollback:      spec.Rollback,
		AuditRefs:     spec.AuditRefs,
		Participants:  spec.Participants,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return c.clone()
}

// Sign returns a new contract with sig recorded. A repeat signature from
// the same agent replaces the earlier entry in place, so the signature
// log grows by distinct signer and quorum can be computed by cardinality.
// Status becomes SIGNED on the first signature and never auto-advances
// to ACTIVE; Commit is a separate act because activation may depend on
// checks (budget, policy) that signing does not perform.
func Sign(c Contract, sig Signature) (Contract, error) {
	if c.Status != StatusDraft && c.Status != StatusSigned {
		return Contract{}, ErrInvalidStateTransition
	}
	out := c.clone()
	replaced := false
	for i := range out.Signatures {
		if out.Signatures[i].AgentID == sig.AgentID {
			out.Signatures[i] = sig
			replaced = true
			break
		}
	}
	if !replaced {
		out.Signatures = append(out.Signatures, sig)
	}
	out.Status = StatusSigned
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

// Commit activates a signed contract. The distinct signer set must cover
// every participant; a bare count comparison is satisfiable by duplicate
// signatures and is deliberately not used here.
func Commit(c Contract) (Contract, error) {
	if c.Status != StatusSigned {
		return Contract{}, ErrInvalidStateTransition
	}
	if !c.FullySigned() {
		return Contract{}, ErrIncompleteSignatureSet
	}
	out := c.clone()
	out.Status = StatusActive
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

// Terminate ends a contract before execution. Terminal; a terminated
// contract is never settled.
func Terminate(c Contract) (Contract, error) {
	switch c.Status {
	case StatusDraft, StatusSigned, StatusActive:
	default:
		return Contract{}, ErrInvalidStateTransition
	}
	out := c.clone()
	out.Status = StatusTerminated
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

// MarkCompleted records successful execution of an active contract.
func MarkCompleted(c Contract) (Contract, error) {
	if c.Status != StatusActive {
		return Contract{}, ErrInvalidStateTransition
	}
	out := c.clone()
	out.Status = StatusCompleted
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

// MarkRolledBack records a rollback trigger. Reachable from ACTIVE and
// from COMPLETED (a completed contract can still be unwound before
// settlement).
func MarkRolledBack(c Contract) (Contract, error) {
	if c.Status != StatusActive && c.Status != StatusCompleted {
		return Contract{}, ErrInvalidStateTransition
	}
	out := c.clone()
	out.Status = StatusRolledBack
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}
