package domain

import "time"

// Status is the contract lifecycle state. Transitions only move forward;
// the literal values are shared with the upstream negotiation service and
// must not change.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusSigned     Status = "SIGNED"
	StatusActive     Status = "ACTIVE"
	StatusCompleted  Status = "COMPLETED"
	StatusTerminated Status = "TERMINATED"
	StatusRolledBack Status = "ROLLED_BACK"
)

const SchemaVersion = "pact-v1"

type ScopeOfWork struct {
	Tasks                []string `json:"tasks"`
	ExpectedDeliverables []string `json:"expected_deliverables"`
	Milestones           []string `json:"milestones"`
	Constraints          []string `json:"constraints"`
}

// DeliverableSpec is a named, measurable target agreed in a contract.
// Target may be numeric or categorical; settlement decides which.
type DeliverableSpec struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Metric             string `json:"metric"`
	Target             any    `json:"target"`
	VerificationMethod string `json:"verification_method"`
}

type MilestoneDeadline struct {
	Name string    `json:"name"`
	Due  time.Time `json:"due"`
}

type Deadline struct {
	CompleteBy time.Time           `json:"complete_by"`
	Milestones []MilestoneDeadline `json:"milestones"`
}

type Compensation struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	// Cap of 0 means uncapped.
	Cap float64 `json:"cap,omitempty"`
}

type PenaltyClause struct {
	ViolationType    string  `json:"violation_type"`
	TriggerThreshold float64 `json:"trigger_threshold"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	EscalationPath   string  `json:"escalation_path"`
}

type RollbackScope string

const (
	RollbackPartial RollbackScope = "PARTIAL"
	RollbackFull    RollbackScope = "FULL"
)

type RollbackCondition struct {
	Trigger       string        `json:"trigger"`
	Scope         RollbackScope `json:"scope"`
	ProcedureRef  string        `json:"procedure_ref"`
	RetainRecords bool          `json:"retain_records"`
}

type AuditRef struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	Checksum string `json:"checksum"`
	Access   string `json:"access"`
}

// Signature is an opaque, externally verifiable signing token. The
// lifecycle layer never inspects Token; verification is a collaborator
// concern.
type Signature struct {
	AgentID   string    `json:"agent_id"`
	PublicKey string    `json:"public_key"`
	Token     string    `json:"token"`
	Algorithm string    `json:"algorithm"`
	SignedAt  time.Time `json:"signed_at"`
}

// Contract is the immutable agreement value. Lifecycle and settlement
// operations never mutate a Contract in place; they return fresh values
// with copied slices, so a previously held reference can never observe
// a transition.
type Contract struct {
	ID            string              `json:"contract_id"`
	SchemaVersion string              `json:"schema_version"`
	CorrelationID string              `json:"correlation_id"`
	Scope         ScopeOfWork         `json:"scope"`
	Deliverables  []DeliverableSpec   `json:"deliverables"`
	Deadline      Deadline            `json:"deadline"`
	Compensation  Compensation        `json:"compensation"`
	Penalties     []PenaltyClause     `json:"penalties"`
	Rollback      []RollbackCondition `json:"rollback"`
	AuditRefs     []AuditRef          `json:"audit_refs"`
	Participants  []string            `json:"participants"`
	Signatures    []Signature         `json:"signatures"`
	Status        Status              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// DistinctSigners returns the set of agent ids that have signed. Sign
// deduplicates per agent, but commit must not trust that and checks the
// distinct set regardless.
func (c Contract) DistinctSigners() map[string]bool {
	out := make(map[string]bool, len(c.Signatures))
	for _, s := range c.Signatures {
		out[s.AgentID] = true
	}
	return out
}

// FullySigned reports whether every participating agent has a distinct
// signature on the contract. Comparing signature count to participant
// count is not equivalent and must not be used: duplicates inflate it.
func (c Contract) FullySigned() bool {
	signers := c.DistinctSigners()
	for _, p := range c.Participants {
		if !signers[p] {
			return false
		}
	}
	return true
}

func (c Contract) clone() Contract {
	out := c
	out.Deliverables = append([]DeliverableSpec(nil), c.Deliverables...)
	out.Penalties = append([]PenaltyClause(nil), c.Penalties...)
	out.Rollback = append([]RollbackCondition(nil), c.Rollback...)
	out.AuditRefs = append([]AuditRef(nil), c.AuditRefs...)
	out.Participants = append([]string(nil), c.Participants...)
	out.Signatures = append([]Signature(nil), c.Signatures...)
	out.Scope.Tasks = append([]string(nil), c.Scope.Tasks...)
	out.Scope.ExpectedDeliverables = append([]string(nil), c.Scope.ExpectedDeliverables...)
	out.Scope.Milestones = append([]string(nil), c.Scope.Milestones...)
	out.Scope.Constraints = append([]string(nil), c.Scope.Constraints...)
	out.Deadline.Milestones = append([]MilestoneDeadline(nil), c.Deadline.Milestones...)
	return out
}
