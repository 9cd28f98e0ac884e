package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActualDeliverable is a reported outcome for one DeliverableSpec,
// supplied at settlement time.
type ActualDeliverable struct {
	Name        string `json:"name"`
	Value       any    `json:"value"`
	EvidenceRef string `json:"evidence_ref"`
}

type DeliverableStatus string

const (
	DeliverableMet     DeliverableStatus = "MET"
	DeliverablePartial DeliverableStatus = "PARTIAL"
	DeliverableFailed  DeliverableStatus = "FAILED"
)

type DeliverableResult struct {
	Name            string            `json:"name"`
	Target          any               `json:"target"`
	Actual          any               `json:"actual"`
	Status          DeliverableStatus `json:"status"`
	FulfillmentRate float64           `json:"fulfillment_rate"`
}

type AppliedPenalty struct {
	ViolationType string  `json:"violation_type"`
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailure Outcome = "FAILURE"
)

// ReputationRecord is the per-agent summary submitted to the external
// scoring collaborator. The scoring formula itself lives there.
type ReputationRecord struct {
	AgentID             string  `json:"agent_id"`
	ContractID          string  `json:"contract_id"`
	Reliability         float64 `json:"reliability"`
	EconomicPerformance float64 `json:"economic_performance"`
	CooperativeImpact   float64 `json:"cooperative_impact"`
	Outcome             Outcome `json:"outcome"`
}

// SettlementReport is the write-once output of one settlement attempt.
type SettlementReport struct {
	ContractID            string              `json:"contract_id"`
	PerformanceScore      float64             `json:"performance_score"`
	Deliverables          []DeliverableResult `json:"deliverables"`
	Penalties             []AppliedPenalty    `json:"penalties"`
	RewardsReleased       float64             `json:"rewards_released"`
	FinalReputationUpdate ReputationRecord    `json:"final_reputation_update"`
	SettledAt             time.Time           `json:"settled_at"`
}

// Settlement is the full computed outcome: the report plus the per-agent
// shares and reputation records the engine hands to the budget and
// reputation collaborators. Shares are equal across participants by
// design; the model does not weight by individual contribution.
type Settlement struct {
	Report          SettlementReport   `json:"report"`
	TotalPenalty    float64            `json:"total_penalty"`
	PenaltyShare    float64            `json:"penalty_share"`
	RewardShare     float64            `json:"reward_share"`
	AllocationShare float64            `json:"allocation_share"`
	Reputation      []ReputationRecord `json:"reputation"`
}

// Evaluate computes the settlement of a finished contract against the
// reported deliverables. Pure; all ledger and reputation effects are the
// engine's concern. The contract must be COMPLETED or ROLLED_BACK.
func Evaluate(c Contract, actuals []ActualDeliverable) (Settlement, error) {
	if c.Status != StatusCompleted && c.Status != StatusRolledBack {
		return Settlement{}, ErrInvalidStateTransition
	}

	byName := make(map[string]ActualDeliverable, len(actuals))
	for _, a := range actuals {
		if _, dup := byName[a.Name]; !dup {
			byName[a.Name] = a
		}
	}

	results := make([]DeliverableResult, 0, len(c.Deliverables))
	var rateSum float64
	for _, spec := range c.Deliverables {
		actual, found := byName[spec.Name]
		res := DeliverableResult{Name: spec.Name, Target: spec.Target}
		if found {
			res.Actual = actual.Value
			res.FulfillmentRate = fulfillmentRate(spec.Target, actual.Value)
		}
		// A missing report is a FAILED result, never an error: one
		// unreported deliverable must not abort the whole settlement.
		res.Status = deliverableStatus(res.FulfillmentRate)
		rateSum += res.FulfillmentRate
		results = append(results, res)
	}

	// Mean over zero deliverables is defined as 0, not a division by zero.
	performance := 0.0
	if len(results) > 0 {
		performance = rateSum / float64(len(results))
	}

	penalties, totalPenalty := assessPenalties(c.Penalties, results)
	rewards := c.Compensation.Amount - totalPenalty
	if rewards < 0 {
		rewards = 0
	}

	n := len(c.Participants)
	var penaltyShare, rewardShare, allocationShare float64
	if n > 0 {
		penaltyShare = totalPenalty / float64(n)
		rewardShare = rewards / float64(n)
		allocationShare = c.Compensation.Amount / float64(n)
	}

	// Denominator floored at 1 so zero-compensation contracts still get a
	// defined economic score.
	denom := c.Compensation.Amount
	if denom < 1 {
		denom = 1
	}
	cooperative := 0.0
	if c.Status == StatusCompleted {
		cooperative = 1.0
	}
	reputation := make([]ReputationRecord, 0, n)
	for _, agent := range c.Participants {
		reputation = append(reputation, ReputationRecord{
			AgentID:             agent,
			ContractID:          c.ID,
			Reliability:         performance,
			EconomicPerformance: rewards / denom,
			CooperativeImpact:   cooperative,
			Outcome:             classifyOutcome(c.Status, performance),
		})
	}

	report := SettlementReport{
		ContractID:       c.ID,
		PerformanceScore: performance,
		Deliverables:     results,
		Penalties:        penalties,
		RewardsReleased:  rewards,
		SettledAt:        time.Now().UTC(),
	}
	// One representative record for display; every record still goes to
	// the reputation collaborator.
	if len(reputation) > 0 {
		report.FinalReputationUpdate = reputation[0]
	}

	return Settlement{
		Report:          report,
		TotalPenalty:    totalPenalty,
		PenaltyShare:    penaltyShare,
		RewardShare:     rewardShare,
		AllocationShare: allocationShare,
		Reputation:      reputation,
	}, nil
}

// fulfillmentRate maps a target/actual pair into [0,1]. Numeric pairs use
// the ratio clamped to [0,1]; anything else is all-or-nothing on exact
// equality. A zero numeric target cannot be a ratio denominator and falls
// back to equality as well.
func fulfillmentRate(target, actual any) float64 {
	t, tok := numericValue(target)
	a, aok := numericValue(actual)
	if tok && aok && t != 0 {
		rate := a / t
		if rate > 1 {
			rate = 1
		}
		if rate < 0 {
			rate = 0
		}
		return rate
	}
	if tok && aok {
		if a == t {
			return 1
		}
		return 0
	}
	if fmt.Sprint(target) == fmt.Sprint(actual) {
		return 1
	}
	return 0
}

func deliverableStatus(rate float64) DeliverableStatus {
	switch {
	case rate >= 1:
		return DeliverableMet
	case rate > 0:
		return DeliverablePartial
	default:
		return DeliverableFailed
	}
}

// assessPenalties applies at most one clause per non-MET result: the
// first clause whose violation tag appears in the deliverable name, or
// failing that the first clause tagged QUALITY_FAILURE. Clause order is
// the contract's order, so the outcome is reproducible.
func assessPenalties(clauses []PenaltyClause, results []DeliverableResult) ([]AppliedPenalty, float64) {
	applied := []AppliedPenalty{}
	var total float64
	for _, res := range results {
		if res.Status == DeliverableMet {
			continue
		}
		clause, ok := matchClause(clauses, res.Name)
		if !ok {
			continue
		}
		amount := (1 - res.FulfillmentRate) * clause.Amount
		if amount <= 0 {
			continue
		}
		applied = append(applied, AppliedPenalty{
			ViolationType: clause.ViolationType,
			Amount:        amount,
			Reason:        fmt.Sprintf("deliverable %q fulfilled at %.1f%%", res.Name, res.FulfillmentRate*100),
		})
		total += amount
	}
	return applied, total
}

func matchClause(clauses []PenaltyClause, deliverable string) (PenaltyClause, bool) {
	name := strings.ToLower(deliverable)
	for _, cl := range clauses {
		if tag := strings.ToLower(cl.ViolationType); tag != "" && strings.Contains(name, tag) {
			return cl, true
		}
	}
	for _, cl := range clauses {
		if cl.ViolationType == "QUALITY_FAILURE" {
			return cl, true
		}
	}
	return PenaltyClause{}, false
}

func classifyOutcome(status Status, performance float64) Outcome {
	if status == StatusRolledBack {
		return OutcomeFailure
	}
	if performance > 0.8 {
		return OutcomeSuccess
	}
	return OutcomePartial
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
