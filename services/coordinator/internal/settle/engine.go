// Package settle turns a finished contract and its reported outcomes
// into ledger and reputation effects, at most once per contract.
package settle

import (
	"context"
	"fmt"

	"agentpact/pkg/domain"
	"agentpact/pkg/reporthash"
)

// Budget is the external ledger collaborator. Amounts are per-agent
// shares, already split by the engine.
type Budget interface {
	ApplyPenalty(ctx context.Context, agentID string, amount float64, contractID string) error
	ReleaseReward(ctx context.Context, agentID string, amount float64, contractID string) error
	FinalizeAllocation(ctx context.Context, agentID string, allocated, finalized float64, contractID string) error
}

// Reputation is the external scoring collaborator.
type Reputation interface {
	RecordOutcome(ctx context.Context, rec domain.ReputationRecord) error
}

// Journal is the slice of the store the engine needs for at-most-once
// settlement.
type Journal interface {
	BeginSettlement(ctx context.Context, contractID string, report domain.SettlementReport, reportHash string) error
	CompleteSettlement(ctx context.Context, contractID string) error
}

type Engine struct {
	Journal    Journal
	Budget     Budget
	Reputation Reputation
}

func New(journal Journal, budget Budget, reputation Reputation) *Engine {
	return &Engine{Journal: journal, Budget: budget, Reputation: reputation}
}

// Process settles c against the reported deliverables. The settlement
// record is journaled before any collaborator call, so a crash between
// effects leaves a pending record that a retry resumes; a completed
// settlement surfaces store.ErrAlreadySettled and produces no effects.
// Collaborator failures abort with the record still pending: the effects
// are retried as a unit, never half-applied and forgotten.
func (e *Engine) Process(ctx context.Context, c domain.Contract, actuals []domain.ActualDeliverable) (domain.SettlementReport, error) {
	s, err := domain.Evaluate(c, actuals)
	if err != nil {
		return domain.SettlementReport{}, err
	}

	if err := e.Journal.BeginSettlement(ctx, c.ID, s.Report, reporthash.ReportHash(s.Report)); err != nil {
		return domain.SettlementReport{}, err
	}

	for _, agent := range c.Participants {
		if s.TotalPenalty > 0 {
			if err := e.Budget.ApplyPenalty(ctx, agent, s.PenaltyShare, c.ID); err != nil {
				return domain.SettlementReport{}, fmt.Errorf("apply penalty for %s: %w", agent, err)
			}
		}
		if s.Report.RewardsReleased > 0 {
			if err := e.Budget.ReleaseReward(ctx, agent, s.RewardShare, c.ID); err != nil {
				return domain.SettlementReport{}, fmt.Errorf("release reward for %s: %w", agent, err)
			}
		}
		if err := e.Budget.FinalizeAllocation(ctx, agent, s.AllocationShare, s.AllocationShare, c.ID); err != nil {
			return domain.SettlementReport{}, fmt.Errorf("finalize allocation for %s: %w", agent, err)
		}
	}
	for _, rec := range s.Reputation {
		if err := e.Reputation.RecordOutcome(ctx, rec); err != nil {
			return domain.SettlementReport{}, fmt.Errorf("record outcome for %s: %w", rec.AgentID, err)
		}
	}

	if err := e.Journal.CompleteSettlement(ctx, c.ID); err != nil {
		return domain.SettlementReport{}, err
	}
	return s.Report, nil
}
