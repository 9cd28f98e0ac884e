package domain

import (
	"errors"
	"math"
	"testing"
)

func completedContract(deliverables []DeliverableSpec, penalties []PenaltyClause) Contract {
	c := Create(CreateSpec{
		Deliverables: deliverables,
		Penalties:    penalties,
		Compensation: Compensation{Amount: 500, Currency: "USD"},
		Participants: []string{"agent-a", "agent-b"},
	})
	c.Status = StatusCompleted
	return c
}

func TestEvaluateRejectsUnfinishedContract(t *testing.T) {
	c := Create(draftSpec())
	if _, err := Evaluate(c, nil); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for DRAFT, got %v", err)
	}
	c.Status = StatusActive
	if _, err := Evaluate(c, nil); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for ACTIVE, got %v", err)
	}
	c.Status = StatusTerminated
	if _, err := Evaluate(c, nil); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for TERMINATED, got %v", err)
	}
}

func TestEvaluateOverdeliveryIsMet(t *testing.T) {
	// One numeric deliverable, target 0.92 actual 0.95, no penalty clauses.
	c := completedContract([]DeliverableSpec{
		{Name: "summary", Metric: "accuracy", Target: 0.92},
	}, nil)
	s, err := Evaluate(c, []ActualDeliverable{{Name: "summary", Value: 0.95}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	r := s.Report
	if len(r.Deliverables) != 1 || r.Deliverables[0].Status != DeliverableMet {
		t.Fatalf("expected MET, got %+v", r.Deliverables)
	}
	if r.Deliverables[0].FulfillmentRate != 1.0 {
		t.Fatalf("expected rate 1.0, got %f", r.Deliverables[0].FulfillmentRate)
	}
	if r.PerformanceScore != 1.0 {
		t.Fatalf("expected performance 1.0, got %f", r.PerformanceScore)
	}
	if len(r.Penalties) != 0 {
		t.Fatalf("expected no penalties, got %+v", r.Penalties)
	}
	if r.RewardsReleased != 500 {
		t.Fatalf("expected full compensation released, got %f", r.RewardsReleased)
	}
	if s.RewardShare != 250 || s.AllocationShare != 250 {
		t.Fatalf("expected even shares of 250, got reward=%f alloc=%f", s.RewardShare, s.AllocationShare)
	}
}

func TestEvaluatePartialWithQualityFailureClause(t *testing.T) {
	c := completedContract([]DeliverableSpec{
		{Name: "summary", Metric: "accuracy", Target: 0.92},
	}, []PenaltyClause{
		{ViolationType: "QUALITY_FAILURE", Amount: 100, Currency: "USD"},
	})
	s, err := Evaluate(c, []ActualDeliverable{{Name: "summary", Value: 0.46}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	r := s.Report
	if r.Deliverables[0].Status != DeliverablePartial {
		t.Fatalf("expected PARTIAL, got %s", r.Deliverables[0].Status)
	}
	if math.Abs(r.Deliverables[0].FulfillmentRate-0.5) > 1e-9 {
		t.Fatalf("expected rate 0.5, got %f", r.Deliverables[0].FulfillmentRate)
	}
	if len(r.Penalties) != 1 || math.Abs(r.Penalties[0].Amount-50) > 1e-9 {
		t.Fatalf("expected one penalty of 50, got %+v", r.Penalties)
	}
	if math.Abs(r.RewardsReleased-450) > 1e-9 {
		t.Fatalf("expected reward 450, got %f", r.RewardsReleased)
	}
}

func TestEvaluateMissingActualFails(t *testing.T) {
	c := completedContract([]DeliverableSpec{
		{Name: "summary", Target: 0.92},
		{Name: "report", Target: 1},
	}, nil)
	s, err := Evaluate(c, []ActualDeliverable{{Name: "report", Value: 1}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	r := s.Report
	if r.Deliverables[0].Status != DeliverableFailed || r.Deliverables[0].FulfillmentRate != 0 {
		t.Fatalf("expected missing deliverable FAILED at 0, got %+v", r.Deliverables[0])
	}
	if r.Deliverables[1].Status != DeliverableMet {
		t.Fatalf("expected reported deliverable MET, got %+v", r.Deliverables[1])
	}
	if r.PerformanceScore != 0.5 {
		t.Fatalf("expected mean 0.5, got %f", r.PerformanceScore)
	}
}

func TestFulfillmentBounds(t *testing.T) {
	cases := []struct {
		target, actual any
		want           float64
	}{
		{target: 10.0, actual: 10.0, want: 1},
		{target: 10.0, actual: 25.0, want: 1},
		{target: 10.0, actual: 0.0, want: 0},
		{target: 10.0, actual: -3.0, want: 0},
		{target: 10.0, actual: 4.0, want: 0.4},
		{target: "10", actual: "4", want: 0.4},
		{target: 0.0, actual: 0.0, want: 1},
		{target: 0.0, actual: 5.0, want: 0},
		{target: "gold", actual: "gold", want: 1},
		{target: "gold", actual: "silver", want: 0},
		{target: true, actual: true, want: 1},
	}
	for _, tc := range cases {
		got := fulfillmentRate(tc.target, tc.actual)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("fulfillmentRate(%v, %v) = %f, want %f", tc.target, tc.actual, got, tc.want)
		}
		if got < 0 || got > 1 {
			t.Fatalf("rate out of bounds: %f", got)
		}
	}
}

func TestRewardFloorAtZero(t *testing.T) {
	c := completedContract([]DeliverableSpec{
		{Name: "alpha", Target: 1.0},
		{Name: "beta", Target: 1.0},
	}, []PenaltyClause{
		{ViolationType: "QUALITY_FAILURE", Amount: 400},
	})
	c.Compensation.Amount = 300
	s, err := Evaluate(c, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if s.TotalPenalty != 800 {
		t.Fatalf("expected total penalty 800, got %f", s.TotalPenalty)
	}
	if s.Report.RewardsReleased != 0 {
		t.Fatalf("rewards must never go negative, got %f", s.Report.RewardsReleased)
	}
}

func TestPenaltyClauseMatchPrefersTagInName(t *testing.T) {
	c := completedContract([]DeliverableSpec{
		{Name: "latency-report", Target: 1.0},
	}, []PenaltyClause{
		{ViolationType: "QUALITY_FAILURE", Amount: 100},
		{ViolationType: "latency", Amount: 40},
	})
	s, err := Evaluate(c, []ActualDeliverable{{Name: "latency-report", Value: 0.0}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(s.Report.Penalties) != 1 {
		t.Fatalf("expected exactly one clause applied, got %+v", s.Report.Penalties)
	}
	if s.Report.Penalties[0].ViolationType != "latency" || s.Report.Penalties[0].Amount != 40 {
		t.Fatalf("expected latency clause, got %+v", s.Report.Penalties[0])
	}
}

func TestZeroDeliverablesMeansZeroPerformance(t *testing.T) {
	c := completedContract(nil, nil)
	s, err := Evaluate(c, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if s.Report.PerformanceScore != 0 {
		t.Fatalf("empty mean must be 0, got %f", s.Report.PerformanceScore)
	}
	if math.IsNaN(s.Report.PerformanceScore) {
		t.Fatal("performance is NaN")
	}
}

func TestReputationRecords(t *testing.T) {
	c := completedContract([]DeliverableSpec{{Name: "summary", Target: 1.0}}, nil)
	s, err := Evaluate(c, []ActualDeliverable{{Name: "summary", Value: 1.0}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(s.Reputation) != 2 {
		t.Fatalf("expected one record per participant, got %d", len(s.Reputation))
	}
	rec := s.Reputation[0]
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("expected SUCCESS at performance 1.0, got %s", rec.Outcome)
	}
	if rec.CooperativeImpact != 1.0 {
		t.Fatalf("expected cooperative 1.0 on COMPLETED, got %f", rec.CooperativeImpact)
	}
	if s.Report.FinalReputationUpdate.AgentID != "agent-a" {
		t.Fatalf("representative record should be first participant, got %s", s.Report.FinalReputationUpdate.AgentID)
	}

	// Performance exactly 0.8 on a completed contract is PARTIAL, not SUCCESS.
	if got := classifyOutcome(StatusCompleted, 0.8); got != OutcomePartial {
		t.Fatalf("expected PARTIAL at 0.8, got %s", got)
	}

	rb, _ := MarkRolledBack(func() Contract { x := c; x.Status = StatusActive; return x }())
	s2, err := Evaluate(rb, nil)
	if err != nil {
		t.Fatalf("evaluate rolled back: %v", err)
	}
	if s2.Reputation[0].Outcome != OutcomeFailure {
		t.Fatalf("expected FAILURE on ROLLED_BACK, got %s", s2.Reputation[0].Outcome)
	}
	if s2.Reputation[0].CooperativeImpact != 0 {
		t.Fatalf("expected cooperative 0 on ROLLED_BACK, got %f", s2.Reputation[0].CooperativeImpact)
	}
}

func TestEconomicDenominatorFloor(t *testing.T) {
	c := completedContract(nil, nil)
	c.Compensation.Amount = 0
	s, err := Evaluate(c, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.IsNaN(s.Reputation[0].EconomicPerformance) || math.IsInf(s.Reputation[0].EconomicPerformance, 0) {
		t.Fatalf("economic performance not finite: %f", s.Reputation[0].EconomicPerformance)
	}
	if s.Reputation[0].EconomicPerformance != 0 {
		t.Fatalf("expected 0 economic score for zero compensation, got %f", s.Reputation[0].EconomicPerformance)
	}
}
