// Package coord routes negotiation traffic into contract creation and
// execution outcomes into settlement. It owns no business computation of
// its own: the lifecycle and settlement rules live in pkg/domain and
// internal/settle, and the negotiation, conflict and policy engines are
// external collaborators.
package coord

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"agentpact/pkg/domain"
	"agentpact/services/coordinator/internal/settle"
	"agentpact/services/coordinator/internal/store"
)

// StateFinalCommitment is the terminal negotiation state that makes a
// session eligible for contract synthesis. The literal comes from the
// negotiation engine's state machine.
const StateFinalCommitment = "FINAL_COMMITMENT"

const casAttempts = 5

var ErrSignatureRejected = errors.New("signature rejected")

type NegotiationResult struct {
	State    string `json:"state"`
	Accepted bool   `json:"accepted"`
}

type NegotiationEngine interface {
	Process(ctx context.Context, msg store.Message) (NegotiationResult, error)
}

type ConflictResolver interface {
	Evaluate(ctx context.Context, msg store.Message, sessionID string) (map[string]any, error)
}

type PolicyValidator interface {
	Evaluate(ctx context.Context, msg store.Message, policy map[string]any) (bool, string, error)
}

// IdentityVerifier checks a signing token before it enters the log.
// Optional: a nil verifier accepts every token as opaque.
type IdentityVerifier interface {
	Verify(contractID string, sig domain.Signature) error
}

type Coordinator struct {
	Store       store.Store
	Engine      *settle.Engine
	Negotiation NegotiationEngine
	Conflict    ConflictResolver
	Policy      PolicyValidator
	Verifier    IdentityVerifier
}

// Negotiate forwards msg to the negotiation engine and, when the engine
// accepts the transition, records the message and new state in the
// session history. The session write is CAS-retried so two concurrent
// messages cannot drop each other.
func (c *Coordinator) Negotiate(ctx context.Context, msg store.Message) (store.Session, NegotiationResult, error) {
	if msg.MessageID == "" {
		msg.MessageID = "msg_" + uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	res, err := c.Negotiation.Process(ctx, msg)
	if err != nil {
		return store.Session{}, NegotiationResult{}, err
	}

	var sess store.Session
	err = c.casRetry(func() error {
		cur, err := c.Store.GetSession(ctx, msg.SessionID)
		if errors.Is(err, store.ErrSessionNotFound) {
			cur = store.Session{SessionID: msg.SessionID, State: res.State}
		} else if err != nil {
			return err
		}
		if res.Accepted {
			cur.State = res.State
			cur.History = append(cur.History, msg)
		}
		if err := c.Store.PutSession(ctx, cur); err != nil {
			return err
		}
		sess = cur
		return nil
	})
	if err != nil {
		return store.Session{}, NegotiationResult{}, err
	}
	return sess, res, nil
}

// ValidateMessage delegates to the external policy validator.
func (c *Coordinator) ValidateMessage(ctx context.Context, msg store.Message, policy map[string]any) (bool, string, error) {
	return c.Policy.Evaluate(ctx, msg, policy)
}

// ResolveDispute delegates to the external conflict resolution engine.
func (c *Coordinator) ResolveDispute(ctx context.Context, sessionID string, msg store.Message) (map[string]any, error) {
	if _, err := c.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.Conflict.Evaluate(ctx, msg, sessionID)
}

// CreateContract synthesizes a contract from a session that reached
// final commitment and persists it in DRAFT. Participants are the last
// message's sender and recipient; scope, compensation and deadline are
// copied from the message content; deliverables are derived 1:1 from
// scope tasks with a default Completion metric targeting 1.
func (c *Coordinator) CreateContract(ctx context.Context, sessionID string) (domain.Contract, error) {
	sess, err := c.Store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Contract{}, err
	}
	if sess.State != StateFinalCommitment || len(sess.History) == 0 {
		return domain.Contract{}, domain.ErrInvalidStateTransition
	}
	last := sess.History[len(sess.History)-1]

	spec := specFromMessage(sessionID, last)
	contract := domain.Create(spec)
	if err := c.Store.PutContract(ctx, store.ContractRecord{Contract: contract}); err != nil {
		return domain.Contract{}, err
	}
	_ = c.Store.AddEvent(ctx, contract.ID, "CREATED", last.Sender, map[string]any{"session_id": sessionID})
	return contract, nil
}

// SignContract appends (or replaces) an agent's signature on the stored
// contract, verifying the token first when a verifier is configured.
func (c *Coordinator) SignContract(ctx context.Context, contractID string, sig domain.Signature) (domain.Contract, error) {
	if sig.SignedAt.IsZero() {
		sig.SignedAt = time.Now().UTC()
	}
	if c.Verifier != nil {
		if err := c.Verifier.Verify(contractID, sig); err != nil {
			return domain.Contract{}, errors.Join(ErrSignatureRejected, err)
		}
	}
	var out domain.Contract
	err := c.casRetry(func() error {
		rec, err := c.Store.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		signed, err := domain.Sign(rec.Contract, sig)
		if err != nil {
			return err
		}
		rec.Contract = signed
		if err := c.Store.PutContract(ctx, rec); err != nil {
			return err
		}
		out = signed
		return nil
	})
	if err != nil {
		return domain.Contract{}, err
	}
	_ = c.Store.AddEvent(ctx, contractID, "SIGNED", sig.AgentID, map[string]any{"algorithm": sig.Algorithm})
	return out, nil
}

// CommitContract activates a fully signed contract.
func (c *Coordinator) CommitContract(ctx context.Context, contractID string) (domain.Contract, error) {
	var out domain.Contract
	err := c.casRetry(func() error {
		rec, err := c.Store.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		active, err := domain.Commit(rec.Contract)
		if err != nil {
			return err
		}
		rec.Contract = active
		if err := c.Store.PutContract(ctx, rec); err != nil {
			return err
		}
		out = active
		return nil
	})
	if err != nil {
		return domain.Contract{}, err
	}
	_ = c.Store.AddEvent(ctx, contractID, "COMMITTED", "SYSTEM", map[string]any{})
	return out, nil
}

// ConfirmExecution marks an active contract COMPLETED and settles it.
// The status write lands before the settlement engine runs; the engine's
// journal guarantees the side effects happen at most once even if the
// confirmation is replayed.
func (c *Coordinator) ConfirmExecution(ctx context.Context, contractID string, actuals []domain.ActualDeliverable) (domain.SettlementReport, error) {
	var completed domain.Contract
	var replayed bool
	err := c.casRetry(func() error {
		rec, err := c.Store.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		// A replayed confirmation finds the contract already COMPLETED;
		// let it through to the engine, whose journal decides.
		if rec.Contract.Status == domain.StatusCompleted || rec.Contract.Status == domain.StatusRolledBack {
			completed = rec.Contract
			replayed = true
			return nil
		}
		done, err := domain.MarkCompleted(rec.Contract)
		if err != nil {
			return err
		}
		rec.Contract = done
		if err := c.Store.PutContract(ctx, rec); err != nil {
			return err
		}
		completed = done
		return nil
	})
	if err != nil {
		return domain.SettlementReport{}, err
	}
	if !replayed {
		_ = c.Store.AddEvent(ctx, contractID, "COMPLETED", "SYSTEM", map[string]any{})
	}

	report, err := c.Engine.Process(ctx, completed, actuals)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	_ = c.Store.AddEvent(ctx, contractID, "SETTLED", "SYSTEM", map[string]any{
		"performance_score": report.PerformanceScore,
		"rewards_released":  report.RewardsReleased,
	})
	return report, nil
}

func (c *Coordinator) GetSession(ctx context.Context, id string) (store.Session, error) {
	return c.Store.GetSession(ctx, id)
}

func (c *Coordinator) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	rec, err := c.Store.GetContract(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	return rec.Contract, nil
}

func (c *Coordinator) GetSettlement(ctx context.Context, contractID string) (domain.SettlementReport, bool, error) {
	return c.Store.GetSettlement(ctx, contractID)
}

func (c *Coordinator) casRetry(fn func() error) error {
	var err error
	for i := 0; i < casAttempts; i++ {
		err = fn()
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
	return err
}

func specFromMessage(sessionID string, msg store.Message) domain.CreateSpec {
	spec := domain.CreateSpec{
		CorrelationID: sessionID,
		Participants:  []string{msg.Sender, msg.Recipient},
	}
	content := msg.Content
	if scope, ok := content["scope"].(map[string]any); ok {
		spec.Scope = domain.ScopeOfWork{
			Tasks:                stringSlice(scope["tasks"]),
			ExpectedDeliverables: stringSlice(scope["expected_deliverables"]),
			Milestones:           stringSlice(scope["milestones"]),
			Constraints:          stringSlice(scope["constraints"]),
		}
	}
	if comp, ok := content["compensation"].(map[string]any); ok {
		if amount, ok := comp["amount"].(float64); ok {
			spec.Compensation.Amount = amount
		}
		if ccy, ok := comp["currency"].(string); ok {
			spec.Compensation.Currency = ccy
		}
	}
	if deadline, ok := content["deadline"].(string); ok {
		if t, err := time.Parse(time.RFC3339, deadline); err == nil {
			spec.Deadline.CompleteBy = t.UTC()
		}
	}
	for _, task := range spec.Scope.Tasks {
		spec.Deliverables = append(spec.Deliverables, domain.DeliverableSpec{
			Name:   task,
			Metric: "Completion",
			Target: 1.0,
		})
	}
	return spec
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
