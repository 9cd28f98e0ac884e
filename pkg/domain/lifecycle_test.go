package domain

import (
	"errors"
	"testing"
	"time"
)

func draftSpec() CreateSpec {
	return CreateSpec{
		CorrelationID: "neg_1",
		Scope: ScopeOfWork{
			Tasks:                []string{"summarize corpus"},
			ExpectedDeliverables: []string{"summary"},
		},
		Deliverables: []DeliverableSpec{
			{Name: "summary", Metric: "accuracy", Target: 0.92, VerificationMethod: "AUTOMATED"},
		},
		Compensation: Compensation{Amount: 500, Currency: "USD"},
		Participants: []string{"agent-a", "agent-b"},
	}
}

func sigFor(agent string) Signature {
	return Signature{
		AgentID:   agent,
		PublicKey: "pk-" + agent,
		Token:     "tok-" + agent,
		Algorithm: "ed25519",
		SignedAt:  time.Now().UTC(),
	}
}

func TestCreateDefaults(t *testing.T) {
	c := Create(CreateSpec{Participants: []string{"agent-a"}})
	if c.ID == "" {
		t.Fatal("expected generated contract id")
	}
	if c.Status != StatusDraft {
		t.Fatalf("expected DRAFT, got %s", c.Status)
	}
	if c.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version %q", c.SchemaVersion)
	}
	if len(c.Deliverables) != 0 || len(c.Penalties) != 0 || len(c.Signatures) != 0 {
		t.Fatal("expected empty lists on a bare spec")
	}
	if c.Compensation.Amount != 0 {
		t.Fatal("expected zero-amount compensation default")
	}

	c2 := Create(CreateSpec{ID: "agr_custom", Participants: []string{"agent-a"}})
	if c2.ID != "agr_custom" {
		t.Fatalf("expected caller-supplied id to win, got %s", c2.ID)
	}
}

func TestCreateIDsCollide(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c := Create(CreateSpec{})
		if seen[c.ID] {
			t.Fatalf("duplicate generated id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestSignImmutability(t *testing.T) {
	c := Create(draftSpec())
	signed, err := Sign(c, sigFor("agent-a"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(c.Signatures) != 0 {
		t.Fatal("original contract gained a signature")
	}
	if c.Status != StatusDraft {
		t.Fatal("original contract changed status")
	}
	if signed.Status != StatusSigned || len(signed.Signatures) != 1 {
		t.Fatalf("unexpected signed contract: status=%s sigs=%d", signed.Status, len(signed.Signatures))
	}

	// Mutating the returned slices must not leak into later copies.
	signed2, err := Sign(signed, sigFor("agent-b"))
	if err != nil {
		t.Fatalf("sign second: %v", err)
	}
	signed.Signatures[0].AgentID = "tampered"
	if signed2.Signatures[0].AgentID != "agent-a" {
		t.Fatal("tampering with one value leaked into another")
	}
}

func TestSignDeduplicatesPerAgent(t *testing.T) {
	c := Create(draftSpec())
	c, _ = Sign(c, sigFor("agent-a"))
	first := c.Signatures[0]
	again := sigFor("agent-a")
	again.Token = "tok-rotated"
	c, err := Sign(c, again)
	if err != nil {
		t.Fatalf("resign: %v", err)
	}
	if len(c.Signatures) != 1 {
		t.Fatalf("expected one signature entry, got %d", len(c.Signatures))
	}
	if c.Signatures[0].Token != "tok-rotated" {
		t.Fatalf("expected replacement, still have %q", c.Signatures[0].Token)
	}
	if first.Token != "tok-agent-a" {
		t.Fatalf("earlier value mutated: %q", first.Token)
	}
}

func TestSignRejectsActiveContract(t *testing.T) {
	c := Create(draftSpec())
	c, _ = Sign(c, sigFor("agent-a"))
	c, _ = Sign(c, sigFor("agent-b"))
	c, err := Commit(c)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := Sign(c, sigFor("agent-a")); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestCommitRequiresDistinctQuorum(t *testing.T) {
	c := Create(draftSpec())
	c, _ = Sign(c, sigFor("agent-a"))
	if _, err := Commit(c); !errors.Is(err, ErrIncompleteSignatureSet) {
		t.Fatalf("expected ErrIncompleteSignatureSet with 1 of 2 signers, got %v", err)
	}

	// Duplicate signatures from one agent must not count as quorum even
	// if they somehow inflate the log length.
	dup := c.clone()
	dup.Signatures = append(dup.Signatures, sigFor("agent-a"))
	if len(dup.Signatures) != len(dup.Participants) {
		t.Fatalf("test setup expects count parity, got %d sigs", len(dup.Signatures))
	}
	if _, err := Commit(dup); !errors.Is(err, ErrIncompleteSignatureSet) {
		t.Fatalf("expected ErrIncompleteSignatureSet on duplicate signer, got %v", err)
	}

	c, _ = Sign(c, sigFor("agent-b"))
	active, err := Commit(c)
	if err != nil {
		t.Fatalf("commit with full quorum: %v", err)
	}
	if active.Status != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", active.Status)
	}
	if c.Status != StatusSigned {
		t.Fatal("commit mutated its input")
	}
}

func TestCommitFromDraftRejected(t *testing.T) {
	c := Create(draftSpec())
	if _, err := Commit(c); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition from DRAFT, got %v", err)
	}
}

func TestStatusMovesForwardOnly(t *testing.T) {
	c := Create(draftSpec())
	c, _ = Sign(c, sigFor("agent-a"))
	c, _ = Sign(c, sigFor("agent-b"))
	c, _ = Commit(c)

	done, err := MarkCompleted(c)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := MarkCompleted(done); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected rejection of double completion, got %v", err)
	}

	rb, err := MarkRolledBack(done)
	if err != nil {
		t.Fatalf("rollback from COMPLETED: %v", err)
	}
	if rb.Status != StatusRolledBack {
		t.Fatalf("expected ROLLED_BACK, got %s", rb.Status)
	}
	if _, err := Terminate(rb); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected terminal ROLLED_BACK, got %v", err)
	}
}

func TestTerminateIsTerminal(t *testing.T) {
	c := Create(draftSpec())
	term, err := Terminate(c)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if term.Status != StatusTerminated {
		t.Fatalf("expected TERMINATED, got %s", term.Status)
	}
	if _, err := Sign(term, sigFor("agent-a")); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected sign rejection on terminated contract, got %v", err)
	}
	if _, err := MarkCompleted(term); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected completion rejection on terminated contract, got %v", err)
	}
}
