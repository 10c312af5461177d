package core

import (
	"context"
	"errors"
	"testing"

	"reservecore/internal/infra/persistence/memory"
	"reservecore/pkg/domain"
)

func TestExclusiveHolderBlocksOrphanClaim(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		dev, err := tx.CreateDevelopment(Development{Code: "DV1"})
		if err != nil {
			return err
		}
		unit, err := tx.CreateUnit(Unit{DevelopmentID: dev.ID, Code: "A-101"})
		if err != nil {
			return err
		}
		// Claim for a request that does not exist.
		_, err = tx.ClaimUnit(unit.ID, "ghost-request")
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !violation.Result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
}

func TestExclusiveHolderBlocksPendingHolder(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	ctx := context.Background()

	var unitID, requestID string
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		dev, err := tx.CreateDevelopment(Development{Code: "DV1"})
		if err != nil {
			return err
		}
		unit, err := tx.CreateUnit(Unit{DevelopmentID: dev.ID, Code: "A-101"})
		if err != nil {
			return err
		}
		request, err := tx.CreateRequest(ReservationRequest{RequesterID: "agent-1", UnitIDs: []string{unit.ID}})
		if err != nil {
			return err
		}
		unitID, requestID = unit.ID, request.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Claim without approving: the holder is still pending at commit.
	_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.ClaimUnit(unitID, requestID)
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError for pending holder, got %v", err)
	}
}

func TestDecisionFinalityBlocksRewrite(t *testing.T) {
	rule := NewDecisionFinalityRule()

	decided := ReservationRequest{Base: domain.Base{ID: "r1"}, Status: DecisionApproved}
	res, err := rule.Evaluate(context.Background(), nil, []Change{{
		Entity: EntityReservationRequest,
		Action: domain.ActionUpdate,
		Before: decided,
		After:  decided,
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking violation for terminal rewrite")
	}

	pending := ReservationRequest{Base: domain.Base{ID: "r2"}, Status: DecisionPending}
	res, err = rule.Evaluate(context.Background(), nil, []Change{{
		Entity: EntityReservationRequest,
		Action: domain.ActionUpdate,
		Before: pending,
		After:  decided,
	}})
	if err != nil {
		t.Fatalf("evaluate pending: %v", err)
	}
	if res.HasBlocking() {
		t.Fatalf("deciding a pending request must not block")
	}
}

func TestStalePendingWarnsWithoutBlocking(t *testing.T) {
	svc := newTestService(t)
	units := seedInventory(t, svc, "A-101")
	mustSubmit(t, svc, "agent-1", units[0].ID)

	_, res, err := svc.UpdateUnitStatus(context.Background(), units[0].ID, UnitSold)
	if err != nil {
		t.Fatalf("sell unit with pending request must commit, got %v", err)
	}
	if res.HasBlocking() {
		t.Fatalf("stale pending must not block")
	}
	warned := false
	for _, v := range res.Violations {
		if v.Rule == "stale_pending" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected stale_pending warning: %+v", res.Violations)
	}
}
