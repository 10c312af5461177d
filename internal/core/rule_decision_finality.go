package core

import (
	"context"
	"fmt"

	"reservecore/pkg/domain"
)

// NewDecisionFinalityRule returns the rule blocking any transaction that
// mutates a request whose decision was already terminal before the
// transaction began. The store refuses such writes too; the rule keeps the
// append-only audit guarantee independent of any one store implementation.
func NewDecisionFinalityRule() domain.Rule {
	return decisionFinalityRule{}
}

type decisionFinalityRule struct{}

func (decisionFinalityRule) Name() string { return "decision_finality" }

func (decisionFinalityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityReservationRequest || change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := change.Before.(domain.ReservationRequest)
		if !ok || !before.Status.Terminal() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "decision_finality",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("request %s is %s and immutable", before.ID, before.Status),
			Entity:   domain.EntityReservationRequest,
			EntityID: before.ID,
		})
	}
	return res, nil
}
