package core

import (
	"context"
	"fmt"

	"reservecore/pkg/domain"
)

// NewStalePendingRule returns the rule reporting pending requests that
// reference units which have since left the allocation pool. Warn-level:
// such requests are legal records awaiting a decision, but surfacing them
// lets operators reject them before a manager trips over a claim conflict.
func NewStalePendingRule() domain.Rule {
	return stalePendingRule{}
}

type stalePendingRule struct{}

func (stalePendingRule) Name() string { return "stale_pending" }

func (stalePendingRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, request := range view.ListRequests() {
		if request.Status != domain.DecisionPending {
			continue
		}
		for _, unitID := range request.UnitIDs {
			unit, ok := view.FindUnit(unitID)
			if !ok || unit.Status.Allocatable() {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "stale_pending",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("pending request %s references %s unit %s", request.ID, unit.Status, unitID),
				Entity:   domain.EntityReservationRequest,
				EntityID: request.ID,
			})
		}
	}
	return res, nil
}
