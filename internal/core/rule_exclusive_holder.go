package core

import (
	"context"
	"fmt"

	"reservecore/pkg/domain"
)

// NewExclusiveHolderRule returns the in-transaction rule enforcing the single
// holder invariant: a reserved unit always records exactly one holder, and the
// recorded holder is an approved request that actually references the unit.
func NewExclusiveHolderRule() domain.Rule {
	return exclusiveHolderRule{}
}

type exclusiveHolderRule struct{}

func (exclusiveHolderRule) Name() string { return "exclusive_holder" }

func (exclusiveHolderRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, unit := range view.ListUnits() {
		if unit.HolderRequestID == nil {
			if unit.Status == domain.UnitReserved {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "exclusive_holder",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("unit %s is reserved without a holder", unit.ID),
					Entity:   domain.EntityUnit,
					EntityID: unit.ID,
				})
			}
			continue
		}
		holder, ok := view.FindRequest(*unit.HolderRequestID)
		switch {
		case !ok:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "exclusive_holder",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s held by unknown request %s", unit.ID, *unit.HolderRequestID),
				Entity:   domain.EntityUnit,
				EntityID: unit.ID,
			})
		case holder.Status != domain.DecisionApproved:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "exclusive_holder",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s held by request %s with status %s", unit.ID, holder.ID, holder.Status),
				Entity:   domain.EntityUnit,
				EntityID: unit.ID,
			})
		case !holder.References(unit.ID):
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "exclusive_holder",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("unit %s held by request %s that does not reference it", unit.ID, holder.ID),
				Entity:   domain.EntityUnit,
				EntityID: unit.ID,
			})
		}
	}
	return res, nil
}
