package core

import (
	"context"
	"sort"

	"reservecore/pkg/domain"
)

// QueuePosition returns the 1-based FIFO rank of a pending request among the
// pending requests for one unit, ordered by sequence number. The rank is
// advisory display data only: admission is first-approver-wins, and a manager
// may deliberately approve a later request first. Returns ok=false when the
// request is decided or does not reference the unit.
func (s *Service) QueuePosition(ctx context.Context, requestID, unitID string) (int, bool, error) {
	position := 0
	found := false
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		request, ok := view.FindRequest(requestID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityReservationRequest, ID: requestID}
		}
		if _, ok := view.FindUnit(unitID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityUnit, ID: unitID}
		}
		if request.Status != domain.DecisionPending || !request.References(unitID) {
			return nil
		}
		for i, pending := range view.ListPendingForUnit(unitID) {
			if pending.ID == requestID {
				position = i + 1
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return position, found, nil
}

// FindConflicts enumerates, per unit of the given request, the other pending
// requests competing for it, with their advisory queue positions. The view is
// a snapshot for display; authoritative resolution happens only inside the
// approval transaction.
func (s *Service) FindConflicts(ctx context.Context, requestID string) ([]Conflict, error) {
	var conflicts []Conflict
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		request, ok := view.FindRequest(requestID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityReservationRequest, ID: requestID}
		}
		units := append([]string(nil), request.UnitIDs...)
		sort.Strings(units)
		for _, unitID := range units {
			for i, pending := range view.ListPendingForUnit(unitID) {
				if pending.ID == requestID {
					continue
				}
				conflicts = append(conflicts, Conflict{
					UnitID:             unitID,
					CompetingRequestID: pending.ID,
					QueuePosition:      i + 1,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}
