package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"reservecore/pkg/domain"
)

// SubmitInput carries a requester's bid for one or more units.
type SubmitInput struct {
	RequesterID string
	UnitIDs     []string
	Metadata    map[string]string
}

// ApprovalResult reports the outcome of an approve call.
type ApprovalResult struct {
	RequestID              string         `json:"request_id"`
	Status                 DecisionStatus `json:"status"`
	UnitsReserved          []string       `json:"units_reserved,omitempty"`
	AutoRejectedRequestIDs []string       `json:"auto_rejected_request_ids,omitempty"`
	// AlreadyDecided marks an idempotent re-read: the request was decided by
	// an earlier call and no state was written by this one.
	AlreadyDecided bool `json:"already_decided"`
}

// DecisionResult reports the outcome of a reject or cancel call.
type DecisionResult struct {
	RequestID      string         `json:"request_id"`
	Status         DecisionStatus `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	AlreadyDecided bool           `json:"already_decided"`
}

// SubmitRequest persists a new pending reservation request. Fails with
// domain.ErrInvalidUnitState when any referenced unit is outside the
// allocation pool at submission time.
func (s *Service) SubmitRequest(ctx context.Context, input SubmitInput) (ReservationRequest, Result, error) {
	var created ReservationRequest
	var res Result
	err := s.instrument(ctx, "submit_request", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateRequest(ReservationRequest{
				RequesterID: input.RequesterID,
				UnitIDs:     input.UnitIDs,
				Metadata:    input.Metadata,
			})
			return err
		})
		return err
	})
	return created, res, err
}

// ApproveRequest executes the core arbitration transition: it claims every
// unit in the request atomically, commits the approval, and cascades
// rejection to every other pending request that referenced a claimed unit.
// All of it commits in one transaction, so a read after a successful return
// can never observe a stale pending competitor.
//
// Losing a claim race surfaces domain.ErrUnitConflict and leaves the request
// pending and retriable; no partial reservation survives the failed attempt.
func (s *Service) ApproveRequest(ctx context.Context, requestID, approverID string) (ApprovalResult, Result, error) {
	var outcome ApprovalResult
	var res Result
	err := s.instrument(ctx, "approve_request", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			request, ok := tx.FindRequest(requestID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityReservationRequest, ID: requestID}
			}
			if request.Status.Terminal() {
				outcome = ApprovalResult{RequestID: requestID, Status: request.Status, AlreadyDecided: true}
				if request.Status == domain.DecisionApproved {
					held := append([]string(nil), request.UnitIDs...)
					sort.Strings(held)
					outcome.UnitsReserved = held
				}
				return nil
			}

			units := append([]string(nil), request.UnitIDs...)
			sort.Strings(units)
			for _, unitID := range units {
				if _, err := tx.ClaimUnit(unitID, requestID); err != nil {
					return fmt.Errorf("claim unit %s: %w", unitID, err)
				}
			}

			approved, err := tx.MarkApproved(requestID, approverID)
			if err != nil {
				return err
			}

			// Cascade against the fresh transactional state, never an earlier
			// advisory snapshot. Losers held nothing, so no inventory rollback.
			var autoRejected []string
			for _, unitID := range units {
				for _, competitor := range tx.ListPendingForUnit(unitID) {
					if competitor.ID == requestID {
						continue
					}
					if _, err := tx.MarkRejected(competitor.ID, approverID, domain.ReasonUnitUnavailable); err != nil {
						return fmt.Errorf("cascade reject %s: %w", competitor.ID, err)
					}
					autoRejected = append(autoRejected, competitor.ID)
				}
			}

			outcome = ApprovalResult{
				RequestID:              requestID,
				Status:                 approved.Status,
				UnitsReserved:          units,
				AutoRejectedRequestIDs: autoRejected,
			}
			return nil
		})
		return err
	})
	if err != nil || outcome.AlreadyDecided {
		return outcome, res, err
	}

	s.publish(ctx, RequestApproved{RequestID: outcome.RequestID, UnitIDs: outcome.UnitsReserved})
	for _, rejectedID := range outcome.AutoRejectedRequestIDs {
		s.publish(ctx, RequestAutoRejected{
			RequestID:           rejectedID,
			Reason:              domain.ReasonUnitUnavailable,
			TriggeringRequestID: outcome.RequestID,
		})
	}
	return outcome, res, nil
}

// RejectRequest moves a pending request to rejected. Releases nothing:
// pending requests never hold a unit.
func (s *Service) RejectRequest(ctx context.Context, requestID, approverID, reason string) (DecisionResult, Result, error) {
	return s.decide(ctx, "reject_request", requestID, approverID, reason, "")
}

// CancelRequest is the requester-initiated equivalent of reject; only the
// original requester may cancel, and only while the request is pending.
func (s *Service) CancelRequest(ctx context.Context, requestID, requesterID string) (DecisionResult, Result, error) {
	return s.decide(ctx, "cancel_request", requestID, requesterID, domain.ReasonCancelledByRequester, requesterID)
}

func (s *Service) decide(ctx context.Context, operation, requestID, deciderID, reason, requiredRequester string) (DecisionResult, Result, error) {
	var outcome DecisionResult
	var res Result
	err := s.instrument(ctx, operation, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			request, ok := tx.FindRequest(requestID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityReservationRequest, ID: requestID}
			}
			if requiredRequester != "" && request.RequesterID != requiredRequester {
				return fmt.Errorf("request %s belongs to %s", requestID, request.RequesterID)
			}
			rejected, err := tx.MarkRejected(requestID, deciderID, reason)
			if err != nil {
				var decided domain.ErrAlreadyDecided
				if errors.As(err, &decided) {
					outcome = DecisionResult{RequestID: requestID, Status: decided.Status, AlreadyDecided: true}
					return nil
				}
				return err
			}
			outcome = DecisionResult{RequestID: requestID, Status: rejected.Status, Reason: reason}
			return nil
		})
		return err
	})
	if err != nil || outcome.AlreadyDecided {
		return outcome, res, err
	}
	s.publish(ctx, RequestRejected{RequestID: outcome.RequestID, Reason: outcome.Reason})
	return outcome, res, nil
}
