package domain

import "fmt"

// ErrNotFound is returned when a referenced entity does not exist. It signals
// an integration or programming error on the caller's side, fatal to the
// call but not to the system.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrUnitConflict is returned when a claim loses the compare-and-set race for
// a unit. Recoverable: the caller may retry after re-reading conflict state,
// or reject the losing request explicitly. The coordinator never retries on
// its own.
type ErrUnitConflict struct {
	UnitID          string
	HolderRequestID string
}

func (e ErrUnitConflict) Error() string {
	if e.HolderRequestID == "" {
		return fmt.Sprintf("unit %s cannot be claimed", e.UnitID)
	}
	return fmt.Sprintf("unit %s already held by request %s", e.UnitID, e.HolderRequestID)
}

// ErrInvalidUnitState is returned when a submission targets a unit outside
// the allocation pool. Surfaced to the requester, not retried automatically.
type ErrInvalidUnitState struct {
	UnitID string
	Status UnitStatus
}

func (e ErrInvalidUnitState) Error() string {
	return fmt.Sprintf("unit %s is %s and cannot be requested", e.UnitID, e.Status)
}

// ErrAlreadyDecided reports that a request left Pending before the attempted
// transition. Not a failure: callers treat it as an idempotent re-read of the
// stored decision and must not retry it as an error.
type ErrAlreadyDecided struct {
	RequestID string
	Status    DecisionStatus
}

func (e ErrAlreadyDecided) Error() string {
	return fmt.Sprintf("request %s already decided: %s", e.RequestID, e.Status)
}
