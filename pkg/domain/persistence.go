package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Either every mutation applied through
// a transaction commits, or none does.
type Transaction interface {
	Snapshot() TransactionView

	CreateDevelopment(Development) (Development, error)
	CreateUnit(Unit) (Unit, error)
	UpdateUnit(id string, mutator func(*Unit) error) (Unit, error)

	// ClaimUnit performs the compare-and-set at the heart of approval:
	// it succeeds only when the unit is available and unheld, transitioning
	// it to reserved with the request as holder. Losing callers receive
	// ErrUnitConflict.
	ClaimUnit(unitID, requestID string) (Unit, error)
	// ReleaseUnit returns a unit to available. Rollback path only; normal
	// rejection never touches inventory because pending requests hold nothing.
	ReleaseUnit(unitID string) (Unit, error)

	// CreateRequest persists a pending request and assigns the next monotonic
	// sequence number. Fails ErrInvalidUnitState when any referenced unit is
	// outside the allocation pool at submission time.
	CreateRequest(ReservationRequest) (ReservationRequest, error)
	// MarkApproved transitions a pending request to approved. On an already
	// decided request it performs no writes and returns the stored record
	// together with ErrAlreadyDecided.
	MarkApproved(requestID, approverID string) (ReservationRequest, error)
	// MarkRejected transitions a pending request to rejected with the given
	// reason. Same idempotency contract as MarkApproved.
	MarkRejected(requestID, deciderID, reason string) (ReservationRequest, error)

	FindDevelopment(id string) (Development, bool)
	FindUnit(id string) (Unit, bool)
	FindRequest(id string) (ReservationRequest, bool)
	// ListPendingForUnit returns the pending requests referencing the unit
	// ordered by sequence number ascending (the derived FIFO view).
	ListPendingForUnit(unitID string) []ReservationRequest
}

// TransactionView provides read-only access to snapshot data for rules and
// advisory queries.
type TransactionView interface {
	ListDevelopments() []Development
	ListUnits() []Unit
	ListRequests() []ReservationRequest
	FindDevelopment(id string) (Development, bool)
	FindUnit(id string) (Unit, bool)
	FindRequest(id string) (ReservationRequest, bool)
	ListPendingForUnit(unitID string) []ReservationRequest
}

// RuleView is the read surface rules evaluate against. It matches the
// transaction view; the alias keeps rule signatures decoupled from storage.
type RuleView = TransactionView

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetUnit(id string) (Unit, bool)
	GetRequest(id string) (ReservationRequest, bool)
	ListUnits() []Unit
	ListRequests() []ReservationRequest
	ListDevelopments() []Development
}
