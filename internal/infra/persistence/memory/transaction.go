package memory

import (
	"fmt"
	"time"

	"reservecore/pkg/domain"
)

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListDevelopments returns all developments within the transaction snapshot.
func (v transactionView) ListDevelopments() []Development {
	out := make([]Development, 0, len(v.state.developments))
	for _, d := range v.state.developments {
		out = append(out, d)
	}
	return out
}

// ListUnits returns all units within the transaction snapshot.
func (v transactionView) ListUnits() []Unit {
	out := make([]Unit, 0, len(v.state.units))
	for _, u := range v.state.units {
		out = append(out, cloneUnit(u))
	}
	return out
}

// ListRequests returns all reservation requests within the transaction snapshot.
func (v transactionView) ListRequests() []ReservationRequest {
	out := make([]ReservationRequest, 0, len(v.state.requests))
	for _, r := range v.state.requests {
		out = append(out, cloneRequest(r))
	}
	return out
}

// FindDevelopment retrieves a development by ID from the snapshot.
func (v transactionView) FindDevelopment(id string) (Development, bool) {
	d, ok := v.state.developments[id]
	return d, ok
}

// FindUnit retrieves a unit by ID from the snapshot.
func (v transactionView) FindUnit(id string) (Unit, bool) {
	u, ok := v.state.units[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(u), true
}

// FindRequest retrieves a reservation request by ID from the snapshot.
func (v transactionView) FindRequest(id string) (ReservationRequest, bool) {
	r, ok := v.state.requests[id]
	if !ok {
		return ReservationRequest{}, false
	}
	return cloneRequest(r), true
}

// ListPendingForUnit returns pending requests referencing the unit ordered by
// sequence number ascending.
func (v transactionView) ListPendingForUnit(unitID string) []ReservationRequest {
	return pendingForUnit(v.state, unitID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindDevelopment exposes development lookup within the transaction scope.
func (tx *transaction) FindDevelopment(id string) (Development, bool) {
	d, ok := tx.state.developments[id]
	return d, ok
}

// FindUnit exposes unit lookup within the transaction scope.
func (tx *transaction) FindUnit(id string) (Unit, bool) {
	u, ok := tx.state.units[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(u), true
}

// FindRequest exposes request lookup within the transaction scope.
func (tx *transaction) FindRequest(id string) (ReservationRequest, bool) {
	r, ok := tx.state.requests[id]
	if !ok {
		return ReservationRequest{}, false
	}
	return cloneRequest(r), true
}

// ListPendingForUnit exposes the derived FIFO view within the transaction scope.
func (tx *transaction) ListPendingForUnit(unitID string) []ReservationRequest {
	return pendingForUnit(&tx.state, unitID)
}

// CreateDevelopment stores a new development within the transaction.
func (tx *transaction) CreateDevelopment(d Development) (Development, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.developments[d.ID]; exists {
		return Development{}, fmt.Errorf("development %q already exists", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.developments[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDevelopment, Action: domain.ActionCreate, After: d})
	return d, nil
}

// CreateUnit stores a new unit within the transaction. The unit must belong
// to an existing development.
func (tx *transaction) CreateUnit(u Unit) (Unit, error) {
	if u.ID == "" {
		u.ID = tx.store.newID()
	}
	if _, exists := tx.state.units[u.ID]; exists {
		return Unit{}, fmt.Errorf("unit %q already exists", u.ID)
	}
	if _, ok := tx.state.developments[u.DevelopmentID]; !ok {
		return Unit{}, domain.ErrNotFound{Entity: domain.EntityDevelopment, ID: u.DevelopmentID}
	}
	if u.Status == "" {
		u.Status = domain.UnitAvailable
	}
	if u.HolderRequestID != nil {
		return Unit{}, fmt.Errorf("unit %q cannot be created with a holder", u.ID)
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.units[u.ID] = cloneUnit(u)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionCreate, After: cloneUnit(u)})
	return cloneUnit(u), nil
}

// UpdateUnit mutates a unit using the provided mutator function.
func (tx *transaction) UpdateUnit(id string, mutator func(*Unit) error) (Unit, error) {
	current, ok := tx.state.units[id]
	if !ok {
		return Unit{}, domain.ErrNotFound{Entity: domain.EntityUnit, ID: id}
	}
	before := cloneUnit(current)
	if err := mutator(&current); err != nil {
		return Unit{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.units[id] = cloneUnit(current)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Before: before, After: cloneUnit(current)})
	return cloneUnit(current), nil
}

// ClaimUnit is the compare-and-set primitive: it succeeds only when the unit
// is currently available and unheld. The transaction commit protocol makes
// the set atomic with respect to every other writer.
func (tx *transaction) ClaimUnit(unitID, requestID string) (Unit, error) {
	current, ok := tx.state.units[unitID]
	if !ok {
		return Unit{}, domain.ErrNotFound{Entity: domain.EntityUnit, ID: unitID}
	}
	if current.Status != domain.UnitAvailable || current.HolderRequestID != nil {
		holder := ""
		if current.HolderRequestID != nil {
			holder = *current.HolderRequestID
		}
		return Unit{}, domain.ErrUnitConflict{UnitID: unitID, HolderRequestID: holder}
	}
	before := cloneUnit(current)
	current.Status = domain.UnitReserved
	current.HolderRequestID = &requestID
	current.UpdatedAt = tx.now
	tx.state.units[unitID] = cloneUnit(current)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionClaim, Before: before, After: cloneUnit(current)})
	return cloneUnit(current), nil
}

// ReleaseUnit returns a unit to available, dropping any holder claim.
func (tx *transaction) ReleaseUnit(unitID string) (Unit, error) {
	current, ok := tx.state.units[unitID]
	if !ok {
		return Unit{}, domain.ErrNotFound{Entity: domain.EntityUnit, ID: unitID}
	}
	before := cloneUnit(current)
	current.Status = domain.UnitAvailable
	current.HolderRequestID = nil
	current.UpdatedAt = tx.now
	tx.state.units[unitID] = cloneUnit(current)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionRelease, Before: before, After: cloneUnit(current)})
	return cloneUnit(current), nil
}

// CreateRequest persists a pending reservation request, validating every
// referenced unit and assigning the next sequence number. Sequence numbers
// are unique and monotonic, which is what makes queue ordering tie-free.
func (tx *transaction) CreateRequest(r ReservationRequest) (ReservationRequest, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return ReservationRequest{}, fmt.Errorf("request %q already exists", r.ID)
	}
	if r.RequesterID == "" {
		return ReservationRequest{}, fmt.Errorf("request requester required")
	}
	r.UnitIDs = dedupeStrings(r.UnitIDs)
	if len(r.UnitIDs) == 0 {
		return ReservationRequest{}, fmt.Errorf("request must reference at least one unit")
	}
	for _, unitID := range r.UnitIDs {
		unit, ok := tx.state.units[unitID]
		if !ok {
			return ReservationRequest{}, domain.ErrNotFound{Entity: domain.EntityUnit, ID: unitID}
		}
		if !unit.Status.Allocatable() {
			return ReservationRequest{}, domain.ErrInvalidUnitState{UnitID: unitID, Status: unit.Status}
		}
	}
	r.Status = domain.DecisionPending
	r.RejectionReason = nil
	r.DecidedAt = nil
	r.DecidedBy = nil
	r.SequenceNumber = tx.state.nextSequence
	tx.state.nextSequence++
	r.SubmittedAt = tx.now
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.requests[r.ID] = cloneRequest(r)
	tx.recordChange(Change{Entity: domain.EntityReservationRequest, Action: domain.ActionCreate, After: cloneRequest(r)})
	return cloneRequest(r), nil
}

// MarkApproved transitions a pending request to approved. Idempotent: an
// already-decided request is returned untouched with ErrAlreadyDecided.
func (tx *transaction) MarkApproved(requestID, approverID string) (ReservationRequest, error) {
	return tx.decide(requestID, approverID, domain.DecisionApproved, "")
}

// MarkRejected transitions a pending request to rejected. Same idempotency
// contract as MarkApproved.
func (tx *transaction) MarkRejected(requestID, deciderID, reason string) (ReservationRequest, error) {
	return tx.decide(requestID, deciderID, domain.DecisionRejected, reason)
}

func (tx *transaction) decide(requestID, deciderID string, status domain.DecisionStatus, reason string) (ReservationRequest, error) {
	current, ok := tx.state.requests[requestID]
	if !ok {
		return ReservationRequest{}, domain.ErrNotFound{Entity: domain.EntityReservationRequest, ID: requestID}
	}
	if current.Status.Terminal() {
		return cloneRequest(current), domain.ErrAlreadyDecided{RequestID: requestID, Status: current.Status}
	}
	before := cloneRequest(current)
	current.Status = status
	decidedAt := tx.now
	current.DecidedAt = &decidedAt
	current.DecidedBy = &deciderID
	if status == domain.DecisionRejected {
		current.RejectionReason = &reason
	}
	current.UpdatedAt = tx.now
	tx.state.requests[requestID] = cloneRequest(current)
	tx.recordChange(Change{Entity: domain.EntityReservationRequest, Action: domain.ActionUpdate, Before: before, After: cloneRequest(current)})
	return cloneRequest(current), nil
}
