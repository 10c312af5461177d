// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by reservecore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDevelopment identifies a development record.
	EntityDevelopment EntityType = "development"
	// EntityUnit identifies a sellable inventory unit record.
	EntityUnit EntityType = "unit"
	// EntityReservationRequest identifies a reservation request record.
	EntityReservationRequest EntityType = "reservation_request"
)

// UnitStatus represents the canonical allocation states of an inventory unit.
type UnitStatus string

// Canonical unit statuses. Reserved and InNegotiation carry a holder claim;
// Sold, InContract and Blocked sit outside the allocation pool.
const (
	// UnitAvailable indicates the unit can be claimed.
	UnitAvailable UnitStatus = "available"
	// UnitReserved indicates an approved request currently holds the unit.
	UnitReserved      UnitStatus = "reserved"
	UnitInNegotiation UnitStatus = "in_negotiation"
	UnitInContract    UnitStatus = "in_contract"
	UnitSold          UnitStatus = "sold"
	UnitBlocked       UnitStatus = "blocked"
)

// Allocatable reports whether the unit status admits new reservation requests.
func (s UnitStatus) Allocatable() bool {
	switch s {
	case UnitSold, UnitInContract, UnitBlocked:
		return false
	}
	return true
}

// DecisionStatus enumerates the reservation request state machine. Pending is
// the only mutable state; Approved and Rejected are terminal.
type DecisionStatus string

// Canonical decision statuses.
const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s DecisionStatus) Terminal() bool {
	return s == DecisionApproved || s == DecisionRejected
}

// ReasonUnitUnavailable is the rejection reason applied to requests swept up
// in a cascade after a competing approval claimed one of their units.
const ReasonUnitUnavailable = "unit no longer available"

// ReasonCancelledByRequester marks a requester-initiated cancellation.
const ReasonCancelledByRequester = "cancelled by requester"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Development groups sellable units under one project (a building, a phase,
// a plotted subdivision).
type Development struct {
	Base
	Code string `json:"code"`
	Name string `json:"name"`
}

// Unit is a uniquely identified sellable inventory item within a development.
// HolderRequestID is the single source of truth for "who holds this unit";
// at most one non-terminal claim exists per unit at any instant.
type Unit struct {
	Base
	DevelopmentID   string     `json:"development_id"`
	Code            string     `json:"code"`
	Status          UnitStatus `json:"status"`
	HolderRequestID *string    `json:"holder_request_id"`
}

// Held reports whether an approved request currently holds the unit.
func (u Unit) Held() bool { return u.HolderRequestID != nil }

// ReservationRequest is a bid by an agent to hold one or more units for a
// prospective buyer. Once the decision status leaves Pending the record is
// immutable and forms the append-only audit trail.
type ReservationRequest struct {
	Base
	SequenceNumber  uint64            `json:"sequence_number"`
	SubmittedAt     time.Time         `json:"submitted_at"`
	RequesterID     string            `json:"requester_id"`
	UnitIDs         []string          `json:"unit_ids"`
	Status          DecisionStatus    `json:"decision_status"`
	RejectionReason *string           `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time        `json:"decided_at,omitempty"`
	DecidedBy       *string           `json:"decided_by,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// References reports whether the request includes the given unit.
func (r ReservationRequest) References(unitID string) bool {
	for _, id := range r.UnitIDs {
		if id == unitID {
			return true
		}
	}
	return false
}

// Conflict describes one competing pending request for one unit. Advisory
// only: authoritative resolution happens inside the approval transaction.
type Conflict struct {
	UnitID             string `json:"unit_id"`
	CompetingRequestID string `json:"competing_request_id"`
	QueuePosition      int    `json:"queue_position"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionClaim indicates a unit claim transition (compare-and-set win).
	ActionClaim Action = "claim"
	// ActionRelease indicates a unit claim was rolled back.
	ActionRelease Action = "release"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
