package core

import "reservecore/pkg/domain"

type (
	EntityType         = domain.EntityType
	UnitStatus         = domain.UnitStatus
	DecisionStatus     = domain.DecisionStatus
	Severity           = domain.Severity
	Base               = domain.Base
	Development        = domain.Development
	Unit               = domain.Unit
	ReservationRequest = domain.ReservationRequest
	Conflict           = domain.Conflict
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityDevelopment        = domain.EntityDevelopment
	EntityUnit               = domain.EntityUnit
	EntityReservationRequest = domain.EntityReservationRequest
)

const (
	UnitAvailable     = domain.UnitAvailable
	UnitReserved      = domain.UnitReserved
	UnitInNegotiation = domain.UnitInNegotiation
	UnitInContract    = domain.UnitInContract
	UnitSold          = domain.UnitSold
	UnitBlocked       = domain.UnitBlocked
)

const (
	DecisionPending  = domain.DecisionPending
	DecisionApproved = domain.DecisionApproved
	DecisionRejected = domain.DecisionRejected
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
