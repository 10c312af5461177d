package core

import (
	"context"
	"time"

	"reservecore/internal/infra/persistence/memory"
	"reservecore/pkg/domain"
)

// Service exposes the reservation arbitration operations over a persistent
// store. It holds no cross-request locks of its own: correctness under
// concurrent callers is delegated entirely to the store's transactional
// claim primitive.
type Service struct {
	store   domain.PersistentStore
	metrics MetricsRecorder
	tracer  Tracer
	events  EventSink
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithMetricsRecorder wires an operation metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer wires an operation tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithEventSink wires the sink receiving post-commit decision events.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// instrument wraps an operation with tracing and metrics when configured.
func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	started := time.Now()
	err := fn(ctx)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, time.Since(started))
	}
	return err
}

// publish delivers an event to the configured sink. Delivery is best-effort
// and never affects the already-committed decision.
func (s *Service) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, event)
}

// CreateDevelopment persists a new development.
func (s *Service) CreateDevelopment(ctx context.Context, development Development) (Development, Result, error) {
	var created Development
	var res Result
	err := s.instrument(ctx, "create_development", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateDevelopment(development)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateUnit persists a new inventory unit.
func (s *Service) CreateUnit(ctx context.Context, unit Unit) (Unit, Result, error) {
	var created Unit
	var res Result
	err := s.instrument(ctx, "create_unit", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateUnit(unit)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdateUnitStatus moves a unit to the given status outside the arbitration
// hot path (promotion to in_negotiation/in_contract/sold, or blocking).
// Returning a unit to available drops any holder claim, which is the manual
// rollback path for approvals that never completed downstream.
func (s *Service) UpdateUnitStatus(ctx context.Context, unitID string, status UnitStatus) (Unit, Result, error) {
	var updated Unit
	var res Result
	err := s.instrument(ctx, "update_unit_status", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			if status == domain.UnitAvailable {
				updated, err = tx.ReleaseUnit(unitID)
				return err
			}
			updated, err = tx.UpdateUnit(unitID, func(u *Unit) error {
				u.Status = status
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// GetUnit returns a unit by ID.
func (s *Service) GetUnit(id string) (Unit, bool) {
	return s.store.GetUnit(id)
}

// GetRequest returns a reservation request by ID.
func (s *Service) GetRequest(id string) (ReservationRequest, bool) {
	return s.store.GetRequest(id)
}

// ListUnits returns all units.
func (s *Service) ListUnits() []Unit {
	return s.store.ListUnits()
}

// ListRequests returns all reservation requests ordered by sequence number.
func (s *Service) ListRequests() []ReservationRequest {
	return s.store.ListRequests()
}

// ListDevelopments returns all developments.
func (s *Service) ListDevelopments() []Development {
	return s.store.ListDevelopments()
}
