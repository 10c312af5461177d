// Package memory provides the in-memory transactional store that backs the
// arbitration engine. Durable backends wrap it and snapshot committed state.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"reservecore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Development aliases domain.Development for in-memory persistence operations.
	Development = domain.Development
	// Unit aliases domain.Unit.
	Unit = domain.Unit
	// ReservationRequest aliases domain.ReservationRequest.
	ReservationRequest = domain.ReservationRequest
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	developments map[string]Development
	units        map[string]Unit
	requests     map[string]ReservationRequest
	nextSequence uint64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Developments map[string]Development        `json:"developments"`
	Units        map[string]Unit               `json:"units"`
	Requests     map[string]ReservationRequest `json:"requests"`
	NextSequence uint64                        `json:"next_sequence"`
}

func newMemoryState() memoryState {
	return memoryState{
		developments: make(map[string]Development),
		units:        make(map[string]Unit),
		requests:     make(map[string]ReservationRequest),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Developments: make(map[string]Development, len(state.developments)),
		Units:        make(map[string]Unit, len(state.units)),
		Requests:     make(map[string]ReservationRequest, len(state.requests)),
		NextSequence: state.nextSequence,
	}
	for k, v := range state.developments {
		s.Developments[k] = v
	}
	for k, v := range state.units {
		s.Units[k] = cloneUnit(v)
	}
	for k, v := range state.requests {
		s.Requests[k] = cloneRequest(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Developments {
		state.developments[k] = v
	}
	for k, v := range s.Units {
		state.units[k] = cloneUnit(v)
	}
	for k, v := range s.Requests {
		state.requests[k] = cloneRequest(v)
	}
	state.nextSequence = s.NextSequence
	return state
}

// migrateSnapshot repairs snapshots written by older deployments: nil maps
// become empty, and the sequence counter is recomputed when it trails the
// highest assigned sequence number.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Developments == nil {
		snapshot.Developments = map[string]Development{}
	}
	if snapshot.Units == nil {
		snapshot.Units = map[string]Unit{}
	}
	if snapshot.Requests == nil {
		snapshot.Requests = map[string]ReservationRequest{}
	}
	for _, request := range snapshot.Requests {
		if request.SequenceNumber >= snapshot.NextSequence {
			snapshot.NextSequence = request.SequenceNumber + 1
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.developments {
		cloned.developments[k] = v
	}
	for k, v := range s.units {
		cloned.units[k] = cloneUnit(v)
	}
	for k, v := range s.requests {
		cloned.requests[k] = cloneRequest(v)
	}
	cloned.nextSequence = s.nextSequence
	return cloned
}

func cloneUnit(u Unit) Unit {
	cp := u
	if u.HolderRequestID != nil {
		holder := *u.HolderRequestID
		cp.HolderRequestID = &holder
	}
	return cp
}

func cloneRequest(r ReservationRequest) ReservationRequest {
	cp := r
	cp.UnitIDs = append([]string(nil), r.UnitIDs...)
	if r.RejectionReason != nil {
		reason := *r.RejectionReason
		cp.RejectionReason = &reason
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		cp.DecidedAt = &t
	}
	if r.DecidedBy != nil {
		by := *r.DecidedBy
		cp.DecidedBy = &by
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func dedupeStrings(values []string) []string {
	if len(values) <= 1 {
		return append([]string(nil), values...)
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func pendingForUnit(state *memoryState, unitID string) []ReservationRequest {
	var out []ReservationRequest
	for _, request := range state.requests {
		if request.Status != domain.DecisionPending {
			continue
		}
		if !request.References(unitID) {
			continue
		}
		out = append(out, cloneRequest(request))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// Store provides an in-memory transactional store for the core domain. The
// store mutex is the single serialization point: transactions clone the
// state, mutate the clone, and swap it in on commit, so a claim committed by
// one writer is always visible to the next.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider; used by tests for deterministic timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetUnit returns a unit by ID.
func (s *Store) GetUnit(id string) (Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.units[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(u), true
}

// GetRequest returns a reservation request by ID.
func (s *Store) GetRequest(id string) (ReservationRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.requests[id]
	if !ok {
		return ReservationRequest{}, false
	}
	return cloneRequest(r), true
}

// ListUnits returns all units sorted by code then ID.
func (s *Store) ListUnits() []Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Unit, 0, len(s.state.units))
	for _, u := range s.state.units {
		out = append(out, cloneUnit(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListRequests returns all requests sorted by sequence number.
func (s *Store) ListRequests() []ReservationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ReservationRequest, 0, len(s.state.requests))
	for _, r := range s.state.requests {
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// ListDevelopments returns all developments sorted by code.
func (s *Store) ListDevelopments() []Development {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Development, 0, len(s.state.developments))
	for _, d := range s.state.developments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
