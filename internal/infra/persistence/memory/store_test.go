package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"reservecore/pkg/domain"
)

func seedUnit(t *testing.T, store *Store) (Development, Unit) {
	t.Helper()
	var dev Development
	var unit Unit
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		dev, err = tx.CreateDevelopment(Development{Code: "DV1", Name: "Riverside"})
		if err != nil {
			return err
		}
		unit, err = tx.CreateUnit(Unit{DevelopmentID: dev.ID, Code: "A-101"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return dev, unit
}

func submit(t *testing.T, store *Store, unitIDs ...string) ReservationRequest {
	t.Helper()
	var created ReservationRequest
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		created, err = tx.CreateRequest(ReservationRequest{RequesterID: "agent-1", UnitIDs: unitIDs})
		return err
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return created
}

func TestCreateUnitRequiresDevelopment(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateUnit(Unit{DevelopmentID: "missing", Code: "A-1"})
		return err
	})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRequestAssignsMonotonicSequence(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)

	first := submit(t, store, unit.ID)
	second := submit(t, store, unit.ID)
	third := submit(t, store, unit.ID)

	if first.SequenceNumber >= second.SequenceNumber || second.SequenceNumber >= third.SequenceNumber {
		t.Fatalf("sequence not monotonic: %d %d %d", first.SequenceNumber, second.SequenceNumber, third.SequenceNumber)
	}
	if first.Status != domain.DecisionPending {
		t.Fatalf("new request must be pending, got %s", first.Status)
	}
	if first.SubmittedAt.IsZero() {
		t.Fatalf("submitted_at not stamped")
	}
}

func TestCreateRequestValidation(t *testing.T) {
	store := NewStore(nil)
	dev, _ := seedUnit(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateRequest(ReservationRequest{RequesterID: "agent-1"})
		return err
	})
	if err == nil {
		t.Fatalf("expected error for request without units")
	}

	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateRequest(ReservationRequest{RequesterID: "agent-1", UnitIDs: []string{"ghost"}})
		return err
	})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound for unknown unit, got %v", err)
	}

	var sold Unit
	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		sold, err = tx.CreateUnit(Unit{DevelopmentID: dev.ID, Code: "A-102", Status: domain.UnitSold})
		return err
	})
	if err != nil {
		t.Fatalf("create sold unit: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateRequest(ReservationRequest{RequesterID: "agent-1", UnitIDs: []string{sold.ID}})
		return err
	})
	var invalid domain.ErrInvalidUnitState
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidUnitState for sold unit, got %v", err)
	}
}

func TestCreateRequestDedupesUnits(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)
	created := submit(t, store, unit.ID, unit.ID, unit.ID)
	if len(created.UnitIDs) != 1 {
		t.Fatalf("expected deduped unit list, got %v", created.UnitIDs)
	}
}

func TestClaimUnitCompareAndSet(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)
	winner := submit(t, store, unit.ID)
	loser := submit(t, store, unit.ID)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.ClaimUnit(unit.ID, winner.ID); err != nil {
			return err
		}
		_, err := tx.MarkApproved(winner.ID, "manager-1")
		return err
	})
	if err != nil {
		t.Fatalf("winning claim: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ClaimUnit(unit.ID, loser.ID)
		return err
	})
	var conflict domain.ErrUnitConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrUnitConflict, got %v", err)
	}
	if conflict.HolderRequestID != winner.ID {
		t.Fatalf("conflict holder = %q want %q", conflict.HolderRequestID, winner.ID)
	}

	got, ok := store.GetUnit(unit.ID)
	if !ok || got.Status != domain.UnitReserved || got.HolderRequestID == nil || *got.HolderRequestID != winner.ID {
		t.Fatalf("unit state after claim: %+v", got)
	}
}

func TestFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)
	request := submit(t, store, unit.ID)

	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.ClaimUnit(unit.ID, request.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	got, _ := store.GetUnit(unit.ID)
	if got.Status != domain.UnitAvailable || got.HolderRequestID != nil {
		t.Fatalf("claim leaked out of aborted transaction: %+v", got)
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)
	request := submit(t, store, unit.ID)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.MarkRejected(request.ID, "manager-1", "duplicate")
		return err
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	var stored ReservationRequest
	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		stored, err = tx.MarkApproved(request.ID, "manager-2")
		if err != nil {
			var decided domain.ErrAlreadyDecided
			if errors.As(err, &decided) {
				if decided.Status != domain.DecisionRejected {
					t.Errorf("decided status = %s want rejected", decided.Status)
				}
				return nil
			}
		}
		return err
	})
	if err != nil {
		t.Fatalf("second decision: %v", err)
	}
	if stored.Status != domain.DecisionRejected {
		t.Fatalf("stored record must keep first decision, got %s", stored.Status)
	}
	if stored.RejectionReason == nil || *stored.RejectionReason != "duplicate" {
		t.Fatalf("rejection reason lost: %+v", stored.RejectionReason)
	}
}

func TestListPendingForUnitOrdersBySequence(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)
	a := submit(t, store, unit.ID)
	b := submit(t, store, unit.ID)
	c := submit(t, store, unit.ID)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.MarkRejected(b.ID, "manager-1", "test")
		return err
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	err = store.View(context.Background(), func(view TransactionView) error {
		pending := view.ListPendingForUnit(unit.ID)
		if len(pending) != 2 {
			t.Fatalf("pending len = %d want 2", len(pending))
		}
		if pending[0].ID != a.ID || pending[1].ID != c.ID {
			t.Fatalf("pending order = %s,%s want %s,%s", pending[0].ID, pending[1].ID, a.ID, c.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewStore(nil)
	_, unit := seedUnit(t, store)
	request := submit(t, store, unit.ID)

	restored := NewStore(nil)
	restored.ImportState(store.ExportState())

	got, ok := restored.GetRequest(request.ID)
	if !ok {
		t.Fatalf("request missing after round trip")
	}
	if got.SequenceNumber != request.SequenceNumber || got.RequesterID != request.RequesterID {
		t.Fatalf("restored request mismatch: %+v", got)
	}

	next := submit(t, restored, unit.ID)
	if next.SequenceNumber <= request.SequenceNumber {
		t.Fatalf("sequence regressed after import: %d <= %d", next.SequenceNumber, request.SequenceNumber)
	}
}

func TestMigrateSnapshotRecomputesSequence(t *testing.T) {
	snapshot := Snapshot{
		Requests: map[string]ReservationRequest{
			"r9": {Base: domain.Base{ID: "r9"}, SequenceNumber: 9},
		},
	}
	migrated := migrateSnapshot(snapshot)
	if migrated.NextSequence != 10 {
		t.Fatalf("next sequence = %d want 10", migrated.NextSequence)
	}
	if migrated.Developments == nil || migrated.Units == nil {
		t.Fatalf("nil maps not initialized")
	}
}

func TestSetNowFuncControlsTimestamps(t *testing.T) {
	store := NewStore(nil)
	frozen := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return frozen })

	_, unit := seedUnit(t, store)
	request := submit(t, store, unit.ID)
	if !request.SubmittedAt.Equal(frozen) {
		t.Fatalf("submitted_at = %v want %v", request.SubmittedAt, frozen)
	}
	if !unit.CreatedAt.Equal(frozen) {
		t.Fatalf("created_at = %v want %v", unit.CreatedAt, frozen)
	}
}
