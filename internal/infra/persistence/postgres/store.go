// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics while applying the relational DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"reservecore/internal/infra/persistence/memory"
	"reservecore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/reservecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// schemaDDL declares the relational layout consumed by external reporting:
// a units table carrying status and holder, and an append-only
// reservation_requests table carrying decision state and sequence numbers.
// The operative persistence mechanism is the state snapshot table; the
// relational tables are maintained for readers outside this engine.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS units (
	id TEXT PRIMARY KEY,
	development_id TEXT NOT NULL,
	code TEXT NOT NULL,
	status TEXT NOT NULL,
	holder_request_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS reservation_requests (
	id TEXT PRIMARY KEY,
	sequence_number BIGINT NOT NULL UNIQUE,
	submitted_at TIMESTAMPTZ NOT NULL,
	requester_id TEXT NOT NULL,
	unit_ids JSONB NOT NULL,
	decision_status TEXT NOT NULL,
	rejection_reason TEXT,
	decided_at TIMESTAMPTZ,
	decided_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_requests_status ON reservation_requests(decision_status);
CREATE TABLE IF NOT EXISTS state (
	bucket TEXT PRIMARY KEY,
	payload JSONB NOT NULL
);
`

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN). It applies the schema DDL and hydrates the in-memory store
// from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots to Postgres if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

var postgresBuckets = []string{"developments", "units", "requests", "sequence"}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var target any
		switch bucket {
		case "developments":
			target = &snapshot.Developments
		case "units":
			target = &snapshot.Units
		case "requests":
			target = &snapshot.Requests
		case "sequence":
			target = &snapshot.NextSequence
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
		var data []byte
		switch bucket {
		case "developments":
			data, err = json.Marshal(snapshot.Developments)
		case "units":
			data, err = json.Marshal(snapshot.Units)
		case "requests":
			data, err = json.Marshal(snapshot.Requests)
		case "sequence":
			data, err = json.Marshal(snapshot.NextSequence)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := syncRelational(ctx, tx, snapshot); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// syncRelational upserts the relational projection of the snapshot. Decided
// requests are append-only by construction: the engine never mutates them
// again, so upserts cannot rewrite history.
func syncRelational(ctx context.Context, tx *sql.Tx, snapshot memory.Snapshot) error {
	for _, unit := range snapshot.Units {
		if _, err := tx.ExecContext(ctx, `INSERT INTO units(id,development_id,code,status,holder_request_id,created_at,updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT(id) DO UPDATE SET status=EXCLUDED.status, holder_request_id=EXCLUDED.holder_request_id, updated_at=EXCLUDED.updated_at`,
			unit.ID, unit.DevelopmentID, unit.Code, string(unit.Status), unit.HolderRequestID, unit.CreatedAt, unit.UpdatedAt); err != nil {
			return fmt.Errorf("upsert unit %s: %w", unit.ID, err)
		}
	}
	for _, request := range snapshot.Requests {
		unitIDs, err := json.Marshal(request.UnitIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO reservation_requests(id,sequence_number,submitted_at,requester_id,unit_ids,decision_status,rejection_reason,decided_at,decided_by)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT(id) DO UPDATE SET decision_status=EXCLUDED.decision_status, rejection_reason=EXCLUDED.rejection_reason, decided_at=EXCLUDED.decided_at, decided_by=EXCLUDED.decided_by`,
			request.ID, request.SequenceNumber, request.SubmittedAt, request.RequesterID, unitIDs, string(request.Status), request.RejectionReason, request.DecidedAt, request.DecidedBy); err != nil {
			return fmt.Errorf("upsert request %s: %w", request.ID, err)
		}
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
