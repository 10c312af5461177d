// Package decisionlog exports the decided-request audit trail as immutable
// artifacts in blob storage.
package decisionlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	blobcore "reservecore/internal/blob/core"
	"reservecore/pkg/domain"
)

// Format identifies an export serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportArtifact captures one stored decision-log artifact.
type ExportArtifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	Rows        int       `json:"rows"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord tracks an export request and resulting artifacts.
type ExportRecord struct {
	ID            string           `json:"id"`
	Formats       []Format         `json:"formats"`
	Status        ExportStatus     `json:"status"`
	Error         string           `json:"error,omitempty"`
	Artifacts     []ExportArtifact `json:"artifacts,omitempty"`
	RequestedBy   string           `json:"requested_by"`
	Reason        string           `json:"reason,omitempty"`
	SinceSequence uint64           `json:"since_sequence,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// ExportInput represents an enqueue request for the worker.
type ExportInput struct {
	Formats     []Format
	RequestedBy string
	Reason      string
	// SinceSequence filters the trail to requests at or above this sequence number.
	SinceSequence uint64
}

// RequestSource supplies the request trail to export. The core service
// satisfies it directly.
type RequestSource interface {
	ListRequests() []domain.ReservationRequest
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string       `json:"id"`
	Action     string       `json:"action"`
	Actor      string       `json:"actor"`
	Status     ExportStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Note       string       `json:"note,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Worker executes decision-log exports asynchronously.
type Worker struct {
	source RequestSource
	store  blobcore.Store
	audit  AuditLogger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id    string
	input ExportInput
}

type renderedArtifact struct {
	artifact ExportArtifact
	payload  []byte
}

// NewWorker constructs an export worker.
func NewWorker(source RequestSource, store blobcore.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan exportTask, 32),
		jobs:   make(map[string]*ExportRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport schedules an export job and returns the queued record.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.source == nil {
		return ExportRecord{}, fmt.Errorf("request source not configured")
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, dup := seen[format]; dup {
			continue
		}
		switch format {
		case FormatJSON, FormatCSV:
		default:
			return ExportRecord{}, fmt.Errorf("unsupported export format %s", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:            id,
		Formats:       uniq,
		Status:        ExportStatusQueued,
		RequestedBy:   input.RequestedBy,
		Reason:        input.Reason,
		SinceSequence: input.SinceSequence,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	if w.audit != nil {
		w.audit.Record(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "decision_log_export",
			Actor:      input.RequestedBy,
			Status:     ExportStatusQueued,
			Reason:     input.Reason,
			OccurredAt: now,
		})
	}

	select {
	case w.queue <- exportTask{id: id, input: input}:
	default:
		return ExportRecord{}, fmt.Errorf("export queue full")
	}

	return queued, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	w.updateStatus(task.id, ExportStatusRunning, "")

	trail := w.decidedTrail(task.input.SinceSequence)
	formats := w.formatsFor(task.id)

	// Render formats concurrently; a failure in one aborts the whole export.
	rendered := make([]renderedArtifact, len(formats))
	g, _ := errgroup.WithContext(w.ctx)
	for i, format := range formats {
		g.Go(func() error {
			artifact, err := render(task.id, format, trail)
			if err != nil {
				return err
			}
			rendered[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.fail(task.id, err.Error())
		return
	}

	artifacts := make([]ExportArtifact, 0, len(rendered))
	for _, r := range rendered {
		artifact := r.artifact
		if w.store != nil {
			info, err := w.store.Put(w.ctx, artifact.Key, bytes.NewReader(r.payload), blobcore.PutOptions{
				ContentType: artifact.ContentType,
				Metadata:    map[string]string{"rows": strconv.Itoa(artifact.Rows)},
			})
			if err != nil {
				w.fail(task.id, fmt.Sprintf("store artifact failed: %v", err))
				return
			}
			artifact.URL = info.URL
			if info.Size > 0 {
				artifact.SizeBytes = info.Size
			}
		}
		artifacts = append(artifacts, artifact)
	}

	w.complete(task.id, artifacts)
}

// decidedTrail snapshots terminal requests ordered by sequence number.
func (w *Worker) decidedTrail(sinceSequence uint64) []domain.ReservationRequest {
	all := w.source.ListRequests()
	trail := make([]domain.ReservationRequest, 0, len(all))
	for _, request := range all {
		if !request.Status.Terminal() || request.SequenceNumber < sinceSequence {
			continue
		}
		trail = append(trail, request)
	}
	sort.Slice(trail, func(i, j int) bool { return trail[i].SequenceNumber < trail[j].SequenceNumber })
	return trail
}

func (w *Worker) formatsFor(id string) []Format {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if record, ok := w.jobs[id]; ok {
		return append([]Format(nil), record.Formats...)
	}
	return nil
}

func (w *Worker) updateStatus(id string, status ExportStatus, note string) {
	now := time.Now().UTC()
	var actor string
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = note
		record.UpdatedAt = now
		actor = record.RequestedBy
	}
	w.mu.Unlock()
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "decision_log_export",
			Actor:      actor,
			Status:     status,
			Note:       note,
			OccurredAt: now,
		})
	}
}

func (w *Worker) complete(id string, artifacts []ExportArtifact) {
	now := time.Now().UTC()
	var actor string
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor = record.RequestedBy
	}
	w.mu.Unlock()
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "decision_log_export",
			Actor:      actor,
			Status:     ExportStatusSucceeded,
			OccurredAt: now,
		})
	}
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	var actor string
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor = record.RequestedBy
	}
	w.mu.Unlock()
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "decision_log_export",
			Actor:      actor,
			Status:     ExportStatusFailed,
			Note:       reason,
			OccurredAt: now,
		})
	}
}

var csvColumns = []string{
	"sequence_number", "request_id", "requester_id", "unit_ids",
	"status", "rejection_reason", "submitted_at", "decided_at", "decided_by",
}

func render(exportID string, format Format, trail []domain.ReservationRequest) (renderedArtifact, error) {
	key := fmt.Sprintf("decision-log/%s/trail.%s", exportID, format)
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(trail)
		if err != nil {
			return renderedArtifact{}, fmt.Errorf("marshal json: %w", err)
		}
		return renderedArtifact{
			artifact: ExportArtifact{
				Key:         key,
				Format:      FormatJSON,
				ContentType: "application/json",
				SizeBytes:   int64(len(payload)),
				Rows:        len(trail),
				CreatedAt:   time.Now().UTC(),
			},
			payload: payload,
		}, nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(csvColumns); err != nil {
			return renderedArtifact{}, err
		}
		for _, request := range trail {
			decidedAt := ""
			if request.DecidedAt != nil {
				decidedAt = request.DecidedAt.Format(time.RFC3339Nano)
			}
			rejectionReason := ""
			if request.RejectionReason != nil {
				rejectionReason = *request.RejectionReason
			}
			decidedBy := ""
			if request.DecidedBy != nil {
				decidedBy = *request.DecidedBy
			}
			row := []string{
				strconv.FormatUint(request.SequenceNumber, 10),
				request.ID,
				request.RequesterID,
				strings.Join(request.UnitIDs, ";"),
				string(request.Status),
				rejectionReason,
				request.SubmittedAt.Format(time.RFC3339Nano),
				decidedAt,
				decidedBy,
			}
			if err := writer.Write(row); err != nil {
				return renderedArtifact{}, err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return renderedArtifact{}, err
		}
		payload := buf.Bytes()
		return renderedArtifact{
			artifact: ExportArtifact{
				Key:         key,
				Format:      FormatCSV,
				ContentType: "text/csv",
				SizeBytes:   int64(len(payload)),
				Rows:        len(trail),
				CreatedAt:   time.Now().UTC(),
			},
			payload: payload,
		}, nil
	default:
		return renderedArtifact{}, fmt.Errorf("unsupported export format %s", format)
	}
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	}
	return dup
}

// MemoryAuditLog captures audit entries in-memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
