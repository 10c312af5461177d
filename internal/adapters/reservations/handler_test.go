package reservations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reservecore/internal/adapters/decisionlog"
	"reservecore/internal/core"
	blobmemory "reservecore/internal/infra/blob/memory"
	"reservecore/pkg/domain"
)

type fixture struct {
	handler *Handler
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	service := core.NewInMemoryService(core.NewDefaultRulesEngine())
	metrics := core.NewPrometheusMetricsRecorder()
	exports := decisionlog.NewWorker(service, blobmemory.New(), &decisionlog.MemoryAuditLog{})
	exports.Start()
	t.Cleanup(func() { _ = exports.Stop(context.Background()) })

	handler := &Handler{Service: service, Exports: exports, Metrics: metrics}
	server := httptest.NewServer(handler.Mux())
	t.Cleanup(server.Close)
	return &fixture{handler: handler, server: server}
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if out != nil {
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func (f *fixture) seed(t *testing.T) (development, unit map[string]any) {
	t.Helper()
	var devResp struct {
		Development map[string]any `json:"development"`
	}
	resp := f.do(t, http.MethodPost, "/api/v1/developments", map[string]string{"code": "DV1", "name": "Riverside"}, &devResp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create development status %d", resp.StatusCode)
	}
	var unitResp struct {
		Unit map[string]any `json:"unit"`
	}
	resp = f.do(t, http.MethodPost, "/api/v1/units", map[string]string{
		"development_id": devResp.Development["id"].(string),
		"code":           "A-101",
	}, &unitResp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create unit status %d", resp.StatusCode)
	}
	return devResp.Development, unitResp.Unit
}

func (f *fixture) submit(t *testing.T, requester, unitID string) string {
	t.Helper()
	var resp struct {
		Reservation map[string]any `json:"reservation"`
	}
	httpResp := f.do(t, http.MethodPost, "/api/v1/reservations", map[string]any{
		"requester_id": requester,
		"unit_ids":     []string{unitID},
	}, &resp)
	if httpResp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d", httpResp.StatusCode)
	}
	return resp.Reservation["id"].(string)
}

func TestSubmitApproveAndCascadeOverHTTP(t *testing.T) {
	f := newFixture(t)
	_, unit := f.seed(t)
	unitID := unit["id"].(string)

	winner := f.submit(t, "agent-1", unitID)
	loser := f.submit(t, "agent-2", unitID)

	var approveResp struct {
		Result core.ApprovalResult `json:"result"`
	}
	resp := f.do(t, http.MethodPost, "/api/v1/reservations/"+winner+"/approve",
		map[string]string{"approver_id": "manager-1"}, &approveResp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d", resp.StatusCode)
	}
	if approveResp.Result.Status != domain.DecisionApproved {
		t.Fatalf("approve result %+v", approveResp.Result)
	}
	if len(approveResp.Result.AutoRejectedRequestIDs) != 1 || approveResp.Result.AutoRejectedRequestIDs[0] != loser {
		t.Fatalf("cascade %+v", approveResp.Result.AutoRejectedRequestIDs)
	}

	var getResp struct {
		Reservation domain.ReservationRequest `json:"reservation"`
	}
	resp = f.do(t, http.MethodGet, "/api/v1/reservations/"+loser, nil, &getResp)
	if resp.StatusCode != http.StatusOK || getResp.Reservation.Status != domain.DecisionRejected {
		t.Fatalf("loser state %d %+v", resp.StatusCode, getResp.Reservation)
	}
}

func TestQueuePositionAndConflictsEndpoints(t *testing.T) {
	f := newFixture(t)
	_, unit := f.seed(t)
	unitID := unit["id"].(string)

	first := f.submit(t, "agent-1", unitID)
	second := f.submit(t, "agent-2", unitID)

	var queueResp struct {
		Queued   bool `json:"queued"`
		Position int  `json:"position"`
	}
	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%s/queue-position?unit_id=%s", second, unitID), nil, &queueResp)
	if resp.StatusCode != http.StatusOK || !queueResp.Queued || queueResp.Position != 2 {
		t.Fatalf("queue response %d %+v", resp.StatusCode, queueResp)
	}

	var conflictsResp struct {
		Conflicts []domain.Conflict `json:"conflicts"`
	}
	resp = f.do(t, http.MethodGet, "/api/v1/reservations/"+first+"/conflicts", nil, &conflictsResp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conflicts status %d", resp.StatusCode)
	}
	if len(conflictsResp.Conflicts) != 1 || conflictsResp.Conflicts[0].CompetingRequestID != second {
		t.Fatalf("conflicts %+v", conflictsResp.Conflicts)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/reservations/"+first+"/queue-position", nil, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing unit_id status %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	_, unit := f.seed(t)
	unitID := unit["id"].(string)

	resp := f.do(t, http.MethodGet, "/api/v1/reservations/ghost", nil, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown reservation status %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/reservations/ghost/approve", map[string]string{"approver_id": "m"}, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("approve unknown status %d", resp.StatusCode)
	}

	// Submitting against a sold unit maps to 422.
	resp = f.do(t, http.MethodPut, "/api/v1/units/"+unitID+"/status", map[string]string{"status": "sold"}, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sell unit status %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/v1/reservations", map[string]any{
		"requester_id": "agent-1",
		"unit_ids":     []string{unitID},
	}, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("sold unit submission status %d", resp.StatusCode)
	}

	// Claim conflict maps to 409: approve winner, resubmit, approve again.
	resp = f.do(t, http.MethodPut, "/api/v1/units/"+unitID+"/status", map[string]string{"status": "available"}, nil)
	_ = resp.Body.Close()
	winner := f.submit(t, "agent-1", unitID)
	resp = f.do(t, http.MethodPost, "/api/v1/reservations/"+winner+"/approve", map[string]string{"approver_id": "m"}, nil)
	_ = resp.Body.Close()
	rival := f.submit(t, "agent-2", unitID)
	resp = f.do(t, http.MethodPost, "/api/v1/reservations/"+rival+"/approve", map[string]string{"approver_id": "m"}, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("claim conflict status %d", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t)
	_, unit := f.seed(t)
	requestID := f.submit(t, "agent-1", unit["id"].(string))

	var cancelResp struct {
		Result core.DecisionResult `json:"result"`
	}
	resp := f.do(t, http.MethodPost, "/api/v1/reservations/"+requestID+"/cancel",
		map[string]string{"requester_id": "agent-1"}, &cancelResp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}
	if cancelResp.Result.Status != domain.DecisionRejected || cancelResp.Result.Reason != domain.ReasonCancelledByRequester {
		t.Fatalf("cancel result %+v", cancelResp.Result)
	}
}

func TestExportEndpoints(t *testing.T) {
	f := newFixture(t)
	_, unit := f.seed(t)
	requestID := f.submit(t, "agent-1", unit["id"].(string))
	resp := f.do(t, http.MethodPost, "/api/v1/reservations/"+requestID+"/approve", map[string]string{"approver_id": "m"}, nil)
	_ = resp.Body.Close()

	var createResp struct {
		Export decisionlog.ExportRecord `json:"export"`
	}
	resp = f.do(t, http.MethodPost, "/api/v1/decision-log/exports", map[string]any{
		"formats":      []string{"json"},
		"requested_by": "ops-1",
	}, &createResp)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create export status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var getResp struct {
			Export decisionlog.ExportRecord `json:"export"`
		}
		resp = f.do(t, http.MethodGet, "/api/v1/decision-log/exports/"+createResp.Export.ID, nil, &getResp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get export status %d", resp.StatusCode)
		}
		if getResp.Export.Status == decisionlog.ExportStatusSucceeded {
			if len(getResp.Export.Artifacts) != 1 {
				t.Fatalf("artifacts %+v", getResp.Export.Artifacts)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("export did not finish: %+v", getResp.Export)
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/decision-log/exports/ghost", nil, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown export status %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
