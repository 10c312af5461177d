// Package reservations exposes the reservation arbitration service over HTTP.
package reservations

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reservecore/internal/adapters/decisionlog"
	"reservecore/internal/core"
	"reservecore/pkg/domain"
)

// Handler provides HTTP access to developments, units and reservation requests.
type Handler struct {
	Service *core.Service
	Exports *decisionlog.Worker
	Metrics *core.PrometheusMetricsRecorder
}

// NewHandler constructs a reservation HTTP handler.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service}
}

// Mux returns a mux with the API mounted at /api/v1/ and, when a prometheus
// recorder is configured, its registry scrapeable at /metrics.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", h)
	if h.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "reservation service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/developments":
		h.handleDevelopments(w, r)
	case path == "/api/v1/units":
		h.handleUnits(w, r)
	case strings.HasPrefix(path, "/api/v1/units/"):
		h.handleUnit(w, r, strings.TrimPrefix(path, "/api/v1/units/"))
	case path == "/api/v1/reservations":
		h.handleReservations(w, r)
	case strings.HasPrefix(path, "/api/v1/reservations/"):
		h.handleReservation(w, r, strings.TrimPrefix(path, "/api/v1/reservations/"))
	case strings.HasPrefix(path, "/api/v1/decision-log/exports"):
		if h.Exports == nil {
			http.NotFound(w, r)
			return
		}
		h.handleExports(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

type developmentRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (h *Handler) handleDevelopments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"developments": h.Service.ListDevelopments()})
	case http.MethodPost:
		var req developmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid development payload")
			return
		}
		created, _, err := h.Service.CreateDevelopment(r.Context(), domain.Development{Code: req.Code, Name: req.Name})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"development": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type unitRequest struct {
	DevelopmentID string `json:"development_id"`
	Code          string `json:"code"`
	Status        string `json:"status"`
}

func (h *Handler) handleUnits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"units": h.Service.ListUnits()})
	case http.MethodPost:
		var req unitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid unit payload")
			return
		}
		unit := domain.Unit{DevelopmentID: req.DevelopmentID, Code: req.Code}
		if req.Status != "" {
			unit.Status = domain.UnitStatus(req.Status)
		}
		created, _, err := h.Service.CreateUnit(r.Context(), unit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"unit": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type unitStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUnit(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		unit, ok := h.Service.GetUnit(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unit not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unit": unit})
		return
	}

	if len(segments) == 2 && segments[1] == "status" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req unitStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid status payload")
			return
		}
		updated, _, err := h.Service.UpdateUnitStatus(r.Context(), id, domain.UnitStatus(req.Status))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unit": updated})
		return
	}

	http.NotFound(w, r)
}

type submitRequest struct {
	RequesterID string            `json:"requester_id"`
	UnitIDs     []string          `json:"unit_ids"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"reservations": h.Service.ListRequests()})
	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid reservation payload")
			return
		}
		created, _, err := h.Service.SubmitRequest(r.Context(), core.SubmitInput{
			RequesterID: req.RequesterID,
			UnitIDs:     req.UnitIDs,
			Metadata:    req.Metadata,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"reservation": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type decisionRequest struct {
	ApproverID  string `json:"approver_id"`
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason"`
}

func (h *Handler) handleReservation(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		request, ok := h.Service.GetRequest(id)
		if !ok {
			writeError(w, http.StatusNotFound, "reservation not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reservation": request})
		return
	}

	if len(segments) != 2 {
		http.NotFound(w, r)
		return
	}

	action := segments[1]
	switch action {
	case "conflicts":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		conflicts, err := h.Service.FindConflicts(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
	case "queue-position":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		unitID := r.URL.Query().Get("unit_id")
		if unitID == "" {
			writeError(w, http.StatusBadRequest, "unit_id query parameter required")
			return
		}
		position, queued, err := h.Service.QueuePosition(r.Context(), id, unitID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"queued": queued, "position": position})
	case "approve":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid decision payload")
			return
		}
		outcome, _, err := h.Service.ApproveRequest(r.Context(), id, req.ApproverID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": outcome})
	case "reject":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid decision payload")
			return
		}
		outcome, _, err := h.Service.RejectRequest(r.Context(), id, req.ApproverID, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": outcome})
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid decision payload")
			return
		}
		outcome, _, err := h.Service.CancelRequest(r.Context(), id, req.RequesterID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": outcome})
	default:
		http.NotFound(w, r)
	}
}

type exportRequest struct {
	Formats       []string `json:"formats"`
	RequestedBy   string   `json:"requested_by"`
	Reason        string   `json:"reason"`
	SinceSequence uint64   `json:"since_sequence"`
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, path string) {
	if path == "/api/v1/decision-log/exports" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req exportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "invalid export payload")
			return
		}
		formats := make([]decisionlog.Format, 0, len(req.Formats))
		for _, f := range req.Formats {
			formats = append(formats, decisionlog.Format(strings.ToLower(strings.TrimSpace(f))))
		}
		record, err := h.Exports.EnqueueExport(r.Context(), decisionlog.ExportInput{
			Formats:       formats,
			RequestedBy:   req.RequestedBy,
			Reason:        req.Reason,
			SinceSequence: req.SinceSequence,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, "/api/v1/decision-log/exports/")
	if id == "" || id == path {
		http.NotFound(w, r)
		return
	}
	record, ok := h.Exports.GetExport(id)
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound domain.ErrNotFound
	var conflict domain.ErrUnitConflict
	var invalidState domain.ErrInvalidUnitState
	var decided domain.ErrAlreadyDecided
	var violation domain.RuleViolationError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidState):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &decided):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &violation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
