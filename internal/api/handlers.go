// Package api exposes HTTP handlers for the casework service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/casework/internal/auth"
	"example.com/casework/internal/casefile"
	"example.com/casework/internal/engine"
	"example.com/casework/internal/ontology"
)

// Handler coordinates HTTP requests with the case service.
type Handler struct {
	service *Service
	repo    ontology.Repository
}

// NewHandler builds a Handler.
func NewHandler(service *Service, repo ontology.Repository) *Handler {
	return &Handler{service: service, repo: repo}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/cases", h.cases)
	mux.HandleFunc("/v1/cases/", h.caseSubtree)
	mux.HandleFunc("/v1/activities/open", h.openActivities)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) cases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	h.createCase(w, r)
}

// caseSubtree routes everything under /v1/cases/{caseID}/... by hand.
func (h *Handler) caseSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/cases/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing case id")
		return
	}
	caseID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getCase(w, r, caseID)
	case len(parts) == 2 && parts[1] == "activities" && r.Method == http.MethodPost:
		h.createActivity(w, r, caseID)
	case len(parts) == 2 && parts[1] == "activities" && r.Method == http.MethodGet:
		h.listActivities(w, r, caseID)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPut:
		h.changeStatus(w, r, caseID)
	case len(parts) == 3 && parts[1] == "activities" && r.Method == http.MethodPut:
		h.updateActivity(w, r, caseID, parts[2])
	case len(parts) == 3 && parts[1] == "activities" && r.Method == http.MethodDelete:
		h.deleteActivity(w, r, caseID, parts[2])
	case len(parts) == 4 && parts[1] == "activities" && parts[2] == "create" && r.Method == http.MethodPost:
		h.deferredCreate(w, r, caseID, parts[3])
	case len(parts) == 5 && parts[1] == "activities" && parts[2] == "overdue" && parts[3] == "create" && r.Method == http.MethodPost:
		h.overdueCreate(w, r, caseID, parts[4])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

// CreateCaseRequest is the payload for POST /v1/cases.
type CreateCaseRequest struct {
	CaseType     string            `json:"case_type"`
	Status       string            `json:"status"`
	IntakeMethod string            `json:"intake_method"`
	Priority     string            `json:"priority"`
	Address      string            `json:"address"`
	XCoordinate  string            `json:"x_coordinate"`
	YCoordinate  string            `json:"y_coordinate"`
	Answers      []casefile.Answer `json:"answers"`
}

// Validate ensures request correctness.
func (r CreateCaseRequest) Validate() error {
	if strings.TrimSpace(r.CaseType) == "" {
		return errors.New("case_type is required")
	}
	return nil
}

func (h *Handler) createCase(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeCasesWrite)
	if !ok {
		return
	}

	var req CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rec, err := h.service.CreateCase(r.Context(), CreateCaseInput{
		CaseType:     req.CaseType,
		Status:       req.Status,
		IntakeMethod: req.IntakeMethod,
		Priority:     req.Priority,
		Address:      req.Address,
		XCoordinate:  req.XCoordinate,
		YCoordinate:  req.YCoordinate,
		CreatedBy:    claims.Subject,
		Answers:      req.Answers,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h.toCaseView(rec))
}

func (h *Handler) getCase(w http.ResponseWriter, r *http.Request, caseID string) {
	if _, ok := requireScope(w, r, auth.ScopeCasesRead, auth.ScopeCasesWrite); !ok {
		return
	}
	rec, err := h.service.GetCase(r.Context(), caseID)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCaseView(rec))
}

// CreateActivityRequest is the payload for POST /v1/cases/{id}/activities.
type CreateActivityRequest struct {
	ActivityType  string     `json:"activity_type"`
	Outcome       string     `json:"outcome"`
	Details       string     `json:"details"`
	AssignedTo    string     `json:"assigned_to"`
	CompletedDate *time.Time `json:"completed_date"`
}

// Validate ensures request correctness.
func (r CreateActivityRequest) Validate() error {
	if strings.TrimSpace(r.ActivityType) == "" {
		return errors.New("activity_type is required")
	}
	return nil
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request, caseID string) {
	claims, ok := requireScope(w, r, auth.ScopeCasesWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rec, err := h.service.CreateActivity(r.Context(), caseID, req.ActivityType, engine.CreateInput{
		Outcome:       req.Outcome,
		Details:       req.Details,
		AssignedTo:    req.AssignedTo,
		CreatedBy:     claims.Subject,
		CompletedDate: req.CompletedDate,
	})
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toCaseView(rec))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request, caseID string) {
	if _, ok := requireScope(w, r, auth.ScopeCasesRead, auth.ScopeCasesWrite); !ok {
		return
	}
	rec, err := h.service.GetCase(r.Context(), caseID)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engine.CaseActivities(h.repo, rec))
}

// UpdateActivityRequest is the payload for PUT on an activity.
type UpdateActivityRequest struct {
	Outcome    string `json:"outcome"`
	Details    string `json:"details"`
	AssignedTo string `json:"assigned_to"`
	Accepted   bool   `json:"accepted"`
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, caseID, actID string) {
	claims, ok := requireScope(w, r, auth.ScopeCasesWrite)
	if !ok {
		return
	}

	var req UpdateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	rec, err := h.service.UpdateActivity(r.Context(), caseID, actID, engine.UpdateInput{
		Outcome:    req.Outcome,
		Details:    req.Details,
		AssignedTo: req.AssignedTo,
		ModifiedBy: claims.Subject,
		Accepted:   req.Accepted,
	})
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCaseView(rec))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, caseID, actID string) {
	if _, ok := requireScope(w, r, auth.ScopeCasesWrite); !ok {
		return
	}
	if _, err := h.service.DeleteActivity(r.Context(), caseID, actID); err != nil {
		writeLoadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deferredCreate is the scheduler's callback for occur-day activities.
func (h *Handler) deferredCreate(w http.ResponseWriter, r *http.Request, caseID, typeID string) {
	if _, ok := requireScope(w, r, auth.ScopeSchedulerCallback); !ok {
		return
	}
	rec, err := h.service.CreateActivityNow(r.Context(), caseID, typeID)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCaseView(rec))
}

// overdueCreate is the scheduler's callback at an unmet due date.
func (h *Handler) overdueCreate(w http.ResponseWriter, r *http.Request, caseID, overdueType string) {
	if _, ok := requireScope(w, r, auth.ScopeSchedulerCallback); !ok {
		return
	}
	rec, err := h.service.CreateOverdueActivity(r.Context(), caseID, overdueType)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCaseView(rec))
}

// ChangeStatusRequest is the payload for PUT /v1/cases/{id}/status.
type ChangeStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, caseID string) {
	claims, ok := requireScope(w, r, auth.ScopeCasesWrite)
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "status is required")
		return
	}

	rec, err := h.service.ChangeStatus(r.Context(), caseID, req.Status, claims.Subject)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCaseView(rec))
}

func (h *Handler) openActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeCasesRead, auth.ScopeCasesWrite); !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 500 {
				parsed = 500
			}
			limit = parsed
		}
	}

	items, err := h.service.ListOpenActivities(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CaseView exposes a case's state plus its activity read models.
type CaseView struct {
	CaseID     string            `json:"case_id"`
	CaseType   string            `json:"case_type"`
	Status     string            `json:"status,omitempty"`
	Version    int64             `json:"version"`
	Activities []engine.Activity `json:"activities"`
	Answers    []casefile.Answer `json:"answers,omitempty"`
}

func (h *Handler) toCaseView(rec *casefile.CaseRecord) CaseView {
	view := CaseView{
		CaseID:     rec.CaseID(),
		CaseType:   rec.CaseType(),
		Version:    rec.Version(),
		Activities: engine.CaseActivities(h.repo, rec),
		Answers:    rec.Answers(),
	}
	if statuses := rec.Related(rec.CaseID(), ontology.RelStatus); len(statuses) > 0 {
		view.Status = statuses[0]
	}
	return view
}

func writeLoadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCaseNotFound):
		writeError(w, http.StatusNotFound, "not_found", "case not found")
	case errors.Is(err, ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case engine.IsFatal(err):
		writeError(w, http.StatusUnprocessableEntity, "invariant_violation", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
