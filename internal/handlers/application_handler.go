package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/metrics"
	"github.com/honeyhive/backend/internal/middleware"
	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

const maxBodyBytes = 1 << 20

// Lifecycle is the subset of the coordinator the handler drives.
type Lifecycle interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*models.Application, error)
	Accept(ctx context.Context, applicationID uuid.UUID, caller services.Caller) error
	Reject(ctx context.Context, applicationID uuid.UUID, caller services.Caller) error
	Withdraw(ctx context.Context, applicationID uuid.UUID, caller services.Caller) error
	Get(ctx context.Context, applicationID uuid.UUID, caller services.Caller) (*models.Application, error)
	ListMine(ctx context.Context, caller services.Caller) ([]*models.Application, error)
}

// ApplicationHandler serves /api/v1/applications endpoints.
type ApplicationHandler struct {
	Lifecycle Lifecycle
	Guard     *services.ContentGuard
	Validator *services.Validator
	Logger    *slog.Logger
}

// --- POST /api/v1/applications/preview ---

type previewRequest struct {
	CoverLetterText string `json:"cover_letter_text"`
}

type previewResponse struct {
	Allowed  bool               `json:"allowed"`
	Reason   string             `json:"reason,omitempty"`
	Findings []services.Finding `json:"findings"`
}

// Preview runs the content guard on a draft without reserving anything. The
// verdict is advisory; Submit scans again.
func (h *ApplicationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, services.SchemaPreviewApplication)
	if !ok {
		return
	}
	var req previewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	v := h.Guard.Scan(req.CoverLetterText)
	for _, f := range v.Findings {
		metrics.ContentBlocked.WithLabelValues(f.Kind, "preview").Inc()
	}
	findings := v.Findings
	if findings == nil {
		findings = []services.Finding{}
	}
	writeJSON(w, http.StatusOK, previewResponse{Allowed: v.Allowed(), Reason: v.Reason(), Findings: findings})
}

// --- POST /api/v1/applications ---

type submitRequest struct {
	JobID           string `json:"job_id"`
	CoverLetterText string `json:"cover_letter_text"`
	ProposedRate    int64  `json:"proposed_rate"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// Submit handles POST /api/v1/applications. The Idempotency-Key header takes
// precedence over the body field.
func (h *ApplicationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	body, ok := h.readBody(w, r, services.SchemaSubmitApplication)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job_id"})
		return
	}
	key := req.IdempotencyKey
	if hk := r.Header.Get("Idempotency-Key"); hk != "" {
		key = hk
	}

	app, err := h.Lifecycle.Submit(r.Context(), services.SubmitRequest{
		JobID:           jobID,
		ApplicantID:     caller.ID,
		CoverLetterText: req.CoverLetterText,
		ProposedRate:    req.ProposedRate,
		IdempotencyKey:  key,
	})
	if err != nil {
		h.writeError(w, "submit application", err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// --- POST /api/v1/applications/{id}/{accept,reject,withdraw} ---

func (h *ApplicationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept application", models.ApplicationStatusAccepted, h.Lifecycle.Accept)
}

func (h *ApplicationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject application", models.ApplicationStatusRejected, h.Lifecycle.Reject)
}

func (h *ApplicationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "withdraw application", models.ApplicationStatusWithdrawn, h.Lifecycle.Withdraw)
}

type transitionResponse struct {
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
}

func (h *ApplicationHandler) transition(w http.ResponseWriter, r *http.Request, op, status string,
	fn func(context.Context, uuid.UUID, services.Caller) error) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid application id"})
		return
	}
	if err := fn(r.Context(), id, caller); err != nil {
		h.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{ApplicationID: id.String(), Status: status})
}

// --- GET /api/v1/applications/{id} ---

func (h *ApplicationHandler) GetApplication(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid application id"})
		return
	}
	app, err := h.Lifecycle.Get(r.Context(), id, caller)
	if err != nil {
		h.writeError(w, "get application", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// --- GET /api/v1/applications ---

func (h *ApplicationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	apps, err := h.Lifecycle.ListMine(r.Context(), caller)
	if err != nil {
		h.writeError(w, "list applications", err)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// --- helpers ---

// readBody reads the request body and validates it against schema. It writes
// the error response itself and reports false on failure.
func (h *ApplicationHandler) readBody(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body failed"})
		return nil, false
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	return body, true
}

// writeError maps service errors to HTTP statuses. Anything unrecognised is
// logged and reported as 500.
func (h *ApplicationHandler) writeError(w http.ResponseWriter, op string, err error) {
	var blocked *services.BlockedError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "contact info detected", "reason": blocked.Reason})
	case errors.Is(err, services.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": err.Error(), "required": models.BiddingFee})
	case errors.Is(err, services.ErrJobNotOpen),
		errors.Is(err, services.ErrApplicationNotPending),
		errors.Is(err, services.ErrIdempotencyConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "application not found"})
	case errors.Is(err, services.ErrInvalidRate):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrBusy), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy, try again"})
	default:
		h.Logger.Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
