package jobs

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/middleware"
	"github.com/honeyhive/backend/internal/services"
)

// Request/response bodies use snake_case JSON.

type CreateJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type JobResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// BodyValidator checks a request body against a named JSON schema.
type BodyValidator interface {
	Validate(name string, body []byte) error
}

type Handler struct {
	svc       Service
	validator BodyValidator
	log       *slog.Logger
}

func NewHandler(svc Service, validator BodyValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(services.SchemaCreateJob, body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req CreateJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	job, err := h.svc.CreateJob(r.Context(), caller.ID, req.Title, req.Description)
	if err != nil {
		h.log.Error("create job failed", "error", err)
		http.Error(w, "create job failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(jobToResponse(job))
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByOwner(r.Context(), caller.ID)
	if err != nil {
		h.log.Error("list jobs failed", "error", err)
		http.Error(w, "list jobs failed", http.StatusInternalServerError)
		return
	}
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToResponse(j))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetJob returns any job by ID; job listings are public to signed-in users.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get job failed", "job_id", id, "error", err)
		http.Error(w, "get job failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jobToResponse(job))
}

func jobToResponse(j *Job) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		OwnerID:     j.OwnerID.String(),
		Title:       j.Title,
		Description: j.Description,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
	}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}
