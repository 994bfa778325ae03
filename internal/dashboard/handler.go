// Package dashboard serves the caller's honey-drop balance and fee history,
// plus the admin endpoint that pre-funds balances.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/honeyhive/backend/internal/middleware"
	"github.com/honeyhive/backend/internal/models"
	"github.com/honeyhive/backend/internal/services"
)

// Balances is what the dashboard needs from the balance store.
type Balances interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Balance, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int) error
}

type LedgerReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error)
}

type Handler struct {
	balances  Balances
	ledger    LedgerReader
	validator *services.Validator
	log       *slog.Logger
}

func NewHandler(balances Balances, ledger LedgerReader, validator *services.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{balances: balances, ledger: ledger, validator: validator, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	b, err := h.balances.Get(r.Context(), caller.ID)
	if err != nil {
		h.log.Error("get balance failed", "user_id", caller.ID, "error", err)
		http.Error(w, "get balance failed", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"user_id":     caller.ID,
		"balance":     b.Amount,
		"version":     b.Version,
		"bidding_fee": models.BiddingFee,
		"can_apply":   b.Amount >= models.BiddingFee,
	}
	if !b.UpdatedAt.IsZero() {
		resp["updated_at"] = b.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/ledger
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := h.ledger.ListByUser(r.Context(), caller.ID)
	if err != nil {
		h.log.Error("list ledger failed", "user_id", caller.ID, "error", err)
		http.Error(w, "list ledger failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// POST /api/v1/admin/balances/{user_id}/credit
func (h *Handler) CreditBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok || caller.Role != models.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if err := h.validator.Validate(services.SchemaCreditBalance, body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Amount int `json:"amount"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.balances.Credit(r.Context(), userID, req.Amount); err != nil {
		if errors.Is(err, services.ErrInvalidAmount) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("credit balance failed", "user_id", userID, "error", err)
		http.Error(w, "credit failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("balance credited", "user_id", userID, "amount", req.Amount, "admin_id", caller.ID)
	b, err := h.balances.Get(r.Context(), userID)
	if err != nil {
		h.log.Error("get balance failed", "user_id", userID, "error", err)
		http.Error(w, "get balance failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": b.Amount, "version": b.Version})
}
