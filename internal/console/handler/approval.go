package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/bookflow/internal/console/service"
	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/infra/auth"
)

// ApprovalService Описываем, что нам нужно от сервиса
type ApprovalService interface {
	Queue(ctx context.Context, limit int) (*service.DecisionQueue, error)
	DecideAction(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ActionRecord, error)
	DecideSaga(ctx context.Context, id string, approved bool, reviewerID string) (*domain.Saga, error)
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

// List отдает очередь решений: действия и саги, ждущие оператора.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit")) // 0 = дефолт хранилища

	queue, err := h.service.Queue(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(queue)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

// DecideAction — решение оператора по одиночному действию.
func (h *ApprovalHandler) DecideAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Авторизованный оператор из контекста (RS256 middleware)
	reviewerID := auth.UserIDFrom(r.Context())
	if reviewerID == "" {
		http.Error(w, "reviewer identity is required", http.StatusUnauthorized)
		return
	}

	record, err := h.service.DecideAction(r.Context(), id, req.Approved, reviewerID, req.Comment)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// DecideSaga — решение оператора по саге на approval-гейте.
func (h *ApprovalHandler) DecideSaga(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reviewerID := auth.UserIDFrom(r.Context())
	if reviewerID == "" {
		http.Error(w, "reviewer identity is required", http.StatusUnauthorized)
		return
	}

	saga, err := h.service.DecideSaga(r.Context(), id, req.Approved, reviewerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(saga)
}
