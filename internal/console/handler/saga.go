package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/bookflow/internal/console/service"
)

// SagaService Описываем, что нам нужно от сервиса
type SagaService interface {
	Inspect(ctx context.Context, id string) (*service.SagaView, error)
	SubmitPlan(ctx context.Context, req service.PlanRequest) (*service.PlanResponse, error)
}

type SagaHandler struct {
	service SagaService
}

func NewSagaHandler(s SagaService) *SagaHandler {
	return &SagaHandler{service: s}
}

// Get — сага со следом аудита (статусы шагов, пропуски компенсаций).
func (h *SagaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.service.Inspect(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// Submit принимает план действий: валидация против политики риска,
// создание саги и постановка прогона в очередь.
func (h *SagaHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req service.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.SubmitPlan(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.SagaID == "" {
		// План отклонен валидацией — саги нет, отдаем нарушения
		w.WriteHeader(http.StatusUnprocessableEntity)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(resp)
}
