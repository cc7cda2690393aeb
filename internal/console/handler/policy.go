package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/bookflow/internal/domain"
)

// PolicyService Описываем, что нам нужно от сервиса
type PolicyService interface {
	GetActive(ctx context.Context) (*domain.RiskPolicy, error)
	Update(ctx context.Context, p *domain.RiskPolicy) error
	NotifyReload(ctx context.Context) error
}

type PolicyHandler struct {
	service PolicyService
}

func NewPolicyHandler(s PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

// GetActive отдает активный документ политики риска.
func (h *PolicyHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetActive(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// Update публикует новую версию политики и рассылает сигнал перезагрузки.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p domain.RiskPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Update(r.Context(), &p); err != nil {
		// Битый документ отклоняется валидацией до записи
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reload принудительно рассылает сигнал перечитать политику из базы.
func (h *PolicyHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.NotifyReload(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
