package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	GetBudgetUtilization(ctx context.Context, orgID string) (*domain.BudgetUtilization, error)
	GetVolumeInfo(ctx context.Context, orgID string) (*domain.VolumeInfo, error)
	GetActivityStats(ctx context.Context, orgID string) (*domain.ActivityStats, error)
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

func (h *DashboardHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)

	budget, err := h.service.GetBudgetUtilization(r.Context(), orgID)
	if err != nil {
		http.Error(w, "Failed to fetch budget", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(budget)
}

func (h *DashboardHandler) GetVolume(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)

	volume, err := h.service.GetVolumeInfo(r.Context(), orgID)
	if err != nil {
		http.Error(w, "Failed to fetch volume", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(volume)
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)

	stats, err := h.service.GetActivityStats(r.Context(), orgID)
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
