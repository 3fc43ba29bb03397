package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

type IntentService interface {
	ListIntents(ctx context.Context, orgID, status string) ([]*domain.PurchaseIntent, error)
	GetIntent(ctx context.Context, orgID, id string) (*domain.PurchaseIntent, error)
}

type IntentHandler struct {
	service IntentService
}

func NewIntentHandler(s IntentService) *IntentHandler {
	return &IntentHandler{service: s}
}

// List — история покупок организации.
// GET /v1/intents?status=...
func (h *IntentHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)
	status := r.URL.Query().Get("status")

	list, err := h.service.ListIntents(r.Context(), orgID, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)
	id := chi.URLParam(r, "id")

	intent, err := h.service.GetIntent(r.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, domain.ErrIntentNotFound) {
			http.Error(w, "purchase intent not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intent)
}
