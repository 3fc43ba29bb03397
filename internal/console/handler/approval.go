package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// ApprovalService Описываем, что нам нужно от сервиса
type ApprovalService interface {
	GetApproval(ctx context.Context, id string) (*domain.PendingApproval, error)
	GetApprovals(ctx context.Context, orgID string, status domain.ApprovalStatus) ([]*domain.PendingApproval, error)
	DecideApproval(ctx context.Context, id string, approved bool, reviewer, notes string) error
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	orgID, _ := r.Context().Value("org_id").(string)

	approval, err := h.service.GetApproval(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Несуществующая и чужая заявки неотличимы снаружи
	if approval == nil || approval.OrganizationID != orgID {
		http.Error(w, "approval not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(approval)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)

	status := r.URL.Query().Get("status") // Достаем из ?status=...
	if status == "" {
		status = string(domain.ApprovalPending) // Дефолт для удобства консоли
	}

	list, err := h.service.GetApprovals(r.Context(), orgID, domain.ApprovalStatus(status))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type DecideRequest struct {
	Action string `json:"action"` // "approve" | "reject"
	Notes  string `json:"notes"`
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		http.Error(w, "action must be approve or reject", http.StatusBadRequest)
		return
	}

	// Ревьюер — авторизованный оператор из токена
	reviewer, _ := r.Context().Value("username").(string)
	if reviewer == "" {
		http.Error(w, "reviewer is required", http.StatusBadRequest)
		return
	}

	// Периметр организации: решение по чужой заявке — 404, не 403
	orgID, _ := r.Context().Value("org_id").(string)
	approval, err := h.service.GetApproval(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if approval == nil || approval.OrganizationID != orgID {
		http.Error(w, "approval not found", http.StatusNotFound)
		return
	}

	err = h.service.DecideApproval(r.Context(), id, req.Action == "approve", reviewer, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessed):
			// Две вкладки, два оператора: второе решение не проходит
			http.Error(w, "approval already processed", http.StatusConflict)
		case errors.Is(err, domain.ErrIntentNotFound):
			http.Error(w, "approval not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
