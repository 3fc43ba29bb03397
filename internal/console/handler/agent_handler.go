package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// AgentService Описываем, что нам нужно от сервиса
type AgentService interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgents(ctx context.Context, orgID string) ([]*domain.Agent, error)
	PauseAgent(ctx context.Context, id string) error
	ResumeAgent(ctx context.Context, id string) error
	SuspendAgent(ctx context.Context, id string) error
}

type AgentHandler struct {
	service AgentService
}

func NewAgentHandler(s AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)

	agents, err := h.service.ListAgents(r.Context(), orgID)
	if err != nil {
		http.Error(w, "failed to list agents", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "failed to fetch agent", http.StatusInternalServerError)
		return
	}
	if agent == nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	// Периметр организации: чужих агентов не отдаем
	if orgID, _ := r.Context().Value("org_id").(string); orgID != "" && agent.OrganizationID != orgID {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}

// setState — общий каркас для pause/resume/suspend.
// Ждем завершения и БД, и Redis-сигнала, чтобы гарантировать консистентность.
func (h *AgentHandler) setState(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	agentID := chi.URLParam(r, "id")
	if agentID == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}

	if err := action(r.Context(), agentID); err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, h.service.PauseAgent)
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, h.service.ResumeAgent)
}

func (h *AgentHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, h.service.SuspendAgent)
}
