package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/agentpay-gateway/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает трейл решений с поддержкой фильтрации
// GET /v1/audit?agent_id=...&event_type=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("org_id").(string)

	// Извлекаем фильтры из Query-параметров
	agentID := r.URL.Query().Get("agent_id")
	eventType := r.URL.Query().Get("event_type")

	logs, err := h.service.FetchLogs(r.Context(), orgID, agentID, eventType)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
