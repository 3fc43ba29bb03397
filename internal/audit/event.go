package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий аудит-трейла
const (
	EventDecision      = "decision"       // Исход авторизации purchase intent
	EventApproval      = "approval"       // Решение оператора по HITL-заявке
	EventSettlement    = "settlement"     // Capture / refund / expiry
	EventAgentLifecycle = "agent_lifecycle" // pause / resume / suspend
)

// Event — одна строка аудит-трейла. Пишется асинхронно, hot path не ждет БД.
type Event struct {
	ID             string `json:"id"`       // UUID события
	TraceID        string `json:"trace_id"` // Сквозной ID запроса
	OrganizationID string `json:"organization_id"`
	AgentID        string `json:"agent_id,omitempty"`
	IntentID       string `json:"intent_id,omitempty"`

	EventType string `json:"event_type"`
	// Исход: approved / rejected / escalated / captured / refunded / expired...
	Outcome    string `json:"outcome"`
	ReasonCode string `json:"reason_code,omitempty"`

	Amount decimal.Decimal `json:"amount"`
	// Кто инициировал: "gateway", либо username оператора консоли
	Actor string `json:"actor"`

	Details map[string]interface{} `json:"details,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
