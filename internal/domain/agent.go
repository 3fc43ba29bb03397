package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AgentStatus string

const (
	AgentActive    AgentStatus = "active"    // Может создавать purchase intents
	AgentPaused    AgentStatus = "paused"    // Временно остановлен владельцем
	AgentSuspended AgentStatus = "suspended" // Заблокирован (kill-switch)
)

// SpendControls — персональные лимиты агента. Nil-поле означает "лимит не задан".
// Меняются только администратором; авторизация их лишь читает.
type SpendControls struct {
	MonthlyLimit        *decimal.Decimal `json:"monthly_limit,omitempty"`
	DailyLimit          *decimal.Decimal `json:"daily_limit,omitempty"`
	PerTransactionLimit *decimal.Decimal `json:"per_transaction_limit,omitempty"`
	ApprovalThreshold   *decimal.Decimal `json:"approval_threshold,omitempty"`
	FlagNewVendors      bool             `json:"flag_new_vendors"`
	BlockedMerchants    []string         `json:"blocked_merchants,omitempty"`
	// Если список непуст — работаем в режиме allow-list: всё прочее запрещено
	AllowedMerchants []string `json:"allowed_merchants,omitempty"`
}

// Agent — автоматический покупатель, действующий от имени организации.
type Agent struct {
	ID             string      `json:"id"` // UUID
	OrganizationID string      `json:"organization_id"`
	Name           string      `json:"name"`
	Status         AgentStatus `json:"status"`

	Controls SpendControls `json:"controls"`

	// SHA-256 хэш API-ключа. Сам ключ нигде не храним.
	APIKeyHash string `json:"-"`

	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
