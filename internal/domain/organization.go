package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Guardrails — правила уровня организации. Применяются поверх лимитов агента
// и всегда проверяются после них (агент ужесточает, организация — нижняя граница).
type Guardrails struct {
	MaxTransactionAmount *decimal.Decimal `json:"max_transaction_amount,omitempty"`
	RequireApprovalAbove *decimal.Decimal `json:"require_approval_above,omitempty"`
	FlagAllNewVendors    bool             `json:"flag_all_new_vendors"`
	BlockCategories      []string         `json:"block_categories,omitempty"`
}

type Organization struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	MonthlyBudget *decimal.Decimal `json:"monthly_budget,omitempty"`
	// Доля бюджета (0..1), после которой дашборд сигналит о перерасходе
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	Guardrails     Guardrails      `json:"guardrails"`

	// Фандинг-инструмент для pre-authorization. Пустая строка = не подключен.
	FundingInstrumentRef string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
