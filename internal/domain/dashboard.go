package domain

import "github.com/shopspring/decimal"

// BudgetUtilization — сводка расхода бюджета организации для дашборда.
type BudgetUtilization struct {
	MonthlyBudget   *decimal.Decimal `json:"monthly_budget,omitempty"`
	Spent           decimal.Decimal  `json:"spent"`
	Remaining       *decimal.Decimal `json:"remaining,omitempty"`
	PercentUsed     *decimal.Decimal `json:"percent_used,omitempty"`
	AlertThreshold  decimal.Decimal  `json:"alert_threshold_percent"`
	IsOverThreshold bool             `json:"is_over_threshold"`
}

// ActivityStats — операционная сводка для главной страницы консоли.
type ActivityStats struct {
	ActiveAgents    int64 `json:"active_agents"`
	PausedAgents    int64 `json:"paused_agents"`
	SuspendedAgents int64 `json:"suspended_agents"`

	// За последние 24 часа
	TotalIntents     int64   `json:"total_intents"`
	ApprovedIntents  int64   `json:"approved_intents"`
	RejectedIntents  int64   `json:"rejected_intents"`
	EscalatedIntents int64   `json:"escalated_intents"`
	PendingApprovals int64   `json:"pending_approvals"`
	P95AmountUSD     float64 `json:"p95_amount_usd"`
}

// VolumeInfo — объем и тир текущего месяца + превью следующего тира.
type VolumeInfo struct {
	Month            string                   `json:"month"`
	TotalVolume      decimal.Decimal          `json:"total_volume"`
	TransactionCount int64                    `json:"transaction_count"`
	FeeRevenue       decimal.Decimal          `json:"fee_revenue"`
	Tier             VolumeTier               `json:"tier"`
	ByRail           map[Rail]decimal.Decimal `json:"by_rail"`

	CurrentRate      string           `json:"current_rate"` // "3.0%"
	NextTier         *VolumeTier      `json:"next_tier,omitempty"`
	VolumeToNextTier *decimal.Decimal `json:"volume_to_next_tier,omitempty"`
	NextTierRate     *string          `json:"next_tier_rate,omitempty"`
}
