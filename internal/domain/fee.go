package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rail — платежный рельс. Определяет множитель к базовой ставке комиссии.
type Rail string

const (
	RailCard          Rail = "network_card" // Стандартная карта, 1.0x
	RailACP           Rail = "acp"          // 1.0x
	RailAP2           Rail = "ap2"          // 0.8x
	RailX402          Rail = "x402"         // 0.6x (стейблкоины)
	RailL402          Rail = "l402"         // 0.5x (Lightning)
)

// VolumeTier — ценовой тир по месячному объему организации.
type VolumeTier struct {
	Name      string          `json:"name"`
	MinVolume decimal.Decimal `json:"min_volume"`
	// MaxVolume == nil означает "без верхней границы" (enterprise)
	MaxVolume *decimal.Decimal `json:"max_volume,omitempty"`
	BaseRate  decimal.Decimal  `json:"base_rate"`
}

// FeeQuote — результат чистого расчета комиссии. Побочных эффектов нет:
// запись комиссии и обновление объема происходят только после сеттлмента.
type FeeQuote struct {
	Tier           VolumeTier      `json:"tier"`
	BaseRate       decimal.Decimal `json:"base_rate"`
	RailMultiplier decimal.Decimal `json:"rail_multiplier"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	TotalToCharge  decimal.Decimal `json:"total_to_charge"`
}

type FeeStatus string

const (
	FeePending  FeeStatus = "pending"
	FeeCharged  FeeStatus = "charged"
	FeeFailed   FeeStatus = "failed" // Capture не прошел — ручной follow-up
	FeeRefunded FeeStatus = "refunded"
)

// TransactionFee — комиссия платформы по одной покупке. Не более одной на интент.
type TransactionFee struct {
	ID               string          `json:"id"`
	PurchaseIntentID string          `json:"purchase_intent_id"`
	Rail             Rail            `json:"rail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	VolumeTier       string          `json:"volume_tier"` // Тир на момент расчета
	BaseRate         decimal.Decimal `json:"base_rate"`
	RailMultiplier   decimal.Decimal `json:"rail_multiplier"`
	EffectiveRate    decimal.Decimal `json:"effective_rate"`
	FeeAmount        decimal.Decimal `json:"fee_amount"`
	TotalCharged     decimal.Decimal `json:"total_charged"`
	Status           FeeStatus       `json:"status"`
	CaptureRef       *string         `json:"capture_ref,omitempty"`
	ChargedAt        *time.Time      `json:"charged_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MonthlyVolume — накопительный объем организации за месяц (YYYY-MM).
// TotalVolume строго монотонно растет: пополняется только сеттлментами.
// Это база тира для БУДУЩИХ транзакций, текущая считается по объему до нее.
type MonthlyVolume struct {
	OrganizationID   string                     `json:"organization_id"`
	Month            string                     `json:"month"` // "2026-08"
	TotalVolume      decimal.Decimal            `json:"total_volume"`
	TransactionCount int64                      `json:"transaction_count"`
	FeeRevenue       decimal.Decimal            `json:"fee_revenue"`
	Tier             string                     `json:"tier"`
	ByRail           map[Rail]decimal.Decimal   `json:"by_rail"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}
