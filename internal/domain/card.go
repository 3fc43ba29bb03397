package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CardStatus string

const (
	CardActive   CardStatus = "active"
	CardUsed     CardStatus = "used"
	CardExpired  CardStatus = "expired"
	CardCanceled CardStatus = "canceled"
)

// VirtualCard — эфемерная карта, выпущенная под один PurchaseIntent.
// HardLimit равен одобренной сумме и никогда ее не превышает.
type VirtualCard struct {
	ID               string          `json:"id"`
	PurchaseIntentID string          `json:"purchase_intent_id"`
	ProviderCardID   string          `json:"provider_card_id"` // ID карты у внешнего эмитента
	Last4            string          `json:"last4"`
	ExpMonth         int             `json:"exp_month"`
	ExpYear          int             `json:"exp_year"`
	HardLimit        decimal.Decimal `json:"hard_limit"`
	Currency         string          `json:"currency"`
	Status           CardStatus      `json:"status"`
	ExpiresAt        time.Time       `json:"expires_at"` // Короткий TTL, обычно 1 час

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CardDetails — полные реквизиты (PAN/CVC). Отдаются агенту один раз
// в ответе на approved-запрос и никогда не персистятся.
type CardDetails struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
}
