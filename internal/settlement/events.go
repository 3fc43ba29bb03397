package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий платежной сети, которые мы обрабатываем.
// Всё прочее подтверждаем (200) и игнорируем.
const (
	EventAuthorizationCreated = "issuing_authorization.created"
	EventChargeRefunded       = "charge.refunded"
	EventCardUpdated          = "issuing_card.updated"
)

// NetworkEvent — вебхук платежной сети. ID события — ключ идемпотентности:
// сеть доставляет at-least-once, эффекты применяем exactly-once.
type NetworkEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	ProviderCardID string          `json:"card_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	// Для issuing_card.updated: новый статус карты на стороне сети
	CardStatus string `json:"card_status,omitempty"`
}
