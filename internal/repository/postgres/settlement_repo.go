package postgres

/*
settlement_repo.go — идемпотентность вебхуков сети и журнал расчетов.

Дедупликация: INSERT в processed_events внутри той же транзакции, что и
эффекты сеттлмента. Повторная доставка события не вставит строку и не
применит эффекты второй раз.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SettledTransaction — итоговая строка расчета по интенту.
type SettledTransaction struct {
	ID               string          `json:"id"`
	PurchaseIntentID string          `json:"purchase_intent_id"`
	CardID           string          `json:"card_id"`
	AuthorizedAmount decimal.Decimal `json:"authorized_amount"` // Одобренная сумма интента
	ActualAmount     decimal.Decimal `json:"actual_amount"`     // Фактическая сумма авторизации сети
	FeeAmount        decimal.Decimal `json:"fee_amount"`
	CapturedTotal    decimal.Decimal `json:"captured_total"` // actual + fee
	NetworkEventID   string          `json:"network_event_id"`
	SettledAt        time.Time       `json:"settled_at"`
}

// MarkEventProcessed — true, если событие видим впервые.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("postgres: mark event: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) CreateSettledTransaction(ctx context.Context, t *SettledTransaction) error {
	query := `INSERT INTO settled_transactions
		(id, purchase_intent_id, card_id, authorized_amount, actual_amount,
		 fee_amount, captured_total, network_event_id, settled_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.q(ctx).ExecContext(ctx, query,
		t.ID, t.PurchaseIntentID, t.CardID, t.AuthorizedAmount, t.ActualAmount,
		t.FeeAmount, t.CapturedTotal, t.NetworkEventID, t.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: create settled tx: %w", err)
	}
	return nil
}

// SerializeIntent — advisory-lock транзакция по одному интенту.
// Сериализует capture против refund и против expiry sweep.
func (s *Store) SerializeIntent(ctx context.Context, intentID string, fn func(ctx context.Context) error) error {
	return s.Serialize(ctx, []string{"intent:" + intentID}, fn)
}
