package postgres

/*
card_repo.go — виртуальные карты. PAN/CVC сюда не попадают никогда:
храним только last4 и метаданные.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

const cardColumns = `id, purchase_intent_id, provider_card_id, last4, exp_month, exp_year,
	hard_limit, currency, status, expires_at, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (*domain.VirtualCard, error) {
	var c domain.VirtualCard
	err := row.Scan(
		&c.ID, &c.PurchaseIntentID, &c.ProviderCardID, &c.Last4, &c.ExpMonth, &c.ExpYear,
		&c.HardLimit, &c.Currency, &c.Status, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCard(ctx context.Context, c *domain.VirtualCard) error {
	query := `INSERT INTO virtual_cards (` + cardColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := s.q(ctx).ExecContext(ctx, query,
		c.ID, c.PurchaseIntentID, c.ProviderCardID, c.Last4, c.ExpMonth, c.ExpYear,
		c.HardLimit, c.Currency, c.Status, c.ExpiresAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create card: %w", err)
	}
	return nil
}

// GetCardByProviderID — маршрутизация вебхука сети к интенту.
func (s *Store) GetCardByProviderID(ctx context.Context, providerCardID string) (*domain.VirtualCard, error) {
	query := `SELECT ` + cardColumns + ` FROM virtual_cards WHERE provider_card_id = $1`

	c, err := scanCard(s.q(ctx).QueryRowContext(ctx, query, providerCardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: card by provider id: %w", err)
	}
	return c, nil
}

func (s *Store) GetCardByIntent(ctx context.Context, intentID string) (*domain.VirtualCard, error) {
	query := `SELECT ` + cardColumns + ` FROM virtual_cards WHERE purchase_intent_id = $1`

	c, err := scanCard(s.q(ctx).QueryRowContext(ctx, query, intentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: card by intent: %w", err)
	}
	return c, nil
}

// MarkCardUsed закрывает карту после первой авторизации (single-use).
// false — карта уже не активна (повторный вебхук либо гонка со sweep).
func (s *Store) MarkCardUsed(ctx context.Context, cardID string) (bool, error) {
	result, err := s.q(ctx).ExecContext(ctx,
		`UPDATE virtual_cards SET status = 'used', updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`, cardID)
	if err != nil {
		return false, fmt.Errorf("postgres: mark card used: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) MarkCardStatus(ctx context.Context, cardID string, status domain.CardStatus) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE virtual_cards SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, cardID)
	if err != nil {
		return fmt.Errorf("postgres: mark card status: %w", err)
	}
	return nil
}

// FindExpiredActiveCards — кандидаты для expiry sweep.
func (s *Store) FindExpiredActiveCards(ctx context.Context, limit int) ([]*domain.VirtualCard, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + cardColumns + ` FROM virtual_cards
	WHERE status = 'active' AND expires_at < NOW()
	ORDER BY expires_at LIMIT $1`

	rows, err := s.q(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: expired cards: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.VirtualCard, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan card: %w", err)
		}
		results = append(results, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}
