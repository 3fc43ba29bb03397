package postgres

/*
merchant_repo.go — реестр известных мерчантов организации.
Ключ уникальности (organization_id, merchant_name_normalized).
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// GetKnownMerchant — (nil, nil), если мерчант организации не знаком.
func (s *Store) GetKnownMerchant(ctx context.Context, orgID, normalized string) (*domain.KnownMerchant, error) {
	query := `SELECT id, organization_id, merchant_name, merchant_name_normalized,
		transaction_count, first_seen_at, last_seen_at
	FROM known_merchants WHERE organization_id = $1 AND merchant_name_normalized = $2`

	var m domain.KnownMerchant
	err := s.q(ctx).QueryRowContext(ctx, query, orgID, normalized).Scan(
		&m.ID, &m.OrganizationID, &m.MerchantName, &m.MerchantNameNormalized,
		&m.TransactionCount, &m.FirstSeenAt, &m.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: known merchant: %w", err)
	}
	return &m, nil
}

// UpsertKnownMerchant регистрирует мерчанта или инкрементит счетчик сделок.
// Вызывается только после успешного выпуска карты.
func (s *Store) UpsertKnownMerchant(ctx context.Context, orgID, merchantName, normalized string) error {
	query := `INSERT INTO known_merchants
		(id, organization_id, merchant_name, merchant_name_normalized,
		 transaction_count, first_seen_at, last_seen_at)
	VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
	ON CONFLICT (organization_id, merchant_name_normalized) DO UPDATE SET
		transaction_count = known_merchants.transaction_count + 1,
		last_seen_at = NOW()`

	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.NewString(), orgID, merchantName, normalized)
	if err != nil {
		return fmt.Errorf("postgres: upsert merchant: %w", err)
	}
	return nil
}
