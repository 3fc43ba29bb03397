package postgres

/*
billing_repo.go — комиссии и помесячный объем организации.

monthly_volumes пополняется ТОЛЬКО сеттлментами (AddSettledVolume):
объем монотонно растет, тир на него ссылается для будущих транзакций.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// GetMonthlyVolume возвращает накопленный объем за месяц "YYYY-MM".
// Отсутствие строки = нулевой объем (первая транзакция месяца).
func (s *Store) GetMonthlyVolume(ctx context.Context, orgID, month string) (*domain.MonthlyVolume, error) {
	query := `SELECT organization_id, month, total_volume, transaction_count,
		fee_revenue, tier, by_rail, updated_at
	FROM monthly_volumes WHERE organization_id = $1 AND month = $2`

	var (
		v          domain.MonthlyVolume
		byRailJSON []byte
	)
	err := s.q(ctx).QueryRowContext(ctx, query, orgID, month).Scan(
		&v.OrganizationID, &v.Month, &v.TotalVolume, &v.TransactionCount,
		&v.FeeRevenue, &v.Tier, &byRailJSON, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.MonthlyVolume{
				OrganizationID: orgID,
				Month:          month,
				TotalVolume:    decimal.Zero,
				FeeRevenue:     decimal.Zero,
				ByRail:         map[domain.Rail]decimal.Decimal{},
			}, nil
		}
		return nil, fmt.Errorf("postgres: monthly volume: %w", err)
	}
	if len(byRailJSON) > 0 {
		_ = json.Unmarshal(byRailJSON, &v.ByRail)
	}
	return &v, nil
}

// AddSettledVolume инкрементит объем месяца на сумму сеттлмента.
// tier — имя тира ПОСЛЕ инкремента, пересчитывается вызывающим.
func (s *Store) AddSettledVolume(ctx context.Context, orgID, month string, amount, fee decimal.Decimal, rail domain.Rail, tier string) error {
	railJSON, err := json.Marshal(map[domain.Rail]decimal.Decimal{rail: amount})
	if err != nil {
		return fmt.Errorf("postgres: marshal rail volume: %w", err)
	}

	// jsonb-инкремент по ключу рельса без чтения строки назад
	query := `INSERT INTO monthly_volumes
		(organization_id, month, total_volume, transaction_count, fee_revenue, tier, by_rail, updated_at)
	VALUES ($1, $2, $3, 1, $4, $5, $6, NOW())
	ON CONFLICT (organization_id, month) DO UPDATE SET
		total_volume = monthly_volumes.total_volume + EXCLUDED.total_volume,
		transaction_count = monthly_volumes.transaction_count + 1,
		fee_revenue = monthly_volumes.fee_revenue + EXCLUDED.fee_revenue,
		tier = EXCLUDED.tier,
		by_rail = jsonb_set(monthly_volumes.by_rail, ARRAY[$7],
			to_jsonb(COALESCE((monthly_volumes.by_rail->>$7)::numeric, 0) + $3::numeric)),
		updated_at = NOW()`

	_, err = s.q(ctx).ExecContext(ctx, query, orgID, month, amount, fee, tier, railJSON, string(rail))
	if err != nil {
		return fmt.Errorf("postgres: add settled volume: %w", err)
	}
	return nil
}

func (s *Store) CreateFee(ctx context.Context, f *domain.TransactionFee) error {
	query := `INSERT INTO transaction_fees
		(id, purchase_intent_id, rail, transaction_amount, volume_tier,
		 base_rate, rail_multiplier, effective_rate, fee_amount, total_charged,
		 status, capture_ref, charged_at, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err := s.q(ctx).ExecContext(ctx, query,
		f.ID, f.PurchaseIntentID, f.Rail, f.TransactionAmount, f.VolumeTier,
		f.BaseRate, f.RailMultiplier, f.EffectiveRate, f.FeeAmount, f.TotalCharged,
		f.Status, f.CaptureRef, f.ChargedAt, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create fee: %w", err)
	}
	return nil
}

func (s *Store) GetFeeByIntent(ctx context.Context, intentID string) (*domain.TransactionFee, error) {
	query := `SELECT id, purchase_intent_id, rail, transaction_amount, volume_tier,
		base_rate, rail_multiplier, effective_rate, fee_amount, total_charged,
		status, capture_ref, charged_at, created_at
	FROM transaction_fees WHERE purchase_intent_id = $1`

	var (
		f          domain.TransactionFee
		captureRef sql.NullString
		chargedAt  sql.NullTime
	)
	err := s.q(ctx).QueryRowContext(ctx, query, intentID).Scan(
		&f.ID, &f.PurchaseIntentID, &f.Rail, &f.TransactionAmount, &f.VolumeTier,
		&f.BaseRate, &f.RailMultiplier, &f.EffectiveRate, &f.FeeAmount, &f.TotalCharged,
		&f.Status, &captureRef, &chargedAt, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: fee by intent: %w", err)
	}
	if captureRef.Valid {
		f.CaptureRef = &captureRef.String
	}
	if chargedAt.Valid {
		f.ChargedAt = &chargedAt.Time
	}
	return &f, nil
}

// UpdateFeeStatus — charged (с capture_ref), failed либо refunded.
func (s *Store) UpdateFeeStatus(ctx context.Context, feeID string, status domain.FeeStatus, captureRef *string) error {
	var err error
	if status == domain.FeeCharged {
		_, err = s.q(ctx).ExecContext(ctx,
			`UPDATE transaction_fees SET status = $1, capture_ref = $2, charged_at = NOW() WHERE id = $3`,
			status, captureRef, feeID)
	} else {
		_, err = s.q(ctx).ExecContext(ctx,
			`UPDATE transaction_fees SET status = $1 WHERE id = $2`, status, feeID)
	}
	if err != nil {
		return fmt.Errorf("postgres: update fee status: %w", err)
	}
	return nil
}
