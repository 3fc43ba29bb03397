package postgres

/*
intent_repo.go — персистентность purchase intents.

Переводы статуса всегда охраняются WHERE по текущему статусу: резервирование
бюджета (pending -> approved) и закрытие интента должны быть exactly-once
даже при гонке двух воркеров. Суммы трат считаются по статусам
approved+captured — approved уже резервирует бюджет.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

const intentColumns = `id, agent_id, organization_id, amount, currency, description,
	merchant_name, merchant_url, metadata, status, rejection_code, rejection_message,
	rail, fee_amount, pre_auth_ref, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*domain.PurchaseIntent, error) {
	var (
		p            domain.PurchaseIntent
		metadataJSON []byte
		code, msg    sql.NullString
		preAuth      sql.NullString
		merchantURL  sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.AgentID, &p.OrganizationID, &p.Amount, &p.Currency, &p.Description,
		&p.MerchantName, &merchantURL, &metadataJSON, &p.Status, &code, &msg,
		&p.Rail, &p.FeeAmount, &preAuth, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.MerchantURL = merchantURL.String
	if code.Valid {
		p.RejectionCode = &code.String
	}
	if msg.Valid {
		p.RejectionMessage = &msg.String
	}
	if preAuth.Valid {
		p.PreAuthRef = &preAuth.String
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &p.Metadata)
	}
	return &p, nil
}

func (s *Store) CreateIntent(ctx context.Context, p *domain.PurchaseIntent) error {
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	query := `INSERT INTO purchase_intents (` + intentColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err = s.q(ctx).ExecContext(ctx, query,
		p.ID, p.AgentID, p.OrganizationID, p.Amount, p.Currency, p.Description,
		p.MerchantName, p.MerchantURL, metadataJSON, p.Status, p.RejectionCode, p.RejectionMessage,
		p.Rail, p.FeeAmount, p.PreAuthRef, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM purchase_intents WHERE id = $1`

	p, err := scanIntent(s.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, fmt.Errorf("postgres: get intent: %w", err)
	}
	return p, nil
}

// TransitionIntent переводит интент from -> to. Возвращает ErrInvalidTransition,
// если строка к моменту UPDATE уже не в статусе from (гонка или повтор).
func (s *Store) TransitionIntent(ctx context.Context, id string, from, to domain.IntentStatus) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`UPDATE purchase_intents SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("postgres: transition intent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// RejectIntent — терминальный отказ с кодом. Охрана по from та же, что в TransitionIntent.
func (s *Store) RejectIntent(ctx context.Context, id string, from domain.IntentStatus, code, message string) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`UPDATE purchase_intents
		 SET status = $1, rejection_code = $2, rejection_message = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		domain.IntentRejected, code, message, id, from)
	if err != nil {
		return fmt.Errorf("postgres: reject intent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetIntentPreAuth привязывает hold провайдера к интенту.
func (s *Store) SetIntentPreAuth(ctx context.Context, id, holdRef string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE purchase_intents SET pre_auth_ref = $1, updated_at = NOW() WHERE id = $2`,
		holdRef, id)
	if err != nil {
		return fmt.Errorf("postgres: set pre-auth ref: %w", err)
	}
	return nil
}

// AgentSpendSince — сумма резервов и списаний агента с момента since.
func (s *Store) AgentSpendSince(ctx context.Context, agentID string, since time.Time) (decimal.Decimal, error) {
	return s.spendSince(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM purchase_intents
		 WHERE agent_id = $1 AND status IN ('approved','captured') AND created_at >= $2`,
		agentID, since)
}

// OrgSpendSince — то же на уровне организации.
func (s *Store) OrgSpendSince(ctx context.Context, orgID string, since time.Time) (decimal.Decimal, error) {
	return s.spendSince(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM purchase_intents
		 WHERE organization_id = $1 AND status IN ('approved','captured') AND created_at >= $2`,
		orgID, since)
}

func (s *Store) spendSince(ctx context.Context, query, id string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := s.q(ctx).QueryRowContext(ctx, query, id, since).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: spend aggregate: %w", err)
	}
	return sum, nil
}

// FindStalledApprovedIntents — одобренные интенты, до которых так и не дошел
// выпуск карты (потерянный сигнал HITL-решения). Отбираем только отлежавшиеся,
// чтобы не наперегонки с нормальным путем выпуска.
func (s *Store) FindStalledApprovedIntents(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT p.id FROM purchase_intents p
		 LEFT JOIN virtual_cards c ON c.purchase_intent_id = p.id
		 WHERE p.status = 'approved' AND c.id IS NULL AND p.updated_at < $1
		 ORDER BY p.updated_at LIMIT $2`,
		updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find stalled intents: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan stalled intent: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return ids, nil
}

// ListIntents — история запросов для консоли. Фильтр по статусу опционален.
func (s *Store) ListIntents(ctx context.Context, orgID string, status string, limit int) ([]*domain.PurchaseIntent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + intentColumns + ` FROM purchase_intents
	WHERE organization_id = $1 AND ($2 = '' OR status = $2)
	ORDER BY created_at DESC LIMIT $3`

	rows, err := s.q(ctx).QueryContext(ctx, query, orgID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list intents: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.PurchaseIntent, 0)
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan intent: %w", err)
		}
		results = append(results, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}
