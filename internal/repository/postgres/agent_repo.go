package postgres

/*
agent_repo.go — выборки агентов и организаций для authorization hot path
и управление статусом агента из консоли (pause/resume/suspend).
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

const agentColumns = `a.id, a.organization_id, a.name, a.status, a.api_key_hash,
	a.monthly_limit, a.daily_limit, a.per_transaction_limit, a.approval_threshold,
	a.flag_new_vendors, a.blocked_merchants, a.allowed_merchants,
	a.last_activity, a.created_at, a.updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*domain.Agent, error) {
	var (
		a                                  domain.Agent
		monthly, daily, perTx, threshold   decimal.NullDecimal
		blockedJSON, allowedJSON           []byte
	)
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Name, &a.Status, &a.APIKeyHash,
		&monthly, &daily, &perTx, &threshold,
		&a.Controls.FlagNewVendors, &blockedJSON, &allowedJSON,
		&a.LastActivity, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Controls.MonthlyLimit = fromNullDecimal(monthly)
	a.Controls.DailyLimit = fromNullDecimal(daily)
	a.Controls.PerTransactionLimit = fromNullDecimal(perTx)
	a.Controls.ApprovalThreshold = fromNullDecimal(threshold)

	if len(blockedJSON) > 0 {
		_ = json.Unmarshal(blockedJSON, &a.Controls.BlockedMerchants)
	}
	if len(allowedJSON) > 0 {
		_ = json.Unmarshal(allowedJSON, &a.Controls.AllowedMerchants)
	}
	return &a, nil
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// GetAgentByAPIKeyHash — аутентификация агента по SHA-256 хэшу ключа.
func (s *Store) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a WHERE a.api_key_hash = $1`

	agent, err := scanAgent(s.q(ctx).QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: agent by key: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a WHERE a.id = $1`

	agent, err := scanAgent(s.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get agent: %w", err)
	}
	return agent, nil
}

// GetAgentWithOrg загружает агента и его организацию одним JOIN.
// (nil, nil, nil) — агент не найден.
func (s *Store) GetAgentWithOrg(ctx context.Context, agentID string) (*domain.Agent, *domain.Organization, error) {
	query := `SELECT ` + agentColumns + `,
		o.id, o.name, o.monthly_budget, o.alert_threshold, o.guardrails,
		o.funding_instrument_ref, o.created_at, o.updated_at
	FROM agents a
	JOIN organizations o ON o.id = a.organization_id
	WHERE a.id = $1`

	row := s.q(ctx).QueryRowContext(ctx, query, agentID)

	var (
		a                                domain.Agent
		o                                domain.Organization
		monthly, daily, perTx, threshold decimal.NullDecimal
		blockedJSON, allowedJSON         []byte
		orgBudget                        decimal.NullDecimal
		guardrailsJSON                   []byte
	)
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Name, &a.Status, &a.APIKeyHash,
		&monthly, &daily, &perTx, &threshold,
		&a.Controls.FlagNewVendors, &blockedJSON, &allowedJSON,
		&a.LastActivity, &a.CreatedAt, &a.UpdatedAt,
		&o.ID, &o.Name, &orgBudget, &o.AlertThreshold, &guardrailsJSON,
		&o.FundingInstrumentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("postgres: agent with org: %w", err)
	}

	a.Controls.MonthlyLimit = fromNullDecimal(monthly)
	a.Controls.DailyLimit = fromNullDecimal(daily)
	a.Controls.PerTransactionLimit = fromNullDecimal(perTx)
	a.Controls.ApprovalThreshold = fromNullDecimal(threshold)
	if len(blockedJSON) > 0 {
		_ = json.Unmarshal(blockedJSON, &a.Controls.BlockedMerchants)
	}
	if len(allowedJSON) > 0 {
		_ = json.Unmarshal(allowedJSON, &a.Controls.AllowedMerchants)
	}

	o.MonthlyBudget = fromNullDecimal(orgBudget)
	if len(guardrailsJSON) > 0 {
		_ = json.Unmarshal(guardrailsJSON, &o.Guardrails)
	}

	return &a, &o, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	query := `SELECT id, name, monthly_budget, alert_threshold, guardrails,
		funding_instrument_ref, created_at, updated_at
	FROM organizations WHERE id = $1`

	var (
		o              domain.Organization
		budget         decimal.NullDecimal
		guardrailsJSON []byte
	)
	err := s.q(ctx).QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.Name, &budget, &o.AlertThreshold, &guardrailsJSON,
		&o.FundingInstrumentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get organization: %w", err)
	}
	o.MonthlyBudget = fromNullDecimal(budget)
	if len(guardrailsJSON) > 0 {
		_ = json.Unmarshal(guardrailsJSON, &o.Guardrails)
	}
	return &o, nil
}

// ListAgents — таблица агентов для консоли.
func (s *Store) ListAgents(ctx context.Context, orgID string) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a WHERE a.organization_id = $1 ORDER BY a.created_at`

	rows, err := s.q(ctx).QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}

// UpdateAgentStatus меняет статус агента (pause/resume/suspend).
func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: update agent status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// TouchAgentActivity фиксирует последний успешный запрос агента.
func (s *Store) TouchAgentActivity(ctx context.Context, id string) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`UPDATE agents SET last_activity = NOW() WHERE id = $1`, id)
	return err
}

// ListAgentIDsByStatus — ID агентов в данном статусе. Используется для
// прогрева L1-кэша статусов на шлюзе при старте.
func (s *Store) ListAgentIDsByStatus(ctx context.Context, status domain.AgentStatus) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id FROM agents WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: agents by status: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return ids, nil
}
