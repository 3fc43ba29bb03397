package postgres

/*
dashboard_repo.go — агрегаты для главной страницы консоли.
*/

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

func (s *Store) GetActivityStats(ctx context.Context, orgID string) (*domain.ActivityStats, error) {
	d := &domain.ActivityStats{}

	// 1. Состояние парка агентов
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'paused'),
			COUNT(*) FILTER (WHERE status = 'suspended')
		FROM agents WHERE organization_id = $1`, orgID).
		Scan(&d.ActiveAgents, &d.PausedAgents, &d.SuspendedAgents)
	if err != nil {
		return nil, fmt.Errorf("postgres: agent stats: %w", err)
	}

	// 2. Срез по интентам за последние 24 часа.
	// PERCENTILE_CONT — честный P95 по суммам запросов.
	err = s.q(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('approved','captured')),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE status = 'pending_approval'),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY amount), 0)
		FROM purchase_intents
		WHERE organization_id = $1 AND created_at > NOW() - INTERVAL '24 hours'`, orgID).
		Scan(&d.TotalIntents, &d.ApprovedIntents, &d.RejectedIntents,
			&d.EscalatedIntents, &d.P95AmountUSD)
	if err != nil {
		return nil, fmt.Errorf("postgres: intent stats: %w", err)
	}

	// 3. Размер очереди на ручную проверку
	err = s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_approvals WHERE organization_id = $1 AND status = 'pending'`,
		orgID).Scan(&d.PendingApprovals)
	if err != nil {
		return nil, fmt.Errorf("postgres: approval queue: %w", err)
	}

	return d, nil
}
