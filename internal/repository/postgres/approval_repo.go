package postgres

/*
approval_repo.go — заявки Human-in-the-loop.

DecideApproval — атомарная операция: UPDATE заявки с охраной status='pending'
и перевод интента в одной транзакции. Два оператора, нажавшие кнопку
одновременно, получают ровно одно применение; второй — ErrAlreadyProcessed.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

const approvalColumns = `id, purchase_intent_id, organization_id, agent_id, amount,
	merchant_name, reason_code, reason_details, status,
	reviewed_by, reviewed_at, review_notes, created_at, updated_at`

func scanApproval(row interface{ Scan(...any) error }) (*domain.PendingApproval, error) {
	var (
		a          domain.PendingApproval
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
		notes      sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.PurchaseIntentID, &a.OrganizationID, &a.AgentID, &a.Amount,
		&a.MerchantName, &a.ReasonCode, &a.ReasonDetails, &a.Status,
		&reviewedBy, &reviewedAt, &notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reviewedBy.Valid {
		a.ReviewedBy = &reviewedBy.String
	}
	if reviewedAt.Valid {
		a.ReviewedAt = &reviewedAt.Time
	}
	if notes.Valid {
		a.ReviewNotes = &notes.String
	}
	return &a, nil
}

func (s *Store) CreatePendingApproval(ctx context.Context, a *domain.PendingApproval) error {
	query := `INSERT INTO pending_approvals
		(id, purchase_intent_id, organization_id, agent_id, amount,
		 merchant_name, reason_code, reason_details, status, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := s.q(ctx).ExecContext(ctx, query,
		a.ID, a.PurchaseIntentID, a.OrganizationID, a.AgentID, a.Amount,
		a.MerchantName, a.ReasonCode, a.ReasonDetails, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create approval: %w", err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*domain.PendingApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM pending_approvals WHERE id = $1`

	a, err := scanApproval(s.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get approval: %w", err)
	}
	return a, nil
}

// FindApprovals — очередь заявок для консоли. Статус '' = все.
func (s *Store) FindApprovals(ctx context.Context, orgID string, status domain.ApprovalStatus, limit int) ([]*domain.PendingApproval, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + approvalColumns + ` FROM pending_approvals
	WHERE organization_id = $1 AND ($2 = '' OR status = $2)
	ORDER BY created_at LIMIT $3`

	rows, err := s.q(ctx).QueryContext(ctx, query, orgID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find approvals: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.PendingApproval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan approval: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}

// rejectionMessage — текст отказа для интента. Заметки ревьюера видны агенту
// как причина, дефолт только при пустых заметках.
func rejectionMessage(notes *string) string {
	if notes != nil && *notes != "" {
		return *notes
	}
	return "Rejected by reviewer"
}

// DecideApproval применяет решение оператора и синхронно двигает интент.
// Возвращает purchase_intent_id решенной заявки.
func (s *Store) DecideApproval(ctx context.Context, approvalID string, decision domain.ApprovalStatus, reviewer string, notes *string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	var intentID string
	err = tx.QueryRowContext(ctx,
		`UPDATE pending_approvals
		 SET status = $1, reviewed_by = $2, reviewed_at = NOW(), review_notes = $3, updated_at = NOW()
		 WHERE id = $4 AND status = 'pending'
		 RETURNING purchase_intent_id`,
		decision, reviewer, notes, approvalID).Scan(&intentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Заявка не существует либо уже решена — различаем отдельным SELECT
			var exists bool
			if chkErr := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM pending_approvals WHERE id = $1)`,
				approvalID).Scan(&exists); chkErr != nil {
				return "", fmt.Errorf("postgres: check approval: %w", chkErr)
			}
			if exists {
				return "", domain.ErrAlreadyProcessed
			}
			return "", domain.ErrIntentNotFound
		}
		return "", fmt.Errorf("postgres: decide approval: %w", err)
	}

	intentStatus := domain.IntentApproved
	if decision == domain.ApprovalRejected {
		intentStatus = domain.IntentRejected
	}

	var result sql.Result
	if decision == domain.ApprovalRejected {
		result, err = tx.ExecContext(ctx,
			`UPDATE purchase_intents
			 SET status = $1, rejection_code = $2, rejection_message = $3, updated_at = NOW()
			 WHERE id = $4 AND status = 'pending_approval'`,
			intentStatus, domain.CodeManuallyRejected, rejectionMessage(notes), intentID)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE purchase_intents SET status = $1, updated_at = NOW()
			 WHERE id = $2 AND status = 'pending_approval'`,
			intentStatus, intentID)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: move intent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return "", domain.ErrInvalidTransition
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("postgres: commit decision: %w", err)
	}
	return intentID, nil
}
