package postgres

/*
audit_repo.go — персистентность аудит-трейла.
Bulk Insert пачки событий одним запросом; чтение — для страницы Audit в консоли.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/agentpay-gateway/internal/audit"
)

// WriteBatch сохраняет пачку событий за один INSERT.
func (s *Store) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		details, _ := json.Marshal(e.Details)

		vals = append(vals,
			e.ID, e.TraceID, e.OrganizationID, e.AgentID, e.IntentID,
			e.EventType, e.Outcome, e.ReasonCode, e.Amount, e.Actor,
			details, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		`INSERT INTO audit_logs
		(id, trace_id, organization_id, agent_id, intent_id, event_type,
		 outcome, reason_code, amount, actor, details, timestamp) VALUES %s`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.q(ctx).ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: audit batch: %w", err)
	}
	return nil
}

// GetAuditLogs — выборка трейла для консоли. Фильтры опциональны ('' = все).
func (s *Store) GetAuditLogs(ctx context.Context, orgID, agentID, eventType string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `SELECT id, trace_id, organization_id, agent_id, intent_id, event_type,
		outcome, reason_code, amount, actor, details, timestamp
	FROM audit_logs
	WHERE organization_id = $1
	  AND ($2 = '' OR agent_id = $2)
	  AND ($3 = '' OR event_type = $3)
	ORDER BY timestamp DESC LIMIT $4`

	rows, err := s.q(ctx).QueryContext(ctx, query, orgID, agentID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit logs: %w", err)
	}
	defer rows.Close()

	results := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e           audit.Event
			detailsJSON []byte
		)
		err := rows.Scan(
			&e.ID, &e.TraceID, &e.OrganizationID, &e.AgentID, &e.IntentID,
			&e.EventType, &e.Outcome, &e.ReasonCode, &e.Amount, &e.Actor,
			&detailsJSON, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &e.Details)
		}
		results = append(results, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return results, nil
}
