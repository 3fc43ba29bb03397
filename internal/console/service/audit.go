package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentpay-gateway/internal/audit"
)

// AuditLogProvider описывает контракт для чтения данных аудита.
// Мы используем структуру Event из пакета audit, чтобы сохранить единую модель данных.
type AuditLogProvider interface {
	GetAuditLogs(ctx context.Context, orgID, agentID, eventType string, limit int) ([]audit.Event, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает трейл решений с фильтрацией.
// Логика фильтров (пустые строки или конкретные значения) инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, orgID, agentID, eventType string) ([]audit.Event, error) {
	logs, err := s.repo.GetAuditLogs(ctx, orgID, agentID, eventType, 500)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
