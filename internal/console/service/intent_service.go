package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

type IntentRepository interface {
	ListIntents(ctx context.Context, orgID string, status string, limit int) ([]*domain.PurchaseIntent, error)
	GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error)
}

// IntentService — read-only история покупок для консоли. Мутаций интентов
// у оператора нет: он действует через очередь заявок и статусы агентов.
type IntentService struct {
	repo IntentRepository
}

func NewIntentService(repo IntentRepository) *IntentService {
	return &IntentService{repo: repo}
}

func (s *IntentService) ListIntents(ctx context.Context, orgID, status string) ([]*domain.PurchaseIntent, error) {
	if status != "" && !domain.IntentStatus(status).IsValid() {
		return nil, fmt.Errorf("intent_service: unknown status %q", status)
	}
	return s.repo.ListIntents(ctx, orgID, status, 200)
}

// GetIntent отдает интент только в пределах организации оператора.
func (s *IntentService) GetIntent(ctx context.Context, orgID, id string) (*domain.PurchaseIntent, error) {
	intent, err := s.repo.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.OrganizationID != orgID {
		return nil, domain.ErrIntentNotFound
	}
	return intent, nil
}
