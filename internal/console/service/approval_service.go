package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"go.uber.org/zap"
)

// ApprovalRepository описывает требования к хранилищу HITL-заявок.
type ApprovalRepository interface {
	GetApproval(ctx context.Context, id string) (*domain.PendingApproval, error)
	FindApprovals(ctx context.Context, orgID string, status domain.ApprovalStatus, limit int) ([]*domain.PendingApproval, error)
	DecideApproval(ctx context.Context, approvalID string, decision domain.ApprovalStatus, reviewer string, notes *string) (string, error)
}

type ApprovalService struct {
	repo   ApprovalRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalService(rdb *redis.Client, repo ApprovalRepository, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("approval-service"),
	}
}

func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*domain.PendingApproval, error) {
	return s.repo.GetApproval(ctx, id)
}

func (s *ApprovalService) GetApprovals(ctx context.Context, orgID string, status domain.ApprovalStatus) ([]*domain.PendingApproval, error) {
	return s.repo.FindApprovals(ctx, orgID, status, 200)
}

// DecideApproval закрывает заявку атомарно (заявка + интент в одной транзакции)
// и будит гейтвей сигналом в Redis. Потерянный сигнал не фатален: одобренный
// интент без карты доберет фоновая дожимка в свипе гейтвея.
func (s *ApprovalService) DecideApproval(ctx context.Context, id string, approved bool, reviewer, notes string) error {
	decision := domain.ApprovalRejected
	if approved {
		decision = domain.ApprovalApproved
	}

	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	// 1. Persistence Layer: репозиторий гарантирует, что решение принимается
	// ровно один раз (повтор — domain.ErrAlreadyProcessed).
	intentID, err := s.repo.DecideApproval(ctx, id, decision, reviewer, notesPtr)
	if err != nil {
		return err
	}

	// 2. Real-time Signaling
	payload := fmt.Sprintf("%s:%s", intentID, decision)
	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalDecisions, payload).Err(); err != nil {
		s.logger.Warn("approval signal delivery failed",
			zap.String("approval_id", id),
			zap.String("intent_id", intentID),
			zap.Error(err))
	} else {
		s.logger.Info("approval decided",
			zap.String("approval_id", id),
			zap.String("intent_id", intentID),
			zap.String("decision", string(decision)),
			zap.String("reviewer", reviewer))
	}

	return nil
}
