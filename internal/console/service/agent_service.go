package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay-gateway/internal/audit"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"github.com/xela07ax/agentpay-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

// AgentRepository описывает требования к хранилищу данных об агентах
type AgentRepository interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgents(ctx context.Context, orgID string) ([]*domain.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error
	WriteBatch(ctx context.Context, events []audit.Event) error
}

type AgentService struct {
	*auth.BaseValidator
	repo   AgentRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAgentService(rdb *redis.Client, repo AgentRepository, validator *auth.BaseValidator, logger *zap.Logger) *AgentService {
	return &AgentService{
		BaseValidator: validator,
		repo:          repo,
		rdb:           rdb,
		logger:        logger.Named("agent-service"),
	}
}

func (s *AgentService) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	return s.repo.GetAgent(ctx, id)
}

func (s *AgentService) ListAgents(ctx context.Context, orgID string) ([]*domain.Agent, error) {
	return s.repo.ListAgents(ctx, orgID)
}

// updateAgentState — унифицированный механизм переключения состояний.
// Обновляет БД и транслирует сигнал в Redis: гейтвей держит статусы
// в L1-кэше и перечитывает их по этому каналу.
func (s *AgentService) updateAgentState(ctx context.Context, agentID string, status domain.AgentStatus, actionName string) error {
	// 1. Persistence Layer
	if err := s.repo.UpdateAgentStatus(ctx, agentID, status); err != nil {
		s.logger.Error("failed to update agent status in DB",
			zap.String("agent_id", agentID),
			zap.String("action", actionName),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", actionName, err)
	}

	// 2. Аудит-трейл: кто и когда дернул рубильник. Консоль пишет синхронно —
	// это не hot path, батчинг гейтвея здесь не нужен.
	actor, _ := ctx.Value("username").(string)
	agent, _ := s.repo.GetAgent(ctx, agentID)
	event := audit.Event{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		EventType: audit.EventAgentLifecycle,
		Outcome:   string(status),
		Actor:     actor,
		Timestamp: time.Now(),
	}
	if agent != nil {
		event.OrganizationID = agent.OrganizationID
	}
	if err := s.repo.WriteBatch(ctx, []audit.Event{event}); err != nil {
		s.logger.Warn("lifecycle audit write failed",
			zap.String("agent_id", agentID), zap.Error(err))
	}

	// 3. Real-time Signaling
	payload := fmt.Sprintf("%s:%s", agentID, status)
	if err := s.rdb.Publish(ctx, infra.RedisChanAgentStatus, payload).Err(); err != nil {
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", actionName),
			zap.String("channel", infra.RedisChanAgentStatus),
			zap.Error(err))
	} else {
		s.logger.Info("agent state updated successfully",
			zap.String("agent_id", agentID),
			zap.String("action", actionName),
			zap.String("new_status", string(status)))
	}

	return nil
}

func (s *AgentService) PauseAgent(ctx context.Context, id string) error {
	return s.updateAgentState(ctx, id, domain.AgentPaused, "pause")
}

func (s *AgentService) ResumeAgent(ctx context.Context, id string) error {
	return s.updateAgentState(ctx, id, domain.AgentActive, "resume")
}

// SuspendAgent — kill-switch: мгновенная блокировка агента.
// Снимается только оператором через Resume.
func (s *AgentService) SuspendAgent(ctx context.Context, id string) error {
	return s.updateAgentState(ctx, id, domain.AgentSuspended, "kill-switch-suspend")
}
