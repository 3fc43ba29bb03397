package engine

/*
AgentStatusManager держит L1 (RAM) кэш нерабочих агентов — paused и
suspended. Hot Path авторизации отсекает их без похода в Postgres.

Источник истины — БД; Redis — L2 и транспорт сигналов. Консоль публикует
"agent_id:status" в RedisChanAgentStatus, каждый инстанс шлюза обновляет
свою мапу. На переподключении кэш пересобирается из БД целиком.
*/

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"go.uber.org/zap"
)

type AgentStatusProvider interface {
	ListAgentIDsByStatus(ctx context.Context, status domain.AgentStatus) ([]string, error)
}

type AgentStatusManager struct {
	repo   AgentStatusProvider
	rdb    *redis.Client
	logger *zap.Logger

	mu        sync.RWMutex
	paused    map[string]struct{}
	suspended map[string]struct{}
}

func NewAgentStatusManager(rdb *redis.Client, repo AgentStatusProvider, logger *zap.Logger) *AgentStatusManager {
	return &AgentStatusManager{
		repo:      repo,
		rdb:       rdb,
		logger:    logger.With(zap.String("mod", "agent_status")),
		paused:    make(map[string]struct{}),
		suspended: make(map[string]struct{}),
	}
}

// Init загружает нерабочих агентов при старте шлюза и греет L2.
func (m *AgentStatusManager) Init(ctx context.Context) error {
	pausedIDs, err := m.repo.ListAgentIDsByStatus(ctx, domain.AgentPaused)
	if err != nil {
		return fmt.Errorf("failed to fetch paused agents from DB: %w", err)
	}
	suspendedIDs, err := m.repo.ListAgentIDsByStatus(ctx, domain.AgentSuspended)
	if err != nil {
		return fmt.Errorf("failed to fetch suspended agents from DB: %w", err)
	}

	if err := WarmupState(ctx, m.rdb, m.logger, pausedIDs,
		infra.RedisKeyPausedAgents, infra.RedisKeyLockPausedWarm, func(items []string) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.paused = make(map[string]struct{}, len(items))
			for _, id := range items {
				m.paused[id] = struct{}{}
			}
		}); err != nil {
		return err
	}

	return WarmupState(ctx, m.rdb, m.logger, suspendedIDs,
		infra.RedisKeySuspendedAgents, infra.RedisKeyLockSuspendedWarm, func(items []string) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.suspended = make(map[string]struct{}, len(items))
			for _, id := range items {
				m.suspended[id] = struct{}{}
			}
		})
}

// StartListener подписывается на сигналы консоли в реальном времени.
func (m *AgentStatusManager) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanAgentStatus,
		func() error { return m.Init(ctx) }, // Переподключение
		func(id, status string) {
			m.apply(id, domain.AgentStatus(status))
		},
	)
}

func (m *AgentStatusManager) apply(agentID string, status domain.AgentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.paused, agentID)
	delete(m.suspended, agentID)
	switch status {
	case domain.AgentPaused:
		m.paused[agentID] = struct{}{}
	case domain.AgentSuspended:
		m.suspended[agentID] = struct{}{}
	case domain.AgentActive:
		// Уже удален из обеих мап
	default:
		m.logger.Error("unknown agent status signal", zap.String("status", string(status)))
	}
	m.logger.Info("agent status applied",
		zap.String("agent_id", agentID), zap.String("status", string(status)))
}

// Status — максимально быстрая проверка в Hot Path.
func (m *AgentStatusManager) Status(agentID string) domain.AgentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.suspended[agentID]; ok {
		return domain.AgentSuspended
	}
	if _, ok := m.paused[agentID]; ok {
		return domain.AgentPaused
	}
	return domain.AgentActive
}
