package engine

/*
Подписчик на решения операторов (HITL). Консоль атомарно применяет решение
в БД и публикует "intent_id:approved|rejected" в Redis; шлюз подхватывает
одобренные интенты и выполняет выпуск карты тем же путем, что и прямое
одобрение.

Redis здесь — wake-up, а не источник истины: при потере сигнала интент
останется approved без карты и его доберет sweep-проход.
*/

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"go.uber.org/zap"
)

type ApprovalListener struct {
	core   *Core
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalListener(core *Core, rdb *redis.Client, logger *zap.Logger) *ApprovalListener {
	return &ApprovalListener{
		core:   core,
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "approval_listener")),
	}
}

// Start блокируется до отмены контекста; живучесть обеспечивает
// ListenStateResilient (переподписка при обрыве).
func (l *ApprovalListener) Start(ctx context.Context) {
	l.logger.Info("approval decision listener started",
		zap.String("channel", infra.RedisChanApprovalDecisions))

	ListenStateResilient(ctx, l.rdb, l.logger, infra.RedisChanApprovalDecisions,
		func() error { return nil }, // Состояние не кэшируем — синхронизировать нечего
		func(intentID, decision string) {
			if domain.ApprovalStatus(decision) != domain.ApprovalApproved {
				// Отказ уже полностью применен консолью
				return
			}
			if err := l.core.CompleteApprovedIntent(ctx, intentID); err != nil {
				l.logger.Error("post-approval issuance error",
					zap.String("intent_id", intentID), zap.Error(err))
			}
		},
	)
}
