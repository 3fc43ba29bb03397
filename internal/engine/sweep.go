package engine

/*
Expiry sweep — фоновая уборка карт, по которым сеть так и не прислала
авторизацию. Для каждой истекшей активной карты: гасим карту у провайдера,
снимаем холд, закрываем интент как failed. Работает под тем же advisory-локом
интента, что и реконсилятор — гонка "авторизация пришла в момент уборки"
разрешается сериализацией.
*/

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay-gateway/internal/audit"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
	"go.uber.org/zap"
)

type SweepStore interface {
	FindExpiredActiveCards(ctx context.Context, limit int) ([]*domain.VirtualCard, error)
	FindStalledApprovedIntents(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error)
	SerializeIntent(ctx context.Context, intentID string, fn func(ctx context.Context) error) error
	GetCardByIntent(ctx context.Context, intentID string) (*domain.VirtualCard, error)
	MarkCardStatus(ctx context.Context, cardID string, status domain.CardStatus) error
	GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error)
	TransitionIntent(ctx context.Context, id string, from, to domain.IntentStatus) error
	GetFeeByIntent(ctx context.Context, intentID string) (*domain.TransactionFee, error)
	UpdateFeeStatus(ctx context.Context, feeID string, status domain.FeeStatus, captureRef *string) error
}

// RedriveFunc дожимает выпуск карты по одобренному интенту
// (обычно Core.CompleteApprovedIntent).
type RedriveFunc func(ctx context.Context, intentID string) error

type Sweeper struct {
	store    SweepStore
	provider issuing.PaymentProvider
	trail    audit.Recorder
	redrive  RedriveFunc
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(store SweepStore, provider issuing.PaymentProvider, trail audit.Recorder, redrive RedriveFunc, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		provider: provider,
		trail:    trail,
		redrive:  redrive,
		interval: interval,
		logger:   logger.Named("sweep"),
		now:      time.Now,
	}
}

// Run блокируется до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweep started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweep stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce обрабатывает одну пачку истекших карт.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cards, err := s.store.FindExpiredActiveCards(ctx, 100)
	if err != nil {
		return err
	}

	for _, card := range cards {
		if err := s.expireCard(ctx, card.PurchaseIntentID); err != nil {
			s.logger.Error("card expiry failed",
				zap.String("card_id", card.ID),
				zap.String("intent_id", card.PurchaseIntentID),
				zap.Error(err))
		}
	}

	return s.redriveStalled(ctx)
}

// redriveStalled дожимает одобренные интенты без карты: сигнал HITL-решения
// мог не дойти до инстанса с подпиской. Берем только отлежавшиеся минуту,
// чтобы не гоняться с нормальным путем выпуска.
func (s *Sweeper) redriveStalled(ctx context.Context) error {
	if s.redrive == nil {
		return nil
	}
	ids, err := s.store.FindStalledApprovedIntents(ctx, s.now().Add(-time.Minute), 100)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.logger.Info("re-driving stalled approved intent", zap.String("intent_id", id))
		if err := s.redrive(ctx, id); err != nil {
			s.logger.Error("stalled intent re-drive failed",
				zap.String("intent_id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) expireCard(ctx context.Context, intentID string) error {
	return s.store.SerializeIntent(ctx, intentID, func(ctx context.Context) error {
		// Перечитываем под локом: авторизация могла успеть первой
		card, err := s.store.GetCardByIntent(ctx, intentID)
		if err != nil {
			return err
		}
		if card == nil || card.Status != domain.CardActive {
			return nil
		}

		intent, err := s.store.GetIntent(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != domain.IntentApproved {
			return nil
		}

		// Провайдер: гасим карту и отпускаем холд. Сбои не валят транзакцию —
		// холд истечет сам, повтор на следующем проходе не страшен.
		if err := s.provider.CancelCard(ctx, card.ProviderCardID); err != nil {
			s.logger.Warn("provider card cancel failed",
				zap.String("provider_card_id", card.ProviderCardID), zap.Error(err))
		}
		if intent.PreAuthRef != nil {
			if err := s.provider.CancelHold(ctx, *intent.PreAuthRef); err != nil {
				s.logger.Warn("provider hold release failed",
					zap.String("hold_ref", *intent.PreAuthRef), zap.Error(err))
			}
		}

		if err := s.store.MarkCardStatus(ctx, card.ID, domain.CardExpired); err != nil {
			return err
		}
		if fee, err := s.store.GetFeeByIntent(ctx, intentID); err == nil && fee != nil && fee.Status == domain.FeePending {
			if err := s.store.UpdateFeeStatus(ctx, fee.ID, domain.FeeFailed, nil); err != nil {
				return err
			}
		}
		if err := s.store.TransitionIntent(ctx, intentID, domain.IntentApproved, domain.IntentFailed); err != nil {
			return err
		}

		s.logger.Info("expired card swept",
			zap.String("intent_id", intentID),
			zap.String("card_id", card.ID))
		if s.trail != nil {
			s.trail.Record(audit.Event{
				ID:             uuid.New().String(),
				OrganizationID: intent.OrganizationID,
				AgentID:        intent.AgentID,
				IntentID:       intentID,
				EventType:      audit.EventSettlement,
				Outcome:        "expired",
				Amount:         intent.Amount,
				Actor:          "gateway",
				Timestamp:      s.now(),
			})
		}
		return nil
	})
}
