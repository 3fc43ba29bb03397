package settlement

/*
Reconciler закрывает цикл покупки по событиям платежной сети.

Порядок на authorization.created:
 1. Находим интент по тегу карты (никаких сопоставлений по сумме).
 2. Под advisory-lock интента и в одной транзакции: дедупликация события,
    закрытие карты (single-use), финализация холда на actual + fee,
    фиксация комиссии, инкремент месячного объема, перевод интента в captured.
 3. Неуспешный capture — комиссия failed, исключение в лог для оператора;
    авторизация сети при этом уже состоялась, интент закрываем как captured.

Refund комиссию помечает refunded, но объем НЕ откатывает: тир считается
по валовому обороту месяца.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/audit"
	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
	"github.com/xela07ax/agentpay-gateway/internal/repository/postgres"
	"go.uber.org/zap"
)

// Store — персистентность, нужная реконсиляции.
type Store interface {
	SerializeIntent(ctx context.Context, intentID string, fn func(ctx context.Context) error) error
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	GetCardByProviderID(ctx context.Context, providerCardID string) (*domain.VirtualCard, error)
	GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error)
	TransitionIntent(ctx context.Context, id string, from, to domain.IntentStatus) error
	MarkCardUsed(ctx context.Context, cardID string) (bool, error)
	MarkCardStatus(ctx context.Context, cardID string, status domain.CardStatus) error
	GetFeeByIntent(ctx context.Context, intentID string) (*domain.TransactionFee, error)
	UpdateFeeStatus(ctx context.Context, feeID string, status domain.FeeStatus, captureRef *string) error
	GetMonthlyVolume(ctx context.Context, orgID, month string) (*domain.MonthlyVolume, error)
	AddSettledVolume(ctx context.Context, orgID, month string, amount, fee decimal.Decimal, rail domain.Rail, tier string) error
	CreateSettledTransaction(ctx context.Context, t *postgres.SettledTransaction) error
}

type Reconciler struct {
	store    Store
	provider issuing.PaymentProvider
	trail    audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciler(store Store, provider issuing.PaymentProvider, trail audit.Recorder, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		provider: provider,
		trail:    trail,
		logger:   logger.Named("reconciler"),
		now:      time.Now,
	}
}

// Handle маршрутизирует событие сети. Неизвестные типы подтверждаются молча.
func (r *Reconciler) Handle(ctx context.Context, evt *NetworkEvent) error {
	switch evt.Type {
	case EventAuthorizationCreated:
		return r.handleAuthorizationCreated(ctx, evt)
	case EventChargeRefunded:
		return r.handleChargeRefunded(ctx, evt)
	case EventCardUpdated:
		return r.handleCardUpdated(ctx, evt)
	default:
		r.logger.Debug("network event ignored", zap.String("type", evt.Type))
		return nil
	}
}

func (r *Reconciler) handleAuthorizationCreated(ctx context.Context, evt *NetworkEvent) error {
	card, err := r.store.GetCardByProviderID(ctx, evt.Data.ProviderCardID)
	if err != nil {
		return err
	}
	if card == nil {
		// Не наша карта — сеть шлет весь аккаунт, это штатно
		r.logger.Warn("authorization for unknown card",
			zap.String("provider_card_id", evt.Data.ProviderCardID),
			zap.String("event_id", evt.ID))
		return nil
	}

	return r.store.SerializeIntent(ctx, card.PurchaseIntentID, func(ctx context.Context) error {
		first, err := r.store.MarkEventProcessed(ctx, evt.ID, evt.Type)
		if err != nil {
			return err
		}
		if !first {
			r.logger.Info("duplicate network event", zap.String("event_id", evt.ID))
			return nil
		}

		intent, err := r.store.GetIntent(ctx, card.PurchaseIntentID)
		if err != nil {
			return err
		}
		if intent.Status != domain.IntentApproved {
			// Повторная авторизация по уже закрытому интенту либо гонка со sweep
			r.logger.Warn("authorization for non-approved intent",
				zap.String("intent_id", intent.ID),
				zap.String("status", string(intent.Status)))
			return nil
		}

		used, err := r.store.MarkCardUsed(ctx, card.ID)
		if err != nil {
			return err
		}
		if !used {
			r.logger.Warn("authorization on non-active card",
				zap.String("card_id", card.ID),
				zap.String("event_id", evt.ID))
			return nil
		}

		actual := evt.Data.Amount
		fee, err := r.store.GetFeeByIntent(ctx, intent.ID)
		if err != nil {
			return err
		}
		if fee == nil {
			return fmt.Errorf("settlement: no fee record for intent %s", intent.ID)
		}

		// Списываем с холда фактическую сумму + комиссию платформы.
		// Остаток холда (буфер) провайдер отпустит сам.
		captureTotal := actual.Add(fee.FeeAmount)

		if intent.PreAuthRef == nil {
			return fmt.Errorf("settlement: intent %s has no pre-auth hold", intent.ID)
		}
		result, capErr := r.provider.Capture(ctx, *intent.PreAuthRef, captureTotal)
		if capErr != nil {
			// Покупка в сети уже состоялась: интент закрываем, комиссию —
			// в failed, расхождение разбирает оператор.
			r.logger.Error("settlement capture failed",
				zap.String("intent_id", intent.ID),
				zap.String("hold_ref", *intent.PreAuthRef),
				zap.String("amount", captureTotal.StringFixed(2)),
				zap.Error(capErr))
			if err := r.store.UpdateFeeStatus(ctx, fee.ID, domain.FeeFailed, nil); err != nil {
				return err
			}
			if err := r.store.TransitionIntent(ctx, intent.ID, domain.IntentApproved, domain.IntentCaptured); err != nil {
				return err
			}
			r.record(intent, audit.EventSettlement, "capture_failed", capErr.Error(), actual)
			return nil
		}

		if err := r.store.UpdateFeeStatus(ctx, fee.ID, domain.FeeCharged, &result.CaptureRef); err != nil {
			return err
		}

		// Объем месяца и тир ПОСЛЕ этого сеттлмента
		month := billing.CurrentMonth(r.now())
		volume, err := r.store.GetMonthlyVolume(ctx, intent.OrganizationID, month)
		if err != nil {
			return err
		}
		newTier := billing.TierForVolume(volume.TotalVolume.Add(actual))
		if err := r.store.AddSettledVolume(ctx, intent.OrganizationID, month, actual, fee.FeeAmount, intent.Rail, newTier.Name); err != nil {
			return err
		}

		if err := r.store.CreateSettledTransaction(ctx, &postgres.SettledTransaction{
			ID:               uuid.New().String(),
			PurchaseIntentID: intent.ID,
			CardID:           card.ID,
			AuthorizedAmount: intent.Amount,
			ActualAmount:     actual,
			FeeAmount:        fee.FeeAmount,
			CapturedTotal:    captureTotal,
			NetworkEventID:   evt.ID,
			SettledAt:        r.now(),
		}); err != nil {
			return err
		}

		if err := r.store.TransitionIntent(ctx, intent.ID, domain.IntentApproved, domain.IntentCaptured); err != nil {
			return err
		}

		r.logger.Info("purchase settled",
			zap.String("intent_id", intent.ID),
			zap.String("actual", actual.StringFixed(2)),
			zap.String("fee", fee.FeeAmount.StringFixed(2)),
			zap.String("captured_total", captureTotal.StringFixed(2)))
		r.record(intent, audit.EventSettlement, "captured", "", actual)
		return nil
	})
}

func (r *Reconciler) handleChargeRefunded(ctx context.Context, evt *NetworkEvent) error {
	card, err := r.store.GetCardByProviderID(ctx, evt.Data.ProviderCardID)
	if err != nil {
		return err
	}
	if card == nil {
		r.logger.Warn("refund for unknown card", zap.String("event_id", evt.ID))
		return nil
	}

	return r.store.SerializeIntent(ctx, card.PurchaseIntentID, func(ctx context.Context) error {
		first, err := r.store.MarkEventProcessed(ctx, evt.ID, evt.Type)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}

		fee, err := r.store.GetFeeByIntent(ctx, card.PurchaseIntentID)
		if err != nil {
			return err
		}
		if fee == nil || fee.Status != domain.FeeCharged {
			r.logger.Warn("refund without charged fee",
				zap.String("intent_id", card.PurchaseIntentID))
			return nil
		}

		// Возврат мерчанта: комиссию возвращаем, объем месяца не откатываем —
		// тир считается по валовому обороту.
		if err := r.store.UpdateFeeStatus(ctx, fee.ID, domain.FeeRefunded, nil); err != nil {
			return err
		}

		intent, err := r.store.GetIntent(ctx, card.PurchaseIntentID)
		if err != nil {
			return err
		}
		r.logger.Info("charge refunded",
			zap.String("intent_id", intent.ID),
			zap.String("amount", evt.Data.Amount.StringFixed(2)))
		r.record(intent, audit.EventSettlement, "refunded", "", evt.Data.Amount)
		return nil
	})
}

// handleCardUpdated синхронизирует статус карты, измененный на стороне сети
// (например, эмитент сам погасил карту).
func (r *Reconciler) handleCardUpdated(ctx context.Context, evt *NetworkEvent) error {
	card, err := r.store.GetCardByProviderID(ctx, evt.Data.ProviderCardID)
	if err != nil {
		return err
	}
	if card == nil {
		return nil
	}

	var status domain.CardStatus
	switch evt.Data.CardStatus {
	case "canceled":
		status = domain.CardCanceled
	case "expired":
		status = domain.CardExpired
	default:
		return nil
	}

	// Терминальные статусы не перетираем
	if card.Status != domain.CardActive {
		return nil
	}
	if err := r.store.MarkCardStatus(ctx, card.ID, status); err != nil {
		return err
	}
	r.logger.Info("card status synced from network",
		zap.String("card_id", card.ID),
		zap.String("status", string(status)))
	return nil
}

func (r *Reconciler) record(intent *domain.PurchaseIntent, eventType, outcome, reason string, amount decimal.Decimal) {
	if r.trail == nil {
		return
	}
	r.trail.Record(audit.Event{
		ID:             uuid.New().String(),
		OrganizationID: intent.OrganizationID,
		AgentID:        intent.AgentID,
		IntentID:       intent.ID,
		EventType:      eventType,
		Outcome:        outcome,
		ReasonCode:     reason,
		Amount:         amount,
		Actor:          "network",
		Timestamp:      r.now(),
	})
}
