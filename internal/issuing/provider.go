package issuing

/*
Пакет issuing описывает границу с внешним платежным провайдером
(funding + card issuing) и два компонента поверх нее:
FundingPreAuthorizer (холд на инструменте организации) и
CardIssuer (выпуск эфемерной карты под один интент).

Реального SDK здесь нет сознательно: провайдер — внешний коллаборатор,
специфицированный только интерфейсом. Боевая реализация подключается
как коннектор (см. internal/connectors).
*/

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrNoFundingInstrument = errors.New("organization has no funding instrument")
	ErrHoldNotFound        = errors.New("pre-authorization hold not found")
	ErrInsufficientHold    = errors.New("capture amount exceeds held amount")
)

// Hold — зарезервированная (но не списанная) сумма на фандинг-инструменте.
type Hold struct {
	Ref      string
	Amount   decimal.Decimal
	Currency string
}

// IssuedCard — карта, созданная провайдером.
type IssuedCard struct {
	ProviderCardID string
	Last4          string
	ExpMonth       int
	ExpYear        int
}

// CaptureResult — итог финализации холда.
type CaptureResult struct {
	CaptureRef string
	Amount     decimal.Decimal
}

// PaymentProvider — outbound-граница платежной сети.
// Capture меньшей суммы, чем холд, финализирует ровно её: остаток холда
// провайдер отпускает сам.
type PaymentProvider interface {
	Preauthorize(ctx context.Context, instrumentRef string, amount decimal.Decimal, currency string, metadata map[string]string) (*Hold, error)
	Capture(ctx context.Context, holdRef string, amount decimal.Decimal) (*CaptureResult, error)
	CancelHold(ctx context.Context, holdRef string) error
	IssueCard(ctx context.Context, limit decimal.Decimal, currency string, metadata map[string]string) (*IssuedCard, error)
	RevealCardDetails(ctx context.Context, providerCardID string) (*domain.CardDetails, error)
	CancelCard(ctx context.Context, providerCardID string) error
}

// FundingPreAuthorizer ставит холд в размере сумма + комиссия + буфер.
type FundingPreAuthorizer struct {
	provider PaymentProvider
	logger   *zap.Logger
}

func NewFundingPreAuthorizer(provider PaymentProvider, logger *zap.Logger) *FundingPreAuthorizer {
	return &FundingPreAuthorizer{provider: provider, logger: logger.Named("preauth")}
}

// Hold резервирует средства под интент. Сбой здесь — PREAUTH_FAILED,
// карта не выпускается.
func (f *FundingPreAuthorizer) Hold(ctx context.Context, org *domain.Organization, totalToCharge decimal.Decimal, currency, intentID string) (*Hold, error) {
	if org.FundingInstrumentRef == "" {
		return nil, ErrNoFundingInstrument
	}

	holdAmount := billing.PreAuthHold(totalToCharge)
	hold, err := f.provider.Preauthorize(ctx, org.FundingInstrumentRef, holdAmount, currency, map[string]string{
		"purchase_intent_id": intentID,
		"type":               "purchase_pre_auth",
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("funding hold placed",
		zap.String("intent_id", intentID),
		zap.String("hold_ref", hold.Ref),
		zap.String("amount", holdAmount.StringFixed(2)))
	return hold, nil
}

// Release — компенсирующее действие: снимает холд, если выпуск карты не удался.
func (f *FundingPreAuthorizer) Release(ctx context.Context, holdRef string) error {
	return f.provider.CancelHold(ctx, holdRef)
}

// CardIssuer выпускает виртуальную карту с hard limit = сумме интента
// и коротким TTL.
type CardIssuer struct {
	provider PaymentProvider
	cardTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewCardIssuer(provider PaymentProvider, cardTTL time.Duration, logger *zap.Logger) *CardIssuer {
	if cardTTL <= 0 {
		cardTTL = time.Hour
	}
	return &CardIssuer{provider: provider, cardTTL: cardTTL, logger: logger.Named("issuer"), now: time.Now}
}

// Cancel гасит карту у провайдера (компенсация или expiry sweep).
func (i *CardIssuer) Cancel(ctx context.Context, providerCardID string) error {
	return i.provider.CancelCard(ctx, providerCardID)
}

// Reveal повторно запрашивает реквизиты у провайдера. Нужен агенту,
// получившему карту после решения оператора: PAN/CVC мы не персистим.
func (i *CardIssuer) Reveal(ctx context.Context, providerCardID string) (*domain.CardDetails, error) {
	return i.provider.RevealCardDetails(ctx, providerCardID)
}

// Issue создает карту, тегированную ID интента — по этому тегу реконсилятор
// потом найдет интент (никакого сопоставления по сумме).
func (i *CardIssuer) Issue(ctx context.Context, intent *domain.PurchaseIntent) (*domain.VirtualCard, *domain.CardDetails, error) {
	issued, err := i.provider.IssueCard(ctx, intent.Amount, intent.Currency, map[string]string{
		"purchase_intent_id": intent.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	details, err := i.provider.RevealCardDetails(ctx, issued.ProviderCardID)
	if err != nil {
		// Карта создана, но реквизиты не получить — гасим ее, агент карту не увидит
		if cancelErr := i.provider.CancelCard(ctx, issued.ProviderCardID); cancelErr != nil {
			i.logger.Error("failed to cancel unrevealable card",
				zap.String("provider_card_id", issued.ProviderCardID), zap.Error(cancelErr))
		}
		return nil, nil, err
	}

	now := i.now()
	card := &domain.VirtualCard{
		ID:               uuid.New().String(),
		PurchaseIntentID: intent.ID,
		ProviderCardID:   issued.ProviderCardID,
		Last4:            issued.Last4,
		ExpMonth:         issued.ExpMonth,
		ExpYear:          issued.ExpYear,
		HardLimit:        intent.Amount,
		Currency:         intent.Currency,
		Status:           domain.CardActive,
		ExpiresAt:        now.Add(i.cardTTL),
		CreatedAt:        now,
	}

	i.logger.Info("virtual card issued",
		zap.String("intent_id", intent.ID),
		zap.String("last4", card.Last4),
		zap.Time("expires_at", card.ExpiresAt))
	return card, details, nil
}
