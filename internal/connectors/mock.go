package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
)

/*
MockPaymentProvider — in-memory реализация границы issuing.PaymentProvider
для локального запуска и тестов. Семантика повторяет боевую сеть:
частичный capture финализирует ровно запрошенную сумму и отпускает остаток,
отмененный холд повторно не капчерится.

Триггеры отказов (для сценариев тестирования):
- инструмент "instr_declined"  → Preauthorize падает (PREAUTH_FAILED по цепочке)
- валюта "XXX" на IssueCard    → выпуск карты падает (CARD_CREATION_FAILED)
*/

type mockHold struct {
	amount   decimal.Decimal
	currency string
	captured bool
	canceled bool
}

type mockCard struct {
	limit    decimal.Decimal
	currency string
	canceled bool
	pan      string
	cvc      string
	expMonth int
	expYear  int
}

type MockPaymentProvider struct {
	mu    sync.Mutex
	seq   int
	holds map[string]*mockHold
	cards map[string]*mockCard

	// Latency имитирует сетевую задержку; 0 = без задержки (тесты)
	Latency time.Duration
}

func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{
		holds: make(map[string]*mockHold),
		cards: make(map[string]*mockCard),
	}
}

func (p *MockPaymentProvider) sleep(ctx context.Context) error {
	if p.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(p.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MockPaymentProvider) nextRef(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%06d", prefix, p.seq)
}

func (p *MockPaymentProvider) Preauthorize(ctx context.Context, instrumentRef string, amount decimal.Decimal, currency string, metadata map[string]string) (*issuing.Hold, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	if instrumentRef == "instr_declined" {
		return nil, &DeclineError{Code: "card_declined", Message: "funding instrument declined"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ref := p.nextRef("hold")
	p.holds[ref] = &mockHold{amount: amount, currency: currency}
	return &issuing.Hold{Ref: ref, Amount: amount, Currency: currency}, nil
}

func (p *MockPaymentProvider) Capture(ctx context.Context, holdRef string, amount decimal.Decimal) (*issuing.CaptureResult, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.holds[holdRef]
	if !ok || h.canceled {
		return nil, issuing.ErrHoldNotFound
	}
	if h.captured {
		return nil, fmt.Errorf("hold %s already captured", holdRef)
	}
	if amount.GreaterThan(h.amount) {
		return nil, issuing.ErrInsufficientHold
	}

	// Частичный capture: остаток холда отпускается автоматически
	h.captured = true
	return &issuing.CaptureResult{CaptureRef: p.nextRef("cap"), Amount: amount}, nil
}

func (p *MockPaymentProvider) CancelHold(ctx context.Context, holdRef string) error {
	if err := p.sleep(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.holds[holdRef]
	if !ok {
		return issuing.ErrHoldNotFound
	}
	if h.captured {
		return fmt.Errorf("hold %s already captured", holdRef)
	}
	h.canceled = true
	return nil
}

func (p *MockPaymentProvider) IssueCard(ctx context.Context, limit decimal.Decimal, currency string, metadata map[string]string) (*issuing.IssuedCard, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	if strings.EqualFold(currency, "XXX") {
		return nil, fmt.Errorf("issuing: unsupported currency %s", currency)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextRef("card")
	exp := time.Now().AddDate(3, 0, 0)
	card := &mockCard{
		limit:    limit,
		currency: currency,
		pan:      fmt.Sprintf("4242%012d", rand.Int64N(1_000_000_000_000)),
		cvc:      fmt.Sprintf("%03d", rand.IntN(1000)),
		expMonth: int(exp.Month()),
		expYear:  exp.Year(),
	}
	p.cards[id] = card

	return &issuing.IssuedCard{
		ProviderCardID: id,
		Last4:          card.pan[len(card.pan)-4:],
		ExpMonth:       card.expMonth,
		ExpYear:        card.expYear,
	}, nil
}

func (p *MockPaymentProvider) RevealCardDetails(ctx context.Context, providerCardID string) (*domain.CardDetails, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cards[providerCardID]
	if !ok || c.canceled {
		return nil, fmt.Errorf("card %s not found", providerCardID)
	}
	return &domain.CardDetails{
		Number:   c.pan,
		ExpMonth: c.expMonth,
		ExpYear:  c.expYear,
		CVC:      c.cvc,
	}, nil
}

func (p *MockPaymentProvider) CancelCard(ctx context.Context, providerCardID string) error {
	if err := p.sleep(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cards[providerCardID]
	if !ok {
		return fmt.Errorf("card %s not found", providerCardID)
	}
	c.canceled = true
	return nil
}
