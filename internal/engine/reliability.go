package engine

/*
ReliableProvider оборачивает платежного провайдера стеком устойчивости:
Rate Limiter -> Circuit Breaker -> Retry с умным расчетом задержки.

Бизнес-отказы (DeclineError) не ретраятся и не валят предохранитель
как инфраструктурные: отказ по средствам — валидный ответ, а не сбой.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agentpay-gateway/internal/connectors"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
)

type ReliableProvider struct {
	next    issuing.PaymentProvider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
}

func NewReliableProvider(next issuing.PaymentProvider, cfg infra.ProviderConfig, metrics *Metrics) *ReliableProvider {
	if cfg.CBMaxRequests <= 0 {
		cfg.CBMaxRequests = 3
	}
	if cfg.CBInterval <= 0 {
		cfg.CBInterval = 5 * time.Second
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100 // rps провайдера
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: uint32(cfg.CBMaxRequests),
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics != nil {
				state := 0.0
				if to == gobreaker.StateOpen {
					state = 1.0
				}
				metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
			}
		},
	})

	// Лимитер под rate limit провайдера
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	return &ReliableProvider{
		next:    next,
		cb:      cb,
		limiter: limiter,
		metrics: metrics,
	}
}

// execute прогоняет один вызов провайдера через весь стек устойчивости.
func (w *ReliableProvider) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Decline — терминальный ответ, ретрай бессмысленен
			retry.RetryIf(func(err error) bool {
				var dErr *connectors.DeclineError
				return !errors.As(err, &dErr)
			}),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Провайдер попросил подождать (прочитан Retry-After)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// Сетевой лаг, 500-ка — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return fn(tCtx)
		})
		return nil, retryErr
	})
	return err
}

func (w *ReliableProvider) Preauthorize(ctx context.Context, instrumentRef string, amount decimal.Decimal, currency string, metadata map[string]string) (*issuing.Hold, error) {
	var hold *issuing.Hold
	err := w.execute(ctx, func(ctx context.Context) error {
		var callErr error
		hold, callErr = w.next.Preauthorize(ctx, instrumentRef, amount, currency, metadata)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

func (w *ReliableProvider) Capture(ctx context.Context, holdRef string, amount decimal.Decimal) (*issuing.CaptureResult, error) {
	var result *issuing.CaptureResult
	err := w.execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = w.next.Capture(ctx, holdRef, amount)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (w *ReliableProvider) CancelHold(ctx context.Context, holdRef string) error {
	return w.execute(ctx, func(ctx context.Context) error {
		return w.next.CancelHold(ctx, holdRef)
	})
}

func (w *ReliableProvider) IssueCard(ctx context.Context, limit decimal.Decimal, currency string, metadata map[string]string) (*issuing.IssuedCard, error) {
	var card *issuing.IssuedCard
	err := w.execute(ctx, func(ctx context.Context) error {
		var callErr error
		card, callErr = w.next.IssueCard(ctx, limit, currency, metadata)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (w *ReliableProvider) RevealCardDetails(ctx context.Context, providerCardID string) (*domain.CardDetails, error) {
	var details *domain.CardDetails
	err := w.execute(ctx, func(ctx context.Context) error {
		var callErr error
		details, callErr = w.next.RevealCardDetails(ctx, providerCardID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (w *ReliableProvider) CancelCard(ctx context.Context, providerCardID string) error {
	return w.execute(ctx, func(ctx context.Context) error {
		return w.next.CancelCard(ctx, providerCardID)
	})
}
