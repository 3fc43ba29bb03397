package billing

/*
Пакет billing считает комиссию платформы: тир по месячному объему организации
и множитель платежного рельса.

Тиры (базовая ставка):
- starter:    0 – 5,000        → 3.0%
- growth:     5,001 – 25,000   → 2.5%
- business:   25,001 – 100,000 → 2.0%
- enterprise: 100,001+         → 1.5%

Тир берется по объему, НАКОПЛЕННОМУ ДО текущей транзакции: сама она попадет
в объем только после сеттлмента. Переходы тира внутри месяца монотонны.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

var (
	d5000   = decimal.NewFromInt(5000)
	d25000  = decimal.NewFromInt(25000)
	d100000 = decimal.NewFromInt(100000)

	// VolumeTiers упорядочены по возрастанию объема.
	VolumeTiers = []domain.VolumeTier{
		{Name: "starter", MinVolume: decimal.Zero, MaxVolume: &d5000, BaseRate: decimal.NewFromFloat(0.03)},
		{Name: "growth", MinVolume: decimal.NewFromInt(5001), MaxVolume: &d25000, BaseRate: decimal.NewFromFloat(0.025)},
		{Name: "business", MinVolume: decimal.NewFromInt(25001), MaxVolume: &d100000, BaseRate: decimal.NewFromFloat(0.02)},
		{Name: "enterprise", MinVolume: decimal.NewFromInt(100001), MaxVolume: nil, BaseRate: decimal.NewFromFloat(0.015)},
	}

	railMultipliers = map[domain.Rail]decimal.Decimal{
		domain.RailCard: decimal.NewFromInt(1),
		domain.RailACP:  decimal.NewFromInt(1),
		domain.RailAP2:  decimal.NewFromFloat(0.8),
		domain.RailX402: decimal.NewFromFloat(0.6),
		domain.RailL402: decimal.NewFromFloat(0.5),
	}
)

// CurrentMonth возвращает ключ месяца в формате YYYY-MM (UTC).
func CurrentMonth(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// TierForVolume подбирает тир по накопленному объему.
func TierForVolume(volume decimal.Decimal) domain.VolumeTier {
	for _, t := range VolumeTiers {
		if t.MaxVolume == nil || volume.LessThanOrEqual(*t.MaxVolume) {
			return t
		}
	}
	return VolumeTiers[0]
}

// RailMultiplier возвращает множитель рельса. Неизвестный рельс = 1.0x.
func RailMultiplier(rail domain.Rail) decimal.Decimal {
	if m, ok := railMultipliers[rail]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

// ceilCents округляет ВВЕРХ до цента: платформа никогда не недобирает комиссию.
func ceilCents(d decimal.Decimal) decimal.Decimal {
	return d.Mul(decimal.NewFromInt(100)).Ceil().Div(decimal.NewFromInt(100))
}

// QuoteForTier — чистый расчет комиссии без обращений к хранилищу.
func QuoteForTier(amount decimal.Decimal, tier domain.VolumeTier, rail domain.Rail) domain.FeeQuote {
	mult := RailMultiplier(rail)
	rate := tier.BaseRate.Mul(mult)
	fee := ceilCents(amount.Mul(rate))

	return domain.FeeQuote{
		Tier:           tier,
		BaseRate:       tier.BaseRate,
		RailMultiplier: mult,
		EffectiveRate:  rate,
		FeeAmount:      fee,
		TotalToCharge:  amount.Add(fee),
	}
}

// PreAuthHold — размер холда на фандинг-инструменте: сумма + комиссия + буфер.
// Буфер = max(5% от total, $1), итог округлен вверх до цента.
func PreAuthHold(totalToCharge decimal.Decimal) decimal.Decimal {
	buffer := totalToCharge.Mul(decimal.NewFromFloat(0.05))
	if buffer.LessThan(decimal.NewFromInt(1)) {
		buffer = decimal.NewFromInt(1)
	}
	return ceilCents(totalToCharge.Add(buffer))
}

// FormatRate печатает ставку для ответа агенту: "3.0%".
func FormatRate(rate decimal.Decimal) string {
	return fmt.Sprintf("%s%%", rate.Mul(decimal.NewFromInt(100)).StringFixed(1))
}

// VolumeSource — что калькулятору нужно от хранилища.
type VolumeSource interface {
	GetMonthlyVolume(ctx context.Context, orgID, month string) (*domain.MonthlyVolume, error)
}

// Calculator связывает чистый расчет с объемным леджером организации.
type Calculator struct {
	volumes VolumeSource
	now     func() time.Time
}

func NewCalculator(volumes VolumeSource) *Calculator {
	return &Calculator{volumes: volumes, now: time.Now}
}

// Quote выбирает тир по объему текущего месяца (до этой транзакции) и считает
// комиссию. Побочных эффектов нет: запись произойдет после сеттлмента.
func (c *Calculator) Quote(ctx context.Context, orgID string, amount decimal.Decimal, rail domain.Rail) (domain.FeeQuote, error) {
	month := CurrentMonth(c.now())

	vol, err := c.volumes.GetMonthlyVolume(ctx, orgID, month)
	if err != nil {
		return domain.FeeQuote{}, fmt.Errorf("billing: volume lookup for org %s: %w", orgID, err)
	}

	total := decimal.Zero
	if vol != nil {
		total = vol.TotalVolume
	}

	return QuoteForTier(amount, TierForVolume(total), rail), nil
}

// NextTier возвращает следующий тир после данного (nil для enterprise).
func NextTier(current domain.VolumeTier) *domain.VolumeTier {
	for i, t := range VolumeTiers {
		if t.Name == current.Name && i+1 < len(VolumeTiers) {
			next := VolumeTiers[i+1]
			return &next
		}
	}
	return nil
}
