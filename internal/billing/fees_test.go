package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

func TestTierForVolume(t *testing.T) {
	testCases := []struct {
		name     string
		volume   string
		wantTier string
	}{
		{"zero volume", "0", "starter"},
		{"starter upper bound", "5000", "starter"},
		{"growth lower bound", "5000.01", "growth"},
		{"growth upper bound", "25000", "growth"},
		{"business", "50000", "business"},
		{"business upper bound", "100000", "business"},
		{"enterprise", "100000.01", "enterprise"},
		{"enterprise large", "5000000", "enterprise"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tier := TierForVolume(decimal.RequireFromString(tc.volume))
			assert.Equal(t, tc.wantTier, tier.Name)
		})
	}
}

func TestQuoteForTier(t *testing.T) {
	testCases := []struct {
		name     string
		amount   string
		volume   string
		rail     domain.Rail
		wantFee  string
		wantRate string
	}{
		// Объем $4,800 — тир всё еще starter, тариф полный
		{"starter card", "300", "4800", domain.RailCard, "9", "0.03"},
		{"growth card", "300", "10000", domain.RailCard, "7.5", "0.025"},
		{"business card", "1000", "50000", domain.RailCard, "20", "0.02"},
		{"enterprise card", "1000", "200000", domain.RailCard, "15", "0.015"},
		// Рельсы дешевле карты
		{"starter ap2", "100", "0", domain.RailAP2, "2.4", "0.024"},
		{"starter x402", "100", "0", domain.RailX402, "1.8", "0.018"},
		{"starter l402", "100", "0", domain.RailL402, "1.5", "0.015"},
		{"acp same as card", "100", "0", domain.RailACP, "3", "0.03"},
		// Округление вверх до цента: 33.33 * 0.03 = 0.9999 → 1.00
		{"fee rounds up", "33.33", "0", domain.RailCard, "1", "0.03"},
		// 0.10 * 0.03 = 0.003 → 0.01, комиссия не бывает нулевой на ненулевой сумме
		{"tiny amount", "0.10", "0", domain.RailCard, "0.01", "0.03"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tc.amount)
			tier := TierForVolume(decimal.RequireFromString(tc.volume))

			q := QuoteForTier(amount, tier, tc.rail)

			assert.True(t, q.FeeAmount.Equal(decimal.RequireFromString(tc.wantFee)),
				"fee = %s, want %s", q.FeeAmount, tc.wantFee)
			assert.True(t, q.EffectiveRate.Equal(decimal.RequireFromString(tc.wantRate)),
				"rate = %s, want %s", q.EffectiveRate, tc.wantRate)
			assert.True(t, q.TotalToCharge.Equal(amount.Add(q.FeeAmount)))
		})
	}
}

func TestPreAuthHold(t *testing.T) {
	testCases := []struct {
		name  string
		total string
		want  string
	}{
		// 5% от 309 = 15.45 > $1
		{"percent buffer", "309", "324.45"},
		// 5% от 10 = 0.50 < $1 — берем доллар
		{"dollar floor", "10", "11"},
		{"boundary 20", "20", "21"},
		// 5% от 20.01 = 1.0005, итог 21.0105 → 21.02
		{"rounds up", "20.01", "21.02"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := PreAuthHold(decimal.RequireFromString(tc.total))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
				"hold = %s, want %s", got, tc.want)
		})
	}
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "3.0%", FormatRate(decimal.NewFromFloat(0.03)))
	assert.Equal(t, "1.5%", FormatRate(decimal.NewFromFloat(0.015)))
	assert.Equal(t, "2.4%", FormatRate(decimal.NewFromFloat(0.024)))
}

func TestNextTier(t *testing.T) {
	next := NextTier(VolumeTiers[0])
	require.NotNil(t, next)
	assert.Equal(t, "growth", next.Name)

	assert.Nil(t, NextTier(VolumeTiers[len(VolumeTiers)-1]))
}

type stubVolumes struct {
	vol *domain.MonthlyVolume
	err error
}

func (s *stubVolumes) GetMonthlyVolume(ctx context.Context, orgID, month string) (*domain.MonthlyVolume, error) {
	return s.vol, s.err
}

func TestCalculatorQuote(t *testing.T) {
	calc := NewCalculator(&stubVolumes{vol: &domain.MonthlyVolume{
		TotalVolume: decimal.NewFromInt(4800),
	}})
	calc.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }

	q, err := calc.Quote(context.Background(), "org-1", decimal.NewFromInt(300), domain.RailCard)
	require.NoError(t, err)

	// Тир выбран по объему ДО транзакции: starter, хотя 4800+300 > 5000
	assert.Equal(t, "starter", q.Tier.Name)
	assert.True(t, q.FeeAmount.Equal(decimal.NewFromInt(9)))
	assert.True(t, q.TotalToCharge.Equal(decimal.NewFromInt(309)))
}

func TestCalculatorQuoteNoVolumeRow(t *testing.T) {
	calc := NewCalculator(&stubVolumes{vol: nil})

	q, err := calc.Quote(context.Background(), "org-new", decimal.NewFromInt(100), domain.RailCard)
	require.NoError(t, err)
	assert.Equal(t, "starter", q.Tier.Name)
}

func TestCurrentMonth(t *testing.T) {
	// Ключ месяца всегда в UTC, независимо от зоны входа
	loc := time.FixedZone("UTC+14", 14*3600)
	assert.Equal(t, "2026-08", CurrentMonth(time.Date(2026, 9, 1, 0, 30, 0, 0, loc)))
	assert.Equal(t, "2026-08", CurrentMonth(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)))
}
