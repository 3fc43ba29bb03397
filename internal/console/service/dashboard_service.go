package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

// DashboardRepository — чтение агрегатов для дашборда консоли.
type DashboardRepository interface {
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	OrgSpendSince(ctx context.Context, orgID string, since time.Time) (decimal.Decimal, error)
	GetMonthlyVolume(ctx context.Context, orgID, month string) (*domain.MonthlyVolume, error)
	GetActivityStats(ctx context.Context, orgID string) (*domain.ActivityStats, error)
}

type DashboardService struct {
	repo DashboardRepository
	now  func() time.Time
}

func NewDashboardService(repo DashboardRepository) *DashboardService {
	return &DashboardService{repo: repo, now: time.Now}
}

// GetBudgetUtilization считает расход бюджета с начала календарного месяца.
// В расход входят approved и captured интенты: зарезервированные средства
// считаются потраченными до исхода сеттлмента.
func (s *DashboardService) GetBudgetUtilization(ctx context.Context, orgID string) (*domain.BudgetUtilization, error) {
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("dashboard: organization lookup: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("dashboard: organization %s not found", orgID)
	}

	spent, err := s.repo.OrgSpendSince(ctx, orgID, ledger.MonthStart(s.now()))
	if err != nil {
		return nil, fmt.Errorf("dashboard: org spend: %w", err)
	}

	out := &domain.BudgetUtilization{
		Spent:          spent,
		AlertThreshold: org.AlertThreshold.Mul(hundred),
	}

	// Без бюджета — только факт расхода, проценты не считаем
	if org.MonthlyBudget == nil || org.MonthlyBudget.IsZero() {
		return out, nil
	}

	budget := *org.MonthlyBudget
	remaining := budget.Sub(spent)
	percent := spent.Div(budget).Mul(hundred).Round(1)

	out.MonthlyBudget = &budget
	out.Remaining = &remaining
	out.PercentUsed = &percent
	out.IsOverThreshold = spent.GreaterThanOrEqual(budget.Mul(org.AlertThreshold))

	return out, nil
}

// GetVolumeInfo — объем текущего месяца, действующий тир
// и сколько осталось до следующего.
func (s *DashboardService) GetVolumeInfo(ctx context.Context, orgID string) (*domain.VolumeInfo, error) {
	month := billing.CurrentMonth(s.now())
	vol, err := s.repo.GetMonthlyVolume(ctx, orgID, month)
	if err != nil {
		return nil, fmt.Errorf("dashboard: monthly volume: %w", err)
	}

	tier := billing.TierForVolume(vol.TotalVolume)
	out := &domain.VolumeInfo{
		Month:            month,
		TotalVolume:      vol.TotalVolume,
		TransactionCount: vol.TransactionCount,
		FeeRevenue:       vol.FeeRevenue,
		Tier:             tier,
		ByRail:           vol.ByRail,
		CurrentRate:      billing.FormatRate(tier.BaseRate),
	}

	if next := billing.NextTier(tier); next != nil {
		toNext := next.MinVolume.Sub(vol.TotalVolume)
		rate := billing.FormatRate(next.BaseRate)
		out.NextTier = next
		out.VolumeToNextTier = &toNext
		out.NextTierRate = &rate
	}

	return out, nil
}

func (s *DashboardService) GetActivityStats(ctx context.Context, orgID string) (*domain.ActivityStats, error) {
	// здесь можно добавить кэширование в Redis на 1 минуту,
	// чтобы не нагружать Postgres тяжелыми аналитическими запросами.
	return s.repo.GetActivityStats(ctx, orgID)
}
