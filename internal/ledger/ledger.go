package ledger

/*
Пакет ledger считает расход агента/организации за скользящие периоды.
"Расход" — это сумма purchase intents в статусах approved/captured:
отклоненные и ждущие апрува заявки бюджет не тратят.

Границы периодов: день — локальная полночь, месяц — первое число.
*/

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DayStart — локальная полночь для данного момента.
func DayStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// MonthStart — первое число месяца, локальная полночь.
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// SpendSource — агрегирующие выборки по настоящим записям покупок.
type SpendSource interface {
	AgentSpendSince(ctx context.Context, agentID string, since time.Time) (decimal.Decimal, error)
	OrgSpendSince(ctx context.Context, orgID string, since time.Time) (decimal.Decimal, error)
}

// BudgetLedger — read-only агрегатор. Многочисленные читатели допустимы;
// сериализацию "проверка + запись" обеспечивает транзакция авторизации,
// а не этот слой.
type BudgetLedger struct {
	source SpendSource
	now    func() time.Time
}

func New(source SpendSource) *BudgetLedger {
	return &BudgetLedger{source: source, now: time.Now}
}

func (l *BudgetLedger) AgentDailySpend(ctx context.Context, agentID string) (decimal.Decimal, error) {
	return l.source.AgentSpendSince(ctx, agentID, DayStart(l.now()))
}

func (l *BudgetLedger) AgentMonthlySpend(ctx context.Context, agentID string) (decimal.Decimal, error) {
	return l.source.AgentSpendSince(ctx, agentID, MonthStart(l.now()))
}

func (l *BudgetLedger) OrgMonthlySpend(ctx context.Context, orgID string) (decimal.Decimal, error) {
	return l.source.OrgSpendSince(ctx, orgID, MonthStart(l.now()))
}
