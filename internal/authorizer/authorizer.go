package authorizer

/*
Пакет authorizer — ядро принятия решения по запросу на покупку.

Порядок проверок фиксирован: сначала жесткие лимиты агента, затем guardrails
организации (два независимых набора правил, агент ужесточает). Первый
провалившийся hard-check выигрывает. Триггеры эскалации на оператора
оцениваются только если ни один hard-check не провалился.

Все policy-исходы — значения (domain.Decision), а не ошибки. Ошибка из
Authorize означает инфраструктурный сбой (БД), а не отказ политики.
*/

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/merchant"
	"go.uber.org/zap"
)

// Request — логический вход авторизации (см. контракт шлюза).
type Request struct {
	AgentID      string
	Amount       decimal.Decimal
	Currency     string
	MerchantName string
	Description  string
}

// AgentSource отдает агента вместе с организацией одним обращением.
// (nil, nil, nil) — агент не найден.
type AgentSource interface {
	GetAgentWithOrg(ctx context.Context, agentID string) (*domain.Agent, *domain.Organization, error)
}

// Spends — период-скоуп суммы по уже одобренным покупкам.
type Spends interface {
	AgentDailySpend(ctx context.Context, agentID string) (decimal.Decimal, error)
	AgentMonthlySpend(ctx context.Context, agentID string) (decimal.Decimal, error)
	OrgMonthlySpend(ctx context.Context, orgID string) (decimal.Decimal, error)
}

// VendorChecker — проверка "новый ли вендор" в реестре мерчантов.
type VendorChecker interface {
	IsNewVendor(ctx context.Context, orgID, merchantName string) (bool, error)
}

type Authorizer struct {
	agents  AgentSource
	spends  Spends
	vendors VendorChecker
	logger  *zap.Logger
}

func New(agents AgentSource, spends Spends, vendors VendorChecker, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		agents:  agents,
		spends:  spends,
		vendors: vendors,
		logger:  logger.Named("authorizer"),
	}
}

// Authorize классифицирует запрос: approved / rejected / pending_approval.
// Чтение сумм и последующая запись решения должны выполняться под одной
// транзакцией с advisory-локом (см. Store.Serialize) — сам авторизатор
// блокировок не берет.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (domain.Decision, error) {
	// Fail-fast: неизвестный или неактивный агент
	agent, org, err := a.agents.GetAgentWithOrg(ctx, req.AgentID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("authorizer: load agent %s: %w", req.AgentID, err)
	}
	if agent == nil || org == nil {
		return domain.Rejected(domain.CodeAgentNotFound, "Agent not found"), nil
	}
	if agent.Status != domain.AgentActive {
		return domain.Rejected(domain.CodeAgentNotActive,
			fmt.Sprintf("Agent is %s and cannot make purchases", agent.Status)), nil
	}

	if !req.Amount.IsPositive() {
		return domain.Rejected(domain.CodeInvalidAmount, "Amount must be positive"), nil
	}

	ctl := agent.Controls
	rails := org.Guardrails

	// 1. Лимит агента на одну транзакцию
	if ctl.PerTransactionLimit != nil && req.Amount.GreaterThan(*ctl.PerTransactionLimit) {
		return domain.Rejected(domain.CodeOverTransactionLimit,
			fmt.Sprintf("Amount $%s exceeds per-transaction limit of $%s",
				req.Amount.StringFixed(2), ctl.PerTransactionLimit.StringFixed(2))), nil
	}

	// 2. Максимум организации на одну транзакцию
	if rails.MaxTransactionAmount != nil && req.Amount.GreaterThan(*rails.MaxTransactionAmount) {
		return domain.Rejected(domain.CodeOverOrgMaxTransaction,
			fmt.Sprintf("Amount $%s exceeds organization maximum of $%s",
				req.Amount.StringFixed(2), rails.MaxTransactionAmount.StringFixed(2))), nil
	}

	// 3. Дневной лимит агента
	if ctl.DailyLimit != nil {
		daily, err := a.spends.AgentDailySpend(ctx, agent.ID)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("authorizer: daily spend: %w", err)
		}
		if daily.Add(req.Amount).GreaterThan(*ctl.DailyLimit) {
			return domain.Rejected(domain.CodeDailyLimitExceeded,
				fmt.Sprintf("Daily spend would exceed limit of $%s (current: $%s)",
					ctl.DailyLimit.StringFixed(2), daily.StringFixed(2))), nil
		}
	}

	// 4. Месячный лимит агента
	if ctl.MonthlyLimit != nil {
		monthly, err := a.spends.AgentMonthlySpend(ctx, agent.ID)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("authorizer: monthly spend: %w", err)
		}
		if monthly.Add(req.Amount).GreaterThan(*ctl.MonthlyLimit) {
			return domain.Rejected(domain.CodeMonthlyLimitExceeded,
				fmt.Sprintf("Monthly spend would exceed limit of $%s (current: $%s)",
					ctl.MonthlyLimit.StringFixed(2), monthly.StringFixed(2))), nil
		}
	}

	// 5. Месячный бюджет организации
	if org.MonthlyBudget != nil {
		orgSpend, err := a.spends.OrgMonthlySpend(ctx, org.ID)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("authorizer: org spend: %w", err)
		}
		if orgSpend.Add(req.Amount).GreaterThan(*org.MonthlyBudget) {
			return domain.Rejected(domain.CodeOrgBudgetExceeded,
				fmt.Sprintf("Organization monthly budget of $%s would be exceeded (current: $%s)",
					org.MonthlyBudget.StringFixed(2), orgSpend.StringFixed(2))), nil
		}
	}

	// 6. Блок-лист агента (substring, case-insensitive)
	if merchant.MatchesAny(req.MerchantName, ctl.BlockedMerchants) {
		return domain.Rejected(domain.CodeMerchantBlocked,
			fmt.Sprintf("Merchant %q is blocked for this agent", req.MerchantName)), nil
	}

	// 7. Allow-list агента: если список непуст, мерчант обязан совпасть
	if len(ctl.AllowedMerchants) > 0 && !merchant.MatchesAny(req.MerchantName, ctl.AllowedMerchants) {
		return domain.Rejected(domain.CodeMerchantNotAllowed,
			fmt.Sprintf("Merchant %q is not in the allowed list", req.MerchantName)), nil
	}

	// 8. Заблокированные категории организации
	if merchant.MatchesAny(req.MerchantName, rails.BlockCategories) {
		return domain.Rejected(domain.CodeCategoryBlocked,
			fmt.Sprintf("Merchant %q matches a blocked category", req.MerchantName)), nil
	}

	// --- Триггеры эскалации (первое совпадение выигрывает) ---

	// 9. Порог агента
	if ctl.ApprovalThreshold != nil && req.Amount.GreaterThan(*ctl.ApprovalThreshold) {
		return domain.Escalated(domain.ReasonOverThreshold,
			fmt.Sprintf("Amount $%s exceeds approval threshold of $%s",
				req.Amount.StringFixed(2), ctl.ApprovalThreshold.StringFixed(2))), nil
	}

	// 10. Порог организации
	if rails.RequireApprovalAbove != nil && req.Amount.GreaterThan(*rails.RequireApprovalAbove) {
		return domain.Escalated(domain.ReasonOrgOverThreshold,
			fmt.Sprintf("Amount $%s exceeds organization approval threshold of $%s",
				req.Amount.StringFixed(2), rails.RequireApprovalAbove.StringFixed(2))), nil
	}

	// 11-12. Новый вендор (флаг агента или политика организации)
	if ctl.FlagNewVendors || rails.FlagAllNewVendors {
		isNew, err := a.vendors.IsNewVendor(ctx, org.ID, req.MerchantName)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("authorizer: vendor lookup: %w", err)
		}
		if isNew {
			if ctl.FlagNewVendors {
				return domain.Escalated(domain.ReasonNewVendor,
					fmt.Sprintf("First purchase from new vendor %q", req.MerchantName)), nil
			}
			return domain.Escalated(domain.ReasonNewVendorOrgPolicy,
				fmt.Sprintf("First purchase from new vendor %q (org policy)", req.MerchantName)), nil
		}
	}

	a.logger.Debug("purchase authorized",
		zap.String("agent_id", agent.ID),
		zap.String("merchant", req.MerchantName),
		zap.String("amount", req.Amount.StringFixed(2)))

	return domain.Approved(), nil
}
