package authorizer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeSources struct {
	agent *domain.Agent
	org   *domain.Organization

	daily    decimal.Decimal
	monthly  decimal.Decimal
	orgSpend decimal.Decimal

	newVendors map[string]bool
}

func (f *fakeSources) GetAgentWithOrg(ctx context.Context, agentID string) (*domain.Agent, *domain.Organization, error) {
	if f.agent == nil || f.agent.ID != agentID {
		return nil, nil, nil
	}
	return f.agent, f.org, nil
}

func (f *fakeSources) AgentDailySpend(ctx context.Context, agentID string) (decimal.Decimal, error) {
	return f.daily, nil
}

func (f *fakeSources) AgentMonthlySpend(ctx context.Context, agentID string) (decimal.Decimal, error) {
	return f.monthly, nil
}

func (f *fakeSources) OrgMonthlySpend(ctx context.Context, orgID string) (decimal.Decimal, error) {
	return f.orgSpend, nil
}

func (f *fakeSources) IsNewVendor(ctx context.Context, orgID, merchantName string) (bool, error) {
	return f.newVendors[merchantName], nil
}

func baseSources() *fakeSources {
	return &fakeSources{
		agent: &domain.Agent{
			ID:             "agent-1",
			OrganizationID: "org-1",
			Status:         domain.AgentActive,
		},
		org: &domain.Organization{
			ID:             "org-1",
			AlertThreshold: dec("0.8"),
		},
		newVendors: map[string]bool{},
	}
}

func TestAuthorizeHardLimits(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(f *fakeSources)
		amount   string
		merchant string
		wantCode string
	}{
		{
			name:     "unknown agent rejected",
			setup:    func(f *fakeSources) { f.agent.ID = "someone-else" },
			amount:   "10",
			wantCode: domain.CodeAgentNotFound,
		},
		{
			name:     "paused agent rejected",
			setup:    func(f *fakeSources) { f.agent.Status = domain.AgentPaused },
			amount:   "10",
			wantCode: domain.CodeAgentNotActive,
		},
		{
			name:     "suspended agent rejected",
			setup:    func(f *fakeSources) { f.agent.Status = domain.AgentSuspended },
			amount:   "10",
			wantCode: domain.CodeAgentNotActive,
		},
		{
			name:     "zero amount rejected",
			setup:    func(f *fakeSources) {},
			amount:   "0",
			wantCode: domain.CodeInvalidAmount,
		},
		{
			name:     "negative amount rejected",
			setup:    func(f *fakeSources) {},
			amount:   "-5",
			wantCode: domain.CodeInvalidAmount,
		},
		{
			name: "per-transaction limit",
			setup: func(f *fakeSources) {
				f.agent.Controls.PerTransactionLimit = decPtr("75")
			},
			amount:   "150",
			wantCode: domain.CodeOverTransactionLimit,
		},
		{
			name: "per-transaction limit exact amount passes",
			setup: func(f *fakeSources) {
				f.agent.Controls.PerTransactionLimit = decPtr("150")
			},
			amount:   "150",
			wantCode: "", // approved
		},
		{
			name: "org max transaction",
			setup: func(f *fakeSources) {
				f.org.Guardrails.MaxTransactionAmount = decPtr("200")
			},
			amount:   "250",
			wantCode: domain.CodeOverOrgMaxTransaction,
		},
		{
			name: "agent limit checked before org limit",
			setup: func(f *fakeSources) {
				f.agent.Controls.PerTransactionLimit = decPtr("75")
				f.org.Guardrails.MaxTransactionAmount = decPtr("100")
			},
			amount:   "150",
			wantCode: domain.CodeOverTransactionLimit,
		},
		{
			name: "daily limit cumulative",
			setup: func(f *fakeSources) {
				f.agent.Controls.DailyLimit = decPtr("100")
				f.daily = dec("80")
			},
			amount:   "30",
			wantCode: domain.CodeDailyLimitExceeded,
		},
		{
			name: "monthly limit cumulative",
			setup: func(f *fakeSources) {
				f.agent.Controls.MonthlyLimit = decPtr("500")
				f.monthly = dec("480")
			},
			amount:   "30",
			wantCode: domain.CodeMonthlyLimitExceeded,
		},
		{
			name: "monthly limit exact fit passes",
			setup: func(f *fakeSources) {
				f.agent.Controls.MonthlyLimit = decPtr("500")
				f.monthly = dec("480")
			},
			amount:   "20",
			wantCode: "",
		},
		{
			name: "org budget cumulative",
			setup: func(f *fakeSources) {
				f.org.MonthlyBudget = decPtr("1000")
				f.orgSpend = dec("990")
			},
			amount:   "20",
			wantCode: domain.CodeOrgBudgetExceeded,
		},
		{
			name: "blocked merchant substring",
			setup: func(f *fakeSources) {
				f.agent.Controls.BlockedMerchants = []string{"casino"}
			},
			amount:   "10",
			merchant: "Grand Casino Royale",
			wantCode: domain.CodeMerchantBlocked,
		},
		{
			name: "allow-list miss",
			setup: func(f *fakeSources) {
				f.agent.Controls.AllowedMerchants = []string{"aws", "github"}
			},
			amount:   "10",
			merchant: "DigitalOcean",
			wantCode: domain.CodeMerchantNotAllowed,
		},
		{
			name: "allow-list hit passes",
			setup: func(f *fakeSources) {
				f.agent.Controls.AllowedMerchants = []string{"aws", "github"}
			},
			amount:   "10",
			merchant: "GitHub, Inc.",
			wantCode: "",
		},
		{
			name: "blocked category",
			setup: func(f *fakeSources) {
				f.org.Guardrails.BlockCategories = []string{"gambling"}
			},
			amount:   "10",
			merchant: "Online Gambling Hub",
			wantCode: domain.CodeCategoryBlocked,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := baseSources()
			tc.setup(f)

			a := New(f, f, f, zap.NewNop())
			merchantName := tc.merchant
			if merchantName == "" {
				merchantName = "Acme Corp"
			}

			d, err := a.Authorize(context.Background(), Request{
				AgentID:      "agent-1",
				Amount:       dec(tc.amount),
				Currency:     "USD",
				MerchantName: merchantName,
			})
			require.NoError(t, err)

			if tc.wantCode == "" {
				assert.Equal(t, domain.OutcomeApproved, d.Outcome)
				return
			}
			assert.Equal(t, domain.OutcomeRejected, d.Outcome)
			assert.Equal(t, tc.wantCode, d.ReasonCode)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestAuthorizeEscalations(t *testing.T) {
	testCases := []struct {
		name       string
		setup      func(f *fakeSources)
		amount     string
		merchant   string
		wantReason string
	}{
		{
			name: "agent approval threshold",
			setup: func(f *fakeSources) {
				f.agent.Controls.ApprovalThreshold = decPtr("100")
			},
			amount:     "250",
			wantReason: domain.ReasonOverThreshold,
		},
		{
			name: "threshold exact amount does not escalate",
			setup: func(f *fakeSources) {
				f.agent.Controls.ApprovalThreshold = decPtr("250")
			},
			amount:     "250",
			wantReason: "",
		},
		{
			name: "org approval threshold",
			setup: func(f *fakeSources) {
				f.org.Guardrails.RequireApprovalAbove = decPtr("500")
			},
			amount:     "600",
			wantReason: domain.ReasonOrgOverThreshold,
		},
		{
			name: "agent threshold wins over org threshold",
			setup: func(f *fakeSources) {
				f.agent.Controls.ApprovalThreshold = decPtr("100")
				f.org.Guardrails.RequireApprovalAbove = decPtr("200")
			},
			amount:     "250",
			wantReason: domain.ReasonOverThreshold,
		},
		{
			name: "new vendor flag on agent",
			setup: func(f *fakeSources) {
				f.agent.Controls.FlagNewVendors = true
				f.newVendors["Fresh Vendor"] = true
			},
			amount:     "10",
			merchant:   "Fresh Vendor",
			wantReason: domain.ReasonNewVendor,
		},
		{
			name: "new vendor via org policy",
			setup: func(f *fakeSources) {
				f.org.Guardrails.FlagAllNewVendors = true
				f.newVendors["Fresh Vendor"] = true
			},
			amount:     "10",
			merchant:   "Fresh Vendor",
			wantReason: domain.ReasonNewVendorOrgPolicy,
		},
		{
			name: "known vendor not escalated",
			setup: func(f *fakeSources) {
				f.agent.Controls.FlagNewVendors = true
			},
			amount:     "10",
			merchant:   "Old Friend LLC",
			wantReason: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := baseSources()
			tc.setup(f)

			a := New(f, f, f, zap.NewNop())
			merchantName := tc.merchant
			if merchantName == "" {
				merchantName = "Acme Corp"
			}

			d, err := a.Authorize(context.Background(), Request{
				AgentID:      "agent-1",
				Amount:       dec(tc.amount),
				Currency:     "USD",
				MerchantName: merchantName,
			})
			require.NoError(t, err)

			if tc.wantReason == "" {
				assert.Equal(t, domain.OutcomeApproved, d.Outcome)
				return
			}
			assert.Equal(t, domain.OutcomePendingApproval, d.Outcome)
			assert.Equal(t, tc.wantReason, d.ReasonCode)
		})
	}
}

// Hard-check всегда сильнее эскалации: отказ не превращается в pending_approval.
func TestAuthorizeRejectionBeatsEscalation(t *testing.T) {
	f := baseSources()
	f.agent.Controls.PerTransactionLimit = decPtr("75")
	f.agent.Controls.ApprovalThreshold = decPtr("50")

	a := New(f, f, f, zap.NewNop())
	d, err := a.Authorize(context.Background(), Request{
		AgentID:      "agent-1",
		Amount:       dec("150"),
		Currency:     "USD",
		MerchantName: "Acme Corp",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeRejected, d.Outcome)
	assert.Equal(t, domain.CodeOverTransactionLimit, d.ReasonCode)
}
