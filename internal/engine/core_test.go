package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/authorizer"
	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
	"github.com/xela07ax/agentpay-gateway/internal/ledger"
	"github.com/xela07ax/agentpay-gateway/internal/merchant"
)

// world — in-memory бэкенд для всех интерфейсов ядра сразу:
// engine.Store, authorizer.AgentSource, billing.VolumeSource, merchant.Store.
type world struct {
	agent *domain.Agent
	org   *domain.Organization

	intents   map[string]*domain.PurchaseIntent
	approvals []*domain.PendingApproval
	cards     []*domain.VirtualCard
	fees      map[string]*domain.TransactionFee
	merchants map[string]bool
	volume    decimal.Decimal
	touched   int
}

func newWorld() *world {
	return &world{
		agent: &domain.Agent{
			ID:             "agent-1",
			OrganizationID: "org-1",
			Status:         domain.AgentActive,
		},
		org: &domain.Organization{
			ID:                   "org-1",
			AlertThreshold:       decimal.NewFromFloat(0.8),
			FundingInstrumentRef: "fi_1",
		},
		intents:   map[string]*domain.PurchaseIntent{},
		fees:      map[string]*domain.TransactionFee{},
		merchants: map[string]bool{},
	}
}

// --- engine.Store ---

func (w *world) Serialize(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (w *world) CreateIntent(ctx context.Context, p *domain.PurchaseIntent) error {
	cp := *p
	w.intents[p.ID] = &cp
	return nil
}

func (w *world) GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error) {
	p, ok := w.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	cp := *p
	return &cp, nil
}

func (w *world) TransitionIntent(ctx context.Context, id string, from, to domain.IntentStatus) error {
	p := w.intents[id]
	if p == nil || p.Status != from {
		return domain.ErrInvalidTransition
	}
	p.Status = to
	return nil
}

func (w *world) RejectIntent(ctx context.Context, id string, from domain.IntentStatus, code, message string) error {
	p := w.intents[id]
	if p == nil || p.Status != from {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.IntentRejected
	p.RejectionCode = &code
	p.RejectionMessage = &message
	return nil
}

func (w *world) SetIntentPreAuth(ctx context.Context, id, holdRef string) error {
	ref := holdRef
	w.intents[id].PreAuthRef = &ref
	return nil
}

func (w *world) CreatePendingApproval(ctx context.Context, a *domain.PendingApproval) error {
	w.approvals = append(w.approvals, a)
	return nil
}

func (w *world) CreateCard(ctx context.Context, c *domain.VirtualCard) error {
	w.cards = append(w.cards, c)
	return nil
}

func (w *world) GetCardByIntent(ctx context.Context, intentID string) (*domain.VirtualCard, error) {
	for _, c := range w.cards {
		if c.PurchaseIntentID == intentID {
			return c, nil
		}
	}
	return nil, nil
}

func (w *world) CreateFee(ctx context.Context, f *domain.TransactionFee) error {
	w.fees[f.PurchaseIntentID] = f
	return nil
}

func (w *world) GetFeeByIntent(ctx context.Context, intentID string) (*domain.TransactionFee, error) {
	return w.fees[intentID], nil
}

func (w *world) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return w.org, nil
}

func (w *world) TouchAgentActivity(ctx context.Context, id string) error {
	w.touched++
	return nil
}

// --- authorizer.AgentSource / billing.VolumeSource / merchant.Store ---

func (w *world) GetAgentWithOrg(ctx context.Context, agentID string) (*domain.Agent, *domain.Organization, error) {
	if w.agent.ID != agentID {
		return nil, nil, nil
	}
	return w.agent, w.org, nil
}

func (w *world) GetMonthlyVolume(ctx context.Context, orgID, month string) (*domain.MonthlyVolume, error) {
	return &domain.MonthlyVolume{OrganizationID: orgID, Month: month, TotalVolume: w.volume}, nil
}

func (w *world) GetKnownMerchant(ctx context.Context, orgID, normalized string) (*domain.KnownMerchant, error) {
	if w.merchants[orgID+"|"+normalized] {
		return &domain.KnownMerchant{OrganizationID: orgID, MerchantNameNormalized: normalized}, nil
	}
	return nil, nil
}

func (w *world) UpsertKnownMerchant(ctx context.Context, orgID, merchantName, normalized string) error {
	w.merchants[orgID+"|"+normalized] = true
	return nil
}

// zeroSpends удовлетворяет ledger.SpendSource: расход всегда нулевой.
type zeroSpends struct{}

func (zeroSpends) AgentSpendSince(ctx context.Context, agentID string, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (zeroSpends) OrgSpendSince(ctx context.Context, orgID string, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// fakeProvider — управляемый платежный провайдер.
type fakeProvider struct {
	preauthErr error
	issueErr   error
	revealErr  error

	holds         []decimal.Decimal
	canceledHolds []string
	canceledCards []string
}

func (p *fakeProvider) Preauthorize(ctx context.Context, instrumentRef string, amount decimal.Decimal, currency string, metadata map[string]string) (*issuing.Hold, error) {
	if p.preauthErr != nil {
		return nil, p.preauthErr
	}
	p.holds = append(p.holds, amount)
	return &issuing.Hold{Ref: "hold_1", Amount: amount, Currency: currency}, nil
}

func (p *fakeProvider) Capture(ctx context.Context, holdRef string, amount decimal.Decimal) (*issuing.CaptureResult, error) {
	return &issuing.CaptureResult{CaptureRef: "cap_1", Amount: amount}, nil
}

func (p *fakeProvider) CancelHold(ctx context.Context, holdRef string) error {
	p.canceledHolds = append(p.canceledHolds, holdRef)
	return nil
}

func (p *fakeProvider) IssueCard(ctx context.Context, limit decimal.Decimal, currency string, metadata map[string]string) (*issuing.IssuedCard, error) {
	if p.issueErr != nil {
		return nil, p.issueErr
	}
	return &issuing.IssuedCard{ProviderCardID: "ic_1", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, nil
}

func (p *fakeProvider) RevealCardDetails(ctx context.Context, providerCardID string) (*domain.CardDetails, error) {
	if p.revealErr != nil {
		return nil, p.revealErr
	}
	return &domain.CardDetails{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}, nil
}

func (p *fakeProvider) CancelCard(ctx context.Context, providerCardID string) error {
	p.canceledCards = append(p.canceledCards, providerCardID)
	return nil
}

func newTestCore(w *world, p *fakeProvider) *Core {
	logger := zap.NewNop()
	auth := authorizer.New(w, ledger.New(zeroSpends{}), merchant.NewRegistry(w), logger)
	calc := billing.NewCalculator(w)
	preauth := issuing.NewFundingPreAuthorizer(p, logger)
	issuer := issuing.NewCardIssuer(p, 0, logger)
	return NewCore(w, auth, calc, preauth, issuer, merchant.NewRegistry(w), nil, NewMetrics(nil), logger)
}

func purchase(amount string) PurchaseRequest {
	req := PurchaseRequest{
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Description: "API credits",
		Rail:        domain.RailCard,
	}
	req.Merchant.Name = "Acme Corp"
	return req
}

func TestProcessPurchaseApproved(t *testing.T) {
	w := newWorld()
	p := &fakeProvider{}
	core := newTestCore(w, p)

	resp, err := core.ProcessPurchase(context.Background(), w.agent, purchase("300"))
	require.NoError(t, err)

	assert.Equal(t, "approved", resp.Status)
	require.NotNil(t, resp.Card)
	assert.Equal(t, "4242424242424242", resp.Card.Number)
	require.NotNil(t, resp.HardLimitAmount)
	assert.True(t, resp.HardLimitAmount.Equal(decimal.RequireFromString("300")))
	require.NotNil(t, resp.Fee)
	assert.True(t, resp.Fee.Amount.Equal(decimal.RequireFromString("9")))
	assert.Equal(t, "3.0%", resp.Fee.Rate)
	assert.Equal(t, "starter", resp.Fee.Tier)

	// Интент одобрен, бюджет зарезервирован, комиссия зафиксирована
	intent := w.intents[resp.PurchaseIntentID]
	require.NotNil(t, intent)
	assert.Equal(t, domain.IntentApproved, intent.Status)
	require.NotNil(t, intent.PreAuthRef)

	fee := w.fees[resp.PurchaseIntentID]
	require.NotNil(t, fee)
	assert.Equal(t, domain.FeePending, fee.Status)
	assert.True(t, fee.TotalCharged.Equal(decimal.RequireFromString("309")))

	// Холд = сумма + комиссия + 5% буфер
	require.Len(t, p.holds, 1)
	assert.True(t, p.holds[0].Equal(decimal.RequireFromString("324.45")), "hold %s", p.holds[0])

	require.Len(t, w.cards, 1)
	assert.Equal(t, domain.CardActive, w.cards[0].Status)
	assert.True(t, w.merchants["org-1|acme corp"], "merchant must be recorded after issuance")
	assert.Equal(t, 1, w.touched)
}

func TestProcessPurchaseRejected(t *testing.T) {
	w := newWorld()
	limit := decimal.RequireFromString("75")
	w.agent.Controls.PerTransactionLimit = &limit
	p := &fakeProvider{}
	core := newTestCore(w, p)

	resp, err := core.ProcessPurchase(context.Background(), w.agent, purchase("150"))
	require.NoError(t, err)

	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, domain.CodeOverTransactionLimit, resp.ReasonCode)
	assert.NotEmpty(t, resp.Message)

	intent := w.intents[resp.PurchaseIntentID]
	assert.Equal(t, domain.IntentRejected, intent.Status)

	// До провайдера дело не дошло, комиссии нет
	assert.Empty(t, p.holds)
	assert.Empty(t, w.cards)
	assert.Nil(t, w.fees[resp.PurchaseIntentID])
}

func TestProcessPurchaseEscalated(t *testing.T) {
	w := newWorld()
	threshold := decimal.RequireFromString("100")
	w.agent.Controls.ApprovalThreshold = &threshold
	p := &fakeProvider{}
	core := newTestCore(w, p)

	resp, err := core.ProcessPurchase(context.Background(), w.agent, purchase("250"))
	require.NoError(t, err)

	assert.Equal(t, "pending_approval", resp.Status)
	assert.Empty(t, resp.ReasonCode) // Причина эскалации агенту не отдается
	assert.Nil(t, resp.Card)

	intent := w.intents[resp.PurchaseIntentID]
	assert.Equal(t, domain.IntentPendingApproval, intent.Status)

	require.Len(t, w.approvals, 1)
	assert.Equal(t, domain.ReasonOverThreshold, w.approvals[0].ReasonCode)
	assert.Equal(t, domain.ApprovalPending, w.approvals[0].Status)

	// Комиссия зафиксирована на момент решения: после апрува не пересчитается
	require.NotNil(t, w.fees[resp.PurchaseIntentID])
	assert.Empty(t, p.holds)
}

func TestProcessPurchasePreauthFails(t *testing.T) {
	w := newWorld()
	p := &fakeProvider{preauthErr: errors.New("provider down")}
	core := newTestCore(w, p)

	resp, err := core.ProcessPurchase(context.Background(), w.agent, purchase("50"))
	require.NoError(t, err)

	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, domain.CodePreAuthFailed, resp.ReasonCode)

	// Компенсация: approved-интент закрыт как rejected
	intent := w.intents[resp.PurchaseIntentID]
	assert.Equal(t, domain.IntentRejected, intent.Status)
	require.NotNil(t, intent.RejectionCode)
	assert.Equal(t, domain.CodePreAuthFailed, *intent.RejectionCode)
	assert.Empty(t, w.cards)
}

func TestProcessPurchaseNoFundingInstrument(t *testing.T) {
	w := newWorld()
	w.org.FundingInstrumentRef = ""
	core := newTestCore(w, &fakeProvider{})

	resp, err := core.ProcessPurchase(context.Background(), w.agent, purchase("50"))
	require.NoError(t, err)

	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, domain.CodeNoPaymentMethod, resp.ReasonCode)
}

func TestProcessPurchaseIssueFailsReleasesHold(t *testing.T) {
	w := newWorld()
	p := &fakeProvider{issueErr: errors.New("issuing unavailable")}
	core := newTestCore(w, p)

	resp, err := core.ProcessPurchase(context.Background(), w.agent, purchase("50"))
	require.NoError(t, err)

	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, domain.CodeCardCreationFailed, resp.ReasonCode)

	// Холд без карты не живет
	require.Len(t, p.holds, 1)
	assert.Equal(t, []string{"hold_1"}, p.canceledHolds)
	assert.Equal(t, domain.IntentRejected, w.intents[resp.PurchaseIntentID].Status)

	// Мерчант НЕ стал известным: выпуск не состоялся
	assert.Empty(t, w.merchants)
}

func TestCompleteApprovedIntent(t *testing.T) {
	w := newWorld()
	p := &fakeProvider{}
	core := newTestCore(w, p)

	// Одобренный оператором интент с зафиксированной комиссией
	w.intents["int-1"] = &domain.PurchaseIntent{
		ID:             "int-1",
		AgentID:        "agent-1",
		OrganizationID: "org-1",
		Amount:         decimal.RequireFromString("250"),
		Currency:       "USD",
		Rail:           domain.RailCard,
		Status:         domain.IntentApproved,
		FeeAmount:      decimal.RequireFromString("7.50"),
	}
	w.fees["int-1"] = &domain.TransactionFee{
		ID:               "fee-1",
		PurchaseIntentID: "int-1",
		FeeAmount:        decimal.RequireFromString("7.50"),
		TotalCharged:     decimal.RequireFromString("257.50"),
		Status:           domain.FeePending,
	}

	require.NoError(t, core.CompleteApprovedIntent(context.Background(), "int-1"))

	require.Len(t, w.cards, 1)
	require.Len(t, p.holds, 1)
	// Холд от зафиксированного total, не от пересчета
	assert.True(t, p.holds[0].Equal(decimal.RequireFromString("270.38")), "hold %s", p.holds[0])
	assert.Equal(t, domain.IntentApproved, w.intents["int-1"].Status)
	require.NotNil(t, w.intents["int-1"].PreAuthRef)
}

func TestCompleteApprovedIntentWrongStatus(t *testing.T) {
	w := newWorld()
	core := newTestCore(w, &fakeProvider{})

	w.intents["int-1"] = &domain.PurchaseIntent{ID: "int-1", Status: domain.IntentCaptured}

	// Сигнал по уже закрытому интенту игнорируется без ошибки
	require.NoError(t, core.CompleteApprovedIntent(context.Background(), "int-1"))
	assert.Empty(t, w.cards)
}

func postIntent(t *testing.T, core *Core, agent *domain.Agent, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/purchase_intent", strings.NewReader(body))
	if agent != nil {
		req = req.WithContext(context.WithValue(req.Context(), agentKey, agent))
	}
	rec := httptest.NewRecorder()
	core.HandlePurchaseIntent(rec, req)
	return rec
}

func TestHandlePurchaseIntent(t *testing.T) {
	w := newWorld()
	core := newTestCore(w, &fakeProvider{})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/purchase_intent", nil)
		rec := httptest.NewRecorder()
		core.HandlePurchaseIntent(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("no agent in context", func(t *testing.T) {
		rec := postIntent(t, core, nil, `{"amount":"10","merchant":{"name":"Acme"}}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := postIntent(t, core, w.agent, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad currency", func(t *testing.T) {
		rec := postIntent(t, core, w.agent, `{"amount":"10","currency":"DOLLARS","merchant":{"name":"Acme"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "currency")
	})

	t.Run("missing merchant name", func(t *testing.T) {
		rec := postIntent(t, core, w.agent, `{"amount":"10"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "merchant.name")
	})

	t.Run("approved purchase", func(t *testing.T) {
		rec := postIntent(t, core, w.agent, `{"amount":"42.50","merchant":{"name":"Acme Corp"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PurchaseResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "approved", resp.Status)
		require.NotNil(t, resp.Card)
		assert.Equal(t, "USD", resp.Currency) // Дефолт валюты
	})

	t.Run("status poll returns card after approval", func(t *testing.T) {
		// Одобренный оператором интент: карта выпущена, агент забирает ее опросом
		w.intents["int-poll"] = &domain.PurchaseIntent{
			ID:      "int-poll",
			AgentID: w.agent.ID,
			Amount:  decimal.RequireFromString("250"),
			Status:  domain.IntentApproved,
		}
		w.cards = append(w.cards, &domain.VirtualCard{
			ID:               "card-poll",
			PurchaseIntentID: "int-poll",
			ProviderCardID:   "ic_poll",
			Status:           domain.CardActive,
		})

		req := httptest.NewRequest(http.MethodGet, "/v1/purchase_intent/int-poll", nil)
		req = req.WithContext(context.WithValue(req.Context(), agentKey, w.agent))
		rec := httptest.NewRecorder()
		core.HandleIntentStatus(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PurchaseResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "approved", resp.Status)
		require.NotNil(t, resp.Card)
		assert.Equal(t, "4242424242424242", resp.Card.Number)
	})

	t.Run("status poll hides foreign intent", func(t *testing.T) {
		other := &domain.Agent{ID: "agent-2", OrganizationID: "org-1", Status: domain.AgentActive}
		req := httptest.NewRequest(http.MethodGet, "/v1/purchase_intent/int-poll", nil)
		req = req.WithContext(context.WithValue(req.Context(), agentKey, other))
		rec := httptest.NewRecorder()
		core.HandleIntentStatus(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejected purchase is 422", func(t *testing.T) {
		limit := decimal.RequireFromString("5")
		w.agent.Controls.PerTransactionLimit = &limit
		defer func() { w.agent.Controls.PerTransactionLimit = nil }()

		rec := postIntent(t, core, w.agent, `{"amount":"10","merchant":{"name":"Acme"}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var resp PurchaseResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "rejected", resp.Status)
		assert.Equal(t, domain.CodeOverTransactionLimit, resp.ReasonCode)
	})
}
