package engine

/*
Core — оркестратор data plane. Принимает запрос агента, прогоняет его через
авторизацию, ставит холд, выпускает карту и отдает реквизиты одним ответом.

Ключевая гарантия: решение и резервирование бюджета происходят в одной
транзакции под advisory-локами агента и организации (Store.Serialize) —
два конкурентных запроса, вместе не влезающих в лимит, не будут одобрены оба.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/audit"
	"github.com/xela07ax/agentpay-gateway/internal/authorizer"
	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"github.com/xela07ax/agentpay-gateway/internal/issuing"
	"github.com/xela07ax/agentpay-gateway/internal/merchant"
)

// Store — персистентность, нужная оркестратору.
type Store interface {
	Serialize(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
	CreateIntent(ctx context.Context, p *domain.PurchaseIntent) error
	GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error)
	TransitionIntent(ctx context.Context, id string, from, to domain.IntentStatus) error
	RejectIntent(ctx context.Context, id string, from domain.IntentStatus, code, message string) error
	SetIntentPreAuth(ctx context.Context, id, holdRef string) error
	CreatePendingApproval(ctx context.Context, a *domain.PendingApproval) error
	CreateCard(ctx context.Context, c *domain.VirtualCard) error
	GetCardByIntent(ctx context.Context, intentID string) (*domain.VirtualCard, error)
	CreateFee(ctx context.Context, f *domain.TransactionFee) error
	GetFeeByIntent(ctx context.Context, intentID string) (*domain.TransactionFee, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	TouchAgentActivity(ctx context.Context, id string) error
}

type Core struct {
	store      Store
	authorizer *authorizer.Authorizer
	calculator *billing.Calculator
	preauth    *issuing.FundingPreAuthorizer
	issuer     *issuing.CardIssuer
	vendors    *merchant.Registry
	trail      audit.Recorder
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewCore(
	store Store,
	auth *authorizer.Authorizer,
	calc *billing.Calculator,
	preauth *issuing.FundingPreAuthorizer,
	issuer *issuing.CardIssuer,
	vendors *merchant.Registry,
	trail audit.Recorder,
	metrics *Metrics,
	logger *zap.Logger,
) *Core {
	return &Core{
		store:      store,
		authorizer: auth,
		calculator: calc,
		preauth:    preauth,
		issuer:     issuer,
		vendors:    vendors,
		trail:      trail,
		metrics:    metrics,
		logger:     logger.Named("core"),
		now:        time.Now,
	}
}

// PurchaseRequest — логический контракт входа data plane.
type PurchaseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Merchant    struct {
		Name string `json:"name"`
		URL  string `json:"url,omitempty"`
	} `json:"merchant"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Rail     domain.Rail       `json:"rail,omitempty"`
}

type FeeBreakdown struct {
	Amount decimal.Decimal `json:"amount"`
	Rate   string          `json:"rate"`
	Tier   string          `json:"tier"`
}

// PurchaseResponse — один из трех исходов (см. Status).
type PurchaseResponse struct {
	Status           string `json:"status"`
	PurchaseIntentID string `json:"purchase_intent_id"`

	// rejected
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`

	// approved
	Card            *domain.CardDetails `json:"card,omitempty"`
	HardLimitAmount *decimal.Decimal    `json:"hard_limit_amount,omitempty"`
	Currency        string              `json:"currency,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	Fee             *FeeBreakdown       `json:"fee,omitempty"`
}

// ProcessPurchase — полный цикл: quote -> решение под локом -> выпуск карты.
func (c *Core) ProcessPurchase(ctx context.Context, agent *domain.Agent, req PurchaseRequest) (*PurchaseResponse, error) {
	start := c.now()
	traceID := extractTraceID(ctx)

	// Комиссия фиксируется сейчас по объему ДО этой транзакции и больше
	// не пересчитывается.
	quote, err := c.calculator.Quote(ctx, agent.OrganizationID, req.Amount, req.Rail)
	if err != nil {
		return nil, fmt.Errorf("engine: fee quote: %w", err)
	}

	intent := &domain.PurchaseIntent{
		ID:             uuid.New().String(),
		AgentID:        agent.ID,
		OrganizationID: agent.OrganizationID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		MerchantName:   req.Merchant.Name,
		MerchantURL:    req.Merchant.URL,
		Metadata:       req.Metadata,
		Status:         domain.IntentPending,
		Rail:           req.Rail,
		FeeAmount:      quote.FeeAmount,
		CreatedAt:      start,
		UpdatedAt:      start,
	}

	var decision domain.Decision
	var approvalID string

	// Решение + резервирование бюджета: один advisory-lock tx на
	// (агент, организация). Суммы пересчитываются уже под локом.
	err = c.store.Serialize(ctx, []string{"agent:" + agent.ID, "org:" + agent.OrganizationID},
		func(ctx context.Context) error {
			if err := c.store.CreateIntent(ctx, intent); err != nil {
				return err
			}

			var err error
			decision, err = c.authorizer.Authorize(ctx, authorizer.Request{
				AgentID:      agent.ID,
				Amount:       req.Amount,
				Currency:     req.Currency,
				MerchantName: req.Merchant.Name,
				Description:  req.Description,
			})
			if err != nil {
				return err
			}

			switch decision.Outcome {
			case domain.OutcomeApproved:
				// Статус approved = бюджет зарезервирован
				if err := c.store.TransitionIntent(ctx, intent.ID, domain.IntentPending, domain.IntentApproved); err != nil {
					return err
				}
				return c.createFeeRecord(ctx, intent, quote)

			case domain.OutcomeRejected:
				return c.store.RejectIntent(ctx, intent.ID, domain.IntentPending,
					decision.ReasonCode, decision.Message)

			case domain.OutcomePendingApproval:
				if err := c.store.TransitionIntent(ctx, intent.ID, domain.IntentPending, domain.IntentPendingApproval); err != nil {
					return err
				}
				approvalID = uuid.New().String()
				if err := c.store.CreatePendingApproval(ctx, &domain.PendingApproval{
					ID:               approvalID,
					PurchaseIntentID: intent.ID,
					OrganizationID:   agent.OrganizationID,
					AgentID:          agent.ID,
					Amount:           req.Amount,
					MerchantName:     req.Merchant.Name,
					ReasonCode:       decision.ReasonCode,
					ReasonDetails:    decision.Message,
					Status:           domain.ApprovalPending,
					CreatedAt:        c.now(),
					UpdatedAt:        c.now(),
				}); err != nil {
					return err
				}
				// Комиссия зафиксирована сейчас — после решения оператора
				// она не пересчитывается
				return c.createFeeRecord(ctx, intent, quote)
			}
			return fmt.Errorf("engine: unknown decision outcome %q", decision.Outcome)
		})
	if err != nil {
		return nil, fmt.Errorf("engine: decide intent %s: %w", intent.ID, err)
	}

	c.observeDecision(decision, start)
	c.record(intent, traceID, audit.EventDecision, string(decision.Outcome), decision.ReasonCode, start)

	switch decision.Outcome {
	case domain.OutcomeRejected:
		return &PurchaseResponse{
			Status:           "rejected",
			PurchaseIntentID: intent.ID,
			ReasonCode:       decision.ReasonCode,
			Message:          decision.Message,
		}, nil

	case domain.OutcomePendingApproval:
		return &PurchaseResponse{
			Status:           "pending_approval",
			PurchaseIntentID: intent.ID,
			Message:          decision.Message,
		}, nil
	}

	// approved: холд -> карта -> реквизиты агенту
	card, details, issueErr := c.issueForIntent(ctx, intent, quote.TotalToCharge)
	if issueErr != nil {
		return c.rejectedByIssuance(intent, issueErr), nil
	}

	if err := c.store.TouchAgentActivity(ctx, agent.ID); err != nil {
		c.logger.Warn("touch agent activity failed", zap.Error(err))
	}

	limit := intent.Amount
	return &PurchaseResponse{
		Status:           "approved",
		PurchaseIntentID: intent.ID,
		Card:             details,
		HardLimitAmount:  &limit,
		Currency:         intent.Currency,
		ExpiresAt:        &card.ExpiresAt,
		Fee: &FeeBreakdown{
			Amount: quote.FeeAmount,
			Rate:   billing.FormatRate(quote.EffectiveRate),
			Tier:   quote.Tier.Name,
		},
	}, nil
}

// issueErrCode классифицирует сбой выпуска в терминальный код интента.
type issueFailure struct {
	code    string
	message string
	cause   error
}

func (e *issueFailure) Error() string { return fmt.Sprintf("%s: %v", e.code, e.cause) }

// issueForIntent — общий путь выпуска для прямого одобрения и HITL.
// Интент уже в статусе approved; любой сбой компенсируется (снятие холда)
// и завершает интент как rejected.
func (c *Core) issueForIntent(ctx context.Context, intent *domain.PurchaseIntent, totalToCharge decimal.Decimal) (*domain.VirtualCard, *domain.CardDetails, error) {
	org, err := c.store.GetOrganization(ctx, intent.OrganizationID)
	if err != nil {
		return nil, nil, &issueFailure{code: domain.CodePreAuthFailed, message: "Funding lookup failed", cause: err}
	}

	hold, err := c.preauth.Hold(ctx, org, totalToCharge, intent.Currency, intent.ID)
	if err != nil {
		code := domain.CodePreAuthFailed
		message := "Failed to reserve funds on the funding instrument"
		if errors.Is(err, issuing.ErrNoFundingInstrument) {
			code = domain.CodeNoPaymentMethod
			message = "Organization has no funding instrument configured"
		}
		c.failIntent(ctx, intent, code, message)
		c.metrics.ErrorTotal.WithLabelValues("preauth_failed").Inc()
		return nil, nil, &issueFailure{code: code, message: message, cause: err}
	}

	if err := c.store.SetIntentPreAuth(ctx, intent.ID, hold.Ref); err != nil {
		c.releaseHold(ctx, hold.Ref, intent.ID)
		c.failIntent(ctx, intent, domain.CodePreAuthFailed, "Failed to persist funding hold")
		return nil, nil, &issueFailure{code: domain.CodePreAuthFailed, cause: err}
	}
	intent.PreAuthRef = &hold.Ref

	card, details, err := c.issuer.Issue(ctx, intent)
	if err != nil {
		// Обязательная компенсация: холд без карты не живет
		c.releaseHold(ctx, hold.Ref, intent.ID)
		c.failIntent(ctx, intent, domain.CodeCardCreationFailed, "Card issuing failed")
		c.metrics.ErrorTotal.WithLabelValues("issue_failed").Inc()
		return nil, nil, &issueFailure{code: domain.CodeCardCreationFailed, message: "Card issuing failed", cause: err}
	}

	if err := c.store.CreateCard(ctx, card); err != nil {
		// Карта выпущена, но не персистнута: гасим и компенсируем
		if cancelErr := c.issuer.Cancel(ctx, card.ProviderCardID); cancelErr != nil {
			c.logger.Error("card cancel after persist failure",
				zap.String("intent_id", intent.ID), zap.Error(cancelErr))
		}
		c.releaseHold(ctx, hold.Ref, intent.ID)
		c.failIntent(ctx, intent, domain.CodeCardCreationFailed, "Card persistence failed")
		return nil, nil, &issueFailure{code: domain.CodeCardCreationFailed, cause: err}
	}

	// Мерчант становится "известным" только после полного успеха выпуска
	if err := c.vendors.Record(ctx, intent.OrganizationID, intent.MerchantName); err != nil {
		c.logger.Warn("merchant record failed",
			zap.String("intent_id", intent.ID), zap.Error(err))
	}

	c.logger.Info("purchase approved, card issued",
		zap.String("intent_id", intent.ID),
		zap.String("agent_id", intent.AgentID),
		zap.String("amount", intent.Amount.StringFixed(2)),
		zap.String("last4", card.Last4))
	return card, details, nil
}

// CompleteApprovedIntent — продолжение HITL: оператор одобрил, шлюз выпускает
// карту. Реквизиты агенту синхронно не отдаются (он получит карту по запросу
// статуса); сбой выпуска компенсируется так же, как в прямом пути.
// Сериализация по интенту: Redis-сигнал и дожимка свипа могут прийти
// одновременно, карту при этом выпускаем ровно одну.
func (c *Core) CompleteApprovedIntent(ctx context.Context, intentID string) error {
	return c.store.Serialize(ctx, []string{"intent:" + intentID}, func(ctx context.Context) error {
		intent, err := c.store.GetIntent(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != domain.IntentApproved {
			c.logger.Warn("approval signal for non-approved intent",
				zap.String("intent_id", intentID), zap.String("status", string(intent.Status)))
			return nil
		}
		if card, err := c.store.GetCardByIntent(ctx, intentID); err != nil {
			return err
		} else if card != nil {
			return nil // Конкурент уже выпустил
		}

		fee, err := c.store.GetFeeByIntent(ctx, intentID)
		if err != nil {
			return err
		}
		total := intent.Amount.Add(intent.FeeAmount)
		if fee != nil {
			total = fee.TotalCharged
		}

		if _, _, issueErr := c.issueForIntent(ctx, intent, total); issueErr != nil {
			c.logger.Error("post-approval issuance failed",
				zap.String("intent_id", intentID), zap.Error(issueErr))
			return nil // Интент уже закрыт как rejected, ошибку не эскалируем
		}
		c.record(intent, extractTraceID(ctx), audit.EventApproval, "issued", "", c.now())
		return nil
	})
}

func (c *Core) createFeeRecord(ctx context.Context, intent *domain.PurchaseIntent, quote domain.FeeQuote) error {
	return c.store.CreateFee(ctx, &domain.TransactionFee{
		ID:                uuid.New().String(),
		PurchaseIntentID:  intent.ID,
		Rail:              intent.Rail,
		TransactionAmount: intent.Amount,
		VolumeTier:        quote.Tier.Name,
		BaseRate:          quote.BaseRate,
		RailMultiplier:    quote.RailMultiplier,
		EffectiveRate:     quote.EffectiveRate,
		FeeAmount:         quote.FeeAmount,
		TotalCharged:      quote.TotalToCharge,
		Status:            domain.FeePending,
		CreatedAt:         c.now(),
	})
}

// failIntent закрывает интент как rejected из статуса approved (компенсация).
func (c *Core) failIntent(ctx context.Context, intent *domain.PurchaseIntent, code, message string) {
	if err := c.store.RejectIntent(ctx, intent.ID, domain.IntentApproved, code, message); err != nil {
		c.logger.Error("compensating reject failed",
			zap.String("intent_id", intent.ID), zap.String("code", code), zap.Error(err))
	}
	c.record(intent, "", audit.EventDecision, "rejected", code, c.now())
}

func (c *Core) releaseHold(ctx context.Context, holdRef, intentID string) {
	if err := c.preauth.Release(ctx, holdRef); err != nil {
		// Осиротевший холд: истечет сам у провайдера, но фиксируем для оператора
		c.logger.Error("hold release failed",
			zap.String("intent_id", intentID),
			zap.String("hold_ref", holdRef),
			zap.Error(err))
	}
}

func (c *Core) rejectedByIssuance(intent *domain.PurchaseIntent, err error) *PurchaseResponse {
	var f *issueFailure
	if errors.As(err, &f) {
		return &PurchaseResponse{
			Status:           "rejected",
			PurchaseIntentID: intent.ID,
			ReasonCode:       f.code,
			Message:          f.message,
		}
	}
	return &PurchaseResponse{
		Status:           "rejected",
		PurchaseIntentID: intent.ID,
		ReasonCode:       domain.CodeCardCreationFailed,
		Message:          "Card issuing failed",
	}
}

func (c *Core) observeDecision(d domain.Decision, start time.Time) {
	c.metrics.DecisionTotal.WithLabelValues(string(d.Outcome), d.ReasonCode).Inc()
	c.metrics.RequestDuration.WithLabelValues(string(d.Outcome)).Observe(time.Since(start).Seconds())
}

func (c *Core) record(intent *domain.PurchaseIntent, traceID, eventType, outcome, reason string, start time.Time) {
	if c.trail == nil {
		return
	}
	c.trail.Record(audit.Event{
		ID:             uuid.New().String(),
		TraceID:        traceID,
		OrganizationID: intent.OrganizationID,
		AgentID:        intent.AgentID,
		IntentID:       intent.ID,
		EventType:      eventType,
		Outcome:        outcome,
		ReasonCode:     reason,
		Amount:         intent.Amount,
		Actor:          "gateway",
		Timestamp:      c.now(),
		DurationMs:     time.Since(start).Milliseconds(),
	})
}

// HandlePurchaseIntent — HTTP-обертка над ProcessPurchase.
func (c *Core) HandlePurchaseIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	agent := AgentFromContext(r.Context())
	if agent == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if len(req.Currency) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "currency must be a 3-letter code"})
		return
	}
	if req.Rail == "" {
		req.Rail = domain.RailCard
	}
	if req.Merchant.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "merchant.name is required"})
		return
	}

	resp, err := c.ProcessPurchase(r.Context(), agent, req)
	if err != nil {
		c.logger.Error("purchase processing failed",
			zap.String("agent_id", agent.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusOK
	if resp.Status == "rejected" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
