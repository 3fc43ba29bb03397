package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Статусы жизненного цикла PurchaseIntent (State Machine)
type IntentStatus string

const (
	IntentPending         IntentStatus = "pending"          // Создан, решение еще не принято
	IntentRejected        IntentStatus = "rejected"         // Отклонен (policy или сбой провайдера)
	IntentPendingApproval IntentStatus = "pending_approval" // Ждет решения оператора (HITL)
	IntentApproved        IntentStatus = "approved"         // Карта выпущена, ждем событие сети
	IntentCaptured        IntentStatus = "captured"         // Средства списаны, интент закрыт
	IntentFailed          IntentStatus = "failed"           // Терминальный сбой (capture/expiry)
)

var (
	ErrInvalidTransition = errors.New("invalid intent status transition")
	ErrAlreadyProcessed  = errors.New("request already processed")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrIntentNotFound    = errors.New("purchase intent not found")
)

// Коды отказа policy-слоя. Отдаются агенту verbatim и никогда не ретраятся.
const (
	CodeAgentNotFound         = "AGENT_NOT_FOUND"
	CodeAgentNotActive        = "AGENT_NOT_ACTIVE"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeOverTransactionLimit  = "OVER_TRANSACTION_LIMIT"
	CodeOverOrgMaxTransaction = "OVER_ORG_MAX_TRANSACTION"
	CodeDailyLimitExceeded    = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded  = "MONTHLY_LIMIT_EXCEEDED"
	CodeOrgBudgetExceeded     = "ORG_BUDGET_EXCEEDED"
	CodeMerchantBlocked       = "MERCHANT_BLOCKED"
	CodeMerchantNotAllowed    = "MERCHANT_NOT_ALLOWED"
	CodeCategoryBlocked       = "CATEGORY_BLOCKED"

	// Коды отказа вне policy-слоя (сбои funding/issuing и ручное решение)
	CodeNoPaymentMethod    = "NO_PAYMENT_METHOD"
	CodePreAuthFailed      = "PREAUTH_FAILED"
	CodeCardCreationFailed = "CARD_CREATION_FAILED"
	CodeManuallyRejected   = "MANUALLY_REJECTED"
)

// PurchaseIntent — запись одного запроса на покупку и его исход.
type PurchaseIntent struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"` // Строго > 0
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	MerchantName   string          `json:"merchant_name"`
	MerchantURL    string          `json:"merchant_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	Status           IntentStatus `json:"status"`
	RejectionCode    *string      `json:"rejection_code,omitempty"`
	RejectionMessage *string      `json:"rejection_message,omitempty"`

	Rail      Rail            `json:"rail"`       // Платежный рельс (влияет на комиссию)
	FeeAmount decimal.Decimal `json:"fee_amount"` // Зафиксирована при создании, не пересчитывается

	// Ссылка на hold у внешнего провайдера (pre-authorization)
	PreAuthRef *string `json:"pre_auth_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Терминальный статус выставляется ровно один раз, возврата назад нет.
func (p *PurchaseIntent) CanTransitionTo(next IntentStatus) error {
	switch p.Status {
	case IntentPending:
		if next == IntentRejected || next == IntentPendingApproval || next == IntentApproved {
			return nil
		}
	case IntentPendingApproval:
		// Только решение человека: approve или reject
		if next == IntentApproved || next == IntentRejected {
			return nil
		}
	case IntentApproved:
		// Captured/failed — через SettlementReconciler и sweep.
		// Rejected — компенсация, когда выпуск карты сорвался уже после резерва.
		if next == IntentCaptured || next == IntentFailed || next == IntentRejected {
			return nil
		}
	case IntentRejected, IntentCaptured, IntentFailed:
		return ErrAlreadyProcessed
	}
	return ErrInvalidTransition
}

// IsTerminal сообщает, закрыт ли интент окончательно.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentRejected || s == IntentCaptured || s == IntentFailed
}

// IsValid проверяет, что статус из известного набора (фильтры консоли).
func (s IntentStatus) IsValid() bool {
	switch s {
	case IntentPending, IntentRejected, IntentPendingApproval,
		IntentApproved, IntentCaptured, IntentFailed:
		return true
	}
	return false
}
