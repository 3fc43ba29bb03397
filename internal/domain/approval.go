package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Статусы State Machine для Human-in-the-loop
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Коды причин эскалации на оператора
const (
	ReasonOverThreshold      = "OVER_THRESHOLD"
	ReasonOrgOverThreshold   = "ORG_OVER_THRESHOLD"
	ReasonNewVendor          = "NEW_VENDOR"
	ReasonNewVendorOrgPolicy = "NEW_VENDOR_ORG_POLICY"
)

// PendingApproval — заявка на ручную проверку. Строго 1:1 с PurchaseIntent
// в статусе pending_approval.
type PendingApproval struct {
	ID               string          `json:"id"`
	PurchaseIntentID string          `json:"purchase_intent_id"`
	OrganizationID   string          `json:"organization_id"`
	AgentID          string          `json:"agent_id"`
	Amount           decimal.Decimal `json:"amount"`
	MerchantName     string          `json:"merchant_name"`
	ReasonCode       string          `json:"reason_code"`
	ReasonDetails    string          `json:"reason_details"`
	Status           ApprovalStatus  `json:"status"`

	ReviewedBy  *string    `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes *string    `json:"review_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Повторное решение по уже решенной заявке — конфликт (ALREADY_PROCESSED).
func (a *PendingApproval) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyProcessed
	}
	if next == ApprovalPending {
		return ErrInvalidTransition
	}
	return nil
}
