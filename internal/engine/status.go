package engine

/*
Опрос статуса интента агентом. Основной потребитель — HITL-путь: ответ
на создание был pending_approval, и после решения оператора агент забирает
карту отсюда (синхронно ему никто ее не доставляет).
*/

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/billing"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// HandleIntentStatus — GET /v1/purchase_intent/{id}.
func (c *Core) HandleIntentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET allowed", http.StatusMethodNotAllowed)
		return
	}

	agent := AgentFromContext(r.Context())
	if agent == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	intentID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/purchase_intent/"), "/")
	if intentID == "" || strings.Contains(intentID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "intent id is required"})
		return
	}

	intent, err := c.store.GetIntent(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, domain.ErrIntentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "purchase intent not found"})
			return
		}
		c.logger.Error("intent status lookup failed", zap.String("intent_id", intentID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	// Чужой интент неотличим от несуществующего
	if intent.AgentID != agent.ID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "purchase intent not found"})
		return
	}

	resp := &PurchaseResponse{
		Status:           string(intent.Status),
		PurchaseIntentID: intent.ID,
	}
	if intent.RejectionCode != nil {
		resp.ReasonCode = *intent.RejectionCode
	}
	if intent.RejectionMessage != nil {
		resp.Message = *intent.RejectionMessage
	}

	if intent.Status == domain.IntentApproved {
		c.attachCard(r.Context(), intent, resp)
	}

	writeJSON(w, http.StatusOK, resp)
}

// attachCard дополняет ответ реквизитами активной карты. Сбой reveal не
// ломает опрос статуса: агент повторит запрос.
func (c *Core) attachCard(ctx context.Context, intent *domain.PurchaseIntent, resp *PurchaseResponse) {
	card, err := c.store.GetCardByIntent(ctx, intent.ID)
	if err != nil || card == nil || card.Status != domain.CardActive {
		if err != nil {
			c.logger.Warn("card lookup for status poll failed",
				zap.String("intent_id", intent.ID), zap.Error(err))
		}
		return
	}

	details, err := c.issuer.Reveal(ctx, card.ProviderCardID)
	if err != nil {
		c.logger.Warn("card reveal for status poll failed",
			zap.String("intent_id", intent.ID), zap.Error(err))
		return
	}

	limit := intent.Amount
	resp.Card = details
	resp.HardLimitAmount = &limit
	resp.Currency = intent.Currency
	resp.ExpiresAt = &card.ExpiresAt
	if fee, err := c.store.GetFeeByIntent(ctx, intent.ID); err == nil && fee != nil {
		resp.Fee = &FeeBreakdown{
			Amount: fee.FeeAmount,
			Rate:   billing.FormatRate(fee.EffectiveRate),
			Tier:   fee.VolumeTier,
		}
	}
}
