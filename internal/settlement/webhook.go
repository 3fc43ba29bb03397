package settlement

/*
HTTP-приемник вебхуков платежной сети.

Контракт с сетью: подпись HMAC-SHA256 всего тела в X-Network-Signature.
Невалидная подпись — 401 без обработки. Ошибка обработки — 500, сеть
повторит доставку; идемпотентность гарантирует однократность эффектов.
*/

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Network-Signature"
	maxBodyBytes    = 1 << 20 // Сеть не шлет события больше мегабайта
)

type WebhookHandler struct {
	reconciler *Reconciler
	secret     string
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler *Reconciler, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		secret:     secret,
		logger:     logger.Named("webhook"),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature rejected", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt NetworkEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	if evt.ID == "" || evt.Type == "" {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.Handle(r.Context(), &evt); err != nil {
		// 500 — сеть повторит; дедупликация сделает повтор безопасным
		h.logger.Error("webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type),
			zap.Error(err))
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}
