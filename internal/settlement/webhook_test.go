package settlement

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

const testSecret = "whsec_test"

func newWebhook(store *memStore) *WebhookHandler {
	r := NewReconciler(store, &stubProvider{}, nil, zap.NewNop())
	return NewWebhookHandler(r, testSecret, zap.NewNop())
}

func postEvent(t *testing.T, h *WebhookHandler, evt *NetworkEvent, sign func([]byte) string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(evt)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/network", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHappyPath(t *testing.T) {
	store := newMemStore()
	seedApprovedPurchase(store)
	h := newWebhook(store)

	rec := postEvent(t, h, authEvent("evt_1", "84.99"), func(b []byte) string {
		return SignBody(testSecret, b)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, domain.IntentCaptured, store.intents["int-1"].Status)
}

func TestWebhookBadSignature(t *testing.T) {
	store := newMemStore()
	seedApprovedPurchase(store)
	h := newWebhook(store)

	rec := postEvent(t, h, authEvent("evt_1", "84.99"), func(b []byte) string {
		return SignBody("wrong-secret", b)
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// Событие не дошло до реконсиляции
	assert.Equal(t, domain.IntentApproved, store.intents["int-1"].Status)
}

func TestWebhookMalformedEvent(t *testing.T) {
	h := newWebhook(newMemStore())

	body := []byte(`{"type":""}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/network", bytes.NewReader(body))
	req.Header.Set(signatureHeader, SignBody(testSecret, body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := newWebhook(newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/network", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookUnknownTypeAccepted(t *testing.T) {
	h := newWebhook(newMemStore())

	evt := &NetworkEvent{ID: "evt_7", Type: "balance.updated",
		Data: EventData{Amount: decimal.Zero}}
	rec := postEvent(t, h, evt, func(b []byte) string {
		return SignBody(testSecret, b)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}
