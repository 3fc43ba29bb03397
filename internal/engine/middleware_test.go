package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

func TestHashAPIKey(t *testing.T) {
	h := HashAPIKey("sk_test_123")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashAPIKey("sk_test_123"))
	assert.NotEqual(t, h, HashAPIKey("sk_test_124"))
}

func TestTracingMiddleware(t *testing.T) {
	var got string
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = extractTraceID(r.Context())
	}))

	// Пришедший от клиента ID сохраняется
	req := httptest.NewRequest(http.MethodPost, "/v1/purchase_intent", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "trace-abc", got)
	assert.Equal(t, "trace-abc", rec.Header().Get("X-Trace-ID"))

	// Без заголовка — генерируется и возвращается клиенту
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/purchase_intent", nil))
	assert.NotEmpty(t, got)
	assert.Equal(t, got, rec.Header().Get("X-Trace-ID"))
}

type keyStore struct {
	agents map[string]*domain.Agent // по хэшу ключа
	err    error
}

func (s *keyStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.agents[hash], nil
}

func TestAPIKeyMiddleware(t *testing.T) {
	agent := &domain.Agent{ID: "agent-1", OrganizationID: "org-1", Status: domain.AgentActive}
	store := &keyStore{agents: map[string]*domain.Agent{
		HashAPIKey("sk_live_good"): agent,
	}}

	statuses := NewAgentStatusManager(nil, nil, zap.NewNop())

	var seen *domain.Agent
	handler := APIKeyMiddleware(store, statuses, zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = AgentFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	do := func(authHeader string) *httptest.ResponseRecorder {
		seen = nil
		req := httptest.NewRequest(http.MethodPost, "/v1/purchase_intent", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing key", func(t *testing.T) {
		rec := do("")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, seen)
	})

	t.Run("not bearer", func(t *testing.T) {
		rec := do("Basic abc")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		rec := do("Bearer sk_live_wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown API key")
	})

	t.Run("store failure", func(t *testing.T) {
		store.err = errors.New("db down")
		rec := do("Bearer sk_live_good")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		store.err = nil
	})

	t.Run("valid key", func(t *testing.T) {
		rec := do("Bearer sk_live_good")
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "agent-1", seen.ID)
	})

	t.Run("suspended agent is cut off", func(t *testing.T) {
		statuses.apply("agent-1", domain.AgentSuspended)
		rec := do("Bearer sk_live_good")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "kill_switch")
		assert.Nil(t, seen)
	})
}

func TestAgentStatusManager(t *testing.T) {
	m := NewAgentStatusManager(nil, nil, zap.NewNop())

	assert.Equal(t, domain.AgentActive, m.Status("agent-1"))

	m.apply("agent-1", domain.AgentPaused)
	assert.Equal(t, domain.AgentPaused, m.Status("agent-1"))

	m.apply("agent-1", domain.AgentSuspended)
	assert.Equal(t, domain.AgentSuspended, m.Status("agent-1"))

	// Возврат в строй чистит обе мапы
	m.apply("agent-1", domain.AgentActive)
	assert.Equal(t, domain.AgentActive, m.Status("agent-1"))
}
