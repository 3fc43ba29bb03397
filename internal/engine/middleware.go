package engine

/*
HTTP-пайплайн data plane: Trace-ID -> API-key аутентификация -> отсечка
по статусу агента (L1-кэш) -> обработчик интента.
*/

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay-gateway/internal/domain"
	"go.uber.org/zap"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	agentKey   ctxKey = "agent"
)

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от агента/прокси)
		traceID := r.Header.Get("X-Trace-ID")

		// 2. Если его нет — генерируем новый
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// 3. Кладем в контекст
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// 4. Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID помогает безопасно достать ID в любом месте кода
func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

// HashAPIKey — каноничный хэш ключа агента. В БД лежит только он.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AgentKeyStore — выборка агента по хэшу ключа для аутентификации.
type AgentKeyStore interface {
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*domain.Agent, error)
}

// APIKeyMiddleware аутентифицирует агента по ключу из Authorization: Bearer.
// Паузу/suspend проверяем сразу из L1-кэша — дешевле, чем ронять запрос
// глубже по пайплайну.
func APIKeyMiddleware(agents AgentKeyStore, statuses *AgentStatusManager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			key := strings.TrimPrefix(header, "Bearer ")
			if key == "" || key == header {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "unauthorized", "message": "missing API key"}`))
				return
			}

			agent, err := agents.GetAgentByAPIKeyHash(r.Context(), HashAPIKey(key))
			if err != nil {
				logger.Error("agent auth lookup failed", zap.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if agent == nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "unauthorized", "message": "unknown API key"}`))
				return
			}

			// Suspended — жесткая блокировка еще до БД-проверок авторизации
			if statuses != nil && statuses.Status(agent.ID) == domain.AgentSuspended {
				logger.Warn("intercepted suspended agent request", zap.String("agent_id", agent.ID))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error": "agent_suspended", "reason": "kill_switch"}`))
				return
			}

			ctx := context.WithValue(r.Context(), agentKey, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentFromContext достает аутентифицированного агента.
func AgentFromContext(ctx context.Context) *domain.Agent {
	if a, ok := ctx.Value(agentKey).(*domain.Agent); ok {
		return a
	}
	return nil
}
