package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentpay-gateway/internal/console/handler"
	"github.com/xela07ax/agentpay-gateway/internal/infra"
	"github.com/xela07ax/agentpay-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256).
	// Реализуется через embedding BaseValidator в AgentService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler      // /auth/token
	agentHandler    *handler.AgentHandler     // /v1/agents
	approvalHandler *handler.ApprovalHandler  // /v1/approvals (HITL)
	intentHandler   *handler.IntentHandler    // /v1/intents (история покупок)
	dashHandler     *handler.DashboardHandler // /api/v1/dashboard
	auditHandler    *handler.AuditHandler     // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	approvalH *handler.ApprovalHandler,
	intentH *handler.IntentHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		authValidator:   validator,
		authHandler:     authH,
		agentHandler:    agentH,
		approvalHandler: approvalH,
		intentHandler:   intentH,
		dashHandler:     dashH,
		auditHandler:    auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard: бюджет, объем/тир, операционная сводка
		r.Route("/api/v1/dashboard", func(r chi.Router) {
			r.Get("/budget", s.dashHandler.GetBudget)
			r.Get("/volume", s.dashHandler.GetVolume)
			r.Get("/stats", s.dashHandler.GetStats)
		})

		// Управление Агентами (Pause / Resume / Kill-Switch)
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List) // Агенты организации
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)             // Информация об агенте
				r.Post("/pause", s.agentHandler.Pause)     // Временная остановка
				r.Post("/resume", s.agentHandler.Resume)   // Возврат в работу
				r.Post("/suspend", s.agentHandler.Suspend) // Kill-switch
			})
		})

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь запросов на проверку
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide) // Approve/Reject + Redis Publish
			})
		})

		// История покупок (read-only)
		r.Route("/v1/intents", func(r chi.Router) {
			r.Get("/", s.intentHandler.List)
			r.Get("/{id}", s.intentHandler.Get)
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
