package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/bookflow/internal/console/handler"
	"github.com/xela07ax/bookflow/internal/infra"
	"github.com/xela07ax/bookflow/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	approvalHandler *handler.ApprovalHandler // /v1/approvals (HITL)
	sagaHandler     *handler.SagaHandler     // /v1/sagas
	policyHandler   *handler.PolicyHandler   // /v1/policies
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	approvalH *handler.ApprovalHandler,
	sagaH *handler.SagaHandler,
	policyH *handler.PolicyHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		authValidator:   validator,
		approvalHandler: approvalH,
		sagaHandler:     sagaH,
		policyHandler:   policyH,
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
		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь решений оператора
			r.Post("/actions/{id}/decide", s.approvalHandler.DecideAction)
			r.Post("/sagas/{id}/decide", s.approvalHandler.DecideSaga)
		})

		// Саги: подача плана и инспекция прогона
		r.Route("/v1/sagas", func(r chi.Router) {
			r.Post("/", s.sagaHandler.Submit)  // План -> сага -> очередь
			r.Get("/{id}", s.sagaHandler.Get)  // Сага + след аудита
		})

		// Политика риска (Policy Engine)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.policyHandler.GetActive)   // Активный документ
			r.Put("/", s.policyHandler.Update)      // Новая версия + сигнал
			r.Post("/reload", s.policyHandler.Reload) // Принудительный сигнал
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
