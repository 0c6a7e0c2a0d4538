// Пакет server — HTTP-серверы ClaimIQ с graceful shutdown.
// Без TLS: HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/claimiq/internal/api/handlers"
	"github.com/bigkaa/claimiq/internal/api/middleware"
	"github.com/bigkaa/claimiq/internal/config"
)

// Server — HTTP-сервер одного из сервисов.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// APIHandlers — обработчики claim-intake.
type APIHandlers struct {
	Health  *handlers.HealthHandler
	Uploads *handlers.UploadHandler
	Claims  *handlers.ClaimsHandler
}

// NewAPI создаёт сервер claim-intake. auth — middleware аутентификации
// (JWT или заголовки режима разработки); применяется только к /api/v1.
func NewAPI(cfg *config.Config, logger *slog.Logger, h APIHandlers, auth func(http.Handler) http.Handler) *Server {
	router := newRouter(logger, h.Health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)

		r.Post("/uploads", h.Uploads.RequestUpload)
		r.Get("/uploads/{claimId}", h.Uploads.GetUploadStatus)

		r.Get("/claims", h.Claims.List)
		r.Get("/claims/{claimId}", h.Claims.Get)
		r.Get("/claims/{claimId}/audit", h.Claims.AuditTrail)
		r.With(middleware.RequireScope(middleware.ScopeClaimsTransition)).
			Post("/claims/{claimId}/transitions", h.Claims.Transition)
	})

	return newServer(cfg, logger, router)
}

// NewFinalizer создаёт сервер upload-finalizer для работы вне Lambda:
// уведомления MinIO приходят webhook-ом на /events/s3.
func NewFinalizer(cfg *config.Config, logger *slog.Logger, health *handlers.HealthHandler, ev *handlers.EventsHandler) *Server {
	router := newRouter(logger, health)
	router.Post("/events/s3", ev.ReceiveS3Event)
	return newServer(cfg, logger, router)
}

// newRouter — общие middleware и публичные endpoints.
// Health и metrics проверяются Kubernetes напрямую, без аутентификации.
func newRouter(logger *slog.Logger, health *handlers.HealthHandler) chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)
	return router
}

func newServer(cfg *config.Config, logger *slog.Logger, router chi.Router) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// Handler возвращает корневой обработчик (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// либо отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
