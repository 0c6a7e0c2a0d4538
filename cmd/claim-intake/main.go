// Точка входа claim-intake — API приёма претензий.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL и S3,
// выбирает хранилище журнала аудита, создаёт сервисы и HTTP-обработчики,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/claimiq/internal/api/handlers"
	"github.com/bigkaa/claimiq/internal/api/middleware"
	"github.com/bigkaa/claimiq/internal/audit"
	"github.com/bigkaa/claimiq/internal/awsutil"
	"github.com/bigkaa/claimiq/internal/config"
	"github.com/bigkaa/claimiq/internal/database"
	"github.com/bigkaa/claimiq/internal/domain/admission"
	"github.com/bigkaa/claimiq/internal/repository"
	"github.com/bigkaa/claimiq/internal/server"
	"github.com/bigkaa/claimiq/internal/service"
	"github.com/bigkaa/claimiq/internal/storage/objectstore"
)

const serviceName = "claim-intake"

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		slog.Error("Ошибка конфигурации API", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("claim-intake запускается",
		slog.Int("port", cfg.Port),
		slog.String("bucket", cfg.S3Bucket),
		slog.String("audit_backend", cfg.AuditBackend),
		slog.Int64("max_file_size", cfg.MaxFileSize),
	)
	if cfg.DevBypassAuth {
		logger.Warn("CQ_DEV_BYPASS_AUTH=true: tenant берётся из заголовков, JWT не проверяется")
	}

	// 2. Миграции и PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 3. AWS
	aws, err := awsutil.Load(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		logger.Error("Ошибка инициализации AWS SDK", slog.String("error", err.Error()))
		os.Exit(1)
	}
	store := objectstore.NewS3Store(aws.S3, cfg.S3Bucket, cfg.S3UseKMS)

	// 4. Repositories и журнал аудита
	claimRepo := repository.NewClaimRepository(pool)

	var (
		sink  audit.Sink
		trail service.AuditReader
	)
	switch cfg.AuditBackend {
	case config.AuditBackendDynamoDB:
		sink = audit.NewDynamoSink(aws.DynamoDB, cfg.AuditTable)
		logger.Info("Журнал аудита в DynamoDB", slog.String("table", cfg.AuditTable))
	default:
		auditRepo := repository.NewAuditRepository(pool)
		sink, trail = auditRepo, auditRepo
	}
	auditLog := audit.NewLogger(sink, logger)

	// 5. Services
	duplicates := service.NewDuplicateDetector(claimRepo, cfg.DuplicateCacheSize, cfg.DuplicateCacheTTL)
	uploadSvc := service.NewUploadService(
		claimRepo, store, duplicates, auditLog,
		admission.NewPolicy(cfg.MaxFileSize),
		cfg.PresignTTL,
		logger,
	)
	claimSvc := service.NewClaimService(claimRepo, auditLog, trail, logger)

	// 6. Аутентификация
	var auth func(http.Handler) http.Handler
	if cfg.DevBypassAuth {
		auth = middleware.DevHeaderAuth(logger)
	} else {
		jwtAuth, err := middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, cfg.JWKSRefreshInterval, cfg.JWTLeeway, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		auth = jwtAuth.Middleware()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}

	// 7. Readiness
	checks := []handlers.NamedChecker{
		{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
	}
	if cfg.JWTJWKSURL != "" {
		checks = append(checks, handlers.NamedChecker{
			Name:    "jwks",
			Checker: middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, 3*time.Second),
		})
	}

	// 8. topologymetrics
	dephealthSvc := startDephealth(ctx, cfg, pgDB, logger)

	// 9. HTTP-сервер
	srv := server.NewAPI(cfg, logger, server.APIHandlers{
		Health:  handlers.NewHealthHandler(serviceName, checks...),
		Uploads: handlers.NewUploadHandler(uploadSvc, logger),
		Claims:  handlers.NewClaimsHandler(claimSvc, logger),
	}, auth)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("claim-intake остановлен")
}

// startDephealth запускает мониторинг зависимостей. Ошибка не фатальна:
// сервис работает без метрик app_dependency_*.
func startDephealth(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) *service.DephealthService {
	svc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:     serviceName,
		Group:         cfg.DephealthGroup,
		DB:            db,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := svc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	return svc
}
