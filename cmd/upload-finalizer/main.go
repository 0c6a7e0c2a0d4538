// Точка входа upload-finalizer — обработчик завершения загрузок.
// В AWS Lambda принимает S3 ObjectCreated напрямую (lambda.Start), вне Lambda
// поднимает HTTP-сервер с webhook /events/s3 для уведомлений MinIO.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/claimiq/internal/api/handlers"
	"github.com/bigkaa/claimiq/internal/audit"
	"github.com/bigkaa/claimiq/internal/awsutil"
	"github.com/bigkaa/claimiq/internal/config"
	"github.com/bigkaa/claimiq/internal/database"
	"github.com/bigkaa/claimiq/internal/repository"
	"github.com/bigkaa/claimiq/internal/s3events"
	"github.com/bigkaa/claimiq/internal/server"
	"github.com/bigkaa/claimiq/internal/service"
	"github.com/bigkaa/claimiq/internal/storage/objectstore"
	"github.com/bigkaa/claimiq/internal/workflow"
)

const serviceName = "upload-finalizer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	inLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
	logger.Info("upload-finalizer запускается",
		slog.Bool("lambda", inLambda),
		slog.String("workflow_backend", cfg.WorkflowBackend),
		slog.String("audit_backend", cfg.AuditBackend),
	)

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	aws, err := awsutil.Load(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		logger.Error("Ошибка инициализации AWS SDK", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var sink audit.Sink
	if cfg.AuditBackend == config.AuditBackendDynamoDB {
		sink = audit.NewDynamoSink(aws.DynamoDB, cfg.AuditTable)
	} else {
		sink = repository.NewAuditRepository(pool)
	}

	completion := service.NewCompletionService(
		repository.NewClaimRepository(pool),
		objectstore.NewS3Store(aws.S3, cfg.S3Bucket, cfg.S3UseKMS),
		buildTrigger(cfg, aws, logger),
		audit.NewLogger(sink, logger),
		cfg.MaxFileSize,
		logger,
	)
	eventHandler := s3events.NewHandler(completion, logger)

	if inLambda {
		// Ошибка Handle возвращается Lambda, и S3 повторяет доставку.
		lambda.Start(eventHandler.Handle)
		return
	}

	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()
	dephealthSvc := startDephealth(ctx, cfg, pgDB, logger)

	if cfg.WebhookToken == "" {
		logger.Warn("CQ_WEBHOOK_TOKEN не задан, webhook /events/s3 принимает запросы без токена")
	}

	srv := server.NewFinalizer(cfg, logger,
		handlers.NewHealthHandler(serviceName,
			handlers.NamedChecker{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		),
		handlers.NewEventsHandler(eventHandler, cfg.WebhookToken, logger),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("upload-finalizer остановлен")
}

// buildTrigger выбирает механизм запуска workflow. Временные ошибки
// sfn и http повторяются с экспоненциальной задержкой.
func buildTrigger(cfg *config.Config, aws *awsutil.Clients, logger *slog.Logger) workflow.Trigger {
	switch cfg.WorkflowBackend {
	case config.WorkflowBackendSFN:
		logger.Info("Workflow через Step Functions", slog.String("state_machine", cfg.WorkflowStateMachineARN))
		return workflow.NewRetryingTrigger(
			workflow.NewSFNTrigger(aws.SFN, cfg.WorkflowStateMachineARN),
			cfg.WorkflowMaxElapsed, nil,
		)
	case config.WorkflowBackendHTTP:
		logger.Info("Workflow через HTTP-оркестратор", slog.String("url", cfg.WorkflowURL))
		return workflow.NewRetryingTrigger(
			workflow.NewHTTPTrigger(cfg.WorkflowURL, cfg.WorkflowTimeout),
			cfg.WorkflowMaxElapsed, nil,
		)
	default:
		return workflow.NewNoopTrigger(logger)
	}
}

func startDephealth(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) *service.DephealthService {
	svc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:     serviceName,
		Group:         cfg.DephealthGroup,
		DB:            db,
		PgConnURL:     cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен", slog.String("error", err.Error()))
		return nil
	}
	if err := svc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	return svc
}
