// Пакет config — загрузка и валидация конфигурации ClaimIQ
// (claim-intake и upload-finalizer) из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения перечислимых параметров.
const (
	AuditBackendPostgres = "postgres"
	AuditBackendDynamoDB = "dynamodb"

	WorkflowBackendSFN  = "sfn"
	WorkflowBackendHTTP = "http"
	WorkflowBackendNone = "none"
)

// DefaultMaxFileSize — предельный размер загружаемого файла (50 MiB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// Config содержит все параметры конфигурации сервисов приёма претензий.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8010-8019)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Предел соединений пула; под Lambda каждый экземпляр держит свой пул
	DBMaxConns int

	// --- AWS / S3 ---

	// Регион AWS
	AWSRegion string
	// Переопределение endpoint (MinIO, LocalStack); пусто — стандартные endpoint AWS
	AWSEndpointURL string
	// Бакет для загружаемых документов
	S3Bucket string
	// Время жизни presigned URL
	PresignTTL time.Duration
	// Использовать SSE-KMS для загружаемых объектов
	S3UseKMS bool

	// --- Приём файлов ---

	// Максимальный размер файла в байтах
	MaxFileSize int64

	// --- Аудит ---

	// Хранилище журнала аудита: postgres или dynamodb
	AuditBackend string
	// Имя таблицы DynamoDB (только для dynamodb)
	AuditTable string

	// --- Workflow ---

	// Механизм запуска workflow: sfn, http, none
	WorkflowBackend string
	// ARN state machine Step Functions (для sfn)
	WorkflowStateMachineARN string
	// URL оркестратора (для http)
	WorkflowURL string
	// Таймаут одного запроса к оркестратору
	WorkflowTimeout time.Duration
	// Общий лимит времени на повторные попытки запуска
	WorkflowMaxElapsed time.Duration

	// --- JWT ---

	// URL JWKS endpoint провайдера идентификации
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Режим разработки: tenant берётся из заголовков X-Tenant-Id/X-Hospital-Id
	DevBypassAuth bool

	// --- Webhook уведомлений S3 (upload-finalizer вне Lambda) ---

	// Токен, который MinIO передаёт в Authorization: Bearer; пусто — без проверки
	WebhookToken string

	// --- Кэш дубликатов ---

	DuplicateCacheSize int
	DuplicateCacheTTL  time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CQ_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("CQ_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("CQ_PORT: %w", err)
	}
	if cfg.Port < 8010 || cfg.Port > 8019 {
		return nil, fmt.Errorf("CQ_PORT: значение %d вне допустимого диапазона 8010-8019", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CQ_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CQ_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CQ_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CQ_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CQ_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CQ_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CQ_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("CQ_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("CQ_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CQ_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("CQ_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CQ_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	cfg.DBMaxConns, err = getEnvInt("CQ_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("CQ_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("CQ_DB_MAX_CONNS: значение %d должно быть не меньше 1", cfg.DBMaxConns)
	}

	// --- AWS / S3 ---

	cfg.AWSRegion = getEnvDefault("CQ_AWS_REGION", "us-east-1")
	cfg.AWSEndpointURL = strings.TrimRight(getEnvDefault("CQ_AWS_ENDPOINT_URL", ""), "/")

	if cfg.S3Bucket, err = getEnvRequired("CQ_S3_BUCKET"); err != nil {
		return nil, err
	}

	// CQ_PRESIGN_TTL — время жизни upload URL (по умолчанию 15m, максимум 7 суток по ограничению SigV4)
	cfg.PresignTTL, err = getEnvDuration("CQ_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CQ_PRESIGN_TTL: %w", err)
	}
	if cfg.PresignTTL < time.Minute || cfg.PresignTTL > 7*24*time.Hour {
		return nil, fmt.Errorf("CQ_PRESIGN_TTL: значение %s вне допустимого диапазона 1m-168h", cfg.PresignTTL)
	}

	cfg.S3UseKMS, err = getEnvBool("CQ_S3_USE_KMS", false)
	if err != nil {
		return nil, fmt.Errorf("CQ_S3_USE_KMS: %w", err)
	}

	// --- Приём файлов ---

	cfg.MaxFileSize, err = getEnvInt64("CQ_MAX_FILE_SIZE", DefaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("CQ_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("CQ_MAX_FILE_SIZE: значение должно быть положительным, получено %d", cfg.MaxFileSize)
	}

	// --- Аудит ---

	cfg.AuditBackend = getEnvDefault("CQ_AUDIT_BACKEND", AuditBackendPostgres)
	switch cfg.AuditBackend {
	case AuditBackendPostgres:
	case AuditBackendDynamoDB:
		if cfg.AuditTable, err = getEnvRequired("CQ_AUDIT_TABLE"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("CQ_AUDIT_BACKEND: недопустимое значение %q, допустимые: postgres, dynamodb", cfg.AuditBackend)
	}

	// --- Workflow ---

	cfg.WorkflowBackend = getEnvDefault("CQ_WORKFLOW_BACKEND", WorkflowBackendNone)
	switch cfg.WorkflowBackend {
	case WorkflowBackendNone:
	case WorkflowBackendSFN:
		if cfg.WorkflowStateMachineARN, err = getEnvRequired("CQ_WORKFLOW_STATE_MACHINE_ARN"); err != nil {
			return nil, err
		}
	case WorkflowBackendHTTP:
		if cfg.WorkflowURL, err = getEnvRequired("CQ_WORKFLOW_URL"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("CQ_WORKFLOW_BACKEND: недопустимое значение %q, допустимые: sfn, http, none", cfg.WorkflowBackend)
	}

	cfg.WorkflowTimeout, err = getEnvDuration("CQ_WORKFLOW_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CQ_WORKFLOW_TIMEOUT: %w", err)
	}
	cfg.WorkflowMaxElapsed, err = getEnvDuration("CQ_WORKFLOW_MAX_ELAPSED", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CQ_WORKFLOW_MAX_ELAPSED: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("CQ_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("CQ_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("CQ_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CQ_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("CQ_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CQ_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.DevBypassAuth, err = getEnvBool("CQ_DEV_BYPASS_AUTH", false)
	if err != nil {
		return nil, fmt.Errorf("CQ_DEV_BYPASS_AUTH: %w", err)
	}

	cfg.WebhookToken = getEnvDefault("CQ_WEBHOOK_TOKEN", "")

	// --- Кэш дубликатов ---

	cfg.DuplicateCacheSize, err = getEnvInt("CQ_DUPLICATE_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("CQ_DUPLICATE_CACHE_SIZE: %w", err)
	}
	if cfg.DuplicateCacheSize < 0 {
		return nil, fmt.Errorf("CQ_DUPLICATE_CACHE_SIZE: значение %d не может быть отрицательным", cfg.DuplicateCacheSize)
	}
	cfg.DuplicateCacheTTL, err = getEnvDuration("CQ_DUPLICATE_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CQ_DUPLICATE_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CQ_DEPHEALTH_GROUP", "claimiq")
	cfg.DephealthCheckInterval, err = getEnvDuration("CQ_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CQ_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CQ_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CQ_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// ValidateAPI проверяет параметры, обязательные только для claim-intake:
// без JWKS URL запросы нельзя привязать к tenant, кроме режима разработки.
func (c *Config) ValidateAPI() error {
	if c.JWTJWKSURL == "" && !c.DevBypassAuth {
		return fmt.Errorf("CQ_JWT_JWKS_URL: обязательная переменная окружения не задана (или включите CQ_DEV_BYPASS_AUTH)")
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (лейблы метрик topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (схема pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("version", Version))
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
