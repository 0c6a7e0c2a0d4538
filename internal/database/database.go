// Пакет database — пул PostgreSQL для claim-intake и upload-finalizer.
//
// Схему применяет только claim-intake при старте (Migrate). upload-finalizer
// лишь подключается: под Lambda миграции из параллельных экземпляров
// конкурировали бы за advisory lock. Поэтому готовность проверяет не только
// соединение, но и наличие таблиц претензий.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/claimiq/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName виден в pg_stat_activity.
const applicationName = "claimiq"

// Connect открывает пул claimiq и проверяет соединение.
// Размер пула ограничен CQ_DB_MAX_CONNS.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("некорректные параметры подключения к БД претензий: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула БД претензий: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("БД претензий недоступна: %w", err)
	}

	logger.Info("Подключение к БД претензий установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", cfg.DBMaxConns),
	)

	return pool, nil
}

// Migrate применяет схему claimiq (tenants, hospitals, claims, claim_audit_log).
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	return MigrateURL(cfg.MigrateURL(), logger)
}

// MigrateURL применяет схему к базе по URL вида pgx5://.
func MigrateURL(dbURL string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("встроенные миграции недоступны: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения схемы претензий: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Схема претензий актуальна",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// ReadinessChecker — готовность БД для /health/ready.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// schemaCheckSQL не читает строк; ошибка означает, что схема не применена.
const schemaCheckSQL = `SELECT 1 FROM claims LIMIT 0`

// CheckReady проверяет соединение и наличие схемы.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	if _, err := c.pool.Exec(ctx, schemaCheckSQL); err != nil {
		return "fail", fmt.Sprintf("схема претензий не применена: %v", err)
	}
	return "ok", "подключение активно, схема применена"
}
