// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM. Каждый запрос к claims
// принимает tenant id и содержит условие tenant_id в неизменяемом тексте SQL.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена (в том числе принадлежит другому tenant).
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrUnknownScope — tenant или больница не зарегистрированы.
	ErrUnknownScope = errors.New("tenant или больница не зарегистрированы")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется *pgxpool.Pool, pgx.Tx и pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation проверяет нарушение уникальности и возвращает имя ограничения.
func isUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
