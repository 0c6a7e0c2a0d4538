// Пакет tenant — контекст арендатора (tenant + больница), который
// передаётся явно через все вызовы приёма претензий.
package tenant

import (
	"fmt"
	"log/slog"
	"regexp"
)

// idPattern — идентификаторы попадают в ключи объектов, поэтому
// допускаются только безопасные для пути символы.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Context — неизменяемая пара tenant/hospital и необязательный пользователь.
// Нулевое значение невалидно; создаётся только через New.
type Context struct {
	tenantID   string
	hospitalID string
	userID     string
}

// New создаёт контекст, проверяя формат идентификаторов.
// userID может быть пустым (например, при восстановлении из метаданных объекта).
func New(tenantID, hospitalID, userID string) (Context, error) {
	if !idPattern.MatchString(tenantID) {
		return Context{}, fmt.Errorf("некорректный tenant id: %q", tenantID)
	}
	if !idPattern.MatchString(hospitalID) {
		return Context{}, fmt.Errorf("некорректный hospital id: %q", hospitalID)
	}
	return Context{tenantID: tenantID, hospitalID: hospitalID, userID: userID}, nil
}

// ValidID проверяет формат отдельного идентификатора tenant или больницы.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func (c Context) TenantID() string   { return c.tenantID }
func (c Context) HospitalID() string { return c.hospitalID }
func (c Context) UserID() string     { return c.userID }

// IsZero сообщает, что контекст не был инициализирован через New.
func (c Context) IsZero() bool {
	return c.tenantID == "" || c.hospitalID == ""
}

// SameScope сравнивает пары tenant/hospital без учёта пользователя.
func (c Context) SameScope(other Context) bool {
	return c.tenantID == other.tenantID && c.hospitalID == other.hospitalID
}

// LogValue реализует slog.LogValuer.
func (c Context) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("tenant_id", c.tenantID),
		slog.String("hospital_id", c.hospitalID),
	}
	if c.userID != "" {
		attrs = append(attrs, slog.String("user_id", c.userID))
	}
	return slog.GroupValue(attrs...)
}

func (c Context) String() string {
	return c.tenantID + "/" + c.hospitalID
}
