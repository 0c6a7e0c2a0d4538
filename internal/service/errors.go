// Пакет service — бизнес-логика приёма претензий.
// errors.go — ошибки сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — запрос нарушает правила приёма; повтор бесполезен.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — претензия не найдена (или принадлежит другому tenant).
	ErrNotFound = errors.New("претензия не найдена")
	// ErrPersistence — временная недоступность БД или объектного хранилища.
	ErrPersistence = errors.New("хранилище временно недоступно")
	// ErrUnknownScope — tenant или больница не зарегистрированы.
	ErrUnknownScope = errors.New("tenant или больница не зарегистрированы")
	// ErrTransitionLost — претензия уже не в ожидаемом статусе.
	ErrTransitionLost = errors.New("статус претензии изменился")
	// ErrUnrecoverable — обработка завершения не удалась и претензию
	// не удалось перевести на ручную проверку.
	ErrUnrecoverable = errors.New("неустранимая ошибка обработки")
	// ErrAuditUnavailable — журнал аудита недоступен для чтения в текущей конфигурации.
	ErrAuditUnavailable = errors.New("чтение журнала аудита не поддерживается")
)
