// Пакет claimstate — конечный автомат жизненного цикла претензии.
//
// Основная цепочка:
//
//	UPLOAD_PENDING → NEW → DENIED → AI_ANALYZED → HUMAN_REVIEW → SUBMITTED → RECOVERED | FAILED
//
// MANUAL_REVIEW_REQUIRED достижим из любого другого состояния при неустранимой ошибке.
// Автомат не хранит текущее состояние: источником истины является строка claims,
// а каждая запись выполняется условным UPDATE по ожидаемому статусу.
package claimstate

import "fmt"

// Status — статус претензии.
type Status string

const (
	// StatusUploadPending — placeholder создан, файл ещё не загружен
	StatusUploadPending Status = "UPLOAD_PENDING"
	// StatusNew — файл загружен и проверен, претензия принята
	StatusNew         Status = "NEW"
	StatusDenied      Status = "DENIED"
	StatusAIAnalyzed  Status = "AI_ANALYZED"
	StatusHumanReview Status = "HUMAN_REVIEW"
	StatusSubmitted   Status = "SUBMITTED"
	StatusRecovered   Status = "RECOVERED"
	StatusFailed      Status = "FAILED"
	// StatusManualReview — автоматическая обработка невозможна
	StatusManualReview Status = "MANUAL_REVIEW_REQUIRED"
)

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidStatus     = "INVALID_STATUS"
)

// allStatuses — все статусы в порядке жизненного цикла.
var allStatuses = []Status{
	StatusUploadPending, StatusNew, StatusDenied, StatusAIAnalyzed, StatusHumanReview,
	StatusSubmitted, StatusRecovered, StatusFailed, StatusManualReview,
}

// validTransitions — матрица допустимых переходов (без MANUAL_REVIEW_REQUIRED,
// который разрешён отдельно из любого состояния).
var validTransitions = map[Status]map[Status]bool{
	StatusUploadPending: {StatusNew: true},
	StatusNew:           {StatusDenied: true},
	StatusDenied:        {StatusAIAnalyzed: true},
	StatusAIAnalyzed:    {StatusHumanReview: true},
	StatusHumanReview:   {StatusSubmitted: true},
	StatusSubmitted:     {StatusRecovered: true, StatusFailed: true},
	StatusRecovered:     {},
	StatusFailed:        {},
	StatusManualReview:  {},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to Status) bool {
	if !IsValid(from) || !IsValid(to) {
		return false
	}
	if to == StatusManualReview {
		return from != StatusManualReview
	}
	return validTransitions[from][to]
}

// Validate возвращает *TransitionError, если переход from → to недопустим.
func Validate(from, to Status) error {
	if !IsValid(from) {
		return &TransitionError{Code: CodeInvalidStatus, Message: fmt.Sprintf("недопустимый исходный статус: %q", from)}
	}
	if !IsValid(to) {
		return &TransitionError{Code: CodeInvalidStatus, Message: fmt.Sprintf("недопустимый целевой статус: %q", to)}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// ValidateExternal — Validate для переходов извне (API сервисных аккаунтов).
// UPLOAD_PENDING покидает только обработчик завершения загрузки: он сохраняет
// отпечаток и запускает workflow.
func ValidateExternal(from, to Status) error {
	if err := Validate(from, to); err != nil {
		return err
	}
	if from == StatusUploadPending {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s выполняется только при завершении загрузки", from, to),
		}
	}
	return nil
}

// CarriesError — статус хранит сообщение об ошибке.
func CarriesError(s Status) bool {
	return s == StatusFailed || s == StatusManualReview
}

// Next возвращает допустимые целевые статусы из from в порядке жизненного цикла.
func Next(from Status) []Status {
	var result []Status
	for _, to := range allStatuses {
		if CanTransition(from, to) {
			result = append(result, to)
		}
	}
	return result
}

// IsTerminal — из статуса нет переходов, кроме ручной проверки.
func IsTerminal(s Status) bool {
	return len(validTransitions[s]) == 0
}

// IsValid проверяет, является ли значение известным статусом.
func IsValid(s Status) bool {
	_, ok := validTransitions[s]
	return ok
}

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !IsValid(st) {
		return "", fmt.Errorf("недопустимый статус претензии: %q", s)
	}
	return st, nil
}

// All возвращает копию списка всех статусов.
func All() []Status {
	result := make([]Status, len(allStatuses))
	copy(result, allStatuses)
	return result
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, INVALID_STATUS
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
