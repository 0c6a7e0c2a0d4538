// Пакет handlers — HTTP-обработчики API приёма претензий.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/claimiq/internal/api/errors"
	"github.com/bigkaa/claimiq/internal/domain/admission"
	"github.com/bigkaa/claimiq/internal/domain/claimstate"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/service"
)

// maxRequestBody — предел тела JSON-запросов API.
const maxRequestBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON читает тело запроса в v. Ошибка уже записана в ответ.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *admission.ValidationError
	var terr *claimstate.TransitionError

	switch {
	case errors.As(err, &verr):
		apierrors.ValidationError(w, verr.Message)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.As(err, &terr):
		if terr.Code == claimstate.CodeInvalidStatus {
			apierrors.ValidationError(w, terr.Message)
			return
		}
		apierrors.InvalidTransition(w, terr.Message)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Претензия не найдена")
	case errors.Is(err, service.ErrUnknownScope):
		apierrors.Forbidden(w, "Tenant или больница не зарегистрированы")
	case errors.Is(err, service.ErrTransitionLost):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrAuditUnavailable):
		apierrors.NotImplemented(w, "Журнал аудита недоступен для чтения в этой конфигурации")
	case errors.Is(err, service.ErrPersistence):
		logger.Error("Хранилище недоступно", slog.String("error", err.Error()))
		apierrors.StoreUnavailable(w, "Хранилище временно недоступно, повторите запрос")
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}

// claimResponse — представление претензии в API.
type claimResponse struct {
	ClaimID      string     `json:"claimId"`
	HospitalID   string     `json:"hospitalId"`
	Status       string     `json:"status"`
	Filename     string     `json:"filename"`
	ContentType  string     `json:"contentType"`
	DeclaredSize int64      `json:"declaredSize"`
	FileHash     *string    `json:"fileHash,omitempty"`
	FileSize     *int64     `json:"fileSize,omitempty"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func toClaimResponse(c *model.Claim) claimResponse {
	return claimResponse{
		ClaimID:      c.ClaimID,
		HospitalID:   c.HospitalID,
		Status:       string(c.Status),
		Filename:     c.OriginalFilename,
		ContentType:  c.ContentType,
		DeclaredSize: c.DeclaredSize,
		FileHash:     c.FileHash,
		FileSize:     c.FileSize,
		UploadedAt:   c.UploadedAt,
		ErrorMessage: c.ErrorMessage,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
