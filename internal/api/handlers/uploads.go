package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/claimiq/internal/api/errors"
	"github.com/bigkaa/claimiq/internal/api/middleware"
	"github.com/bigkaa/claimiq/internal/domain/model"
	"github.com/bigkaa/claimiq/internal/domain/tenant"
	"github.com/bigkaa/claimiq/internal/service"
)

// UploadService — операции загрузки, используемые обработчиком.
type UploadService interface {
	RequestUpload(ctx context.Context, tc tenant.Context, req service.UploadRequest) (service.UploadDecision, error)
	GetUploadStatus(ctx context.Context, tc tenant.Context, claimID string) (*model.Claim, error)
}

// UploadHandler — POST /api/v1/uploads, GET /api/v1/uploads/{claimId}.
type UploadHandler struct {
	svc    UploadService
	logger *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузок.
func NewUploadHandler(svc UploadService, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "upload_handler")),
	}
}

type uploadRequestBody struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize"`
	FileHash    string `json:"fileHash,omitempty"`
}

type issuedResponse struct {
	Status           string            `json:"status"`
	ClaimID          string            `json:"claimId"`
	UploadSessionID  string            `json:"uploadSessionId"`
	UploadTarget     string            `json:"uploadTarget"`
	UploadMethod     string            `json:"uploadMethod"`
	UploadHeaders    map[string]string `json:"uploadHeaders"`
	StorageKey       string            `json:"storageKey"`
	ExpiresInSeconds int64             `json:"expiresInSeconds"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	MaxFileSize      int64             `json:"maxFileSize"`
	ContentType      string            `json:"contentType"`
}

type duplicateResponse struct {
	Status          string `json:"status"`
	ExistingClaimID string `json:"existingClaimId"`
	FileHash        string `json:"fileHash"`
}

type uploadStatusResponse struct {
	ClaimID      string     `json:"claimId"`
	Status       string     `json:"status"`
	Filename     string     `json:"filename"`
	UploadedAt   *time.Time `json:"uploadedAt"`
	FileSize     *int64     `json:"fileSize"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
}

// RequestUpload — POST /api/v1/uploads.
func (h *UploadHandler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Контекст tenant не определён")
		return
	}

	var body uploadRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}

	decision, err := h.svc.RequestUpload(r.Context(), tc, service.UploadRequest{
		Filename:    body.Filename,
		ContentType: body.ContentType,
		FileSize:    body.FileSize,
		FileHash:    body.FileHash,
		RequestID:   chimw.GetReqID(r.Context()),
		SourceIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	switch d := decision.(type) {
	case *service.IssuedUpload:
		writeJSON(w, http.StatusOK, issuedResponse{
			Status:           "issued",
			ClaimID:          d.ClaimID,
			UploadSessionID:  d.UploadID,
			UploadTarget:     d.Grant.URL,
			UploadMethod:     d.Grant.Method,
			UploadHeaders:    d.Grant.Headers,
			StorageKey:       d.StorageKey,
			ExpiresInSeconds: int64(d.ExpiresIn / time.Second),
			ExpiresAt:        d.Grant.ExpiresAt,
			MaxFileSize:      d.MaxFileSize,
			ContentType:      d.ContentType,
		})
	case *service.DuplicateUpload:
		writeJSON(w, http.StatusOK, duplicateResponse{
			Status:          "duplicate",
			ExistingClaimID: d.ExistingClaimID,
			FileHash:        d.FileHash,
		})
	default:
		h.logger.Error("Неизвестный результат запроса на загрузку")
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}

// GetUploadStatus — GET /api/v1/uploads/{claimId}.
func (h *UploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	tc, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Контекст tenant не определён")
		return
	}

	c, err := h.svc.GetUploadStatus(r.Context(), tc, chi.URLParam(r, "claimId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadStatusResponse{
		ClaimID:      c.ClaimID,
		Status:       string(c.Status),
		Filename:     c.OriginalFilename,
		UploadedAt:   c.UploadedAt,
		FileSize:     c.FileSize,
		ErrorMessage: c.ErrorMessage,
	})
}

// clientIP — адрес клиента без порта (после chi RealIP).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
