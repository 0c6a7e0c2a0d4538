// Пакет model — доменные модели приёма претензий.
package model

import (
	"time"

	"github.com/bigkaa/claimiq/internal/domain/claimstate"
)

// Claim — запись претензии.
// Хранится в таблице claims; tenant и больница неизменны после создания.
type Claim struct {
	ClaimID    string
	TenantID   string
	HospitalID string
	Status     claimstate.Status

	// OriginalFilename — имя файла, как его передал клиент
	OriginalFilename string
	// ContentType — заявленный MIME-тип
	ContentType string
	// DeclaredSize — заявленный размер в байтах
	DeclaredSize int64
	// DeclaredHash — SHA-256, переданный клиентом при запросе загрузки (опционально)
	DeclaredHash *string
	// FileHash — SHA-256 содержимого, вычисленный после загрузки
	FileHash *string
	// FileSize — фактический размер объекта
	FileSize *int64

	S3Bucket string
	S3Key    string
	// UploadID — идентификатор сессии загрузки
	UploadID string

	UploadedBy *string
	SourceIP   *string
	UserAgent  *string
	RequestID  *string

	// ErrorMessage — причина FAILED / MANUAL_REVIEW_REQUIRED
	ErrorMessage *string

	UploadedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Fingerprint возвращает известный отпечаток: вычисленный, иначе заявленный.
func (c *Claim) Fingerprint() string {
	if c.FileHash != nil {
		return *c.FileHash
	}
	if c.DeclaredHash != nil {
		return *c.DeclaredHash
	}
	return ""
}
