// Пакет objectkey — детерминированная схема ключей объектов и контракт
// метаданных, по которым обработчик завершения восстанавливает tenant.
//
// Формат ключа:
//
//	tenants/{tenantId}/hospitals/{hospitalId}/claims/{claimId}/{uploadSessionId}{ext}
package objectkey

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/claimiq/internal/domain/tenant"
)

// Ключи пользовательских метаданных объекта (x-amz-meta-*).
// S3 возвращает ключи метаданных в нижнем регистре.
const (
	MetaTenantID         = "tenant-id"
	MetaHospitalID       = "hospital-id"
	MetaClaimID          = "claim-id"
	MetaUploadID         = "upload-id"
	MetaOriginalFilename = "original-filename"
)

const (
	segTenants   = "tenants"
	segHospitals = "hospitals"
	segClaims    = "claims"
)

// Build возвращает ключ объекта для сессии загрузки.
func Build(tc tenant.Context, claimID, uploadID, ext string) string {
	return ClaimPrefix(tc, claimID) + uploadID + ext
}

// TenantPrefix — префикс всех объектов tenant.
func TenantPrefix(tenantID string) string {
	return segTenants + "/" + tenantID + "/"
}

// HospitalPrefix — префикс объектов больницы.
func HospitalPrefix(tc tenant.Context) string {
	return TenantPrefix(tc.TenantID()) + segHospitals + "/" + tc.HospitalID() + "/"
}

// ClaimPrefix — префикс объектов претензии.
func ClaimPrefix(tc tenant.Context, claimID string) string {
	return HospitalPrefix(tc) + segClaims + "/" + claimID + "/"
}

// Parts — компоненты разобранного ключа.
type Parts struct {
	TenantID   string
	HospitalID string
	ClaimID    string
	UploadID   string
	Extension  string
}

// Parse разбирает ключ, построенный Build. Возвращает ошибку для любой другой формы.
func Parse(key string) (Parts, error) {
	segs := strings.Split(key, "/")
	if len(segs) != 7 || segs[0] != segTenants || segs[2] != segHospitals || segs[4] != segClaims {
		return Parts{}, fmt.Errorf("неожиданная форма ключа: %q", key)
	}

	name := segs[6]
	ext := path.Ext(name)
	p := Parts{
		TenantID:   segs[1],
		HospitalID: segs[3],
		ClaimID:    segs[5],
		UploadID:   strings.TrimSuffix(name, ext),
		Extension:  ext,
	}
	if !tenant.ValidID(p.TenantID) || !tenant.ValidID(p.HospitalID) {
		return Parts{}, fmt.Errorf("некорректный tenant или больница в ключе: %q", key)
	}
	if _, err := uuid.Parse(p.ClaimID); err != nil {
		return Parts{}, fmt.Errorf("некорректный claim id в ключе: %q", key)
	}
	if _, err := uuid.Parse(p.UploadID); err != nil {
		return Parts{}, fmt.Errorf("некорректный upload id в ключе: %q", key)
	}
	return p, nil
}

// Metadata формирует метаданные объекта. Имя файла экранируется,
// так как значения метаданных S3 ограничены US-ASCII.
func Metadata(tc tenant.Context, claimID, uploadID, originalFilename string) map[string]string {
	return map[string]string{
		MetaTenantID:         tc.TenantID(),
		MetaHospitalID:       tc.HospitalID(),
		MetaClaimID:          claimID,
		MetaUploadID:         uploadID,
		MetaOriginalFilename: url.PathEscape(originalFilename),
	}
}

// Tags — метаданные, прочитанные с объекта.
type Tags struct {
	Tenant           tenant.Context
	ClaimID          string
	UploadID         string
	OriginalFilename string
}

// ErrNoClaimID — объект не относится к приёму претензий (нет claim-id).
var ErrNoClaimID = fmt.Errorf("метаданные объекта не содержат %s", MetaClaimID)

// ParseMetadata восстанавливает контекст tenant только из метаданных объекта.
// Ключи сравниваются без учёта регистра. Значения по умолчанию не подставляются.
func ParseMetadata(meta map[string]string) (Tags, error) {
	norm := make(map[string]string, len(meta))
	for k, v := range meta {
		norm[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	claimID := norm[MetaClaimID]
	if claimID == "" {
		return Tags{}, ErrNoClaimID
	}
	if _, err := uuid.Parse(claimID); err != nil {
		return Tags{}, fmt.Errorf("некорректный %s: %q", MetaClaimID, claimID)
	}

	tc, err := tenant.New(norm[MetaTenantID], norm[MetaHospitalID], "")
	if err != nil {
		return Tags{}, fmt.Errorf("метаданные объекта: %w", err)
	}

	filename := norm[MetaOriginalFilename]
	if unescaped, err := url.PathUnescape(filename); err == nil {
		filename = unescaped
	}

	return Tags{
		Tenant:           tc,
		ClaimID:          claimID,
		UploadID:         norm[MetaUploadID],
		OriginalFilename: filename,
	}, nil
}

// VerifyKey проверяет, что ключ объекта и его метаданные указывают на
// одну и ту же претензию одного tenant и одной больницы.
func VerifyKey(key string, tags Tags) error {
	p, err := Parse(key)
	if err != nil {
		return err
	}
	if p.TenantID != tags.Tenant.TenantID() || p.HospitalID != tags.Tenant.HospitalID() {
		return fmt.Errorf("tenant/больница в ключе %s/%s не совпадают с метаданными %s",
			p.TenantID, p.HospitalID, tags.Tenant)
	}
	if p.ClaimID != tags.ClaimID {
		return fmt.Errorf("claim id в ключе %s не совпадает с метаданными %s", p.ClaimID, tags.ClaimID)
	}
	if tags.UploadID != "" && p.UploadID != tags.UploadID {
		return fmt.Errorf("upload id в ключе %s не совпадает с метаданными %s", p.UploadID, tags.UploadID)
	}
	return nil
}
