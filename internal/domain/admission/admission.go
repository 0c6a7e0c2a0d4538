// Пакет admission — проверка допустимости файла до выдачи URL загрузки:
// тип содержимого, размер, имя файла и формат отпечатка.
// Чистые функции без ввода-вывода.
package admission

import (
	"fmt"
	"mime"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength — ограничение колонки claims.original_filename.
const MaxFilenameLength = 255

// allowedTypes — допустимые MIME-типы и их каноническое расширение.
var allowedTypes = map[string]string{
	"application/pdf":          ".pdf",
	"text/csv":                 ".csv",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/tiff": ".tiff",
}

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidationError — нарушение правил приёма; не повторяется.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Request — заявленные клиентом характеристики файла.
type Request struct {
	Filename    string
	ContentType string
	Size        int64
	// Fingerprint — SHA-256 в hex, необязательный
	Fingerprint string
}

// Admitted — нормализованный результат успешной проверки.
type Admitted struct {
	Filename    string
	ContentType string
	Extension   string
	Size        int64
	Fingerprint string
}

// Policy — правила приёма файлов.
type Policy struct {
	maxSize int64
}

// NewPolicy создаёт политику с указанным максимальным размером файла.
func NewPolicy(maxSize int64) *Policy {
	return &Policy{maxSize: maxSize}
}

// MaxSize возвращает предельный размер файла.
func (p *Policy) MaxSize() int64 {
	return p.maxSize
}

// Check проверяет запрос целиком. Порядок проверок: тип, размер, имя, отпечаток.
func (p *Policy) Check(req Request) (*Admitted, error) {
	contentType, ext, err := CheckContentType(req.ContentType)
	if err != nil {
		return nil, err
	}
	if err := p.CheckSize(req.Size); err != nil {
		return nil, err
	}
	filename, err := CheckFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	fingerprint, err := CheckFingerprint(req.Fingerprint)
	if err != nil {
		return nil, err
	}

	return &Admitted{
		Filename:    filename,
		ContentType: contentType,
		Extension:   ext,
		Size:        req.Size,
		Fingerprint: fingerprint,
	}, nil
}

// CheckSize проверяет, что размер положительный и не превышает предел.
func (p *Policy) CheckSize(size int64) error {
	if size <= 0 {
		return invalid("fileSize", "размер файла должен быть положительным, получено %d", size)
	}
	if size > p.maxSize {
		return invalid("fileSize", "размер файла %d превышает максимально допустимый %d байт (%s)",
			size, p.maxSize, humanSize(p.maxSize))
	}
	return nil
}

// CheckContentType нормализует MIME-тип (регистр, параметры) и возвращает
// каноническое расширение.
func CheckContentType(contentType string) (normalized, ext string, err error) {
	raw := strings.TrimSpace(contentType)
	if raw == "" {
		return "", "", invalid("contentType", "тип содержимого не указан")
	}
	mediaType, _, perr := mime.ParseMediaType(raw)
	if perr != nil {
		return "", "", invalid("contentType", "некорректный тип содержимого %q", contentType)
	}
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return "", "", invalid("contentType", "тип содержимого %q не поддерживается, допустимые: %s",
			mediaType, strings.Join(AllowedContentTypes(), ", "))
	}
	return mediaType, ext, nil
}

// CheckFilename убирает путь из имени и проверяет длину и управляющие символы.
func CheckFilename(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "", invalid("filename", "имя файла не указано")
	}
	if !utf8.ValidString(name) {
		return "", invalid("filename", "имя файла должно быть в UTF-8")
	}
	if len(name) > MaxFilenameLength {
		return "", invalid("filename", "имя файла длиннее %d байт", MaxFilenameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", invalid("filename", "имя файла содержит управляющие символы")
		}
	}
	return name, nil
}

// CheckFingerprint приводит отпечаток к нижнему регистру. Пустое значение допустимо.
func CheckFingerprint(fingerprint string) (string, error) {
	fp := strings.ToLower(strings.TrimSpace(fingerprint))
	if fp == "" {
		return "", nil
	}
	if !fingerprintPattern.MatchString(fp) {
		return "", invalid("fileHash", "отпечаток должен быть SHA-256 в hex (64 символа)")
	}
	return fp, nil
}

// Extension возвращает каноническое расширение для допустимого типа.
func Extension(contentType string) (string, bool) {
	ext, ok := allowedTypes[contentType]
	return ext, ok
}

// AllowedContentTypes возвращает отсортированный список допустимых типов.
func AllowedContentTypes() []string {
	result := make([]string, 0, len(allowedTypes))
	for ct := range allowedTypes {
		result = append(result, ct)
	}
	sort.Strings(result)
	return result
}

func humanSize(n int64) string {
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%d MiB", n/mib)
	}
	return fmt.Sprintf("%d B", n)
}
