// Пакет objectstore — операции с S3-совместимым хранилищем:
// presigned PUT для клиента, чтение метаданных и потоковое чтение объекта.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound — объект отсутствует в бакете.
var ErrObjectNotFound = errors.New("объект не найден")

// API — подмножество клиента S3, используемое хранилищем.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner — подпись запросов PutObject.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectInfo — метаданные объекта, полученные через HEAD.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	ETag        string
	// Metadata — пользовательские метаданные (ключи в нижнем регистре)
	Metadata map[string]string
}

// PresignedPut — разрешение на прямую загрузку.
type PresignedPut struct {
	URL    string
	Method string
	// Headers — заголовки, вошедшие в подпись; клиент обязан отправить их без изменений
	Headers   map[string]string
	ExpiresAt time.Time
}

// S3Store — хранилище объектов поверх aws-sdk-go-v2.
type S3Store struct {
	api       API
	presigner Presigner
	bucket    string
	useKMS    bool
}

// NewS3Store создаёт хранилище для бакета. Клиент создаётся в main.
func NewS3Store(client *s3.Client, bucket string, useKMS bool) *S3Store {
	return NewS3StoreWith(client, s3.NewPresignClient(client), bucket, useKMS)
}

// NewS3StoreWith создаёт хранилище из произвольных реализаций API и Presigner.
func NewS3StoreWith(api API, presigner Presigner, bucket string, useKMS bool) *S3Store {
	return &S3Store{api: api, presigner: presigner, bucket: bucket, useKMS: useKMS}
}

// Bucket возвращает имя бакета загрузок.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// PresignPut подписывает PUT для ключа с фиксированным типом содержимого
// и метаданными. Подпись выполняется локально, без обращения к S3.
func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (*PresignedPut, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	}
	if s.useKMS {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
	}

	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи PUT %s: %w", key, err)
	}

	return &PresignedPut{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   flattenHeaders(req.SignedHeader),
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

// Head возвращает размер, тип и пользовательские метаданные объекта.
func (s *S3Store) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("ошибка HEAD s3://%s/%s: %w", bucket, key, err)
	}

	info := &ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: strings.ToLower(aws.ToString(out.ContentType)),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:    make(map[string]string, len(out.Metadata)),
	}
	for k, v := range out.Metadata {
		info.Metadata[strings.ToLower(k)] = v
	}
	return info, nil
}

// Open открывает объект для потокового чтения. Вызывающий закрывает поток.
func (s *S3Store) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("ошибка GET s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// flattenHeaders оставляет первое значение каждого заголовка; Host клиент
// выставляет сам.
func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "Host") || len(v) == 0 {
			continue
		}
		result[k] = v[0]
	}
	return result
}
