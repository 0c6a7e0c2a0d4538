// Пакет fingerprint — потоковый подсчёт SHA-256 содержимого объекта
// без буферизации файла целиком.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge — поток длиннее допустимого предела.
var ErrTooLarge = errors.New("размер содержимого превышает предел")

// Result — отпечаток и фактический размер прочитанных данных.
type Result struct {
	// Hash — SHA-256 в нижнем регистре hex
	Hash string
	Size int64
}

// Compute читает reader до конца и возвращает SHA-256 и размер.
// limit > 0 ограничивает объём: при превышении возвращается ErrTooLarge
// без дочитывания остатка. Отмена ctx прерывает чтение.
func Compute(ctx context.Context, r io.Reader, limit int64) (Result, error) {
	hasher := sha256.New()

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}

	size, err := io.Copy(hasher, src)
	if err != nil {
		return Result{}, fmt.Errorf("ошибка чтения содержимого: %w", err)
	}
	if limit > 0 && size > limit {
		return Result{Size: size}, fmt.Errorf("%w: больше %d байт", ErrTooLarge, limit)
	}

	return Result{
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Size: size,
	}, nil
}

// ctxReader прерывает чтение после отмены контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
