package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/claimiq/internal/repository"
)

// FingerprintFinder — поиск претензии по отпечатку в пределах tenant.
type FingerprintFinder interface {
	FindByFingerprint(ctx context.Context, tenantID, fingerprint string) (string, error)
}

// DuplicateDetector ищет ранее принятый файл с тем же отпечатком
// только внутри tenant вызывающего. Кэшируются лишь положительные ответы;
// TTL ограничивает время, в течение которого освобождённый отпечаток
// (претензия ушла на ручную проверку) ещё считается занятым.
type DuplicateDetector struct {
	finder FingerprintFinder
	cache  *expirable.LRU[string, string]
}

// NewDuplicateDetector создаёт детектор. cacheSize == 0 отключает кэш.
func NewDuplicateDetector(finder FingerprintFinder, cacheSize int, ttl time.Duration) *DuplicateDetector {
	d := &DuplicateDetector{finder: finder}
	if cacheSize > 0 {
		d.cache = expirable.NewLRU[string, string](cacheSize, nil, ttl)
	}
	return d
}

func cacheKey(tenantID, fingerprint string) string {
	return tenantID + "\x00" + fingerprint
}

// Check возвращает id существующей претензии tenant с тем же отпечатком.
func (d *DuplicateDetector) Check(ctx context.Context, tenantID, fingerprint string) (claimID string, found bool, err error) {
	if fingerprint == "" {
		return "", false, nil
	}

	if d.cache != nil {
		if id, ok := d.cache.Get(cacheKey(tenantID, fingerprint)); ok {
			duplicateCacheHitsTotal.Inc()
			return id, true, nil
		}
		duplicateCacheMissesTotal.Inc()
	}

	id, err := d.finder.FindByFingerprint(ctx, tenantID, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	d.Remember(tenantID, fingerprint, id)
	return id, true, nil
}

// Remember запоминает положительный ответ.
func (d *DuplicateDetector) Remember(tenantID, fingerprint, claimID string) {
	if d.cache == nil || fingerprint == "" {
		return
	}
	d.cache.Add(cacheKey(tenantID, fingerprint), claimID)
}
