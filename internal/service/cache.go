// Пакет service - бизнес-логика Proof Module.
// CacheService - LRU-кэш записей доказательств с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matebuilder/proof-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей доказательств.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей доказательств.",
	})
)

// CacheService - LRU-кэш записей по идентификатору.
// Записи неизменяемы, поэтому инвалидации нет: только вытеснение по размеру и TTL.
type CacheService struct {
	cache *expirable.LRU[int64, *model.ProofRecord]
}

// NewCacheService создаёт LRU-кэш.
// maxSize - максимальное количество записей (PM_CACHE_MAX_SIZE).
// ttl - время жизни записи после добавления (PM_CACHE_TTL).
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{
		cache: expirable.NewLRU[int64, *model.ProofRecord](maxSize, nil, ttl),
	}
}

// Get возвращает запись из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(id int64) (*model.ProofRecord, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет запись в кэш.
func (c *CacheService) Set(record *model.ProofRecord) {
	c.cache.Add(record.ID, record)
}

// Len возвращает текущее количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
