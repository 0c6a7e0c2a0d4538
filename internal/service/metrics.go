package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики приёма претензий.
var (
	uploadDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cq_upload_decisions_total",
		Help: "Результаты запросов на загрузку: issued, duplicate, rejected, failed.",
	}, []string{"decision"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cq_completions_total",
		Help: "Результаты обработки событий завершения загрузки.",
	}, []string{"outcome"})

	completionBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cq_completion_bytes_hashed_total",
		Help: "Общий объём данных, прочитанных для вычисления отпечатков.",
	})

	duplicateCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cq_duplicate_cache_hits_total",
		Help: "Попадания в кэш проверки дубликатов.",
	})
	duplicateCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cq_duplicate_cache_misses_total",
		Help: "Промахи кэша проверки дубликатов.",
	})

	workflowTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cq_workflow_triggers_total",
		Help: "Запуски workflow: started, already_started, failed.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cq_claim_transitions_total",
		Help: "Переходы статусов претензий через API.",
	}, []string{"to", "result"})
)
